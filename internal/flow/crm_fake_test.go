package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/pipedrive"
)

// fakeCRM is a scripted CRM double. Counters record what was called;
// err fields force failures per operation.
type fakeCRM struct {
	personID   int
	dealID     int
	activityID int
	blocking   []pipedrive.BlockingActivity

	personErr     error
	dealErr       error
	activityErr   error
	rescheduleErr error
	cancelErr     error

	personCalls     int
	dealCalls       int
	activityCalls   int
	rescheduleCalls int
	cancelCalls     int
	notes           []string

	lastActivityDate string
	lastActivityTime string
}

func (f *fakeCRM) CreateOrGetPerson(ctx context.Context, name, email, phone string) (int, error) {
	f.personCalls++
	if f.personErr != nil {
		return 0, f.personErr
	}
	return f.personID, nil
}

func (f *fakeCRM) CreateEnrollmentDeal(ctx context.Context, school *models.SchoolInfo, profile *models.PersistentProfile, personID int) (int, error) {
	f.dealCalls++
	if f.dealErr != nil {
		return 0, f.dealErr
	}
	return f.dealID, nil
}

func (f *fakeCRM) CreateTourActivity(ctx context.Context, loc *time.Location, dealID int, subject, date, timeStr string) (int, error) {
	f.activityCalls++
	if f.activityErr != nil {
		return 0, f.activityErr
	}
	f.lastActivityDate, f.lastActivityTime = date, timeStr
	return f.activityID, nil
}

func (f *fakeCRM) RescheduleTourActivity(ctx context.Context, loc *time.Location, activityID int, date, timeStr string) error {
	f.rescheduleCalls++
	if f.rescheduleErr != nil {
		return f.rescheduleErr
	}
	f.lastActivityDate, f.lastActivityTime = date, timeStr
	return nil
}

func (f *fakeCRM) CancelActivity(ctx context.Context, activityID int) error {
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeCRM) AddNoteToDeal(ctx context.Context, dealID int, content string) error {
	f.notes = append(f.notes, content)
	return nil
}

func (f *fakeCRM) GetBlockingActivities(ctx context.Context, loc *time.Location, start, end time.Time) ([]pipedrive.BlockingActivity, error) {
	return f.blocking, nil
}

// fakeChannel is a scripted Chatwoot double for loader and handover tests.
type fakeChannel struct {
	attrs       map[string]interface{}
	attrsErr    error
	updated     map[string]interface{}
	assignedTo  int
	assignErr   error
	assignCalls int
}

func (f *fakeChannel) GetContactAttributes(ctx context.Context, contactID int) (map[string]interface{}, error) {
	if f.attrsErr != nil {
		return nil, f.attrsErr
	}
	return f.attrs, nil
}

func (f *fakeChannel) UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error {
	f.updated = attrs
	return nil
}

func (f *fakeChannel) AssignConversation(ctx context.Context, conversationID, agentID int) error {
	f.assignCalls++
	if f.assignErr != nil {
		return f.assignErr
	}
	f.assignedTo = agentID
	return nil
}

var errCRMDown = fmt.Errorf("crm unavailable")

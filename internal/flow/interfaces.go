package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/pipedrive"
)

// CRM is the Pipedrive surface the task tools depend on. Tests substitute a
// scripted fake.
type CRM interface {
	CreateOrGetPerson(ctx context.Context, name, email, phone string) (int, error)
	CreateEnrollmentDeal(ctx context.Context, school *models.SchoolInfo, profile *models.PersistentProfile, personID int) (int, error)
	CreateTourActivity(ctx context.Context, loc *time.Location, dealID int, subject, date, timeStr string) (int, error)
	RescheduleTourActivity(ctx context.Context, loc *time.Location, activityID int, date, timeStr string) error
	CancelActivity(ctx context.Context, activityID int) error
	AddNoteToDeal(ctx context.Context, dealID int, content string) error
	GetBlockingActivities(ctx context.Context, loc *time.Location, start, end time.Time) ([]pipedrive.BlockingActivity, error)
}

// Channel is the Chatwoot surface the loader and handover tool depend on.
type Channel interface {
	GetContactAttributes(ctx context.Context, contactID int) (map[string]interface{}, error)
	UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]interface{}) error
	AssignConversation(ctx context.Context, conversationID, agentID int) error
}

// FAQSearcher answers general questions from the school's knowledge base.
// Retrieval is an external concern; TourDesk only defines the seam.
type FAQSearcher interface {
	Search(ctx context.Context, query string) (answer string, found bool, err error)
}

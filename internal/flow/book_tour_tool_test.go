package flow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BTreeMap/TourDesk/internal/models"
)

func completeProfile() *models.PersistentProfile {
	return &models.PersistentProfile{
		ParentName:              "Sarah Tan",
		ParentEmail:             "sarah@example.com",
		ChildName:               "Emma",
		ChildDOB:                "2021-03-15",
		PreferredEnrollmentDate: "2027-01-01",
	}
}

func futureSlotArgs(t *testing.T) json.RawMessage {
	t.Helper()
	// A weekday far enough out that the past-slot guard never trips.
	return json.RawMessage(`{"tour_date":"2027-09-06","tour_time":"09:30"}`)
}

func TestBookTourParksWhenInfoMissing(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("book a tour")

	result, patch, err := tool.Execute(context.Background(), fc, futureSlotArgs(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeNeedInfo {
		t.Fatalf("outcome = %s, want need_info", result.Outcome)
	}
	if !patch.IsEmpty() {
		t.Error("expected no profile changes while collecting info")
	}
	if crm.personCalls+crm.dealCalls+crm.activityCalls != 0 {
		t.Error("CRM touched before the profile was ready")
	}

	// The in-progress booking is parked on the active task state with a
	// resume hint for the next turn.
	if fc.Active == nil {
		t.Fatal("no active task state recorded")
	}
	if fc.Active.TaskType != models.TaskTypeTourBooking {
		t.Errorf("task type = %s", fc.Active.TaskType)
	}
	if fc.Active.TaskStatus != models.TaskStatusCollectingInfo {
		t.Errorf("task status = %s", fc.Active.TaskStatus)
	}
	hint, _ := fc.Active.TaskData[continuationHintKey].(string)
	if !strings.Contains(hint, "book_tour") {
		t.Errorf("continuation hint = %q", hint)
	}
	if result.Analysis == nil || len(result.Analysis.MissingFields) == 0 {
		t.Error("analysis with missing fields not attached to the result")
	}
}

func TestBookTourAsksForSlotBeforeFields(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("book a tour")

	result, _, err := tool.Execute(context.Background(), fc, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeNeedInfo {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if result.Analysis.Status != models.AnalysisNeedTourDetails {
		t.Fatalf("analysis status = %s, want need_tour_details", result.Analysis.Status)
	}
}

func TestBookTourEnsuresDealThenBooks(t *testing.T) {
	crm := &fakeCRM{personID: 11, dealID: 22, activityID: 33}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("book a tour")
	fc.Persistent = completeProfile()

	result, patch, err := tool.Execute(context.Background(), fc, futureSlotArgs(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s, message = %q", result.Outcome, result.Message)
	}
	if crm.personCalls != 1 || crm.dealCalls != 1 || crm.activityCalls != 1 {
		t.Fatalf("CRM calls person=%d deal=%d activity=%d, want 1 each", crm.personCalls, crm.dealCalls, crm.activityCalls)
	}

	// The patch records everything the turn created.
	if patch.PipedrivePersonID == nil || *patch.PipedrivePersonID != 11 {
		t.Error("patch missing person id")
	}
	if patch.PipedriveDealID == nil || *patch.PipedriveDealID != 22 {
		t.Error("patch missing deal id")
	}
	if patch.TourActivityID == nil || *patch.TourActivityID != 33 {
		t.Error("patch missing activity id")
	}
	if patch.TourStatus == nil || *patch.TourStatus != models.TourStatusScheduled {
		t.Error("patch missing scheduled status")
	}
	if patch.ChildLevel == nil {
		t.Error("patch missing derived child level")
	}
	if fc.Active != nil {
		t.Error("active task state not cleared after booking")
	}
	if !strings.Contains(result.Message, "booked") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestBookTourEnsureDealIdempotent(t *testing.T) {
	crm := &fakeCRM{personID: 11, dealID: 22, activityID: 33}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("book a tour")
	fc.Persistent = completeProfile()
	fc.Persistent.PipedrivePersonID = 11
	fc.Persistent.PipedriveDealID = 22

	_, patch, err := tool.Execute(context.Background(), fc, futureSlotArgs(t))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if crm.personCalls != 0 || crm.dealCalls != 0 {
		t.Fatalf("existing deal recreated: person=%d deal=%d calls", crm.personCalls, crm.dealCalls)
	}
	if patch.PipedriveDealID != nil {
		t.Error("patch rewrites an unchanged deal id")
	}
}

func TestBookTourReschedulesExistingBooking(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("move my tour")
	fc.Persistent = completeProfile()
	fc.Persistent.PipedrivePersonID = 11
	fc.Persistent.PipedriveDealID = 22
	fc.Persistent.TourActivityID = 33
	fc.Persistent.TourDate = "2027-09-06"
	fc.Persistent.TourTime = "09:30"
	fc.Persistent.TourStatus = models.TourStatusScheduled

	result, patch, err := tool.Execute(context.Background(), fc, json.RawMessage(`{"tour_date":"2027-09-07","tour_time":"11:00"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s, message = %q", result.Outcome, result.Message)
	}
	if crm.rescheduleCalls != 1 || crm.activityCalls != 0 {
		t.Fatalf("reschedule=%d create=%d, want move not double-book", crm.rescheduleCalls, crm.activityCalls)
	}
	if patch.TourDate == nil || *patch.TourDate != "2027-09-07" {
		t.Error("patch missing new date")
	}
	if !strings.Contains(result.Message, "moved") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestBookTourRejectsPastSlot(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("book a tour")
	fc.Persistent = completeProfile()
	fc.Persistent.PipedrivePersonID = 11
	fc.Persistent.PipedriveDealID = 22

	result, _, err := tool.Execute(context.Background(), fc, json.RawMessage(`{"tour_date":"2020-01-06","tour_time":"09:30"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed for past slot", result.Outcome)
	}
	if crm.activityCalls+crm.rescheduleCalls != 0 {
		t.Error("CRM touched for a past slot")
	}
}

func TestBookTourCRMFailureDegradesGracefully(t *testing.T) {
	crm := &fakeCRM{personErr: errCRMDown}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))
	fc := testContext("book a tour")
	fc.Persistent = completeProfile()

	result, _, err := tool.Execute(context.Background(), fc, futureSlotArgs(t))
	if err != nil {
		t.Fatalf("CRM outages must not surface as errors, got: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if strings.Contains(result.Message, "crm unavailable") {
		t.Errorf("internal error leaked to the user: %q", result.Message)
	}
}

func TestBookTourRejectsMalformedSlot(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewBookTourTool(crm, NewDealEnsurer(crm))

	result, _, err := tool.Execute(context.Background(), testContext("book"), json.RawMessage(`{"tour_date":"06/09/2027","tour_time":"09:30"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s, want failed for malformed date", result.Outcome)
	}
}

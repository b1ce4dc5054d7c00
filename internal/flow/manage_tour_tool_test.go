package flow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BTreeMap/TourDesk/internal/models"
)

func scheduledTourProfile() *models.PersistentProfile {
	return &models.PersistentProfile{
		ParentName:      "Sarah Tan",
		ChildName:       "Emma",
		PipedriveDealID: 22,
		TourActivityID:  33,
		TourDate:        "2026-09-10",
		TourTime:        "09:30",
		TourStatus:      models.TourStatusScheduled,
	}
}

func TestManageTourRequiresBooking(t *testing.T) {
	tool := NewManageTourTool(&fakeCRM{})
	result, _, err := tool.Execute(context.Background(), testContext("cancel my tour"),
		json.RawMessage(`{"action":"cancel"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if !strings.Contains(result.Message, "no scheduled tour") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestManageTourCancel(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewManageTourTool(crm)
	fc := testContext("cancel my tour")
	fc.Persistent = scheduledTourProfile()
	fc.Active = &models.ActiveTaskState{TaskType: models.TaskTypeReschedule}

	result, patch, err := tool.Execute(context.Background(), fc, json.RawMessage(`{"action":"cancel"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s, message = %q", result.Outcome, result.Message)
	}
	if crm.cancelCalls != 1 {
		t.Fatalf("cancel calls = %d", crm.cancelCalls)
	}
	if len(crm.notes) != 1 || !strings.Contains(crm.notes[0], "TOUR CANCELLED") {
		t.Errorf("cancellation note = %v", crm.notes)
	}

	view := *fc.Persistent
	patch.Apply(&view)
	if view.TourActivityID != 0 || view.TourDate != "" {
		t.Error("tour fields survived cancellation")
	}
	if view.TourStatus != models.TourStatusCancelled {
		t.Errorf("status = %s", view.TourStatus)
	}
	if view.HasScheduledTour() {
		t.Error("cancelled tour still counts as scheduled")
	}
	if fc.Active != nil {
		t.Error("active task survived cancellation")
	}
}

func TestManageTourCancelNoteIsBestEffort(t *testing.T) {
	crm := &noteFailingCRM{}
	tool := NewManageTourTool(crm)
	fc := testContext("cancel")
	fc.Persistent = scheduledTourProfile()

	result, _, err := tool.Execute(context.Background(), fc, json.RawMessage(`{"action":"cancel"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// The cancellation went through; a failed note must not undo that.
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

func TestManageTourRescheduleNeedsNewSlot(t *testing.T) {
	tool := NewManageTourTool(&fakeCRM{})
	fc := testContext("move my tour")
	fc.Persistent = scheduledTourProfile()

	result, _, err := tool.Execute(context.Background(), fc, json.RawMessage(`{"action":"reschedule"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeNeedInfo {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if fc.Active == nil || fc.Active.TaskType != models.TaskTypeReschedule {
		t.Error("reschedule not parked on the active task")
	}
}

func TestManageTourReschedule(t *testing.T) {
	crm := &fakeCRM{}
	tool := NewManageTourTool(crm)
	fc := testContext("move to the 11th at 11")
	fc.Persistent = scheduledTourProfile()

	result, patch, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"action":"reschedule","new_date":"2026-09-11","new_time":"11:00"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s, message = %q", result.Outcome, result.Message)
	}
	if crm.rescheduleCalls != 1 {
		t.Fatalf("reschedule calls = %d", crm.rescheduleCalls)
	}
	if crm.lastActivityDate != "2026-09-11" || crm.lastActivityTime != "11:00" {
		t.Errorf("moved to %s %s", crm.lastActivityDate, crm.lastActivityTime)
	}
	if len(crm.notes) != 1 || !strings.Contains(crm.notes[0], "TOUR RESCHEDULED") {
		t.Errorf("notes = %v", crm.notes)
	}

	view := *fc.Persistent
	patch.Apply(&view)
	if view.TourDate != "2026-09-11" || view.TourTime != "11:00" {
		t.Errorf("tour slot = %s %s", view.TourDate, view.TourTime)
	}
	if !view.HasScheduledTour() {
		t.Error("rescheduled tour lost its scheduled status")
	}
}

func TestManageTourRejectsUnknownAction(t *testing.T) {
	tool := NewManageTourTool(&fakeCRM{})
	fc := testContext("")
	fc.Persistent = scheduledTourProfile()

	result, _, err := tool.Execute(context.Background(), fc, json.RawMessage(`{"action":"postpone"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

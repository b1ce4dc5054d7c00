package flow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BTreeMap/TourDesk/internal/models"
)

func TestUpdateContactParentFields(t *testing.T) {
	tool := NewUpdateContactTool()
	result, patch, err := tool.Execute(context.Background(), testContext("details"),
		json.RawMessage(`{"update_type":"parent","parent_name":"Sarah Tan","parent_email":"sarah@example.com"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if patch.ParentName == nil || *patch.ParentName != "Sarah Tan" {
		t.Error("patch missing parent name")
	}
	if patch.ParentEmail == nil || *patch.ParentEmail != "sarah@example.com" {
		t.Error("patch missing parent email")
	}
	// Unset fields stay untouched so the patch never clobbers known data.
	if patch.ParentPhone != nil {
		t.Error("phone patched without being provided")
	}
}

func TestUpdateContactRejectsEmptyParentUpdate(t *testing.T) {
	tool := NewUpdateContactTool()
	result, patch, err := tool.Execute(context.Background(), testContext(""),
		json.RawMessage(`{"update_type":"parent"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if !patch.IsEmpty() {
		t.Error("empty update produced a patch")
	}
}

func TestUpdateContactChildRecomputesLevel(t *testing.T) {
	tool := NewUpdateContactTool()
	fc := testContext("")
	fc.Persistent.ChildName = "Emma"

	result, patch, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"update_type":"child","child_dob":"2022-06-01","preferred_enrollment_date":"2026-01-05"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	// Age 4 at enrollment maps to N2.
	if patch.ChildLevel == nil || *patch.ChildLevel != "N2" {
		t.Fatalf("child level patch = %v, want N2", patch.ChildLevel)
	}
}

func TestUpdateContactSwitchChildResetsRecords(t *testing.T) {
	tool := NewUpdateContactTool()
	fc := testContext("enrolling my younger one instead")
	fc.Persistent = &models.PersistentProfile{
		ParentName:        "Sarah Tan",
		ParentEmail:       "sarah@example.com",
		ChildName:         "Emma",
		ChildDOB:          "2021-03-15",
		PipedrivePersonID: 11,
		PipedriveDealID:   22,
		TourActivityID:    33,
		TourDate:          "2026-09-10",
		TourTime:          "09:30",
		TourStatus:        models.TourStatusScheduled,
	}
	fc.Active = &models.ActiveTaskState{TaskType: models.TaskTypeTourBooking}

	result, patch, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"update_type":"new_child","child_name":"Liam","child_dob":"2023-02-01"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s, message = %q", result.Outcome, result.Message)
	}

	view := *fc.Persistent
	patch.Apply(&view)
	if view.ChildName != "Liam" || view.ChildDOB != "2023-02-01" {
		t.Errorf("new child not applied: %+v", view)
	}
	if view.PipedriveDealID != 0 || view.PipedrivePersonID != 0 {
		t.Error("CRM links survived the child switch")
	}
	if view.TourActivityID != 0 || view.TourStatus != "" {
		t.Error("previous child's tour survived the switch")
	}
	// Parent details belong to the family and must survive.
	if view.ParentName != "Sarah Tan" || view.ParentEmail != "sarah@example.com" {
		t.Error("parent details lost in the switch")
	}

	if fc.Active != nil {
		t.Error("in-flight task survived the child switch")
	}
	if result.Data["previous_child_name"] != "Emma" {
		t.Errorf("audit = %v", result.Data)
	}
	if result.Data["deal_reset"] != true || result.Data["tour_cleared"] != true {
		t.Errorf("audit flags = %v", result.Data)
	}
	if !strings.Contains(result.Message, "reset") {
		t.Errorf("message does not warn about the reset: %q", result.Message)
	}
}

func TestUpdateContactRejectsBadUpdateType(t *testing.T) {
	tool := NewUpdateContactTool()
	result, _, err := tool.Execute(context.Background(), testContext(""),
		json.RawMessage(`{"update_type":"sibling"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

func TestUpdateContactRejectsBadDOBFormat(t *testing.T) {
	tool := NewUpdateContactTool()
	result, _, err := tool.Execute(context.Background(), testContext(""),
		json.RawMessage(`{"update_type":"child","child_dob":"15/03/2021"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

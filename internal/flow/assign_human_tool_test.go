package flow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/BTreeMap/TourDesk/internal/models"
)

func TestAssignHumanEscalation(t *testing.T) {
	channel := &fakeChannel{}
	tool := NewAssignHumanTool(channel)
	fc := testContext("I want to speak to a person")
	fc.Runtime.School.AgentIDForHandover = 9

	result, _, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"mode":"escalation","reason":"parent asked for a human"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if channel.assignedTo != 9 {
		t.Fatalf("assigned to %d, want 9", channel.assignedTo)
	}
	if !strings.Contains(result.Message, "take over") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestAssignHumanSilentMode(t *testing.T) {
	channel := &fakeChannel{}
	tool := NewAssignHumanTool(channel)
	fc := testContext("complicated fee dispute")
	fc.Runtime.School.AgentIDForHandover = 9

	result, _, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"mode":"silent","reason":"sensitive topic"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSilent {
		t.Fatalf("outcome = %s, want silent", result.Outcome)
	}
	if result.Message != "" {
		t.Errorf("silent handover produced a message: %q", result.Message)
	}
	if channel.assignCalls != 1 {
		t.Error("conversation not reassigned")
	}
}

func TestAssignHumanNoAgentConfigured(t *testing.T) {
	channel := &fakeChannel{}
	tool := NewAssignHumanTool(channel)
	fc := testContext("human please")
	// testSchool leaves AgentIDForHandover at zero.

	result, _, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"mode":"escalation","reason":"request"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
	if !strings.Contains(result.Message, fc.Runtime.School.BranchPhone) {
		t.Errorf("fallback message lacks branch phone: %q", result.Message)
	}
	if channel.assignCalls != 0 {
		t.Error("reassignment attempted without a configured agent")
	}
}

func TestAssignHumanAssignmentFailure(t *testing.T) {
	channel := &fakeChannel{assignErr: errCRMDown}
	tool := NewAssignHumanTool(channel)
	fc := testContext("human please")
	fc.Runtime.School.AgentIDForHandover = 9

	result, _, err := tool.Execute(context.Background(), fc,
		json.RawMessage(`{"mode":"escalation","reason":"request"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/TourDesk/internal/models"
)

type stubSearcher struct {
	answer string
	found  bool
	err    error
}

func (s *stubSearcher) Search(ctx context.Context, query string) (string, bool, error) {
	return s.answer, s.found, s.err
}

func TestFAQToolReturnsAnswer(t *testing.T) {
	tool := NewFAQTool(&stubSearcher{answer: "Fees start at $800 per month.", found: true})
	result, patch, err := tool.Execute(context.Background(), testContext("fees?"),
		json.RawMessage(`{"query":"what are the fees"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess || result.Message != "Fees start at $800 per month." {
		t.Fatalf("result = %+v", result)
	}
	if patch != nil {
		t.Error("FAQ lookup produced a profile patch")
	}
}

func TestFAQToolNoMatchSuggestsTeam(t *testing.T) {
	tool := NewFAQTool(&stubSearcher{found: false})
	result, _, err := tool.Execute(context.Background(), testContext(""),
		json.RawMessage(`{"query":"do you allow pet iguanas"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeSuccess {
		t.Fatalf("outcome = %s; a miss is guidance, not a failure", result.Outcome)
	}
	if !strings.Contains(result.Message, "team") {
		t.Errorf("message = %q", result.Message)
	}
}

func TestFAQToolSearchFailure(t *testing.T) {
	tool := NewFAQTool(&stubSearcher{err: fmt.Errorf("index down")})
	result, _, err := tool.Execute(context.Background(), testContext(""),
		json.RawMessage(`{"query":"hours"}`))
	if err != nil {
		t.Fatalf("search outage must not surface as an error: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

func TestFAQToolRequiresQuery(t *testing.T) {
	tool := NewFAQTool(&stubSearcher{})
	result, _, err := tool.Execute(context.Background(), testContext(""), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != models.OutcomeFailed {
		t.Fatalf("outcome = %s", result.Outcome)
	}
}

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// FAQTool answers general questions through the pluggable FAQSearcher seam.
// Retrieval itself lives outside TourDesk; the tool is registered only when
// a searcher is wired in.
type FAQTool struct {
	searcher FAQSearcher
}

// NewFAQTool creates the get_faq_answer tool.
func NewFAQTool(searcher FAQSearcher) *FAQTool {
	return &FAQTool{searcher: searcher}
}

// Name returns the tool's dispatch name.
func (t *FAQTool) Name() string { return "get_faq_answer" }

// GetToolDefinition returns the OpenAI tool definition for FAQ lookups.
func (t *FAQTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "get_faq_answer",
			Description: openai.String("Look up the school's knowledge base for general questions about fees, curriculum, hours and policies."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The question to look up",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

// Execute looks the question up in the knowledge base.
func (t *FAQTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, nil, fmt.Errorf("invalid get_faq_answer arguments: %w", err)
	}
	if params.Query == "" {
		return &models.ToolResult{Outcome: models.OutcomeFailed, Message: "No question provided."}, nil, nil
	}

	answer, found, err := t.searcher.Search(ctx, params.Query)
	if err != nil {
		slog.Error("FAQTool search failed", "error", err)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't look that up right now. A team member can help with this question.",
		}, nil, nil
	}
	if !found {
		return &models.ToolResult{
			Outcome: models.OutcomeSuccess,
			Message: "No knowledge base entry matches this question. Offer to connect the user with the team instead of guessing.",
		}, nil, nil
	}
	return &models.ToolResult{Outcome: models.OutcomeSuccess, Message: answer}, nil, nil
}

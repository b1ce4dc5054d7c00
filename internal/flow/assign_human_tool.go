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

// AssignHumanTool hands the conversation to a human agent. In escalation
// mode the user is told a person will take over; in silent mode the bot
// reassigns and says nothing, used when a human already stepped in.
type AssignHumanTool struct {
	channel Channel
}

// NewAssignHumanTool creates the assign_to_human tool.
func NewAssignHumanTool(channel Channel) *AssignHumanTool {
	return &AssignHumanTool{channel: channel}
}

// Name returns the tool's dispatch name.
func (t *AssignHumanTool) Name() string { return "assign_to_human" }

// GetToolDefinition returns the OpenAI tool definition for human handover.
func (t *AssignHumanTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "assign_to_human",
			Description: openai.String("Hand the conversation to a human team member. Use mode 'escalation' when the user asks for a person or the situation needs one; 'silent' reassigns without a reply."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"escalation", "silent"},
						"description": "How the handover should behave",
					},
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "Short internal reason for the handover",
					},
				},
				"required": []string{"mode"},
			},
		},
	}
}

// Execute reassigns the conversation to the school's handover agent.
func (t *AssignHumanTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params models.AssignHumanParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, nil, fmt.Errorf("invalid assign_to_human arguments: %w", err)
	}
	if err := params.Validate(); err != nil {
		return &models.ToolResult{Outcome: models.OutcomeFailed, Message: err.Error()}, nil, nil
	}

	school := fc.Runtime.School
	agentID := school.AgentIDForHandover
	if agentID == 0 {
		slog.Warn("AssignHumanTool: school has no handover agent configured", "school", school.Name)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't reach a team member right now, but you can call the school directly at " + school.BranchPhone + ".",
		}, nil, nil
	}

	if err := t.channel.AssignConversation(ctx, fc.Runtime.ConversationID, agentID); err != nil {
		slog.Error("AssignHumanTool reassignment failed", "error", err, "conversationID", fc.Runtime.ConversationID)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't reach a team member right now. Please try again shortly.",
		}, nil, nil
	}
	slog.Info("Conversation handed to human", "conversationID", fc.Runtime.ConversationID, "agentID", agentID, "mode", params.Mode, "reason", params.Reason)

	if params.Mode == models.HandoverSilent {
		return &models.ToolResult{Outcome: models.OutcomeSilent}, nil, nil
	}
	return &models.ToolResult{
		Outcome: models.OutcomeSuccess,
		Message: "A member of our team will take over this chat shortly.",
	}, nil, nil
}

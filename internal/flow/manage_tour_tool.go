package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/TourDesk/internal/config"
	"github.com/BTreeMap/TourDesk/internal/models"
)

// ManageTourTool cancels or reschedules an already booked tour.
type ManageTourTool struct {
	crm CRM
}

// NewManageTourTool creates the manage_tour tool.
func NewManageTourTool(crm CRM) *ManageTourTool {
	return &ManageTourTool{crm: crm}
}

// Name returns the tool's dispatch name.
func (t *ManageTourTool) Name() string { return "manage_tour" }

// GetToolDefinition returns the OpenAI tool definition for tour management.
func (t *ManageTourTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "manage_tour",
			Description: openai.String("Cancel or reschedule the family's existing tour booking."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"cancel", "reschedule"},
						"description": "Whether to cancel the tour or move it to a new slot",
					},
					"new_date": map[string]interface{}{
						"type":        "string",
						"pattern":     `^\d{4}-\d{2}-\d{2}$`,
						"description": "New tour date in YYYY-MM-DD format (required for reschedule)",
					},
					"new_time": map[string]interface{}{
						"type":        "string",
						"pattern":     "^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$",
						"description": "New tour time in HH:MM format (required for reschedule)",
					},
				},
				"required": []string{"action"},
			},
		},
	}
}

// Execute cancels or moves the booked tour recorded on the profile.
func (t *ManageTourTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params models.ManageTourParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, nil, fmt.Errorf("invalid manage_tour arguments: %w", err)
	}
	if err := params.Validate(); err != nil {
		return &models.ToolResult{Outcome: models.OutcomeFailed, Message: err.Error()}, nil, nil
	}

	profile := fc.Persistent
	slog.Debug("ManageTourTool.Execute invoked", "action", params.Action, "activityID", profile.TourActivityID)
	if !profile.HasScheduledTour() {
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "There's no scheduled tour on record. Would you like to book one?",
		}, nil, nil
	}

	switch params.Action {
	case models.ManageTourCancel:
		return t.cancel(ctx, fc)
	case models.ManageTourReschedule:
		return t.reschedule(ctx, fc, params)
	}
	return nil, nil, fmt.Errorf("unreachable manage_tour action %q", params.Action)
}

func (t *ManageTourTool) cancel(ctx context.Context, fc *models.FullContext) (*models.ToolResult, *models.ProfilePatch, error) {
	profile := fc.Persistent
	if err := t.crm.CancelActivity(ctx, profile.TourActivityID); err != nil {
		slog.Error("ManageTourTool cancel failed", "error", err, "activityID", profile.TourActivityID)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't cancel the tour right now. Please try again in a moment.",
		}, nil, nil
	}

	if profile.PipedriveDealID != 0 {
		note := fmt.Sprintf("❌ TOUR CANCELLED\nOriginal slot: %s at %s", profile.TourDate, profile.TourTime)
		if err := t.crm.AddNoteToDeal(ctx, profile.PipedriveDealID, note); err != nil {
			// The cancellation itself went through; the note is best effort.
			slog.Error("ManageTourTool cancellation note failed", "error", err, "dealID", profile.PipedriveDealID)
		}
	}

	patch := &models.ProfilePatch{
		TourActivityID: models.IntPtr(0),
		TourDate:       models.StrPtr(""),
		TourTime:       models.StrPtr(""),
		TourStatus:     models.TourStatusPtr(models.TourStatusCancelled),
	}
	fc.Active = nil
	slog.Info("Tour cancelled", "contactID", fc.Runtime.ContactID)
	return &models.ToolResult{
		Outcome: models.OutcomeSuccess,
		Message: "Your tour has been cancelled. You're welcome to book a new one anytime.",
	}, patch, nil
}

func (t *ManageTourTool) reschedule(ctx context.Context, fc *models.FullContext, params models.ManageTourParams) (*models.ToolResult, *models.ProfilePatch, error) {
	if params.NewDate == "" || params.NewTime == "" {
		active := fc.EnsureActive()
		active.TaskType = models.TaskTypeReschedule
		active.TaskStatus = models.TaskStatusCollectingInfo
		active.Touch()
		return &models.ToolResult{
			Outcome: models.OutcomeNeedInfo,
			Message: "What new date and time would you like for the tour? I can check availability for you.",
		}, nil, nil
	}

	profile := fc.Persistent
	loc := config.Location(fc.Runtime.School)
	if err := t.crm.RescheduleTourActivity(ctx, loc, profile.TourActivityID, params.NewDate, params.NewTime); err != nil {
		slog.Error("ManageTourTool reschedule failed", "error", err, "activityID", profile.TourActivityID)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't move the tour right now. Please try again in a moment.",
		}, nil, nil
	}

	if profile.PipedriveDealID != 0 {
		note := fmt.Sprintf("🔄 TOUR RESCHEDULED\nFrom: %s at %s\nTo: %s at %s", profile.TourDate, profile.TourTime, params.NewDate, params.NewTime)
		if err := t.crm.AddNoteToDeal(ctx, profile.PipedriveDealID, note); err != nil {
			slog.Error("ManageTourTool reschedule note failed", "error", err, "dealID", profile.PipedriveDealID)
		}
	}

	patch := &models.ProfilePatch{
		TourDate:   models.StrPtr(params.NewDate),
		TourTime:   models.StrPtr(params.NewTime),
		TourStatus: models.TourStatusPtr(models.TourStatusScheduled),
	}
	fc.Active = nil
	slog.Info("Tour rescheduled", "contactID", fc.Runtime.ContactID, "newDate", params.NewDate, "newTime", params.NewTime)
	return &models.ToolResult{
		Outcome: models.OutcomeSuccess,
		Message: fmt.Sprintf("Your tour has been moved to %s at %s. See you then!", params.NewDate, params.NewTime),
	}, patch, nil
}

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/TourDesk/internal/models"
)

const callbackContinuationHint = "If the user provides the missing information, call update_contact_info to save it, then call request_callback again to continue."

// CallbackTool records a callback request on the family's enrollment deal so
// the school team phones them back.
type CallbackTool struct {
	crm     CRM
	ensurer *DealEnsurer
}

// NewCallbackTool creates the request_callback tool.
func NewCallbackTool(crm CRM, ensurer *DealEnsurer) *CallbackTool {
	return &CallbackTool{crm: crm, ensurer: ensurer}
}

// Name returns the tool's dispatch name.
func (t *CallbackTool) Name() string { return "request_callback" }

// GetToolDefinition returns the OpenAI tool definition for callback requests.
func (t *CallbackTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "request_callback",
			Description: openai.String("Arrange for the school team to call the parent back. Collects contact and child details first; a phone number is always required."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"preference": map[string]interface{}{
						"type":        "string",
						"description": "When the parent prefers to be called, e.g. 'weekday mornings' or 'after 6pm'",
					},
				},
			},
		},
	}
}

// Execute runs the callback workflow with the same analyze / ensure-deal /
// re-analyze shape as booking.
func (t *CallbackTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params models.CallbackParams
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, nil, fmt.Errorf("invalid request_callback arguments: %w", err)
		}
	}
	slog.Debug("CallbackTool.Execute invoked", "preference", params.Preference, "contactID", fc.Runtime.ContactID)

	analysis := Analyze(fc.Persistent, models.PurposeCallback, AnalyzeOptions{})
	patch := &models.ProfilePatch{}

	if analysis.Status == models.AnalysisNeedDeal {
		_, ensurePatch, err := t.ensurer.EnsureDeal(ctx, fc)
		if err != nil {
			slog.Error("CallbackTool deal creation failed", "error", err)
			return &models.ToolResult{
				Outcome: models.OutcomeFailed,
				Message: "I couldn't set up the callback record right now. Please try again in a moment.",
			}, patch, nil
		}
		patch.Merge(ensurePatch)
		patched := *fc.Persistent
		patch.Apply(&patched)
		analysis = Analyze(&patched, models.PurposeCallback, AnalyzeOptions{})
	}

	switch analysis.Status {
	case models.AnalysisNeedInfo:
		active := fc.EnsureActive()
		active.TaskType = models.TaskTypeCallback
		active.TaskStatus = models.TaskStatusCollectingInfo
		if active.TaskData == nil {
			active.TaskData = make(map[string]interface{})
		}
		active.TaskData[continuationHintKey] = callbackContinuationHint
		active.TaskData["missing_fields"] = analysis.MissingFields
		active.Touch()
		return &models.ToolResult{
			Outcome:  models.OutcomeNeedInfo,
			Message:  needInfoMessage(analysis),
			Analysis: analysis,
		}, patch, nil

	case models.AnalysisReady:
		return t.record(ctx, fc, patch, params)

	default:
		return nil, patch, fmt.Errorf("unexpected analysis status %q after ensure-deal", analysis.Status)
	}
}

func (t *CallbackTool) record(ctx context.Context, fc *models.FullContext, patch *models.ProfilePatch, params models.CallbackParams) (*models.ToolResult, *models.ProfilePatch, error) {
	profile := *fc.Persistent
	patch.Apply(&profile)

	now := time.Now().UTC()
	note := formatCallbackNote(&profile, params.Preference, now)
	if err := t.crm.AddNoteToDeal(ctx, profile.PipedriveDealID, note); err != nil {
		slog.Error("CallbackTool note failed", "error", err, "dealID", profile.PipedriveDealID)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't log the callback request right now. Please try again in a moment.",
		}, patch, nil
	}

	patch.CallbackRequested = models.BoolPtr(true)
	patch.CallbackRequestedAt = models.StrPtr(now.Format(time.RFC3339))
	if params.Preference != "" {
		patch.CallbackPreference = models.StrPtr(params.Preference)
	}

	fc.Active = nil

	msg := "Our team will call you back"
	if params.Preference != "" {
		msg += " (" + params.Preference + ")"
	}
	msg += ". You'll hear from us soon!"
	slog.Info("Callback recorded", "dealID", profile.PipedriveDealID, "preference", params.Preference)
	return &models.ToolResult{Outcome: models.OutcomeSuccess, Message: msg}, patch, nil
}

// formatCallbackNote renders the note the school team reads before calling.
func formatCallbackNote(profile *models.PersistentProfile, preference string, now time.Time) string {
	note := "📞 CALLBACK REQUEST\n"
	note += fmt.Sprintf("Parent: %s\n", profile.ParentName)
	note += fmt.Sprintf("Phone: %s\n", profile.ParentPhone)
	if profile.ParentEmail != "" {
		note += fmt.Sprintf("Email: %s\n", profile.ParentEmail)
	}
	if profile.ChildName != "" {
		line := fmt.Sprintf("Child: %s", profile.ChildName)
		if age := childAge(profile.ChildDOB, now); age != "" {
			line += fmt.Sprintf(" (%s)", age)
		}
		note += line + "\n"
	}
	if preference != "" {
		note += fmt.Sprintf("Preferred time: %s\n", preference)
	}
	note += fmt.Sprintf("Requested at: %s", now.Format("2006-01-02 15:04 MST"))
	return note
}

// childAge renders "2 years 4 months" from a YYYY-MM-DD date of birth.
func childAge(dob string, now time.Time) string {
	born, err := time.Parse("2006-01-02", dob)
	if err != nil {
		return ""
	}
	years := now.Year() - born.Year()
	months := int(now.Month()) - int(born.Month())
	if now.Day() < born.Day() {
		months--
	}
	if months < 0 {
		years--
		months += 12
	}
	if years < 0 {
		return ""
	}
	if years == 0 {
		return fmt.Sprintf("%d months", months)
	}
	return fmt.Sprintf("%d years %d months", years, months)
}

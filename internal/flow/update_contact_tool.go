package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/pipedrive"
)

// UpdateContactTool saves parent and child details the user provides. It is
// the only tool other tools' continuation hints point at.
type UpdateContactTool struct{}

// NewUpdateContactTool creates the update_contact_info tool.
func NewUpdateContactTool() *UpdateContactTool {
	return &UpdateContactTool{}
}

// Name returns the tool's dispatch name.
func (t *UpdateContactTool) Name() string { return "update_contact_info" }

// GetToolDefinition returns the OpenAI tool definition for contact updates.
func (t *UpdateContactTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "update_contact_info",
			Description: openai.String("Save parent or child details the user just provided. Use update_type 'new_child' only when the family switches to enrolling a different child; that resets the child's booking and CRM records."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"update_type": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"parent", "child", "new_child"},
						"description": "Which part of the record to update",
					},
					"parent_name":  map[string]interface{}{"type": "string", "description": "Parent's full name"},
					"parent_email": map[string]interface{}{"type": "string", "description": "Parent's email address"},
					"parent_phone": map[string]interface{}{"type": "string", "description": "Parent's phone number"},
					"child_name":   map[string]interface{}{"type": "string", "description": "Child's name"},
					"child_dob": map[string]interface{}{
						"type":        "string",
						"pattern":     `^\d{4}-\d{2}-\d{2}$`,
						"description": "Child's date of birth in YYYY-MM-DD format",
					},
					"preferred_enrollment_date": map[string]interface{}{
						"type":        "string",
						"pattern":     `^\d{4}-\d{2}-\d{2}$`,
						"description": "Preferred enrollment date in YYYY-MM-DD format",
					},
				},
				"required": []string{"update_type"},
			},
		},
	}
}

// Execute builds the profile patch for the requested update. A new_child
// update first clears the previous child's records and reports an audit of
// what was dropped.
func (t *UpdateContactTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params models.UpdateContactParams
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, nil, fmt.Errorf("invalid update_contact_info arguments: %w", err)
	}
	if err := params.Validate(); err != nil {
		return &models.ToolResult{Outcome: models.OutcomeFailed, Message: err.Error()}, nil, nil
	}
	slog.Debug("UpdateContactTool.Execute invoked", "update_type", params.UpdateType, "contactID", fc.Runtime.ContactID)

	switch params.UpdateType {
	case models.UpdateTypeParent:
		return t.updateParent(params)
	case models.UpdateTypeChild:
		return t.updateChild(fc, params, nil)
	case models.UpdateTypeNewChild:
		return t.switchChild(fc, params)
	}
	return nil, nil, fmt.Errorf("unreachable update_type %q", params.UpdateType)
}

func (t *UpdateContactTool) updateParent(params models.UpdateContactParams) (*models.ToolResult, *models.ProfilePatch, error) {
	patch := &models.ProfilePatch{}
	var saved []string
	if params.ParentName != "" {
		patch.ParentName = models.StrPtr(params.ParentName)
		saved = append(saved, "name")
	}
	if params.ParentEmail != "" {
		patch.ParentEmail = models.StrPtr(params.ParentEmail)
		saved = append(saved, "email")
	}
	if params.ParentPhone != "" {
		patch.ParentPhone = models.StrPtr(params.ParentPhone)
		saved = append(saved, "phone")
	}
	if len(saved) == 0 {
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "No parent details were provided to save.",
		}, nil, nil
	}
	return &models.ToolResult{
		Outcome: models.OutcomeSuccess,
		Message: fmt.Sprintf("Saved parent %s.", joinNatural(saved)),
	}, patch, nil
}

// updateChild patches child fields onto base. base is non-nil only on the
// new_child path, where the patch already cleared the previous child.
func (t *UpdateContactTool) updateChild(fc *models.FullContext, params models.UpdateContactParams, base *models.ProfilePatch) (*models.ToolResult, *models.ProfilePatch, error) {
	patch := base
	if patch == nil {
		patch = &models.ProfilePatch{}
	}
	var saved []string
	if params.ChildName != "" {
		patch.ChildName = models.StrPtr(params.ChildName)
		saved = append(saved, "name")
	}
	if params.ChildDOB != "" {
		patch.ChildDOB = models.StrPtr(params.ChildDOB)
		saved = append(saved, "date of birth")
	}
	if params.PreferredEnrollmentDate != "" {
		patch.PreferredEnrollmentDate = models.StrPtr(params.PreferredEnrollmentDate)
		saved = append(saved, "enrollment date")
	}
	if len(saved) == 0 && base == nil {
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "No child details were provided to save.",
		}, nil, nil
	}

	// A changed birthday or enrollment date moves the level.
	if params.ChildDOB != "" || params.PreferredEnrollmentDate != "" {
		view := *fc.Persistent
		patch.Apply(&view)
		if view.ChildDOB != "" {
			patch.ChildLevel = models.StrPtr(pipedrive.CalculateChildLevel(view.ChildDOB, view.PreferredEnrollmentDate))
		}
	}

	msg := fmt.Sprintf("Saved child %s.", joinNatural(saved))
	if len(saved) == 0 {
		msg = "Child record reset."
	}
	return &models.ToolResult{Outcome: models.OutcomeSuccess, Message: msg}, patch, nil
}

// switchChild starts over for a different child: previous child, CRM links
// and any booked tour are cleared, with an audit of what was dropped.
func (t *UpdateContactTool) switchChild(fc *models.FullContext, params models.UpdateContactParams) (*models.ToolResult, *models.ProfilePatch, error) {
	prev := fc.Persistent
	audit := map[string]interface{}{
		"previous_child_name": prev.ChildName,
		"previous_child_dob":  prev.ChildDOB,
		"deal_reset":          prev.PipedriveDealID != 0,
		"tour_cleared":        prev.HasScheduledTour(),
	}

	result, patch, err := t.updateChild(fc, params, models.ClearTourAndDealPatch())
	if err != nil || result.Outcome != models.OutcomeSuccess {
		return result, patch, err
	}

	fc.Active = nil
	result.Data = audit
	result.Message += " Previous child's booking and enrollment records were reset; a new enrollment will be created when needed."
	slog.Info("Child switched", "contactID", fc.Runtime.ContactID, "previous_child", prev.ChildName, "deal_reset", audit["deal_reset"])
	return result, patch, nil
}

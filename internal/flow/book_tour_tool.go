package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/TourDesk/internal/config"
	"github.com/BTreeMap/TourDesk/internal/models"
)

// continuationHintKey stores the resume instruction in the active task data
// while the tool waits for more fields.
const continuationHintKey = "continuation_hint"

const bookTourContinuationHint = "If the user provides the missing information, call update_contact_info to save it, then call book_tour again to continue."

// BookTourTool books or reschedules a school tour once the policy engine
// reports the profile is ready.
type BookTourTool struct {
	crm     CRM
	ensurer *DealEnsurer
}

// NewBookTourTool creates the book_tour tool.
func NewBookTourTool(crm CRM, ensurer *DealEnsurer) *BookTourTool {
	return &BookTourTool{crm: crm, ensurer: ensurer}
}

// Name returns the tool's dispatch name.
func (t *BookTourTool) Name() string { return "book_tour" }

// GetToolDefinition returns the OpenAI tool definition for booking tours.
func (t *BookTourTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "book_tour",
			Description: openai.String("Book a school tour for the family, or move an existing booking to the requested slot. Collects any missing parent and child details first."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"tour_date": map[string]interface{}{
						"type":        "string",
						"pattern":     `^\d{4}-\d{2}-\d{2}$`,
						"description": "Requested tour date in YYYY-MM-DD format",
					},
					"tour_time": map[string]interface{}{
						"type":        "string",
						"pattern":     "^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$",
						"description": "Requested tour time in HH:MM format (24-hour, school local time)",
					},
				},
			},
		},
	}
}

// Execute runs the two-phase booking workflow: analyze, ensure the CRM deal
// when that is the only blocker, re-analyze once, then book.
func (t *BookTourTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params models.BookTourParams
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, nil, fmt.Errorf("invalid book_tour arguments: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return &models.ToolResult{Outcome: models.OutcomeFailed, Message: err.Error()}, nil, nil
	}
	slog.Debug("BookTourTool.Execute invoked", "date", params.TourDate, "time", params.TourTime, "contactID", fc.Runtime.ContactID)

	opts := AnalyzeOptions{TourDate: params.TourDate, TourTime: params.TourTime}
	analysis := Analyze(fc.Persistent, models.PurposeTourBooking, opts)
	patch := &models.ProfilePatch{}

	if analysis.Status == models.AnalysisNeedDeal {
		dealID, ensurePatch, err := t.ensurer.EnsureDeal(ctx, fc)
		if err != nil {
			slog.Error("BookTourTool deal creation failed", "error", err)
			return &models.ToolResult{
				Outcome: models.OutcomeFailed,
				Message: "I couldn't set up the booking record right now. Please try again in a moment.",
			}, patch, nil
		}
		patch.Merge(ensurePatch)
		slog.Debug("BookTourTool ensured deal, re-analyzing", "dealID", dealID)

		// One re-analysis over the patched view; the deal blocker is gone,
		// so this lands on need_info or ready.
		patched := *fc.Persistent
		patch.Apply(&patched)
		analysis = Analyze(&patched, models.PurposeTourBooking, opts)
	}

	switch analysis.Status {
	case models.AnalysisNeedTourDetails, models.AnalysisNeedInfo:
		t.parkForInfo(fc, analysis)
		return &models.ToolResult{
			Outcome:  models.OutcomeNeedInfo,
			Message:  needInfoMessage(analysis),
			Analysis: analysis,
		}, patch, nil

	case models.AnalysisReady:
		return t.book(ctx, fc, patch, params)

	default:
		// A second need_deal here would mean EnsureDeal lied; fail loudly.
		return nil, patch, fmt.Errorf("unexpected analysis status %q after ensure-deal", analysis.Status)
	}
}

// parkForInfo records the in-progress booking on the active task state so a
// later turn can resume it.
func (t *BookTourTool) parkForInfo(fc *models.FullContext, analysis *models.Analysis) {
	active := fc.EnsureActive()
	active.TaskType = models.TaskTypeTourBooking
	active.TaskStatus = models.TaskStatusCollectingInfo
	if active.TaskData == nil {
		active.TaskData = make(map[string]interface{})
	}
	active.TaskData[continuationHintKey] = bookTourContinuationHint
	active.TaskData["missing_fields"] = analysis.MissingFields
	active.Touch()
}

// book performs the CRM side of the booking. An existing scheduled tour is
// rescheduled instead of double-booked.
func (t *BookTourTool) book(ctx context.Context, fc *models.FullContext, patch *models.ProfilePatch, params models.BookTourParams) (*models.ToolResult, *models.ProfilePatch, error) {
	profile := *fc.Persistent
	patch.Apply(&profile)
	loc := config.Location(fc.Runtime.School)

	if !isFutureSlot(loc, params.TourDate, params.TourTime) {
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: fmt.Sprintf("The slot %s at %s is already in the past. Please pick an upcoming date.", params.TourDate, params.TourTime),
		}, patch, nil
	}

	rescheduled := profile.HasScheduledTour()
	activityID := profile.TourActivityID
	if rescheduled {
		if err := t.crm.RescheduleTourActivity(ctx, loc, activityID, params.TourDate, params.TourTime); err != nil {
			slog.Error("BookTourTool reschedule failed", "error", err, "activityID", activityID)
			return &models.ToolResult{
				Outcome: models.OutcomeFailed,
				Message: "I couldn't move your tour right now. Please try again in a moment.",
			}, patch, nil
		}
	} else {
		subject := fmt.Sprintf("School Tour - %s", profile.ChildName)
		var err error
		activityID, err = t.crm.CreateTourActivity(ctx, loc, profile.PipedriveDealID, subject, params.TourDate, params.TourTime)
		if err != nil {
			slog.Error("BookTourTool activity creation failed", "error", err, "dealID", profile.PipedriveDealID)
			return &models.ToolResult{
				Outcome: models.OutcomeFailed,
				Message: "I couldn't confirm the tour right now. Please try again in a moment.",
			}, patch, nil
		}
	}

	patch.TourActivityID = models.IntPtr(activityID)
	patch.TourDate = models.StrPtr(params.TourDate)
	patch.TourTime = models.StrPtr(params.TourTime)
	patch.TourStatus = models.TourStatusPtr(models.TourStatusScheduled)

	// The task is done; drop the working state.
	fc.Active = nil

	verb := "booked"
	if rescheduled {
		verb = "moved"
	}
	msg := fmt.Sprintf("Your tour is %s for %s at %s. We look forward to meeting %s!", verb, params.TourDate, params.TourTime, profile.ChildName)
	slog.Info("Tour booked", "activityID", activityID, "date", params.TourDate, "time", params.TourTime, "rescheduled", rescheduled)
	return &models.ToolResult{
		Outcome: models.OutcomeSuccess,
		Message: msg,
		Data: map[string]interface{}{
			"activity_id": activityID,
			"rescheduled": rescheduled,
		},
	}, patch, nil
}

func isFutureSlot(loc *time.Location, date, timeStr string) bool {
	slot, err := time.ParseInLocation("2006-01-02 15:04", date+" "+timeStr, loc)
	if err != nil {
		return false
	}
	return slot.After(time.Now().In(loc))
}

// needInfoMessage folds the analysis into one model-facing message: the
// batch question, the reason, progress and whatever is already known.
func needInfoMessage(a *models.Analysis) string {
	msg := a.Question
	if a.Why != "" {
		msg += " " + a.Why
	}
	if a.Status == models.AnalysisNeedInfo {
		msg += fmt.Sprintf(" (%s)", a.Progress())
	}
	for _, hint := range a.ContextHints {
		msg += "\n" + hint
	}
	return msg
}

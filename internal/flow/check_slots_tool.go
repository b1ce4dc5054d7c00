package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/TourDesk/internal/config"
	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/pipedrive"
)

// availabilityWindowDays is how far ahead the slot search looks.
const availabilityWindowDays = 14

// defaultBlockDuration applies when a blocking activity has no duration.
const defaultBlockDuration = time.Hour

// CheckSlotsTool reports open tour slots, subtracting the school's CRM
// calendar from its fixed slot grid.
type CheckSlotsTool struct {
	crm CRM

	// now is swappable for tests.
	now func() time.Time
}

// NewCheckSlotsTool creates the check_tour_availability tool.
func NewCheckSlotsTool(crm CRM) *CheckSlotsTool {
	return &CheckSlotsTool{crm: crm, now: time.Now}
}

// Name returns the tool's dispatch name.
func (t *CheckSlotsTool) Name() string { return "check_tour_availability" }

// GetToolDefinition returns the OpenAI tool definition for availability checks.
func (t *CheckSlotsTool) GetToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        "check_tour_availability",
			Description: openai.String("List open tour slots over the coming two weeks, optionally narrowed to a date, weekday, next week, or a time of day."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"date": map[string]interface{}{
						"type":        "string",
						"pattern":     `^\d{4}-\d{2}-\d{2}$`,
						"description": "Check a specific date (YYYY-MM-DD)",
					},
					"day_of_week": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"},
						"description": "Check the next occurrence of this weekday",
					},
					"time_preference": map[string]interface{}{
						"type":        "string",
						"description": "'morning', 'afternoon', or an exact HH:MM time",
					},
					"next_week": map[string]interface{}{
						"type":        "boolean",
						"description": "Start the search from next Monday",
					},
				},
			},
		},
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Execute computes availability for the requested window.
func (t *CheckSlotsTool) Execute(ctx context.Context, fc *models.FullContext, args json.RawMessage) (*models.ToolResult, *models.ProfilePatch, error) {
	var params models.CheckSlotsParams
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, nil, fmt.Errorf("invalid check_tour_availability arguments: %w", err)
		}
	}
	if err := params.Validate(); err != nil {
		return &models.ToolResult{Outcome: models.OutcomeFailed, Message: err.Error()}, nil, nil
	}

	school := fc.Runtime.School
	loc := config.Location(school)
	today := t.now().In(loc)
	reference := t.referenceDate(today, params)
	slog.Debug("CheckSlotsTool.Execute invoked", "reference", reference.Format("2006-01-02"), "school", school.Name)

	// Scan two weeks from the Monday of the reference week so "this week"
	// and "next week" both land inside the window.
	windowStart := weekStart(reference)
	windowEnd := windowStart.AddDate(0, 0, availabilityWindowDays-1)

	blocking, err := t.crm.GetBlockingActivities(ctx, loc, windowStart, windowEnd)
	if err != nil {
		slog.Error("CheckSlotsTool failed to load calendar", "error", err)
		return &models.ToolResult{
			Outcome: models.OutcomeFailed,
			Message: "I couldn't check the tour calendar right now. Please try again in a moment.",
		}, nil, nil
	}
	blocked := expandBlockedSlots(blocking, school.TourSlots, loc)

	exactDate := ""
	if params.Date != "" {
		exactDate = params.Date
	}

	type daySlots struct {
		date  time.Time
		times []string
	}
	todayMidnight := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	var days []daySlots
	for d := 0; d < availabilityWindowDays; d++ {
		day := windowStart.AddDate(0, 0, d)
		dateStr := day.Format("2006-01-02")
		// Same-day tours are not offered.
		if !day.After(todayMidnight) {
			continue
		}
		if exactDate != "" && dateStr != exactDate {
			continue
		}
		if !school.WorksOn(day.Weekday()) {
			continue
		}
		if blocked[dateStr+"_WHOLE_DAY"] {
			continue
		}
		var times []string
		for _, slot := range school.TourSlots {
			if blocked[dateStr+"_"+slot] {
				continue
			}
			if !matchesTimePreference(slot, params.TimePreference) {
				continue
			}
			times = append(times, slot)
		}
		if len(times) > 0 {
			days = append(days, daySlots{date: day, times: times})
		}
	}

	if len(days) == 0 {
		msg := "No tour slots are open in that window."
		if exactDate != "" {
			msg = fmt.Sprintf("No tour slots are open on %s.", exactDate)
		}
		msg += " Would you like me to check different dates?"
		return &models.ToolResult{Outcome: models.OutcomeSuccess, Message: msg, Data: map[string]interface{}{"available_slots": map[string][]string{}}}, nil, nil
	}

	available := make(map[string][]string, len(days))
	var b strings.Builder
	b.WriteString("Here are the open tour slots:\n")
	for _, ds := range days {
		dateStr := ds.date.Format("2006-01-02")
		available[dateStr] = ds.times
		b.WriteString(fmt.Sprintf("- %s %s: %s\n", ds.date.Format("Mon"), dateStr, strings.Join(ds.times, ", ")))
	}
	slog.Debug("CheckSlotsTool completed", "days", len(days))
	return &models.ToolResult{
		Outcome: models.OutcomeSuccess,
		Message: strings.TrimRight(b.String(), "\n"),
		Data:    map[string]interface{}{"available_slots": available},
	}, nil, nil
}

// referenceDate picks where the search starts: an exact date, the next
// occurrence of a weekday, next Monday, or tomorrow.
func (t *CheckSlotsTool) referenceDate(today time.Time, params models.CheckSlotsParams) time.Time {
	if params.Date != "" {
		if d, err := time.ParseInLocation("2006-01-02", params.Date, today.Location()); err == nil {
			return d
		}
	}
	if params.DayOfWeek != "" {
		if target, ok := weekdayNames[strings.ToLower(params.DayOfWeek)]; ok {
			d := today.AddDate(0, 0, 1)
			for d.Weekday() != target {
				d = d.AddDate(0, 0, 1)
			}
			return d
		}
	}
	if params.NextWeek {
		return weekStart(today).AddDate(0, 0, 7)
	}
	return today.AddDate(0, 0, 1)
}

// weekStart returns the Monday of the given date's week.
func weekStart(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location()).AddDate(0, 0, -offset)
}

// expandBlockedSlots turns blocking activities into a set of blocked slot
// keys ("date_HH:MM" and "date_WHOLE_DAY"). An activity blocks every fixed
// slot it overlaps, so a long event straddling two slots invalidates both.
func expandBlockedSlots(blocking []pipedrive.BlockingActivity, tourSlots []string, loc *time.Location) map[string]bool {
	blocked := make(map[string]bool)
	for _, a := range blocking {
		if a.WholeDay {
			blocked[a.Date+"_WHOLE_DAY"] = true
			continue
		}
		start, err := time.ParseInLocation("2006-01-02 15:04", a.Date+" "+a.StartTime, loc)
		if err != nil {
			continue
		}
		dur := parseDuration(a.Duration)
		end := start.Add(dur)
		for _, slot := range tourSlots {
			slotStart, err := time.ParseInLocation("2006-01-02 15:04", a.Date+" "+slot, loc)
			if err != nil {
				continue
			}
			slotEnd := slotStart.Add(time.Hour)
			if start.Before(slotEnd) && end.After(slotStart) {
				blocked[a.Date+"_"+slot] = true
			}
		}
	}
	return blocked
}

// parseDuration reads Pipedrive's "HH:MM" duration format.
func parseDuration(s string) time.Duration {
	if s == "" {
		return defaultBlockDuration
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return defaultBlockDuration
	}
	d := time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
	if d == 0 {
		return defaultBlockDuration
	}
	return d
}

// matchesTimePreference filters slots by morning/afternoon or an exact time.
func matchesTimePreference(slot, preference string) bool {
	switch preference {
	case "":
		return true
	case "morning":
		t, err := time.Parse("15:04", slot)
		return err == nil && t.Hour() < 12
	case "afternoon":
		t, err := time.Parse("15:04", slot)
		return err == nil && t.Hour() >= 12
	default:
		return slot == preference
	}
}

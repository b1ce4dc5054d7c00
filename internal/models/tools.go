package models

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// ToolCall mirrors the LLM tool invocation shape used across the flow layer.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and raw JSON arguments.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

var (
	dateFormatRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timeFormatRegex = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
)

// validateDateFormat checks YYYY-MM-DD and that it parses as a real date.
func validateDateFormat(date string) error {
	if !dateFormatRegex.MatchString(date) {
		return fmt.Errorf("invalid date format: %s (expected YYYY-MM-DD)", date)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("invalid date: %s", date)
	}
	return nil
}

// validateTimeFormat checks HH:MM in 24-hour time.
func validateTimeFormat(timeStr string) error {
	if !timeFormatRegex.MatchString(timeStr) {
		return fmt.Errorf("invalid time format: %s (expected HH:MM)", timeStr)
	}
	if _, err := time.Parse("15:04", timeStr); err != nil {
		return fmt.Errorf("invalid time: %s", timeStr)
	}
	return nil
}

// BookTourParams are the arguments for the book_tour tool. Date and time are
// optional; when missing the policy engine reports need_tour_details.
type BookTourParams struct {
	TourDate string `json:"tour_date,omitempty"`
	TourTime string `json:"tour_time,omitempty"`
}

// Validate checks formats of whichever fields are present.
func (p BookTourParams) Validate() error {
	if p.TourDate != "" {
		if err := validateDateFormat(p.TourDate); err != nil {
			return err
		}
	}
	if p.TourTime != "" {
		if err := validateTimeFormat(p.TourTime); err != nil {
			return err
		}
	}
	return nil
}

// CallbackParams are the arguments for the request_callback tool.
type CallbackParams struct {
	Preference string `json:"preference,omitempty"` // e.g. "weekday mornings"
}

// Validate is trivially satisfied; preference is free text.
func (p CallbackParams) Validate() error { return nil }

// ManageTourAction selects the manage_tour operation.
type ManageTourAction string

const (
	ManageTourCancel     ManageTourAction = "cancel"
	ManageTourReschedule ManageTourAction = "reschedule"
)

// ManageTourParams are the arguments for the manage_tour tool.
type ManageTourParams struct {
	Action  ManageTourAction `json:"action"`
	NewDate string           `json:"new_date,omitempty"`
	NewTime string           `json:"new_time,omitempty"`
}

// Validate checks the action and any reschedule target formats.
func (p ManageTourParams) Validate() error {
	switch p.Action {
	case ManageTourCancel, ManageTourReschedule:
	default:
		return fmt.Errorf("invalid action: %s (expected cancel or reschedule)", p.Action)
	}
	if p.NewDate != "" {
		if err := validateDateFormat(p.NewDate); err != nil {
			return err
		}
	}
	if p.NewTime != "" {
		if err := validateTimeFormat(p.NewTime); err != nil {
			return err
		}
	}
	return nil
}

// ContactUpdateType selects which slice of the profile update_contact_info touches.
type ContactUpdateType string

const (
	UpdateTypeParent   ContactUpdateType = "parent"
	UpdateTypeChild    ContactUpdateType = "child"
	UpdateTypeNewChild ContactUpdateType = "new_child"
)

// UpdateContactParams are the arguments for the update_contact_info tool.
// Only fields relevant to UpdateType are read.
type UpdateContactParams struct {
	UpdateType ContactUpdateType `json:"update_type"`

	ParentName  string `json:"parent_name,omitempty"`
	ParentEmail string `json:"parent_email,omitempty"`
	ParentPhone string `json:"parent_phone,omitempty"`

	ChildName               string `json:"child_name,omitempty"`
	ChildDOB                string `json:"child_dob,omitempty"`
	PreferredEnrollmentDate string `json:"preferred_enrollment_date,omitempty"`
}

// Validate checks the update type and any date-shaped fields.
func (p UpdateContactParams) Validate() error {
	switch p.UpdateType {
	case UpdateTypeParent, UpdateTypeChild, UpdateTypeNewChild:
	default:
		return fmt.Errorf("invalid update_type: %s (expected parent, child or new_child)", p.UpdateType)
	}
	if p.ChildDOB != "" {
		if err := validateDateFormat(p.ChildDOB); err != nil {
			return fmt.Errorf("child_dob: %w", err)
		}
	}
	if p.PreferredEnrollmentDate != "" {
		if err := validateDateFormat(p.PreferredEnrollmentDate); err != nil {
			return fmt.Errorf("preferred_enrollment_date: %w", err)
		}
	}
	return nil
}

// CheckSlotsParams narrow the availability search. All fields optional.
type CheckSlotsParams struct {
	Date           string `json:"date,omitempty"`            // exact YYYY-MM-DD
	DayOfWeek      string `json:"day_of_week,omitempty"`     // "monday".."sunday"
	TimePreference string `json:"time_preference,omitempty"` // "morning", "afternoon" or HH:MM
	NextWeek       bool   `json:"next_week,omitempty"`
}

// Validate checks whichever preference fields are present.
func (p CheckSlotsParams) Validate() error {
	if p.Date != "" {
		if err := validateDateFormat(p.Date); err != nil {
			return err
		}
	}
	if p.TimePreference != "" && p.TimePreference != "morning" && p.TimePreference != "afternoon" {
		if err := validateTimeFormat(p.TimePreference); err != nil {
			return fmt.Errorf("time_preference must be morning, afternoon or HH:MM: %w", err)
		}
	}
	return nil
}

// HandoverMode selects how assign_to_human behaves.
type HandoverMode string

const (
	// HandoverEscalation tells the user a human will take over.
	HandoverEscalation HandoverMode = "escalation"
	// HandoverSilent reassigns without sending any reply.
	HandoverSilent HandoverMode = "silent"
)

// AssignHumanParams are the arguments for the assign_to_human tool.
type AssignHumanParams struct {
	Mode   HandoverMode `json:"mode"`
	Reason string       `json:"reason,omitempty"`
}

// Validate checks the handover mode.
func (p AssignHumanParams) Validate() error {
	switch p.Mode {
	case HandoverEscalation, HandoverSilent:
		return nil
	default:
		return fmt.Errorf("invalid mode: %s (expected escalation or silent)", p.Mode)
	}
}

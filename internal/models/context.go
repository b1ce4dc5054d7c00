// Package models defines shared domain types for TourDesk.
//
// It contains the conversation context tiers (persistent profile, active task
// state, runtime context), queued messages, tool parameter and result types,
// and Chatwoot webhook payloads.
package models

import "time"

// TaskType identifies the kind of task a conversation is working on.
type TaskType string

const (
	TaskTypeTourBooking TaskType = "tour_booking"
	TaskTypeCallback    TaskType = "callback_request"
	TaskTypeReschedule  TaskType = "reschedule"
	TaskTypeFAQ         TaskType = "faq"
)

// TaskStatus tracks progress of the active task.
type TaskStatus string

const (
	TaskStatusCollectingInfo TaskStatus = "collecting_info"
	TaskStatusProcessing     TaskStatus = "processing"
	TaskStatusCompleted      TaskStatus = "completed"
)

// TourStatus is the lifecycle state of a booked tour.
type TourStatus string

const (
	TourStatusScheduled TourStatus = "scheduled"
	TourStatusCompleted TourStatus = "completed"
	TourStatusCancelled TourStatus = "cancelled"
)

// PersistentProfile holds long-lived facts about a parent and child, keyed by
// (inbox, contact). It survives across conversations and is mirrored into
// Chatwoot contact attributes. Empty string / zero value means unset.
type PersistentProfile struct {
	ParentName  string `json:"parent_name,omitempty"`
	ParentEmail string `json:"parent_email,omitempty"`
	ParentPhone string `json:"parent_phone,omitempty"`

	ChildName               string `json:"child_name,omitempty"`
	ChildDOB                string `json:"child_dob,omitempty"` // YYYY-MM-DD
	ChildLevel              string `json:"child_level,omitempty"`
	PreferredEnrollmentDate string `json:"preferred_enrollment_date,omitempty"`

	PipedrivePersonID int `json:"pipedrive_person_id,omitempty"`
	PipedriveDealID   int `json:"pipedrive_deal_id,omitempty"`

	TourActivityID int        `json:"tour_activity_id,omitempty"`
	TourDate       string     `json:"tour_date,omitempty"` // YYYY-MM-DD
	TourTime       string     `json:"tour_time,omitempty"` // HH:MM
	TourStatus     TourStatus `json:"tour_status,omitempty"`

	CallbackRequested   bool   `json:"callback_requested,omitempty"`
	CallbackPreference  string `json:"callback_preference,omitempty"`
	CallbackRequestedAt string `json:"callback_requested_at,omitempty"`
}

// HasScheduledTour reports whether the profile carries a live tour booking.
func (p *PersistentProfile) HasScheduledTour() bool {
	return p.TourActivityID != 0 && p.TourStatus == TourStatusScheduled
}

// QueuedMessage is a message that arrived while another handler held the
// session lock. It waits in the active task state until drained.
type QueuedMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
}

// ActiveTaskState is the short-lived working memory for the task currently in
// flight. It expires quickly; an expired state simply means no task is active.
type ActiveTaskState struct {
	TaskType       TaskType               `json:"task_type,omitempty"`
	TaskStatus     TaskStatus             `json:"task_status,omitempty"`
	TaskData       map[string]interface{} `json:"task_data,omitempty"`
	QueuedMessages []QueuedMessage        `json:"queued_messages,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// RuntimeContext is assembled fresh for every turn and never persisted.
type RuntimeContext struct {
	InboxID          int
	ContactID        int
	ConversationID   int
	CurrentMessage   string
	FormattedHistory string
	School           *SchoolInfo
}

// SchoolInfo is the per-inbox configuration snapshot the runtime context
// carries so tools do not reach back into the config registry.
type SchoolInfo struct {
	Name               string   `json:"name"`
	InboxID            int      `json:"inbox_id"`
	BotAgentID         int      `json:"bot_agent_id"`
	AgentIDForHandover int      `json:"agent_id_for_handover"`
	BranchPhone        string   `json:"branch_phone"`
	BranchAddress      string   `json:"branch_address"`
	Timezone           string   `json:"timezone"`
	TourSlots          []string `json:"tour_slots"`   // HH:MM, sorted
	WorkingDays        []int    `json:"working_days"` // 1=Mon .. 7=Sun
	PipelineID         int      `json:"pipeline_id"`
	StageID            int      `json:"stage_id"`
}

// WorksOn reports whether the school runs tours on the given weekday.
func (s *SchoolInfo) WorksOn(day time.Weekday) bool {
	// time.Sunday is 0; config uses 1=Monday..7=Sunday.
	iso := int(day)
	if iso == 0 {
		iso = 7
	}
	for _, d := range s.WorkingDays {
		if d == iso {
			return true
		}
	}
	return false
}

// FullContext is the complete per-turn view: persistent + active + runtime.
// Persistent is never nil; Active is nil when no task is in flight.
type FullContext struct {
	Persistent *PersistentProfile
	Active     *ActiveTaskState
	Runtime    *RuntimeContext
}

// EnsureActive returns the active task state, creating a fresh one when absent.
func (fc *FullContext) EnsureActive() *ActiveTaskState {
	if fc.Active == nil {
		now := time.Now().UTC()
		fc.Active = &ActiveTaskState{CreatedAt: now, UpdatedAt: now}
	}
	return fc.Active
}

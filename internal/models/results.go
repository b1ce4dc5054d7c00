package models

import "fmt"

// AnalysisStatus is the tag of a data-collection analysis result. Callers
// switch on it rather than poking at loosely typed maps.
type AnalysisStatus string

const (
	// AnalysisNeedTourDetails means a tour date and/or time is still missing.
	AnalysisNeedTourDetails AnalysisStatus = "need_tour_details"
	// AnalysisNeedInfo means the current stage has uncollected required fields.
	AnalysisNeedInfo AnalysisStatus = "need_info"
	// AnalysisNeedDeal means all info is present but no CRM deal exists yet.
	AnalysisNeedDeal AnalysisStatus = "need_deal"
	// AnalysisReady means the task can execute immediately.
	AnalysisReady AnalysisStatus = "ready"
)

// CollectionStage names the slot-filling stage an analysis points at.
type CollectionStage string

const (
	StageParentInfo   CollectionStage = "parent_info"
	StageChildInfo    CollectionStage = "child_info"
	StageDealCreation CollectionStage = "deal_creation"
)

// CollectionPurpose selects the per-purpose requirement set.
type CollectionPurpose string

const (
	PurposeTourBooking CollectionPurpose = "tour_booking"
	PurposeCallback    CollectionPurpose = "callback_request"
)

// Analysis is the result of running the data-collection policy over a
// profile. Stage, MissingFields, Question, Why and ContextHints are populated
// only when Status is AnalysisNeedInfo.
type Analysis struct {
	Status  AnalysisStatus    `json:"status"`
	Purpose CollectionPurpose `json:"purpose"`

	Stage         CollectionStage `json:"stage,omitempty"`
	MissingFields []string        `json:"missing_fields,omitempty"`
	Question      string          `json:"question,omitempty"`
	Why           string          `json:"why,omitempty"`
	ContextHints  []string        `json:"context_hints,omitempty"`

	CollectedCount int `json:"collected_count"`
	RequiredTotal  int `json:"required_total"`
}

// Progress renders the stable "X/Y required fields collected" line.
func (a *Analysis) Progress() string {
	return fmt.Sprintf("%d/%d required fields collected", a.CollectedCount, a.RequiredTotal)
}

// ToolOutcome tags a tool result so the agent can dispatch on it.
type ToolOutcome string

const (
	// OutcomeSuccess means the task executed; Message describes the result.
	OutcomeSuccess ToolOutcome = "success"
	// OutcomeNeedInfo means the tool stopped to collect more fields.
	OutcomeNeedInfo ToolOutcome = "need_info"
	// OutcomeFailed means an external call failed; Message is user-safe.
	OutcomeFailed ToolOutcome = "failed"
	// OutcomeSilent means no reply should be crafted at all.
	OutcomeSilent ToolOutcome = "silent"
)

// ToolResult is what every task tool returns alongside its ProfilePatch.
// Analysis is set when Outcome is OutcomeNeedInfo; Data carries structured
// extras (audit records, slot lists) folded into the model transcript.
type ToolResult struct {
	Outcome  ToolOutcome            `json:"outcome"`
	Message  string                 `json:"message,omitempty"`
	Analysis *Analysis              `json:"analysis,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Succeeded reports whether the tool completed its task.
func (r *ToolResult) Succeeded() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

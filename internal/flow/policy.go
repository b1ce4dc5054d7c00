// Package flow implements TourDesk's conversation logic: context loading,
// the data-collection policy, task tools and the reasoning loop that drives
// them.
package flow

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// fieldLabels render profile field names the way questions phrase them.
var fieldLabels = map[string]string{
	"parent_name":               "your name",
	"parent_email":              "your email address",
	"parent_phone":              "your phone number",
	"child_name":                "your child's name",
	"child_dob":                 "your child's date of birth",
	"preferred_enrollment_date": "your preferred enrollment date",
}

// fieldSpec declares one profile slot and whether the purpose insists on it
// before the stage can clear. Optional fields still join the batched question
// but never block progress on their own.
type fieldSpec struct {
	name     string
	required bool
}

// stageSpec declares one slot-filling stage: its ordered fields.
type stageSpec struct {
	stage  models.CollectionStage
	fields []fieldSpec
}

// purposeSpec is the data-driven requirement set for one collection purpose.
// Required/optional flags live here rather than in code so a new purpose is a
// table entry, not a fork in the engine.
type purposeSpec struct {
	stages []stageSpec

	// phoneImplied marks purposes where the WhatsApp channel already carries
	// the caller's number, so an absent phone is hinted at rather than chased.
	phoneImplied bool

	needsTourSlot bool

	parentWhy string
	childWhy  string
	askVerb   string // "book your tour", "arrange your callback"
}

var purposeSpecs = map[models.CollectionPurpose]purposeSpec{
	models.PurposeTourBooking: {
		stages: []stageSpec{
			{models.StageParentInfo, []fieldSpec{
				{"parent_name", true},
				{"parent_email", true},
				{"parent_phone", false},
			}},
			{models.StageChildInfo, []fieldSpec{
				{"child_name", true},
				{"child_dob", true},
				{"preferred_enrollment_date", false},
			}},
		},
		phoneImplied:  true,
		needsTourSlot: true,
		parentWhy:     "We need your contact details to confirm the tour booking.",
		childWhy:      "Your child's details help us prepare the right programme information for your visit.",
		askVerb:       "book your tour",
	},
	models.PurposeCallback: {
		stages: []stageSpec{
			{models.StageParentInfo, []fieldSpec{
				{"parent_name", true},
				{"parent_email", true},
				{"parent_phone", true},
			}},
			{models.StageChildInfo, []fieldSpec{
				{"child_name", true},
				{"child_dob", true},
				{"preferred_enrollment_date", false},
			}},
		},
		needsTourSlot: false,
		parentWhy:     "We need your contact details so our team can call you back.",
		childWhy:      "Your child's details help our team prepare for the call.",
		askVerb:       "arrange your callback",
	},
}

// AnalyzeOptions carry per-call inputs that are not part of the profile.
type AnalyzeOptions struct {
	TourDate string
	TourTime string
}

// Analyze runs the stateless data-collection policy: given what the profile
// already holds and what the purpose requires, it reports the next blocking
// condition. It never mutates the profile and two calls with the same inputs
// return the same result.
func Analyze(profile *models.PersistentProfile, purpose models.CollectionPurpose, opts AnalyzeOptions) *models.Analysis {
	spec, ok := purposeSpecs[purpose]
	if !ok {
		slog.Error("Analyze called with unknown purpose", "purpose", purpose)
		spec = purposeSpecs[models.PurposeTourBooking]
		purpose = models.PurposeTourBooking
	}

	collected, total := countProgress(profile, spec)
	analysis := &models.Analysis{
		Purpose:        purpose,
		CollectedCount: collected,
		RequiredTotal:  total,
	}

	if spec.needsTourSlot && (opts.TourDate == "" || opts.TourTime == "") {
		analysis.Status = models.AnalysisNeedTourDetails
		analysis.Question = "What date and time would you like for your tour? I can check availability for you."
		return analysis
	}

	for _, stage := range spec.stages {
		missing, anyRequired := missingFields(profile, stage.fields)
		// A stage whose only gaps are optional never blocks.
		if !anyRequired {
			continue
		}
		analysis.Status = models.AnalysisNeedInfo
		analysis.Stage = stage.stage
		analysis.MissingFields = missing
		analysis.Question = batchQuestion(spec.askVerb, missing)
		if stage.stage == models.StageParentInfo {
			analysis.Why = spec.parentWhy
		} else {
			analysis.Why = spec.childWhy
		}
		analysis.ContextHints = contextHints(profile, spec, missing)
		return analysis
	}

	if profile.PipedriveDealID == 0 {
		analysis.Status = models.AnalysisNeedDeal
		analysis.Stage = models.StageDealCreation
		return analysis
	}

	analysis.Status = models.AnalysisReady
	return analysis
}

// fieldPresent reports whether the profile holds a value for one field.
func fieldPresent(profile *models.PersistentProfile, field string) bool {
	switch field {
	case "parent_name":
		return profile.ParentName != ""
	case "parent_email":
		return profile.ParentEmail != ""
	case "parent_phone":
		return profile.ParentPhone != ""
	case "child_name":
		return profile.ChildName != ""
	case "child_dob":
		return profile.ChildDOB != ""
	case "preferred_enrollment_date":
		return profile.PreferredEnrollmentDate != ""
	default:
		return false
	}
}

// missingFields lists every absent field of a stage in declaration order and
// reports whether any of them is required.
func missingFields(profile *models.PersistentProfile, fields []fieldSpec) ([]string, bool) {
	var missing []string
	anyRequired := false
	for _, f := range fields {
		if fieldPresent(profile, f.name) {
			continue
		}
		missing = append(missing, f.name)
		if f.required {
			anyRequired = true
		}
	}
	return missing, anyRequired
}

// countProgress returns collected and total over required fields only, so the
// denominator is fixed per purpose and never shifts mid-flow.
func countProgress(profile *models.PersistentProfile, spec purposeSpec) (int, int) {
	collected, total := 0, 0
	for _, stage := range spec.stages {
		for _, f := range stage.fields {
			if !f.required {
				continue
			}
			total++
			if fieldPresent(profile, f.name) {
				collected++
			}
		}
	}
	return collected, total
}

// batchQuestion asks for every missing field of the stage at once, in stage
// order, so the user answers one message instead of a drip of questions.
func batchQuestion(askVerb string, missing []string) string {
	labels := make([]string, 0, len(missing))
	for _, f := range missing {
		label, ok := fieldLabels[f]
		if !ok {
			label = strings.ReplaceAll(f, "_", " ")
		}
		labels = append(labels, label)
	}
	return fmt.Sprintf("To %s, could you share %s?", askVerb, joinNatural(labels))
}

func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}

// contextHints tell the model what is already known across every stage so it
// does not re-ask. Fields in the current batch get no hint; asking is the
// point of the batch.
func contextHints(profile *models.PersistentProfile, spec purposeSpec, asking []string) []string {
	inBatch := make(map[string]bool, len(asking))
	for _, f := range asking {
		inBatch[f] = true
	}
	var hints []string
	for _, stage := range spec.stages {
		for _, f := range stage.fields {
			if inBatch[f.name] {
				continue
			}
			switch f.name {
			case "parent_name":
				if profile.ParentName != "" {
					hints = append(hints, fmt.Sprintf("Parent name already known: %s", profile.ParentName))
				}
			case "parent_email":
				if profile.ParentEmail != "" {
					hints = append(hints, fmt.Sprintf("Parent email already known: %s", profile.ParentEmail))
				}
			case "parent_phone":
				if profile.ParentPhone != "" {
					hints = append(hints, fmt.Sprintf("Parent phone already known: %s", profile.ParentPhone))
				} else if spec.phoneImplied {
					hints = append(hints, "Phone number is implied by the WhatsApp channel; do not ask for it")
				}
			case "child_name":
				if profile.ChildName != "" {
					hints = append(hints, fmt.Sprintf("Child name already known: %s", profile.ChildName))
				}
			case "child_dob":
				if profile.ChildDOB != "" {
					hints = append(hints, fmt.Sprintf("Child date of birth already known: %s", profile.ChildDOB))
				}
			case "preferred_enrollment_date":
				if profile.PreferredEnrollmentDate != "" {
					hints = append(hints, fmt.Sprintf("Preferred enrollment date already known: %s", profile.PreferredEnrollmentDate))
				}
			}
		}
	}
	return hints
}

package models

import "time"

// ProfilePatch is a sparse update over a PersistentProfile. Tools build
// patches instead of writing the profile directly; the orchestrator applies
// them, which keeps a single writer for persisted state. A nil pointer leaves
// the field untouched; a pointer to the zero value clears it.
type ProfilePatch struct {
	ParentName  *string
	ParentEmail *string
	ParentPhone *string

	ChildName               *string
	ChildDOB                *string
	ChildLevel              *string
	PreferredEnrollmentDate *string

	PipedrivePersonID *int
	PipedriveDealID   *int

	TourActivityID *int
	TourDate       *string
	TourTime       *string
	TourStatus     *TourStatus

	CallbackRequested   *bool
	CallbackPreference  *string
	CallbackRequestedAt *string
}

// StrPtr returns a pointer to s, for building patches inline.
func StrPtr(s string) *string { return &s }

// IntPtr returns a pointer to i, for building patches inline.
func IntPtr(i int) *int { return &i }

// BoolPtr returns a pointer to b, for building patches inline.
func BoolPtr(b bool) *bool { return &b }

// TourStatusPtr returns a pointer to ts, for building patches inline.
func TourStatusPtr(ts TourStatus) *TourStatus { return &ts }

// IsEmpty reports whether the patch carries no changes.
func (p *ProfilePatch) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.ParentName == nil && p.ParentEmail == nil && p.ParentPhone == nil &&
		p.ChildName == nil && p.ChildDOB == nil && p.ChildLevel == nil &&
		p.PreferredEnrollmentDate == nil &&
		p.PipedrivePersonID == nil && p.PipedriveDealID == nil &&
		p.TourActivityID == nil && p.TourDate == nil && p.TourTime == nil &&
		p.TourStatus == nil &&
		p.CallbackRequested == nil && p.CallbackPreference == nil &&
		p.CallbackRequestedAt == nil
}

// Apply writes every set field of the patch onto the profile.
func (p *ProfilePatch) Apply(profile *PersistentProfile) {
	if p == nil || profile == nil {
		return
	}
	if p.ParentName != nil {
		profile.ParentName = *p.ParentName
	}
	if p.ParentEmail != nil {
		profile.ParentEmail = *p.ParentEmail
	}
	if p.ParentPhone != nil {
		profile.ParentPhone = *p.ParentPhone
	}
	if p.ChildName != nil {
		profile.ChildName = *p.ChildName
	}
	if p.ChildDOB != nil {
		profile.ChildDOB = *p.ChildDOB
	}
	if p.ChildLevel != nil {
		profile.ChildLevel = *p.ChildLevel
	}
	if p.PreferredEnrollmentDate != nil {
		profile.PreferredEnrollmentDate = *p.PreferredEnrollmentDate
	}
	if p.PipedrivePersonID != nil {
		profile.PipedrivePersonID = *p.PipedrivePersonID
	}
	if p.PipedriveDealID != nil {
		profile.PipedriveDealID = *p.PipedriveDealID
	}
	if p.TourActivityID != nil {
		profile.TourActivityID = *p.TourActivityID
	}
	if p.TourDate != nil {
		profile.TourDate = *p.TourDate
	}
	if p.TourTime != nil {
		profile.TourTime = *p.TourTime
	}
	if p.TourStatus != nil {
		profile.TourStatus = *p.TourStatus
	}
	if p.CallbackRequested != nil {
		profile.CallbackRequested = *p.CallbackRequested
	}
	if p.CallbackPreference != nil {
		profile.CallbackPreference = *p.CallbackPreference
	}
	if p.CallbackRequestedAt != nil {
		profile.CallbackRequestedAt = *p.CallbackRequestedAt
	}
}

// Merge folds other into p, with other's fields winning on overlap.
func (p *ProfilePatch) Merge(other *ProfilePatch) {
	if other == nil {
		return
	}
	if other.ParentName != nil {
		p.ParentName = other.ParentName
	}
	if other.ParentEmail != nil {
		p.ParentEmail = other.ParentEmail
	}
	if other.ParentPhone != nil {
		p.ParentPhone = other.ParentPhone
	}
	if other.ChildName != nil {
		p.ChildName = other.ChildName
	}
	if other.ChildDOB != nil {
		p.ChildDOB = other.ChildDOB
	}
	if other.ChildLevel != nil {
		p.ChildLevel = other.ChildLevel
	}
	if other.PreferredEnrollmentDate != nil {
		p.PreferredEnrollmentDate = other.PreferredEnrollmentDate
	}
	if other.PipedrivePersonID != nil {
		p.PipedrivePersonID = other.PipedrivePersonID
	}
	if other.PipedriveDealID != nil {
		p.PipedriveDealID = other.PipedriveDealID
	}
	if other.TourActivityID != nil {
		p.TourActivityID = other.TourActivityID
	}
	if other.TourDate != nil {
		p.TourDate = other.TourDate
	}
	if other.TourTime != nil {
		p.TourTime = other.TourTime
	}
	if other.TourStatus != nil {
		p.TourStatus = other.TourStatus
	}
	if other.CallbackRequested != nil {
		p.CallbackRequested = other.CallbackRequested
	}
	if other.CallbackPreference != nil {
		p.CallbackPreference = other.CallbackPreference
	}
	if other.CallbackRequestedAt != nil {
		p.CallbackRequestedAt = other.CallbackRequestedAt
	}
}

// ClearTourAndDealPatch builds the destructive patch applied when the family
// switches to a different child: child fields, CRM links and any booked tour
// all reset so the new child starts clean.
func ClearTourAndDealPatch() *ProfilePatch {
	return &ProfilePatch{
		ChildName:               StrPtr(""),
		ChildDOB:                StrPtr(""),
		ChildLevel:              StrPtr(""),
		PreferredEnrollmentDate: StrPtr(""),
		PipedrivePersonID:       IntPtr(0),
		PipedriveDealID:         IntPtr(0),
		TourActivityID:          IntPtr(0),
		TourDate:                StrPtr(""),
		TourTime:                StrPtr(""),
		TourStatus:              TourStatusPtr(""),
	}
}

// Touch stamps the active task state as updated now.
func (a *ActiveTaskState) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

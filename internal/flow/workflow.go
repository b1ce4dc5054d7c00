package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/pipedrive"
)

// DealEnsurer owns the explicit ensure-deal step shared by the booking and
// callback tools: make sure a CRM person and enrollment deal exist for the
// profile. The step is idempotent; a profile that already carries a deal ID
// is returned untouched, so tools can run it unconditionally between
// analysis passes.
type DealEnsurer struct {
	crm CRM
}

// NewDealEnsurer creates the shared ensure-deal step.
func NewDealEnsurer(crm CRM) *DealEnsurer {
	return &DealEnsurer{crm: crm}
}

// EnsureDeal returns the deal ID plus the patch recording whatever CRM
// records it had to create. The caller applies the patch; EnsureDeal never
// writes the profile itself.
func (d *DealEnsurer) EnsureDeal(ctx context.Context, fc *models.FullContext) (int, *models.ProfilePatch, error) {
	profile := fc.Persistent
	if profile.PipedriveDealID != 0 {
		slog.Debug("EnsureDeal no-op, deal already exists", "dealID", profile.PipedriveDealID)
		return profile.PipedriveDealID, &models.ProfilePatch{}, nil
	}
	slog.Debug("EnsureDeal creating CRM records", "inboxID", fc.Runtime.InboxID, "contactID", fc.Runtime.ContactID)

	patch := &models.ProfilePatch{}

	personID := profile.PipedrivePersonID
	if personID == 0 {
		var err error
		personID, err = d.crm.CreateOrGetPerson(ctx, profile.ParentName, profile.ParentEmail, profile.ParentPhone)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to ensure CRM person: %w", err)
		}
		patch.PipedrivePersonID = models.IntPtr(personID)
	}

	// The level feeds the deal's custom fields, so derive it first.
	level := profile.ChildLevel
	if level == "" && profile.ChildDOB != "" {
		level = pipedrive.CalculateChildLevel(profile.ChildDOB, profile.PreferredEnrollmentDate)
		patch.ChildLevel = models.StrPtr(level)
	}

	dealProfile := *profile
	patch.Apply(&dealProfile)
	dealID, err := d.crm.CreateEnrollmentDeal(ctx, fc.Runtime.School, &dealProfile, personID)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create enrollment deal: %w", err)
	}
	patch.PipedriveDealID = models.IntPtr(dealID)

	slog.Info("Enrollment deal ensured", "dealID", dealID, "personID", personID, "school", fc.Runtime.School.Name)
	return dealID, patch, nil
}

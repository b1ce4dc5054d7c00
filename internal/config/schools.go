// Package config loads TourDesk configuration that is not environment-shaped:
// the per-inbox school registry.
//
// schools.json maps Chatwoot inbox IDs to school settings (tour slots, working
// days, CRM pipeline, branch details, bot agent). An unknown inbox means the
// message is rejected before any session work happens.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// Defaults applied when a school entry omits optional fields.
var (
	defaultTourSlots   = []string{"09:30", "11:00", "15:00"}
	defaultWorkingDays = []int{1, 2, 3, 4, 5}
)

const defaultTimezone = "Asia/Singapore"

// SchoolManager resolves inbox IDs to school configuration.
type SchoolManager struct {
	schools map[int]*models.SchoolInfo
}

// NewSchoolManager loads the registry from a schools.json file. The file maps
// inbox IDs (JSON object keys, stringly typed) to school entries.
func NewSchoolManager(path string) (*SchoolManager, error) {
	slog.Debug("NewSchoolManager invoked", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Error("Failed to read schools config", "error", err, "path", path)
		return nil, fmt.Errorf("failed to read schools config: %w", err)
	}

	var raw map[string]*models.SchoolInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Error("Failed to parse schools config", "error", err, "path", path)
		return nil, fmt.Errorf("failed to parse schools config: %w", err)
	}

	schools := make(map[int]*models.SchoolInfo, len(raw))
	for key, school := range raw {
		inboxID, err := strconv.Atoi(key)
		if err != nil {
			slog.Error("Invalid inbox ID key in schools config", "key", key)
			return nil, fmt.Errorf("invalid inbox ID %q in schools config", key)
		}
		if school == nil {
			return nil, fmt.Errorf("empty school entry for inbox %d", inboxID)
		}
		school.InboxID = inboxID
		applyDefaults(school)
		if err := validateSchool(school); err != nil {
			return nil, fmt.Errorf("school %q (inbox %d): %w", school.Name, inboxID, err)
		}
		schools[inboxID] = school
	}
	if len(schools) == 0 {
		return nil, fmt.Errorf("schools config %s contains no schools", path)
	}

	slog.Info("Schools config loaded", "path", path, "schools", len(schools))
	return &SchoolManager{schools: schools}, nil
}

func applyDefaults(s *models.SchoolInfo) {
	if len(s.TourSlots) == 0 {
		s.TourSlots = append([]string(nil), defaultTourSlots...)
	}
	sort.Strings(s.TourSlots)
	if len(s.WorkingDays) == 0 {
		s.WorkingDays = append([]int(nil), defaultWorkingDays...)
	}
	if s.Timezone == "" {
		s.Timezone = defaultTimezone
	}
}

func validateSchool(s *models.SchoolInfo) error {
	if s.Name == "" {
		return fmt.Errorf("missing name")
	}
	if s.BotAgentID == 0 {
		return fmt.Errorf("missing bot_agent_id")
	}
	for _, slot := range s.TourSlots {
		if _, err := time.Parse("15:04", slot); err != nil {
			return fmt.Errorf("invalid tour slot %q: %w", slot, err)
		}
	}
	for _, d := range s.WorkingDays {
		if d < 1 || d > 7 {
			return fmt.Errorf("invalid working day %d (expected 1-7)", d)
		}
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return nil
}

// School returns the configuration for an inbox, or (nil, false) when the
// inbox is not registered.
func (m *SchoolManager) School(inboxID int) (*models.SchoolInfo, bool) {
	s, ok := m.schools[inboxID]
	return s, ok
}

// KnownInboxes lists the registered inbox IDs, sorted.
func (m *SchoolManager) KnownInboxes() []int {
	ids := make([]int, 0, len(m.schools))
	for id := range m.schools {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Location resolves the school's timezone. Validation at load time makes a
// failure here impossible in practice; UTC is the fallback regardless.
func Location(s *models.SchoolInfo) *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		slog.Error("Failed to load school timezone, falling back to UTC", "error", err, "timezone", s.Timezone)
		return time.UTC
	}
	return loc
}

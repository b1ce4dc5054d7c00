package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSchoolsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schools.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write schools file: %v", err)
	}
	return path
}

func TestNewSchoolManagerLoadsSchools(t *testing.T) {
	path := writeSchoolsFile(t, `{
		"101": {
			"name": "Sunrise Preschool",
			"bot_agent_id": 5,
			"agent_id_for_handover": 9,
			"branch_phone": "+65 6100 0000",
			"branch_address": "1 Orchard Rd",
			"tour_slots": ["15:00", "09:30"],
			"working_days": [1, 2, 3, 4, 5, 6],
			"pipeline_id": 3,
			"stage_id": 12
		}
	}`)

	m, err := NewSchoolManager(path)
	if err != nil {
		t.Fatalf("NewSchoolManager failed: %v", err)
	}

	school, ok := m.School(101)
	if !ok {
		t.Fatal("expected inbox 101 to be registered")
	}
	if school.Name != "Sunrise Preschool" || school.InboxID != 101 {
		t.Errorf("school mismatch: %+v", school)
	}
	if school.TourSlots[0] != "09:30" {
		t.Errorf("tour slots should be sorted: %v", school.TourSlots)
	}
	if school.Timezone != "Asia/Singapore" {
		t.Errorf("expected default timezone, got %q", school.Timezone)
	}
	if _, ok := m.School(999); ok {
		t.Error("unknown inbox should not resolve")
	}
}

func TestNewSchoolManagerAppliesDefaults(t *testing.T) {
	path := writeSchoolsFile(t, `{"7": {"name": "Little Oaks", "bot_agent_id": 2}}`)
	m, err := NewSchoolManager(path)
	if err != nil {
		t.Fatalf("NewSchoolManager failed: %v", err)
	}
	school, _ := m.School(7)
	if len(school.TourSlots) == 0 || len(school.WorkingDays) != 5 {
		t.Errorf("defaults not applied: %+v", school)
	}
	if !school.WorksOn(time.Monday) || school.WorksOn(time.Sunday) {
		t.Errorf("default working days should be Mon-Fri: %v", school.WorkingDays)
	}
}

func TestNewSchoolManagerRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad inbox key", `{"abc": {"name": "X", "bot_agent_id": 1}}`},
		{"missing bot agent", `{"1": {"name": "X"}}`},
		{"bad tour slot", `{"1": {"name": "X", "bot_agent_id": 1, "tour_slots": ["25:99"]}}`},
		{"bad working day", `{"1": {"name": "X", "bot_agent_id": 1, "working_days": [8]}}`},
		{"empty file", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSchoolsFile(t, tc.content)
			if _, err := NewSchoolManager(path); err == nil {
				t.Errorf("expected error for %s", tc.name)
			}
		})
	}
}

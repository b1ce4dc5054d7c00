package flow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/store"
)

func TestLoaderPrefersStoreProfile(t *testing.T) {
	st := store.NewInMemoryStore()
	school := testSchool()
	stored := &models.PersistentProfile{ParentName: "Sarah Tan"}
	if err := st.SavePersistentProfile(school.InboxID, 101, stored, store.DefaultPersistentTTL); err != nil {
		t.Fatalf("save: %v", err)
	}
	channel := &fakeChannel{attrsErr: fmt.Errorf("should not be called")}

	loader := NewLoader(st, channel)
	fc := loader.LoadFullContext(context.Background(), school, 101, 555, "hi", "history")
	if fc.Persistent.ParentName != "Sarah Tan" {
		t.Fatalf("profile = %+v", fc.Persistent)
	}
	if fc.Runtime.CurrentMessage != "hi" || fc.Runtime.FormattedHistory != "history" {
		t.Error("runtime tier not populated")
	}
	if fc.Runtime.School != school {
		t.Error("school not carried on the runtime tier")
	}
}

func TestLoaderFallsBackToChatwootAndCacheFills(t *testing.T) {
	st := store.NewInMemoryStore()
	school := testSchool()
	channel := &fakeChannel{attrs: map[string]interface{}{
		"7_profile": `{"parent_name":"Sarah Tan","child_name":"Emma"}`,
	}}

	loader := NewLoader(st, channel)
	fc := loader.LoadFullContext(context.Background(), school, 101, 555, "hi", "")
	if fc.Persistent.ParentName != "Sarah Tan" || fc.Persistent.ChildName != "Emma" {
		t.Fatalf("profile not recovered from attributes: %+v", fc.Persistent)
	}

	// The recovered profile is written back so the next turn skips the
	// Chatwoot round trip.
	cached, err := st.GetPersistentProfile(school.InboxID, 101)
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if cached == nil || cached.ParentName != "Sarah Tan" {
		t.Fatalf("cache fill missing: %+v", cached)
	}
}

func TestLoaderDegradesToEmptyProfile(t *testing.T) {
	st := store.NewInMemoryStore()
	channel := &fakeChannel{attrsErr: fmt.Errorf("chatwoot down")}

	loader := NewLoader(st, channel)
	fc := loader.LoadFullContext(context.Background(), testSchool(), 101, 555, "hi", "")
	if fc == nil || fc.Persistent == nil {
		t.Fatal("loader returned nil context")
	}
	if fc.Persistent.ParentName != "" {
		t.Fatalf("expected empty profile, got %+v", fc.Persistent)
	}
}

func TestLoaderIgnoresCorruptAttributes(t *testing.T) {
	st := store.NewInMemoryStore()
	channel := &fakeChannel{attrs: map[string]interface{}{
		"7_profile": `{not json`,
	}}

	loader := NewLoader(st, channel)
	fc := loader.LoadFullContext(context.Background(), testSchool(), 101, 555, "hi", "")
	if fc.Persistent == nil || fc.Persistent.ParentName != "" {
		t.Fatalf("corrupt attribute should yield empty profile, got %+v", fc.Persistent)
	}
}

func TestLoaderCarriesActiveTask(t *testing.T) {
	st := store.NewInMemoryStore()
	school := testSchool()
	state := &models.ActiveTaskState{
		TaskType:   models.TaskTypeTourBooking,
		TaskStatus: models.TaskStatusCollectingInfo,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := st.SaveActiveTask(school.InboxID, 101, state, store.DefaultActiveTaskTTL); err != nil {
		t.Fatalf("save active: %v", err)
	}

	loader := NewLoader(st, &fakeChannel{})
	fc := loader.LoadFullContext(context.Background(), school, 101, 555, "more info", "")
	if fc.Active == nil || fc.Active.TaskType != models.TaskTypeTourBooking {
		t.Fatalf("active task not loaded: %+v", fc.Active)
	}
}

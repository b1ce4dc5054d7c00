package scheduler

import (
	"testing"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
	"github.com/BTreeMap/TourDesk/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerRejectsBadExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestAddExpirySweepSchedules(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	st := store.NewInMemoryStore()
	if err := s.AddExpirySweep("", st); err != nil {
		t.Fatalf("AddExpirySweep: %v", err)
	}
}

func TestSweepRemovesExpiredRows(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.SavePersistentProfile(7, 101, &models.PersistentProfile{ParentName: "Sarah"}, time.Millisecond); err != nil {
		t.Fatalf("save: %v", err)
	}
	st.Now = func() time.Time { return time.Now().Add(time.Minute) }

	removed, err := st.SweepExpired(st.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed == 0 {
		t.Error("expired profile not swept")
	}
}

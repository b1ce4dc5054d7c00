// Package scheduler runs TourDesk's periodic maintenance jobs.
//
// The store's rows carry expiry timestamps and reads already filter on them,
// so the sweep here is hygiene: it keeps expired sessions, queues and locks
// from accumulating in the database.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BTreeMap/TourDesk/internal/store"
)

// DefaultSweepSchedule runs the expiry sweep every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic
	// recovery so one bad job cannot kill the process.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// AddExpirySweep schedules the context-store expiry sweep. An empty schedule
// uses the default.
func (s *Scheduler) AddExpirySweep(schedule string, contextStore store.ContextStore) error {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return s.AddJob(schedule, func() {
		removed, err := contextStore.SweepExpired(time.Now().UTC())
		if err != nil {
			slog.Error("Expiry sweep failed", "error", err)
			return
		}
		if removed > 0 {
			slog.Debug("Expiry sweep completed", "removed", removed)
		}
	})
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

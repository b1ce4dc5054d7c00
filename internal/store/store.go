// Package store provides storage backends for TourDesk conversation state.
//
// It persists the three context tiers keyed by (inbox, contact): the
// long-lived persistent profile, the short-lived active task state (which
// carries the queued-message list), and the new-messages flag. It also owns
// the per-conversation session lock. SQLite and PostgreSQL backends share a
// schema applied from embedded migrations; an in-memory backend exists for
// tests.
package store

import (
	"strings"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

// Context row kinds. Each (inbox, contact, kind) triple maps to one row.
const (
	kindPersistent  = "persistent_profile"
	kindActiveTask  = "active_task"
	kindNewMessages = "new_messages"
)

// Default TTLs. Reads treat expired rows as absent; the cron sweeper deletes
// them afterwards, so expiry never depends on the sweep having run.
const (
	DefaultPersistentTTL  = 30 * 24 * time.Hour
	DefaultActiveTaskTTL  = 2 * time.Minute
	DefaultNewMessagesTTL = 5 * time.Minute
	DefaultLockTTL        = 2 * time.Minute
)

// ContextStore is the storage interface the orchestrator and loader depend on.
//
// Get methods return (nil, nil) when no live row exists. Lock operations are
// atomic: AcquireLock either installs the caller as owner or fails, stealing
// an expired owner's slot in the same statement, and ReleaseLock deletes the
// lock only when the stored token matches.
type ContextStore interface {
	GetPersistentProfile(inboxID, contactID int) (*models.PersistentProfile, error)
	SavePersistentProfile(inboxID, contactID int, profile *models.PersistentProfile, ttl time.Duration) error

	GetActiveTask(inboxID, contactID int) (*models.ActiveTaskState, error)
	SaveActiveTask(inboxID, contactID int, state *models.ActiveTaskState, ttl time.Duration) error
	ClearActiveTask(inboxID, contactID int) error

	EnqueueMessage(inboxID, contactID int, msg models.QueuedMessage) error
	DrainQueuedMessages(inboxID, contactID int) ([]models.QueuedMessage, error)
	HasNewMessages(inboxID, contactID int) (bool, error)
	ClearNewMessagesFlag(inboxID, contactID int) error

	AcquireLock(inboxID, contactID int, token string, ttl time.Duration) (bool, error)
	ReleaseLock(inboxID, contactID int, token string) error

	SweepExpired(now time.Time) (int64, error)
	Close() error
}

// Opts holds configuration for store constructors.
type Opts struct {
	DSN string
}

// Option configures store constructors.
type Option func(*Opts)

// WithDSN sets the database connection string (file path for SQLite, URL or
// key/value form for PostgreSQL).
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and "sqlite"
// otherwise (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

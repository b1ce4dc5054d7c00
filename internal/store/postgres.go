// Package store provides storage backends for TourDesk conversation state.
//
// This file implements the PostgreSQL-backed context store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TourDesk/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements ContextStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ ContextStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) getContextRow(inboxID, contactID int, kind string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM contexts WHERE inbox_id = $1 AND contact_id = $2 AND kind = $3 AND expires_at > $4`,
		inboxID, contactID, kind, time.Now().UTC(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore context row query failed", "error", err, "kind", kind, "inboxID", inboxID, "contactID", contactID)
		return nil, fmt.Errorf("failed to query %s row: %w", kind, err)
	}
	return data, nil
}

func (s *PostgresStore) saveContextRow(inboxID, contactID int, kind string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO contexts (inbox_id, contact_id, kind, data, expires_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (inbox_id, contact_id, kind) DO UPDATE SET
		   data = EXCLUDED.data, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
		inboxID, contactID, kind, data, now.Add(ttl), now,
	)
	if err != nil {
		slog.Error("PostgresStore context row save failed", "error", err, "kind", kind, "inboxID", inboxID, "contactID", contactID)
		return fmt.Errorf("failed to save %s row: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) deleteContextRow(inboxID, contactID int, kind string) error {
	_, err := s.db.Exec(
		`DELETE FROM contexts WHERE inbox_id = $1 AND contact_id = $2 AND kind = $3`,
		inboxID, contactID, kind,
	)
	if err != nil {
		slog.Error("PostgresStore context row delete failed", "error", err, "kind", kind, "inboxID", inboxID, "contactID", contactID)
		return fmt.Errorf("failed to delete %s row: %w", kind, err)
	}
	return nil
}

// GetPersistentProfile returns the stored profile, or (nil, nil) when absent
// or expired.
func (s *PostgresStore) GetPersistentProfile(inboxID, contactID int) (*models.PersistentProfile, error) {
	data, err := s.getContextRow(inboxID, contactID, kindPersistent)
	if err != nil || data == nil {
		return nil, err
	}
	var profile models.PersistentProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		slog.Error("PostgresStore failed to unmarshal persistent profile", "error", err, "inboxID", inboxID, "contactID", contactID)
		return &models.PersistentProfile{}, nil
	}
	return &profile, nil
}

// SavePersistentProfile upserts the profile with the given TTL.
func (s *PostgresStore) SavePersistentProfile(inboxID, contactID int, profile *models.PersistentProfile, ttl time.Duration) error {
	data, err := json.Marshal(profile)
	if err != nil {
		slog.Error("PostgresStore failed to marshal persistent profile", "error", err)
		return fmt.Errorf("failed to marshal persistent profile: %w", err)
	}
	return s.saveContextRow(inboxID, contactID, kindPersistent, data, ttl)
}

// GetActiveTask returns the live active task state, or (nil, nil) when the
// conversation has no task in flight.
func (s *PostgresStore) GetActiveTask(inboxID, contactID int) (*models.ActiveTaskState, error) {
	data, err := s.getContextRow(inboxID, contactID, kindActiveTask)
	if err != nil || data == nil {
		return nil, err
	}
	var state models.ActiveTaskState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Error("PostgresStore failed to unmarshal active task", "error", err, "inboxID", inboxID, "contactID", contactID)
		return nil, nil
	}
	return &state, nil
}

// SaveActiveTask upserts the active task state with the given TTL.
func (s *PostgresStore) SaveActiveTask(inboxID, contactID int, state *models.ActiveTaskState, ttl time.Duration) error {
	state.Touch()
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("PostgresStore failed to marshal active task", "error", err)
		return fmt.Errorf("failed to marshal active task: %w", err)
	}
	return s.saveContextRow(inboxID, contactID, kindActiveTask, data, ttl)
}

// ClearActiveTask removes the active task row.
func (s *PostgresStore) ClearActiveTask(inboxID, contactID int) error {
	return s.deleteContextRow(inboxID, contactID, kindActiveTask)
}

// EnqueueMessage appends the message to the active task queue, creating an
// empty state when none exists, and raises the new-messages flag.
func (s *PostgresStore) EnqueueMessage(inboxID, contactID int, msg models.QueuedMessage) error {
	state, err := s.GetActiveTask(inboxID, contactID)
	if err != nil {
		return err
	}
	if state == nil {
		now := time.Now().UTC()
		state = &models.ActiveTaskState{CreatedAt: now, UpdatedAt: now}
	}
	state.QueuedMessages = append(state.QueuedMessages, msg)
	if err := s.SaveActiveTask(inboxID, contactID, state, DefaultActiveTaskTTL); err != nil {
		return err
	}
	if err := s.saveContextRow(inboxID, contactID, kindNewMessages, []byte(`"1"`), DefaultNewMessagesTTL); err != nil {
		return err
	}
	slog.Debug("PostgresStore EnqueueMessage succeeded", "inboxID", inboxID, "contactID", contactID, "queueLen", len(state.QueuedMessages))
	return nil
}

// DrainQueuedMessages returns the queued messages and clears the queue.
func (s *PostgresStore) DrainQueuedMessages(inboxID, contactID int) ([]models.QueuedMessage, error) {
	state, err := s.GetActiveTask(inboxID, contactID)
	if err != nil || state == nil || len(state.QueuedMessages) == 0 {
		return nil, err
	}
	msgs := state.QueuedMessages
	state.QueuedMessages = nil
	if err := s.SaveActiveTask(inboxID, contactID, state, DefaultActiveTaskTTL); err != nil {
		return nil, err
	}
	return msgs, nil
}

// HasNewMessages reports whether the new-messages flag is raised.
func (s *PostgresStore) HasNewMessages(inboxID, contactID int) (bool, error) {
	data, err := s.getContextRow(inboxID, contactID, kindNewMessages)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// ClearNewMessagesFlag lowers the new-messages flag.
func (s *PostgresStore) ClearNewMessagesFlag(inboxID, contactID int) error {
	return s.deleteContextRow(inboxID, contactID, kindNewMessages)
}

// AcquireLock atomically claims the session lock for token, stealing an
// expired owner's slot in the same statement.
func (s *PostgresStore) AcquireLock(inboxID, contactID int, token string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO session_locks (inbox_id, contact_id, owner_token, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (inbox_id, contact_id) DO UPDATE SET
		   owner_token = EXCLUDED.owner_token,
		   expires_at = EXCLUDED.expires_at
		 WHERE session_locks.expires_at <= $5`,
		inboxID, contactID, token, now.Add(ttl), now,
	)
	if err != nil {
		slog.Error("PostgresStore AcquireLock failed", "error", err, "inboxID", inboxID, "contactID", contactID)
		return false, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lock acquire result: %w", err)
	}
	return affected > 0, nil
}

// ReleaseLock deletes the lock only when token still owns it.
func (s *PostgresStore) ReleaseLock(inboxID, contactID int, token string) error {
	res, err := s.db.Exec(
		`DELETE FROM session_locks WHERE inbox_id = $1 AND contact_id = $2 AND owner_token = $3`,
		inboxID, contactID, token,
	)
	if err != nil {
		slog.Error("PostgresStore ReleaseLock failed", "error", err, "inboxID", inboxID, "contactID", contactID)
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Warn("PostgresStore ReleaseLock token mismatch, lock not released", "inboxID", inboxID, "contactID", contactID)
	}
	return nil
}

// SweepExpired deletes expired context and lock rows, returning the count.
func (s *PostgresStore) SweepExpired(now time.Time) (int64, error) {
	var total int64
	res, err := s.db.Exec(`DELETE FROM contexts WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		slog.Error("PostgresStore SweepExpired contexts failed", "error", err)
		return 0, fmt.Errorf("failed to sweep expired contexts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = s.db.Exec(`DELETE FROM session_locks WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		slog.Error("PostgresStore SweepExpired locks failed", "error", err)
		return total, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	if total > 0 {
		slog.Info("PostgresStore swept expired rows", "count", total)
	}
	return total, nil
}

// Package store provides storage backends for TourDesk conversation state.
//
// This file implements the SQLite-backed context store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/TourDesk/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements ContextStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ ContextStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) getContextRow(inboxID, contactID int, kind string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM contexts WHERE inbox_id = ? AND contact_id = ? AND kind = ? AND expires_at > ?`,
		inboxID, contactID, kind, time.Now().UTC(),
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore context row query failed", "error", err, "kind", kind, "inboxID", inboxID, "contactID", contactID)
		return nil, fmt.Errorf("failed to query %s row: %w", kind, err)
	}
	return data, nil
}

func (s *SQLiteStore) saveContextRow(inboxID, contactID int, kind string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO contexts (inbox_id, contact_id, kind, data, expires_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		inboxID, contactID, kind, data, now.Add(ttl), now,
	)
	if err != nil {
		slog.Error("SQLiteStore context row save failed", "error", err, "kind", kind, "inboxID", inboxID, "contactID", contactID)
		return fmt.Errorf("failed to save %s row: %w", kind, err)
	}
	return nil
}

func (s *SQLiteStore) deleteContextRow(inboxID, contactID int, kind string) error {
	_, err := s.db.Exec(
		`DELETE FROM contexts WHERE inbox_id = ? AND contact_id = ? AND kind = ?`,
		inboxID, contactID, kind,
	)
	if err != nil {
		slog.Error("SQLiteStore context row delete failed", "error", err, "kind", kind, "inboxID", inboxID, "contactID", contactID)
		return fmt.Errorf("failed to delete %s row: %w", kind, err)
	}
	return nil
}

// GetPersistentProfile returns the stored profile, or (nil, nil) when absent
// or expired.
func (s *SQLiteStore) GetPersistentProfile(inboxID, contactID int) (*models.PersistentProfile, error) {
	data, err := s.getContextRow(inboxID, contactID, kindPersistent)
	if err != nil || data == nil {
		return nil, err
	}
	var profile models.PersistentProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		// Degrade to empty rather than poisoning the turn.
		slog.Error("SQLiteStore failed to unmarshal persistent profile", "error", err, "inboxID", inboxID, "contactID", contactID)
		return &models.PersistentProfile{}, nil
	}
	slog.Debug("SQLiteStore GetPersistentProfile succeeded", "inboxID", inboxID, "contactID", contactID)
	return &profile, nil
}

// SavePersistentProfile upserts the profile with the given TTL.
func (s *SQLiteStore) SavePersistentProfile(inboxID, contactID int, profile *models.PersistentProfile, ttl time.Duration) error {
	data, err := json.Marshal(profile)
	if err != nil {
		slog.Error("SQLiteStore failed to marshal persistent profile", "error", err)
		return fmt.Errorf("failed to marshal persistent profile: %w", err)
	}
	return s.saveContextRow(inboxID, contactID, kindPersistent, data, ttl)
}

// GetActiveTask returns the live active task state, or (nil, nil) when the
// conversation has no task in flight.
func (s *SQLiteStore) GetActiveTask(inboxID, contactID int) (*models.ActiveTaskState, error) {
	data, err := s.getContextRow(inboxID, contactID, kindActiveTask)
	if err != nil || data == nil {
		return nil, err
	}
	var state models.ActiveTaskState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Error("SQLiteStore failed to unmarshal active task", "error", err, "inboxID", inboxID, "contactID", contactID)
		return nil, nil
	}
	return &state, nil
}

// SaveActiveTask upserts the active task state with the given TTL.
func (s *SQLiteStore) SaveActiveTask(inboxID, contactID int, state *models.ActiveTaskState, ttl time.Duration) error {
	state.Touch()
	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore failed to marshal active task", "error", err)
		return fmt.Errorf("failed to marshal active task: %w", err)
	}
	return s.saveContextRow(inboxID, contactID, kindActiveTask, data, ttl)
}

// ClearActiveTask removes the active task row.
func (s *SQLiteStore) ClearActiveTask(inboxID, contactID int) error {
	return s.deleteContextRow(inboxID, contactID, kindActiveTask)
}

// EnqueueMessage appends the message to the active task queue, creating an
// empty state when none exists, and raises the new-messages flag.
func (s *SQLiteStore) EnqueueMessage(inboxID, contactID int, msg models.QueuedMessage) error {
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
	slog.Debug("SQLiteStore EnqueueMessage succeeded", "inboxID", inboxID, "contactID", contactID, "queueLen", len(state.QueuedMessages))
	return nil
}

// DrainQueuedMessages returns the queued messages and clears the queue.
func (s *SQLiteStore) DrainQueuedMessages(inboxID, contactID int) ([]models.QueuedMessage, error) {
	state, err := s.GetActiveTask(inboxID, contactID)
	if err != nil || state == nil || len(state.QueuedMessages) == 0 {
		return nil, err
	}
	msgs := state.QueuedMessages
	state.QueuedMessages = nil
	if err := s.SaveActiveTask(inboxID, contactID, state, DefaultActiveTaskTTL); err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore DrainQueuedMessages succeeded", "inboxID", inboxID, "contactID", contactID, "count", len(msgs))
	return msgs, nil
}

// HasNewMessages reports whether the new-messages flag is raised.
func (s *SQLiteStore) HasNewMessages(inboxID, contactID int) (bool, error) {
	data, err := s.getContextRow(inboxID, contactID, kindNewMessages)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// ClearNewMessagesFlag lowers the new-messages flag.
func (s *SQLiteStore) ClearNewMessagesFlag(inboxID, contactID int) error {
	return s.deleteContextRow(inboxID, contactID, kindNewMessages)
}

// AcquireLock atomically claims the session lock for token. An expired
// owner's lock is stolen in the same statement. Returns false when another
// live owner holds it.
func (s *SQLiteStore) AcquireLock(inboxID, contactID int, token string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO session_locks (inbox_id, contact_id, owner_token, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(inbox_id, contact_id) DO UPDATE SET
		   owner_token = excluded.owner_token,
		   expires_at = excluded.expires_at
		 WHERE session_locks.expires_at <= ?`,
		inboxID, contactID, token, now.Add(ttl), now,
	)
	if err != nil {
		slog.Error("SQLiteStore AcquireLock failed", "error", err, "inboxID", inboxID, "contactID", contactID)
		return false, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lock acquire result: %w", err)
	}
	acquired := affected > 0
	slog.Debug("SQLiteStore AcquireLock", "inboxID", inboxID, "contactID", contactID, "acquired", acquired)
	return acquired, nil
}

// ReleaseLock deletes the lock only when token still owns it. A mismatch
// (lock expired and stolen) is a silent no-op.
func (s *SQLiteStore) ReleaseLock(inboxID, contactID int, token string) error {
	res, err := s.db.Exec(
		`DELETE FROM session_locks WHERE inbox_id = ? AND contact_id = ? AND owner_token = ?`,
		inboxID, contactID, token,
	)
	if err != nil {
		slog.Error("SQLiteStore ReleaseLock failed", "error", err, "inboxID", inboxID, "contactID", contactID)
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		slog.Warn("SQLiteStore ReleaseLock token mismatch, lock not released", "inboxID", inboxID, "contactID", contactID)
	}
	return nil
}

// SweepExpired deletes expired context and lock rows, returning the count.
func (s *SQLiteStore) SweepExpired(now time.Time) (int64, error) {
	var total int64
	res, err := s.db.Exec(`DELETE FROM contexts WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		slog.Error("SQLiteStore SweepExpired contexts failed", "error", err)
		return 0, fmt.Errorf("failed to sweep expired contexts: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = s.db.Exec(`DELETE FROM session_locks WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		slog.Error("SQLiteStore SweepExpired locks failed", "error", err)
		return total, fmt.Errorf("failed to sweep expired locks: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	if total > 0 {
		slog.Info("SQLiteStore swept expired rows", "count", total)
	}
	return total, nil
}

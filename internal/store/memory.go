// Package store provides storage backends for TourDesk conversation state.
//
// This file implements an in-memory context store used by tests and local
// development. It honors the same TTL and lock semantics as the SQL backends.
package store

import (
	"sync"
	"time"

	"github.com/BTreeMap/TourDesk/internal/models"
)

type memoryKey struct {
	inboxID   int
	contactID int
	kind      string
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryLock struct {
	ownerToken string
	expiresAt  time.Time
}

// InMemoryStore implements ContextStore without external infrastructure.
type InMemoryStore struct {
	mu       sync.Mutex
	profiles map[memoryKey]*models.PersistentProfile
	tasks    map[memoryKey]*models.ActiveTaskState
	expiry   map[memoryKey]time.Time
	flags    map[memoryKey]memoryEntry
	locks    map[memoryKey]memoryLock

	// Now is swappable so tests can drive TTL expiry deterministically.
	Now func() time.Time
}

var _ ContextStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[memoryKey]*models.PersistentProfile),
		tasks:    make(map[memoryKey]*models.ActiveTaskState),
		expiry:   make(map[memoryKey]time.Time),
		flags:    make(map[memoryKey]memoryEntry),
		locks:    make(map[memoryKey]memoryLock),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) live(k memoryKey) bool {
	exp, ok := s.expiry[k]
	return ok && exp.After(s.Now())
}

// GetPersistentProfile returns a copy of the stored profile, or (nil, nil).
func (s *InMemoryStore) GetPersistentProfile(inboxID, contactID int) (*models.PersistentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{inboxID, contactID, kindPersistent}
	if !s.live(k) {
		return nil, nil
	}
	p := *s.profiles[k]
	return &p, nil
}

// SavePersistentProfile stores a copy of the profile with the given TTL.
func (s *InMemoryStore) SavePersistentProfile(inboxID, contactID int, profile *models.PersistentProfile, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{inboxID, contactID, kindPersistent}
	p := *profile
	s.profiles[k] = &p
	s.expiry[k] = s.Now().Add(ttl)
	return nil
}

// GetActiveTask returns a copy of the live active task state, or (nil, nil).
func (s *InMemoryStore) GetActiveTask(inboxID, contactID int) (*models.ActiveTaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getActiveTaskLocked(inboxID, contactID), nil
}

func (s *InMemoryStore) getActiveTaskLocked(inboxID, contactID int) *models.ActiveTaskState {
	k := memoryKey{inboxID, contactID, kindActiveTask}
	if !s.live(k) {
		return nil
	}
	st := *s.tasks[k]
	st.QueuedMessages = append([]models.QueuedMessage(nil), st.QueuedMessages...)
	return &st
}

// SaveActiveTask stores a copy of the state with the given TTL.
func (s *InMemoryStore) SaveActiveTask(inboxID, contactID int, state *models.ActiveTaskState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveActiveTaskLocked(inboxID, contactID, state, ttl)
	return nil
}

func (s *InMemoryStore) saveActiveTaskLocked(inboxID, contactID int, state *models.ActiveTaskState, ttl time.Duration) {
	state.Touch()
	k := memoryKey{inboxID, contactID, kindActiveTask}
	st := *state
	st.QueuedMessages = append([]models.QueuedMessage(nil), state.QueuedMessages...)
	s.tasks[k] = &st
	s.expiry[k] = s.Now().Add(ttl)
}

// ClearActiveTask removes the active task state.
func (s *InMemoryStore) ClearActiveTask(inboxID, contactID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{inboxID, contactID, kindActiveTask}
	delete(s.tasks, k)
	delete(s.expiry, k)
	return nil
}

// EnqueueMessage appends to the queue and raises the new-messages flag.
func (s *InMemoryStore) EnqueueMessage(inboxID, contactID int, msg models.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getActiveTaskLocked(inboxID, contactID)
	if state == nil {
		now := s.Now()
		state = &models.ActiveTaskState{CreatedAt: now, UpdatedAt: now}
	}
	state.QueuedMessages = append(state.QueuedMessages, msg)
	s.saveActiveTaskLocked(inboxID, contactID, state, DefaultActiveTaskTTL)
	fk := memoryKey{inboxID, contactID, kindNewMessages}
	s.flags[fk] = memoryEntry{data: []byte("1"), expiresAt: s.Now().Add(DefaultNewMessagesTTL)}
	return nil
}

// DrainQueuedMessages returns the queued messages and clears the queue.
func (s *InMemoryStore) DrainQueuedMessages(inboxID, contactID int) ([]models.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.getActiveTaskLocked(inboxID, contactID)
	if state == nil || len(state.QueuedMessages) == 0 {
		return nil, nil
	}
	msgs := state.QueuedMessages
	state.QueuedMessages = nil
	s.saveActiveTaskLocked(inboxID, contactID, state, DefaultActiveTaskTTL)
	return msgs, nil
}

// HasNewMessages reports whether the new-messages flag is raised.
func (s *InMemoryStore) HasNewMessages(inboxID, contactID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fk := memoryKey{inboxID, contactID, kindNewMessages}
	entry, ok := s.flags[fk]
	return ok && entry.expiresAt.After(s.Now()), nil
}

// ClearNewMessagesFlag lowers the new-messages flag.
func (s *InMemoryStore) ClearNewMessagesFlag(inboxID, contactID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, memoryKey{inboxID, contactID, kindNewMessages})
	return nil
}

// AcquireLock claims the session lock, stealing an expired owner's slot.
func (s *InMemoryStore) AcquireLock(inboxID, contactID int, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{inboxID, contactID, "lock"}
	if l, ok := s.locks[k]; ok && l.expiresAt.After(s.Now()) {
		return false, nil
	}
	s.locks[k] = memoryLock{ownerToken: token, expiresAt: s.Now().Add(ttl)}
	return true, nil
}

// ReleaseLock deletes the lock only when token still owns it.
func (s *InMemoryStore) ReleaseLock(inboxID, contactID int, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := memoryKey{inboxID, contactID, "lock"}
	if l, ok := s.locks[k]; ok && l.ownerToken == token {
		delete(s.locks, k)
	}
	return nil
}

// SweepExpired deletes expired entries, returning the count.
func (s *InMemoryStore) SweepExpired(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for k, exp := range s.expiry {
		if !exp.After(now) {
			delete(s.expiry, k)
			delete(s.profiles, k)
			delete(s.tasks, k)
			total++
		}
	}
	for k, entry := range s.flags {
		if !entry.expiresAt.After(now) {
			delete(s.flags, k)
			total++
		}
	}
	for k, l := range s.locks {
		if !l.expiresAt.After(now) {
			delete(s.locks, k)
			total++
		}
	}
	return total, nil
}

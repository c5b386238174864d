/**
 * @description
 * This file defines the session storage abstraction and its in-memory
 * implementation. Sessions are keyed by the party identifier (the WhatsApp
 * phone number) and carry an updatedAt stamp refreshed on every write, which
 * drives both idle eviction and stall detection.
 *
 * The store does not serialize concurrent writers to the same key; the
 * orchestrator guarantees at most one in-flight handler per party. The
 * internal mutex only protects the map itself.
 *
 * @dependencies
 * - errors, sync, time: Standard Go libraries.
 * - internal/domain: Session model.
 */

package store

import (
	"errors"
	"sync"
	"time"

	"github.com/afribridge/transfer-service/internal/domain"
)

// ErrSessionNotFound is returned by queries for parties with no active
// session. Absence is a normal state, distinct from an error.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the storage abstraction for transfer sessions. The
// in-memory implementation below is the default; a durable implementation
// can be substituted without touching the orchestrator.
type SessionStore interface {
	// Set fully replaces the session for a key and stamps UpdatedAt.
	Set(key string, session domain.TransferSession)
	// Get returns a snapshot of the session, or false when absent.
	Get(key string) (domain.TransferSession, bool)
	// Update applies a mutation to an existing session and stamps
	// UpdatedAt. It returns false without calling apply when the key is
	// absent.
	Update(key string, apply func(*domain.TransferSession)) bool
	// Delete removes the session, reporting whether one existed.
	Delete(key string) bool
	// Scan visits a snapshot of every session.
	Scan(visit func(key string, session domain.TransferSession))
	// Cleanup evicts sessions idle for longer than maxAge and returns the
	// number evicted.
	Cleanup(maxAge time.Duration) int
}

// InMemorySessionStore keeps sessions in a mutex-guarded map.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]domain.TransferSession
	now      func() time.Time
}

// NewInMemorySessionStore creates an empty in-memory session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]domain.TransferSession),
		now:      time.Now,
	}
}

// Set fully replaces the session for a key.
func (s *InMemorySessionStore) Set(key string, session domain.TransferSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.UpdatedAt = s.now()
	s.sessions[key] = session
}

// Get returns a snapshot of the session for a key.
func (s *InMemorySessionStore) Get(key string) (domain.TransferSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[key]
	return session, ok
}

// Update merges a mutation onto an existing session. Returns false when the
// key is absent.
func (s *InMemorySessionStore) Update(key string, apply func(*domain.TransferSession)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[key]
	if !ok {
		return false
	}
	apply(&session)
	session.UpdatedAt = s.now()
	s.sessions[key] = session
	return true
}

// Delete removes the session for a key.
func (s *InMemorySessionStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// Scan visits a point-in-time snapshot of all sessions. Visiting a snapshot
// keeps the lock out of the sweeper's external calls.
func (s *InMemorySessionStore) Scan(visit func(key string, session domain.TransferSession)) {
	s.mu.RLock()
	snapshot := make(map[string]domain.TransferSession, len(s.sessions))
	for key, session := range s.sessions {
		snapshot[key] = session
	}
	s.mu.RUnlock()

	for key, session := range snapshot {
		visit(key, session)
	}
}

// Cleanup evicts sessions whose UpdatedAt is older than maxAge.
func (s *InMemorySessionStore) Cleanup(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for key, session := range s.sessions {
		if now.Sub(session.UpdatedAt) > maxAge {
			delete(s.sessions, key)
			cleaned++
		}
	}
	return cleaned
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
)

// MemoryStore is an in-memory implementation of the SessionStore interface.
// It keeps value copies so no caller ever holds a reference into the map.
type MemoryStore struct {
	sessions map[string]core.AuthSession
	mu       sync.RWMutex
}

var _ ports.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]core.AuthSession),
	}
}

// Get returns a copy of the session
func (s *MemoryStore) Get(ctx context.Context, id string) (core.AuthSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return core.AuthSession{}, core.ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Create inserts a session unless the id is taken
func (s *MemoryStore) Create(ctx context.Context, session core.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return core.ErrSessionExists
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// Set inserts or replaces a session
func (s *MemoryStore) Set(ctx context.Context, session core.AuthSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.ID] = session.Clone()
	return nil
}

// Delete removes a session
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// Update applies fn under the write lock, so concurrent updates of any session
// are serialized.
func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*core.AuthSession) error) (core.AuthSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return core.AuthSession{}, core.ErrSessionNotFound
	}

	next := current.Clone()
	if err := fn(&next); err != nil {
		return core.AuthSession{}, err
	}
	next.ID = id
	s.sessions[id] = next.Clone()
	return next, nil
}

// Sweep removes sessions whose expiry lies more than retention in the past and
// returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	cutoff := now.Add(-retention)
	for id, session := range s.sessions {
		if session.ExpiresAt.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

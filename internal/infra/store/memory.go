package store

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/shahabrez/Callroulette/internal/domain/call"
)

// MemoryStore is an in-memory Repository with optimistic versioning.
// It is used in tests and single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*call.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*call.Session),
	}
}

// Create stores a new session. The stored version starts at 1.
func (m *MemoryStore) Create(ctx context.Context, s *call.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return errors.Wrapf(ErrAlreadyExists, "id %s", s.ID)
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get returns a copy of the session with the given id.
func (m *MemoryStore) Get(ctx context.Context, id string) (*call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return s.Clone(), nil
}

// Save persists the session if its version still matches the stored
// one, then increments the version on both the argument and the stored
// copy. A mismatch returns ErrStaleWrite.
func (m *MemoryStore) Save(ctx context.Context, s *call.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return errors.Wrapf(ErrNotFound, "id %s", s.ID)
	}
	if cur.Version != s.Version {
		return errors.Wrapf(ErrStaleWrite, "id %s: have version %d, stored %d", s.ID, s.Version, cur.Version)
	}
	s.Version++
	m.sessions[s.ID] = s.Clone()
	return nil
}

// ListByState returns copies of all sessions in the given state.
func (m *MemoryStore) ListByState(ctx context.Context, state call.State) ([]*call.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*call.Session
	for _, s := range m.sessions {
		if s.State == state {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

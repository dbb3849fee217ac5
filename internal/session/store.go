package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"horse.fit/amscreen/internal/globaltime"
)

// ErrNotFound is returned for session IDs the store has no record of.
var ErrNotFound = errors.New("session not found")

// Store persists screening sessions. Save is a full-snapshot upsert;
// callers checkpoint by saving the whole session after each unit of work.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]Summary, error)
	SetPaused(ctx context.Context, sessionID string, paused bool) error
	IsPaused(ctx context.Context, sessionID string) (bool, error)
}

// MemoryStore keeps sessions in process memory. Completed sessions are
// evicted after the configured TTL; in-flight sessions are never evicted.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return nil, ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s.SessionID == "" {
		return errors.New("session id is empty")
	}
	clone := *s
	clone.UpdatedAt = globaltime.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpired()
	// A concurrently toggled pause flag must survive the snapshot write.
	if prev, ok := m.sessions[s.SessionID]; ok && prev.IsPaused && !clone.IsPaused {
		clone.IsPaused = true
	}
	m.sessions[s.SessionID] = &clone
	s.UpdatedAt = clone.UpdatedAt
	s.IsPaused = clone.IsPaused
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		if m.expired(s) {
			continue
		}
		out = append(out, s.Summary())
	}
	return out, nil
}

func (m *MemoryStore) SetPaused(_ context.Context, sessionID string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return ErrNotFound
	}
	s.IsPaused = paused
	s.UpdatedAt = globaltime.Now()
	return nil
}

func (m *MemoryStore) IsPaused(_ context.Context, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return false, ErrNotFound
	}
	return s.IsPaused, nil
}

func (m *MemoryStore) expired(s *Session) bool {
	if m.ttl <= 0 || s.CompletedAt == nil {
		return false
	}
	return globaltime.Now().Sub(*s.CompletedAt) > m.ttl
}

// evictExpired runs under the write lock.
func (m *MemoryStore) evictExpired() {
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
		}
	}
}

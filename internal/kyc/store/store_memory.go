package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"kyc-intake/internal/kyc/models"
	"kyc-intake/pkg/platform/sentinel"
)

var (
	// ErrNotFound is returned when a session does not exist or has expired.
	ErrNotFound = sentinel.ErrNotFound
	// ErrConflict is returned when a session was written by someone else
	// since it was read, or when creating an ID that already exists.
	ErrConflict = sentinel.ErrConflict
)

// InMemorySessionStore keeps sessions in process memory with a sliding TTL.
// Sessions are cloned on the way in and out so callers never share state.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]memorySession
	ttl      time.Duration
	now      func() time.Time
}

type memorySession struct {
	session   *models.Session
	expiresAt time.Time
}

func NewInMemorySessionStore(ttl time.Duration) *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[uuid.UUID]memorySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return ErrConflict
	}
	s.sessions[session.ID] = memorySession{session: session.Clone(), expiresAt: s.expiry()}
	return nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	if !ok || s.expired(entry) {
		return nil, ErrNotFound
	}
	return entry.session.Clone(), nil
}

// Update writes session only if the stored copy still carries the version the
// caller read, and returns ErrConflict otherwise. On success session.Version
// is advanced to the stored version.
func (s *InMemorySessionStore) Update(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[session.ID]
	if !ok || s.expired(entry) {
		delete(s.sessions, session.ID)
		return ErrNotFound
	}
	if entry.session.Version != session.Version {
		return ErrConflict
	}
	stored := session.Clone()
	stored.Version++
	s.sessions[session.ID] = memorySession{session: stored, expiresAt: s.expiry()}
	session.Version = stored.Version
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *InMemorySessionStore) Sweep(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, entry := range s.sessions {
		if s.expired(entry) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *InMemorySessionStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(s.ttl)
}

func (s *InMemorySessionStore) expired(entry memorySession) bool {
	return !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt)
}

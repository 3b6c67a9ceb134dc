package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhouzirui/z-feedback/backend/internal/model/feedback"
)

var (
	ErrUserRequired    = errors.New("user id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Store keeps per-user dialog state. Every method is atomic per user key.
type Store interface {
	// Create starts a fresh session for userID, returning the session it replaced, if any.
	Create(ctx context.Context, userID string) (feedback.Session, *feedback.Session, error)
	Get(ctx context.Context, userID string) (feedback.Session, error)
	Update(ctx context.Context, session feedback.Session) error
	// Delete removes the user's session and returns what was stored.
	Delete(ctx context.Context, userID string) (feedback.Session, error)
	// DeleteIfCurrent removes the user's session only while it is still sessionID.
	DeleteIfCurrent(ctx context.Context, userID, sessionID string) (feedback.Session, error)
	// Expire removes and returns sessions not updated since before.
	Expire(ctx context.Context, before time.Time) []feedback.Session
	Len() int
}

// MemoryStore implements Store with a mutex-guarded map, keyed by user.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]feedback.Session
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]feedback.Session)}
}

// Create provisions a session in StateAwaitingFeedback.
func (s *MemoryStore) Create(_ context.Context, userID string) (feedback.Session, *feedback.Session, error) {
	if userID == "" {
		return feedback.Session{}, nil, ErrUserRequired
	}

	now := time.Now().UTC()
	session := feedback.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		State:     feedback.StateAwaitingFeedback,
		Fields:    make(map[feedback.Field]string, 3),
		History:   []feedback.State{feedback.StateAwaitingFeedback},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var replaced *feedback.Session
	if prev, ok := s.sessions[userID]; ok {
		replaced = &prev
	}
	s.sessions[userID] = session.Clone()
	return session, replaced, nil
}

// Get retrieves a copy of the user's session.
func (s *MemoryStore) Get(_ context.Context, userID string) (feedback.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[userID]
	if !ok {
		return feedback.Session{}, ErrSessionNotFound
	}
	return session.Clone(), nil
}

// Update overwrites the stored session and marks it active. A session that was
// replaced or removed in the meantime is reported as not found.
func (s *MemoryStore) Update(_ context.Context, session feedback.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[session.UserID]
	if !ok || current.ID != session.ID {
		return ErrSessionNotFound
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[session.UserID] = session.Clone()
	return nil
}

// Delete removes and returns the user's session.
func (s *MemoryStore) Delete(_ context.Context, userID string) (feedback.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return feedback.Session{}, ErrSessionNotFound
	}
	delete(s.sessions, userID)
	return session, nil
}

// DeleteIfCurrent removes and returns the user's session if its ID matches.
func (s *MemoryStore) DeleteIfCurrent(_ context.Context, userID, sessionID string) (feedback.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok || session.ID != sessionID {
		return feedback.Session{}, ErrSessionNotFound
	}
	delete(s.sessions, userID)
	return session, nil
}

// Expire removes sessions whose last update is before the cutoff.
func (s *MemoryStore) Expire(_ context.Context, before time.Time) []feedback.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []feedback.Session
	for userID, session := range s.sessions {
		if session.UpdatedAt.Before(before) {
			expired = append(expired, session)
			delete(s.sessions, userID)
		}
	}
	return expired
}

// Len reports the number of active sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

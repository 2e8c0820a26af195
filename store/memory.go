package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	history  []Execution // append order
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
	}
}

func (s *MemoryStore) GetExpression(_ context.Context, sessionID string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Session{}, false, ErrClosed
	}
	sess, ok := s.sessions[sessionID]
	return sess, ok, nil
}

func (s *MemoryStore) SetExpression(_ context.Context, session Session) error {
	if session.ID == "" {
		return ErrInvalidSession
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryStore) ClearExpression(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, exec Execution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	exec.Variables = cloneVariables(exec.Variables)
	if exec.Result != nil {
		r := *exec.Result
		exec.Result = &r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.history = append(s.history, exec)
	return nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var result []Execution
	for i := len(s.history) - 1; i >= 0; i-- {
		e := s.history[i]
		if sessionID != "" && e.SessionID != sessionID {
			continue
		}
		e.Variables = cloneVariables(e.Variables)
		result = append(result, e)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	kept := s.history[:0]
	var removed int64
	for _, e := range s.history {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.history[len(kept):])
	s.history = kept
	return removed, nil
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

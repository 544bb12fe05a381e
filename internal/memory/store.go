// Package memory persists per-session conversation history.
package memory

import (
	"context"
	"sync"

	"github.com/solagent/solagent/internal/models"
)

// Store holds ordered conversation history keyed by session ID.
type Store interface {
	// Append adds messages to the end of a session's history, creating
	// the session if needed.
	Append(ctx context.Context, sessionID string, msgs ...models.Message) error
	// History returns the full ordered history for a session. Unknown
	// sessions return an empty slice, not an error.
	History(ctx context.Context, sessionID string) ([]models.Message, error)
	// Replace swaps a session's entire history, used by compaction.
	Replace(ctx context.Context, sessionID string, msgs []models.Message) error
	// Clear removes a session and its history.
	Clear(ctx context.Context, sessionID string) error
}

// InMemoryStore keeps history in process memory. Suitable for tests and
// single-node deployments without durability needs.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]models.Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]models.Message)}
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, msgs ...models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msgs...)
	return nil
}

func (s *InMemoryStore) History(_ context.Context, sessionID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.sessions[sessionID]
	out := make([]models.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *InMemoryStore) Replace(_ context.Context, sessionID string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replacement := make([]models.Message, len(msgs))
	copy(replacement, msgs)
	s.sessions[sessionID] = replacement
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

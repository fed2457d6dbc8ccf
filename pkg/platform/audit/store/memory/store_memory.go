package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	audit "veriface/pkg/platform/audit"
)

// InMemoryStore keeps events in arrival order. Used in tests and single-node
// deployments without a database.
type InMemoryStore struct {
	mu        sync.RWMutex
	events    []audit.Event
	byRequest map[string][]int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byRequest: make(map[string][]int)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.byRequest = make(map[string][]int)
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRequest[event.RequestID] = append(s.byRequest[event.RequestID], len(s.events))
	s.events = append(s.events, event)
	return nil
}

// ListByRequest returns a request's events in the order they were appended.
func (s *InMemoryStore) ListByRequest(_ context.Context, requestID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byRequest[requestID]
	out := make([]audit.Event, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.events[i])
	}
	return out, nil
}

// ListRecent returns up to limit events, most recent first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	out := make([]audit.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

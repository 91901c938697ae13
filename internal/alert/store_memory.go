package alert

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vigil/pkg/platform/sentinel"
)

// InMemoryStore is a mutex-guarded alert store for tests and single-node
// deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]Alert
}

// NewInMemoryStore constructs an empty alert store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{alerts: make(map[string]Alert)}
}

func (s *InMemoryStore) Create(_ context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; ok {
		return fmt.Errorf("alert %q: %w", alert.ID, sentinel.ErrConflict)
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %q: %w", id, sentinel.ErrNotFound)
	}
	return &alert, nil
}

func (s *InMemoryStore) Update(_ context.Context, alert *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return fmt.Errorf("alert %q: %w", alert.ID, sentinel.ErrNotFound)
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		out = append(out, alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

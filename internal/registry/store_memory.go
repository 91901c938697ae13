package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vigil/pkg/platform/sentinel"
)

// Clock is an injectable time source for testability.
type Clock func() time.Time

// InMemoryStore keeps registry state in process memory with lazy expiry:
// each access evicts the entry it touches when its TTL has passed, so
// memory stays bounded without a dedicated sweeper task.
//
// State is not shared across instances. Multi-instance deployments must use
// the Redis-backed store instead.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
	clock Clock
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithClock sets the time source for testability.
func WithClock(clock Clock) InMemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewInMemory constructs an empty in-process registry store.
func NewInMemory(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		items: make(map[string]Item),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = Item{Value: value, ExpiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	if item.Expired(s.clock()) {
		delete(s.items, key)
		return nil, nil
	}
	return &item, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, prefix string) (map[string]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	out := make(map[string]Item)
	for key, item := range s.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if item.Expired(now) {
			delete(s.items, key)
			continue
		}
		out[key] = item
	}
	return out, nil
}

func (s *InMemoryStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	evicted := 0
	for key, item := range s.items {
		if item.Expired(now) {
			delete(s.items, key)
			evicted++
		}
	}
	return evicted, nil
}

// Len reports the number of live entries, for tests and diagnostics.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

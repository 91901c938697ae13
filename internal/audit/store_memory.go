package audit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"vigil/pkg/platform/sentinel"
)

// InMemoryStore keeps events in a slice ordered by (timestamp, id).
// IDs are assigned monotonically at append. Used by tests and dev mode.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
	nextID int64
}

// NewInMemoryStore constructs an empty in-memory event store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{nextID: 1}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.ID = s.nextID
	s.nextID++

	// Appends normally arrive in timestamp order; the insertion sort keeps
	// the invariant when callers pin out-of-order request times.
	idx, _ := slices.BinarySearchFunc(s.events, event, compareEvents)
	s.events = slices.Insert(s.events, idx, event)
	return event, nil
}

func compareEvents(a, b Event) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

func (s *InMemoryStore) ListAfter(_ context.Context, cursor Cursor, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive: %w", sentinel.ErrInvalidState)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0, limit)
	for _, e := range s.events {
		if !afterCursor(e, cursor) || !strings.HasPrefix(e.Action, ActionPrefix) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func afterCursor(e Event, c Cursor) bool {
	if e.Timestamp.After(c.Since) {
		return true
	}
	return e.Timestamp.Equal(c.Since) && e.ID > c.AfterID
}

func (s *InMemoryStore) CountByActionSince(_ context.Context, since time.Time) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int)
	for _, e := range s.events {
		if e.Timestamp.Before(since) || !strings.HasPrefix(e.Action, ActionPrefix) {
			continue
		}
		totals[e.Action]++
	}
	return totals, nil
}

func (s *InMemoryStore) LatestByActionResource(_ context.Context, action, resource string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if e.Action == action && e.Resource == resource {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("event %s/%s: %w", action, resource, sentinel.ErrNotFound)
}

func (s *InMemoryStore) AgeStats(_ context.Context, cutoff time.Time, excludeActions []string) (AgeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats AgeStats
	for _, e := range s.events {
		if !s.purgeCandidate(e, cutoff, excludeActions) {
			continue
		}
		ts := e.Timestamp
		if stats.Oldest == nil || ts.Before(*stats.Oldest) {
			stats.Oldest = &ts
		}
		if stats.Newest == nil || ts.After(*stats.Newest) {
			stats.Newest = &ts
		}
		stats.Count++
	}
	return stats, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time, excludeActions []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var deleted int64
	for _, e := range s.events {
		if s.purgeCandidate(e, cutoff, excludeActions) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return deleted, nil
}

func (s *InMemoryStore) purgeCandidate(e Event, cutoff time.Time, excludeActions []string) bool {
	if !strings.HasPrefix(e.Action, ActionPrefix) || !e.Timestamp.Before(cutoff) {
		return false
	}
	return !slices.Contains(excludeActions, e.Action)
}

// Len reports the number of stored events, for tests.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

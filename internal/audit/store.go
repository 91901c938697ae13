package audit

import (
	"context"
	"time"
)

// AgeStats summarizes the rows older than a retention cutoff.
type AgeStats struct {
	Count  int64      `json:"count"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// Store persists security events. It is append-only: no update path exists,
// and deletion happens solely through DeleteOlderThan (retention purge).
//
// Error contract:
// - sentinel.ErrNotFound when a requested entity does not exist
// - nil on success
// - wrapped infrastructure errors otherwise
type Store interface {
	// Append persists one event, assigning its ID. The returned event
	// carries the assigned ID; the input is not mutated.
	Append(ctx context.Context, event Event) (Event, error)

	// ListAfter returns up to limit events strictly after the cursor in
	// ascending (timestamp, id) order. Pagination keyed on the timestamp
	// alone would drop or duplicate rows sharing one; the compound key is
	// the correctness-critical contract here.
	ListAfter(ctx context.Context, cursor Cursor, limit int) ([]Event, error)

	// CountByActionSince counts SECURITY_* events at or after since,
	// grouped by action.
	CountByActionSince(ctx context.Context, since time.Time) (map[string]int, error)

	// LatestByActionResource returns the newest event with the given
	// action and resource, or sentinel.ErrNotFound. Checkpoint reads are
	// built on this.
	LatestByActionResource(ctx context.Context, action, resource string) (*Event, error)

	// AgeStats summarizes SECURITY_* rows strictly older than cutoff,
	// skipping excludeActions.
	AgeStats(ctx context.Context, cutoff time.Time, excludeActions []string) (AgeStats, error)

	// DeleteOlderThan removes SECURITY_* rows strictly older than cutoff,
	// skipping excludeActions, and reports how many were deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, excludeActions []string) (int64, error)
}

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vigil/internal/registry"
)

const lockoutKeyPrefix = "auth:lockout:"

// lockoutRecord is the registry payload for one username's failure history.
// Invariant: once the window holds threshold failures, LockedUntil is set.
type lockoutRecord struct {
	Failures    []int64 `json:"failures"` // unix seconds, sliding window
	LockedUntil int64   `json:"locked_until,omitempty"`
}

// lockoutTracker drives the per-username lockout state machine over the
// registry store:
//
//	Unlocked --(k failures in window)--> Locked(until) --(time)--> Unlocked
//
// A successful authentication from Unlocked clears all failure history.
type lockoutTracker struct {
	reg       registry.Store
	threshold int
	window    time.Duration
	duration  time.Duration
}

func newLockoutTracker(reg registry.Store, threshold int, window, duration time.Duration) *lockoutTracker {
	return &lockoutTracker{reg: reg, threshold: threshold, window: window, duration: duration}
}

// Check reports whether username is currently locked and for how much longer.
func (t *lockoutTracker) Check(ctx context.Context, username string, now time.Time) (bool, time.Duration, error) {
	record, err := t.load(ctx, username)
	if err != nil {
		return false, 0, err
	}
	if record == nil || record.LockedUntil == 0 {
		return false, 0, nil
	}
	until := time.Unix(record.LockedUntil, 0)
	if !now.Before(until) {
		return false, 0, nil
	}
	return true, until.Sub(now), nil
}

// RecordFailure appends a failure timestamp, prunes the sliding window, and
// trips the lock when the threshold is reached. Returns whether this failure
// tipped the account into Locked and the remaining lock duration.
func (t *lockoutTracker) RecordFailure(ctx context.Context, username string, now time.Time) (bool, time.Duration, error) {
	record, err := t.load(ctx, username)
	if err != nil {
		return false, 0, err
	}
	if record == nil {
		record = &lockoutRecord{}
	}

	windowStart := now.Add(-t.window).Unix()
	pruned := record.Failures[:0]
	for _, ts := range record.Failures {
		if ts >= windowStart {
			pruned = append(pruned, ts)
		}
	}
	record.Failures = append(pruned, now.Unix())

	tipped := false
	if len(record.Failures) >= t.threshold && record.LockedUntil < now.Unix() {
		record.LockedUntil = now.Add(t.duration).Unix()
		tipped = true
	}

	if err := t.save(ctx, username, record); err != nil {
		return false, 0, err
	}
	return tipped, t.duration, nil
}

// Clear wipes the failure history after a successful authentication.
func (t *lockoutTracker) Clear(ctx context.Context, username string) error {
	return t.reg.Delete(ctx, lockoutKeyPrefix+username)
}

func (t *lockoutTracker) load(ctx context.Context, username string) (*lockoutRecord, error) {
	item, err := t.reg.Get(ctx, lockoutKeyPrefix+username)
	if err != nil {
		return nil, fmt.Errorf("load lockout record: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	var record lockoutRecord
	if err := json.Unmarshal([]byte(item.Value), &record); err != nil {
		return nil, fmt.Errorf("decode lockout record: %w", err)
	}
	return &record, nil
}

func (t *lockoutTracker) save(ctx context.Context, username string, record *lockoutRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode lockout record: %w", err)
	}
	// The entry outlives both the sliding window and any active lock, then
	// self-expires so the registry never accumulates dead usernames.
	ttl := t.window
	if t.duration > ttl {
		ttl = t.duration
	}
	return t.reg.Put(ctx, lockoutKeyPrefix+username, string(raw), ttl)
}

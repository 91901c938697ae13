// Package registry holds the process's mutable security state: revoked
// token and session IDs, lockout records, alert cooldown stamps, and
// silence entries. Everything in it carries its own TTL.
//
// The store is deliberately a flat TTL'd key/value surface so the same
// interface can be served in-process (single instance) or by Redis
// (multi-instance deployments). Consumers namespace their keys.
package registry

import (
	"context"
	"time"
)

// Item is a stored value together with its expiry.
type Item struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the item's TTL has passed at the given instant.
func (i Item) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Store is the registry contract. Implementations must treat expired
// entries as absent; callers never see a stale item.
type Store interface {
	// Put stores value under key for ttl. A non-positive ttl is rejected:
	// unbounded entries would defeat the memory guarantees of the
	// revocation and lockout registries.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the live item for key, or nil when absent or expired.
	Get(ctx context.Context, key string) (*Item, error)

	// Delete removes key if present. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live items whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]Item, error)

	// Sweep evicts expired entries eagerly and reports how many were
	// removed. Lazy expiry on access keeps memory bounded without it;
	// Sweep exists for operational hygiene.
	Sweep(ctx context.Context) (int, error)
}

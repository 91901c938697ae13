package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/pkg/platform/sentinel"
)

// RedisStore is the externally-backed registry for deployments running more
// than one instance: revocations, lockouts, cooldowns, and silences become
// shared state. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis constructs a Redis-backed registry store. All keys are placed
// under the given prefix (defaulting to "vigil:registry:") so the registry
// can share a Redis database with other tenants.
func NewRedis(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "vigil:registry:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("registry put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Item, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, s.keyPrefix+key)
	ttlCmd := pipe.PTTL(ctx, s.keyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry get: %w", err)
	}

	ttl := ttlCmd.Val()
	item := Item{Value: getCmd.Val()}
	if ttl > 0 {
		item.ExpiresAt = time.Now().Add(ttl)
	}
	return &item, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("registry delete: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, prefix string) (map[string]Item, error) {
	out := make(map[string]Item)
	pattern := s.keyPrefix + prefix + "*"

	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		item, err := s.Get(ctx, fullKey[len(s.keyPrefix):])
		if err != nil {
			return nil, err
		}
		if item != nil {
			out[fullKey[len(s.keyPrefix):]] = *item
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("registry list: %w", err)
	}
	return out, nil
}

// Sweep is a no-op for Redis: keys expire server-side.
func (s *RedisStore) Sweep(_ context.Context) (int, error) {
	return 0, nil
}

// Package cache provides the content-addressed prediction cache and the
// shared key-value store used for reminders, backed by Redis. The store is a
// performance optimization, never a correctness dependency: every operation
// degrades gracefully when the store is absent or unreachable.
package cache

import (
	"context"
	"time"
)

// KV is the narrow store contract the application depends on. Implemented by
// RedisKV in production and by in-memory fakes in tests.
type KV interface {
	// Get returns the value for key. found is false when the key does not
	// exist; err is reserved for store-level failures.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key with a TTL. The store enforces expiration
	// lazily; callers never sweep.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes keys, returning how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Keys returns keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Ping verifies store reachability.
	Ping(ctx context.Context) error
}

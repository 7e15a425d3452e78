package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/floraguard/floraguard-go/internal/errors"
	"github.com/floraguard/floraguard-go/internal/logging"
)

// RedisKV implements KV over a go-redis client with a per-operation timeout.
type RedisKV struct {
	rdb     *redis.Client
	timeout time.Duration
}

// Connect parses url, creates a client and verifies connectivity. A failed
// ping is returned as an error so the caller can decide to run without a
// store; it is not fatal by itself.
func Connect(url string, timeout time.Duration) (*RedisKV, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid store url: %w", err)).
			Component("cache").
			Category(errors.CategoryConfiguration).
			Build()
	}

	kv := &RedisKV{rdb: redis.NewClient(opts), timeout: timeout}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := kv.rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.New(fmt.Errorf("store ping failed: %w", err)).
			Component("cache").
			Category(errors.CategoryCacheUnavailable).
			Build()
	}

	logging.ForService("cache").Info("store connected", "addr", opts.Addr)
	return kv, nil
}

func (r *RedisKV) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	val, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, keys ...string) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Del(ctx, keys...).Result()
}

// Keys iterates with SCAN rather than the blocking KEYS command.
func (r *RedisKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *RedisKV) Ping(ctx context.Context) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	return r.rdb.Ping(ctx).Err()
}

package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a fixed-window counter store backed by Redis, for deployments
// running more than one accountd instance behind a load balancer. The window
// is anchored by the key's TTL: the first INCR of a fresh key sets the expiry,
// and the counter disappears entirely when it fires.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a RedisStore over the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "ratelimit:",
	}
}

// Incr atomically increments the counter and anchors the window TTL on first use.
func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	rkey := s.prefix + key

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	// NX: only the first increment of a window sets the expiry
	pipe.ExpireNX(ctx, rkey, window)
	ttl := pipe.PTTL(ctx, rkey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, err
	}

	reset := time.Now().Add(window)
	if d := ttl.Val(); d > 0 {
		reset = time.Now().Add(d)
	}

	return incr.Val(), reset, nil
}

// Peek reads the current count without incrementing.
func (s *RedisStore) Peek(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	rkey := s.prefix + key

	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, rkey)
	ttl := pipe.PTTL(ctx, rkey)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, time.Time{}, err
	}

	count, err := get.Int64()
	if err == redis.Nil {
		return 0, time.Now().Add(window), nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	reset := time.Now().Add(window)
	if d := ttl.Val(); d > 0 {
		reset = time.Now().Add(d)
	}

	return count, reset, nil
}

// Stop closes the underlying Redis client.
func (s *RedisStore) Stop() {
	_ = s.client.Close()
}

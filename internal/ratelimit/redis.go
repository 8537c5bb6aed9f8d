package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by a shared Redis instance, for
// deployments where more than one engine process serves the same
// client population. Window expiry rides on Redis key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "notifyd:rl:"}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	rkey := s.prefix + key

	count, err := s.client.Incr(ctx, rkey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("incr %s: %w", rkey, err)
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("expire %s: %w", rkey, err)
		}
		return int(count), time.Now().Add(window), nil
	}

	ttl, err := s.client.PTTL(ctx, rkey).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("pttl %s: %w", rkey, err)
	}
	if ttl < 0 {
		// Key lost its TTL (e.g. a crashed expire); re-arm it so the
		// counter cannot live forever.
		if err := s.client.PExpire(ctx, rkey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("re-expire %s: %w", rkey, err)
		}
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}

// Sweep is a no-op: Redis evicts expired counters by TTL.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) error {
	return nil
}

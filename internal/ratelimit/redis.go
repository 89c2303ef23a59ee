package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/hireloop/ratelimitd/internal/storage"
	"github.com/redis/go-redis/v9"
)

// RedisStore backs the same fixed windows with shared counters so that quota
// enforcement is consistent across instances. Window boundaries are derived
// from the epoch, so every instance agrees on the current window number.
type RedisStore struct {
	redis *storage.RedisClient
}

func NewRedisStore(redis *storage.RedisClient) *RedisStore {
	return &RedisStore{redis: redis}
}

func (s *RedisStore) Take(ctx context.Context, key string, limits Limits) (Result, error) {
	now := time.Now()

	// Increment all three windows in one round trip, then roll back if any
	// of them came back over budget. INCR-then-undo keeps the check atomic
	// across instances without a server-side script.
	pipe := s.redis.Pipeline()
	counts := make([]*redis.IntCmd, len(granularities))
	for _, g := range granularities {
		counts[g] = pipe.Incr(ctx, s.windowKey(key, g, now))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit increment failed: %w", err)
	}

	for _, g := range granularities {
		if counts[g].Val() == 1 {
			s.redis.Expire(ctx, s.windowKey(key, g, now), g.Window())
		}
	}

	for _, g := range granularities {
		count := counts[g].Val()
		if count > int64(limits.For(g)) {
			s.undo(ctx, key, now)
			return Result{
				Exceeded: g,
				Limit:    limits.For(g),
				Current:  count - 1,
				ResetAt:  s.windowReset(g, now),
			}, nil
		}
	}

	return Result{Allowed: true}, nil
}

// A denied request must not consume quota, so give back the units the
// speculative INCRs took.
func (s *RedisStore) undo(ctx context.Context, key string, now time.Time) {
	pipe := s.redis.Pipeline()
	for _, g := range granularities {
		pipe.DecrBy(ctx, s.windowKey(key, g, now), 1)
	}
	pipe.Exec(ctx)
}

func (s *RedisStore) windowKey(key string, g Granularity, now time.Time) string {
	windowNumber := now.Unix() / int64(g.Window().Seconds())
	return fmt.Sprintf("ratelimit:%s:%s:%d", key, g, windowNumber)
}

func (s *RedisStore) windowReset(g Granularity, now time.Time) time.Time {
	seconds := int64(g.Window().Seconds())
	next := (now.Unix()/seconds + 1) * seconds
	return time.Unix(next, 0)
}

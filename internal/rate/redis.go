package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a sliding-window failure limiter on a shared Redis store.
// Each failure is a member of a sorted set scored by its unix-nano
// timestamp; counting removes expired members first, so the window
// slides exactly like the in-process Window.
type Redis struct {
	client redis.UniversalClient
	config Config
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter. The clock is injectable for
// tests; pass nil for time.Now.
func NewRedis(client redis.UniversalClient, cfg Config, now func() time.Time) *Redis {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{
		client: client,
		config: cfg,
		prefix: "vg:login:",
		now:    now,
	}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

// Limited reports whether the key has reached the failure threshold
// within the window.
func (r *Redis) Limited(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	cutoff := r.now().Add(-r.config.Window).UnixNano()

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, r.key(key), "-inf", strconv.FormatInt(cutoff, 10))
	count := pipe.ZCard(ctx, r.key(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return count.Val() >= int64(r.config.Threshold), nil
}

// RecordFailure appends a failure timestamp for the key and refreshes
// the key TTL so abandoned entries expire on their own.
func (r *Redis) RecordFailure(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	now := r.now().UnixNano()

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, r.key(key), redis.Z{
		Score:  float64(now),
		Member: strconv.FormatInt(now, 10),
	})
	pipe.Expire(ctx, r.key(key), r.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	return nil
}

// Reset clears all failures for the key.
func (r *Redis) Reset(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lastvalue/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter is a sliding-window limiter over one sorted set per client.
// Every replica sharing the Redis shares the same budget per client.
type RateLimiter struct {
	rdb           *redis.Client
	keys          keyspace
	slidingWindow *redis.Script
	now           func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{
		rdb:           c.rdb,
		keys:          c.keys,
		slidingWindow: redis.NewScript(slidingWindowLua),
		now:           time.Now,
	}
}

// Allow counts one request for client and reports whether it fits in limit
// requests per window. A limit of zero or less disables limiting.
func (rl *RateLimiter) Allow(ctx context.Context, client string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	res, err := rl.slidingWindow.Run(ctx, rl.rdb,
		[]string{rl.keys.rateLimit(client)},
		rl.now().UnixMicro(), window.Microseconds(), limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit %s: %w", client, err)
	}
	if len(res) != 2 {
		return false, fmt.Errorf("redis: rate limit %s: script returned %d values", client, len(res))
	}
	return res[0] == 1, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

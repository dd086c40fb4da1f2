// Package repository implements data persistence adapters
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"livechat-core/internal/core/ports"
)

// Ensure RedisRateLimiter implements RateLimiter
var _ ports.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter bounds assignments per agent with a fixed-window counter.
// The counter is created with the window TTL on the first increment and
// bumped atomically afterwards.
//
// Fails OPEN: when the store is unreachable, CheckLimit allows the
// assignment and logs at error severity. Overload protection is traded for
// availability here; the gateway's abuse guard makes the opposite trade.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter creates a limiter with the given per-window cap
func NewRedisRateLimiter(client *redis.Client, limit int64, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// CheckLimit reports whether the agent may receive another assignment.
// Advisory: it never mutates the counter.
func (l *RedisRateLimiter) CheckLimit(ctx context.Context, agentID int64) (bool, error) {
	count, err := l.client.Get(ctx, rateKey(agentID)).Int64()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		slog.Error("Rate limit check failed, failing open",
			"error", err,
			"agent_id", agentID,
			"policy", "fail-open",
		)
		return true, nil
	}
	return count < l.limit, nil
}

// Increment counts one assignment against the agent's window
func (l *RedisRateLimiter) Increment(ctx context.Context, agentID int64) error {
	key := rateKey(agentID)

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		slog.Error("Rate limit increment failed",
			"error", err,
			"agent_id", agentID,
			"policy", "fail-open",
		)
		return fmt.Errorf("increment rate counter: %w", err)
	}

	// First hit of the window sets the TTL
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			slog.Error("Failed to set rate counter TTL",
				"error", err,
				"agent_id", agentID,
			)
		}
	}

	return nil
}

// Reset clears the counter (tests and manual overrides)
func (l *RedisRateLimiter) Reset(ctx context.Context, agentID int64) error {
	if err := l.client.Del(ctx, rateKey(agentID)).Err(); err != nil {
		return fmt.Errorf("reset rate counter: %w", err)
	}
	return nil
}

// rateKey constructs the Redis key for an agent's assignment counter
func rateKey(agentID int64) string {
	return fmt.Sprintf("dispatch:rate:%d", agentID)
}

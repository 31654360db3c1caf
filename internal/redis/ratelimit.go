package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter implements sliding window rate limiting using Redis sorted sets.
// It throttles outbound mail per provider and inbound API calls per client.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow reports whether one more event for key fits in the window.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	result, err := r.Check(ctx, key)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Check is Allow with the remaining budget and reset time.
func (r *RateLimiter) Check(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.CheckN(ctx, key, 1)
}

// CheckN checks if n events are allowed and records them if so.
func (r *RateLimiter) CheckN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := time.Now()
	windowStart := now.Add(-r.config.Window)
	resetAt := now.Add(r.config.Window)

	redisKey := fmt.Sprintf("ratelimit:%s", key)

	pipe := r.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	currentCount := int(countCmd.Val())
	remaining := r.config.Limit - currentCount

	if currentCount+n > r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int("current", currentCount),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{
			Allowed:   false,
			Remaining: max(0, remaining),
			ResetAt:   resetAt,
		}, nil
	}

	add := r.client.rdb.Pipeline()
	for i := 0; i < n; i++ {
		add.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(now.UnixNano()),
			Member: uuid.NewString(),
		})
	}
	add.Expire(ctx, redisKey, r.config.Window+time.Second)

	if _, err := add.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: remaining - n,
		ResetAt:   resetAt,
	}, nil
}

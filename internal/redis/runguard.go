package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RunGuardTTL outlives a calendar day in any zone, so the key for today is
// still there when a late retry asks.
const RunGuardTTL = 36 * time.Hour

// RunGuard records "job X already ran on day D" with SET NX, so overlapping
// cron triggers and manual reruns do not start a second batch on the same day.
type RunGuard struct {
	client *Client
	logger *zap.Logger
}

func NewRunGuard(client *Client, logger *zap.Logger) *RunGuard {
	return &RunGuard{
		client: client,
		logger: logger,
	}
}

func (g *RunGuard) key(job string, day time.Time) string {
	return fmt.Sprintf("runguard:%s:%s", job, day.UTC().Format(time.DateOnly))
}

// TryAcquire claims the (job, day) slot. It returns false if the slot is taken.
func (g *RunGuard) TryAcquire(ctx context.Context, job string, day time.Time) (bool, error) {
	set, err := g.client.rdb.SetNX(ctx, g.key(job, day), time.Now().UTC().Format(time.RFC3339), RunGuardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		g.logger.Debug("run guard already held",
			zap.String("job", job),
			zap.String("day", day.UTC().Format(time.DateOnly)),
		)
	}
	return set, nil
}

// Release frees the slot so the job can run again the same day.
func (g *RunGuard) Release(ctx context.Context, job string, day time.Time) error {
	if err := g.client.rdb.Del(ctx, g.key(job, day)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

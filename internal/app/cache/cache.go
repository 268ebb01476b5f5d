// Package cache provides an optional read cache for points totals. The ledger
// remains the source of truth; writers invalidate, readers repopulate.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// PointsCache caches per-user points totals.
type PointsCache interface {
	// GetTotal returns the cached total and whether the key was present.
	GetTotal(ctx context.Context, userID string) (int64, bool, error)
	SetTotal(ctx context.Context, userID string, total int64) error
	Invalidate(ctx context.Context, userID string) error
}

// Noop is the cache used when no redis address is configured.
type Noop struct{}

func (Noop) GetTotal(ctx context.Context, userID string) (int64, bool, error) { return 0, false, nil }
func (Noop) SetTotal(ctx context.Context, userID string, total int64) error   { return nil }
func (Noop) Invalidate(ctx context.Context, userID string) error              { return nil }

// Redis caches totals in a redis instance with a short TTL so a missed
// invalidation heals on its own.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis cache. A non-positive ttl defaults to one minute.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Redis{client: client, ttl: ttl}
}

var _ PointsCache = (*Redis)(nil)
var _ PointsCache = Noop{}

func pointsKey(userID string) string {
	return "progress:points:" + userID
}

func (c *Redis) GetTotal(ctx context.Context, userID string) (int64, bool, error) {
	total, err := c.client.Get(ctx, pointsKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("cache get: %w", err)
	}
	return total, true, nil
}

func (c *Redis) SetTotal(ctx context.Context, userID string, total int64) error {
	if err := c.client.Set(ctx, pointsKey(userID), total, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, pointsKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

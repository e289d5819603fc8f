package account

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter caps the number of per-account operations in each
// fixed time window (a counter, not a concurrency limit) across
// every process sharing a pool namespace, backed by Redis so that a
// second tgfsd process honors the same budget. Grounded on the
// teacher's declared but (in the retrieved file slice) unused
// redis/go-redis dependency — adapted here to the concern its go.mod
// already anticipated.
type RateLimiter struct {
	rdb       *redis.Client
	namespace string
	limit     int64
	window    time.Duration
}

// NewRateLimiter constructs a limiter allowing at most limit operations
// per account within window, against the given Redis client.
func NewRateLimiter(rdb *redis.Client, namespace string, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, namespace: namespace, limit: limit, window: window}
}

func (r *RateLimiter) key(accountID uint8) string {
	return fmt.Sprintf("tgfs:%s:ratelimit:%d", r.namespace, accountID)
}

// Allow increments the account's operation counter for the current
// window and reports whether the operation may proceed.
func (r *RateLimiter) Allow(ctx context.Context, accountID uint8) (bool, error) {
	key := r.key(accountID)
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("incrementing rate limit counter: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, key, r.window).Err(); err != nil {
			return false, fmt.Errorf("setting rate limit window expiry: %w", err)
		}
	}
	return count <= r.limit, nil
}

// HealthCache mirrors account health into Redis so that multiple
// processes sharing a namespace converge on the same view of which
// accounts are healthy, avoiding the split-brain where one process
// retries an account another has already marked Unavailable.
type HealthCache struct {
	rdb       *redis.Client
	namespace string
	ttl       time.Duration
}

// NewHealthCache constructs a cross-process health cache.
func NewHealthCache(rdb *redis.Client, namespace string, ttl time.Duration) *HealthCache {
	return &HealthCache{rdb: rdb, namespace: namespace, ttl: ttl}
}

func (c *HealthCache) key(accountID uint8) string {
	return fmt.Sprintf("tgfs:%s:health:%d", c.namespace, accountID)
}

// Publish writes an account's current status to the shared cache.
func (c *HealthCache) Publish(ctx context.Context, accountID uint8, status AccountStatus) error {
	if err := c.rdb.Set(ctx, c.key(accountID), string(status), c.ttl).Err(); err != nil {
		return fmt.Errorf("publishing account health: %w", err)
	}
	return nil
}

// Lookup reads an account's status as last published by any process;
// returns false if no process has published a status yet (or it has
// expired), in which case the caller should fall back to its local
// Tracker's view.
func (c *HealthCache) Lookup(ctx context.Context, accountID uint8) (AccountStatus, bool, error) {
	v, err := c.rdb.Get(ctx, c.key(accountID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up account health: %w", err)
	}
	return AccountStatus(v), true, nil
}

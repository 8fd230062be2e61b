package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
)

// Checker is the denylist lookup contract this cache wraps.
type Checker interface {
	Check(ctx context.Context, entryType denylist.EntryType, rawValue string) (denylist.CheckResult, error)
}

// DenylistCache short-circuits repeated negative lookups against Redis.
// Only misses are cached: positive hits must always reach the store so the
// entry's hit counter stays exact, and a newly added ban takes effect no
// later than the negative TTL. Redis failures fall through to the store.
type DenylistCache struct {
	client *redis.Client
	inner  Checker
	ttl    time.Duration
	logger *zap.Logger
}

// NewDenylistCache wraps a denylist checker with a negative-result cache.
func NewDenylistCache(client *redis.Client, inner Checker, ttl time.Duration, logger *zap.Logger) *DenylistCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DenylistCache{
		client: client,
		inner:  inner,
		ttl:    ttl,
		logger: logger,
	}
}

// Check consults the negative cache before the store.
func (c *DenylistCache) Check(ctx context.Context, entryType denylist.EntryType, rawValue string) (denylist.CheckResult, error) {
	value, err := denylist.NormalizeValue(entryType, rawValue)
	if err != nil {
		// Unnormalizable input is a guaranteed miss; no cache needed.
		return denylist.CheckResult{}, nil
	}
	key := denylistNegativePrefix + string(entryType) + ":" + value

	cached, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		c.logger.Warn("denylist cache read failed", zap.Error(err))
	} else if cached > 0 {
		return denylist.CheckResult{}, nil
	}

	result, err := c.inner.Check(ctx, entryType, rawValue)
	if err != nil {
		return denylist.CheckResult{}, err
	}

	if result.Denylisted {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.Warn("denylist cache invalidation failed", zap.Error(err))
		}
	} else {
		if err := c.client.Set(ctx, key, "1", c.ttl).Err(); err != nil {
			c.logger.Warn("denylist cache write failed", zap.Error(err))
		}
	}
	return result, nil
}

// Invalidate drops the cached miss for a value, used after an entry is
// added so new bans apply immediately.
func (c *DenylistCache) Invalidate(ctx context.Context, entryType denylist.EntryType, rawValue string) {
	value, err := denylist.NormalizeValue(entryType, rawValue)
	if err != nil {
		return
	}
	key := denylistNegativePrefix + string(entryType) + ":" + value
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("denylist cache invalidation failed", zap.Error(err))
	}
}

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
	"github.com/orderlane/fraud-engine/internal/infrastructure/cache"
)

type countingChecker struct {
	calls   int
	results map[string]denylist.CheckResult
}

func (c *countingChecker) Check(_ context.Context, entryType denylist.EntryType, rawValue string) (denylist.CheckResult, error) {
	c.calls++
	normalized, err := denylist.NormalizeValue(entryType, rawValue)
	if err != nil {
		return denylist.CheckResult{}, nil
	}
	return c.results[string(entryType)+"|"+normalized], nil
}

func setup(t *testing.T, inner cache.Checker, ttl time.Duration) (*cache.DenylistCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return cache.NewDenylistCache(client, inner, ttl, zap.NewNop()), mr
}

func TestCheckCachesMisses(t *testing.T) {
	inner := &countingChecker{}
	c, _ := setup(t, inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.Check(ctx, denylist.TypeIP, "203.0.113.7")
		require.NoError(t, err)
		assert.False(t, res.Denylisted)
	}

	// Only the first miss reaches the store.
	assert.Equal(t, 1, inner.calls)
}

func TestCheckNeverCachesHits(t *testing.T) {
	normalized, err := denylist.NormalizeValue(denylist.TypeEmail, "fraud@example.com")
	require.NoError(t, err)
	inner := &countingChecker{results: map[string]denylist.CheckResult{
		"email|" + normalized: {Denylisted: true, Reason: "chargebacks", Severity: denylist.SeverityHigh},
	}}
	c, _ := setup(t, inner, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := c.Check(ctx, denylist.TypeEmail, "FRAUD@example.com")
		require.NoError(t, err)
		assert.True(t, res.Denylisted)
	}

	// Every positive lookup reaches the store so hit counts stay exact.
	assert.Equal(t, 3, inner.calls)
}

func TestCachedMissExpires(t *testing.T) {
	inner := &countingChecker{}
	c, mr := setup(t, inner, time.Minute)
	ctx := context.Background()

	_, err := c.Check(ctx, denylist.TypeIP, "203.0.113.7")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = c.Check(ctx, denylist.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestInvalidateDropsCachedMiss(t *testing.T) {
	inner := &countingChecker{results: map[string]denylist.CheckResult{}}
	c, _ := setup(t, inner, time.Minute)
	ctx := context.Background()

	res, err := c.Check(ctx, denylist.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)

	// The value gets banned and the miss entry is invalidated.
	normalized, err := denylist.NormalizeValue(denylist.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	inner.results["ip|"+normalized] = denylist.CheckResult{Denylisted: true, Reason: "card testing", Severity: denylist.SeverityHigh}
	c.Invalidate(ctx, denylist.TypeIP, "203.0.113.7")

	res, err = c.Check(ctx, denylist.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Denylisted)
}

func TestRedisFailureFallsThrough(t *testing.T) {
	inner := &countingChecker{}
	c, mr := setup(t, inner, time.Minute)
	ctx := context.Background()

	mr.Close()

	res, err := c.Check(ctx, denylist.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)
	assert.Equal(t, 1, inner.calls)
}

func TestUnnormalizableValueSkipsCacheAndStore(t *testing.T) {
	inner := &countingChecker{}
	c, _ := setup(t, inner, time.Minute)

	res, err := c.Check(context.Background(), denylist.TypeEmail, "   ")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)
	assert.Zero(t, inner.calls)
}

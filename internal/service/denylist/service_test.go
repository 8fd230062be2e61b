package denylist_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/orderlane/fraud-engine/internal/domain/denylist"
	"github.com/orderlane/fraud-engine/internal/domain/errors"
	"github.com/orderlane/fraud-engine/internal/service/denylist"
)

type memoryRepo struct {
	entries map[string]*domain.Entry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{entries: make(map[string]*domain.Entry)}
}

func key(entryType domain.EntryType, value string) string {
	return string(entryType) + "|" + value
}

func (m *memoryRepo) FindByValue(_ context.Context, entryType domain.EntryType, value string) (*domain.Entry, error) {
	e, ok := m.entries[key(entryType, value)]
	if !ok {
		return nil, errors.NewNotFoundError("denylist entry")
	}
	return e, nil
}

func (m *memoryRepo) Create(_ context.Context, e *domain.Entry) error {
	m.entries[key(e.EntryType, e.Value)] = e
	return nil
}

func (m *memoryRepo) Update(_ context.Context, e *domain.Entry) error {
	m.entries[key(e.EntryType, e.Value)] = e
	return nil
}

func (m *memoryRepo) IncrementHitCount(_ context.Context, id uuid.UUID) error {
	for _, e := range m.entries {
		if e.ID == id {
			e.HitCount++
			return nil
		}
	}
	return errors.NewNotFoundError("denylist entry")
}

func (m *memoryRepo) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, e := range m.entries {
		if e.IsActive && e.IsExpired(now) {
			e.Deactivate()
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) List(_ context.Context, entryType *domain.EntryType, activeOnly bool, limit, offset int) ([]*domain.Entry, error) {
	var out []*domain.Entry
	for _, e := range m.entries {
		if entryType != nil && e.EntryType != *entryType {
			continue
		}
		if activeOnly && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAddIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	svc := denylist.NewService(repo, discard(), nil)
	ctx := context.Background()

	first, err := svc.Add(ctx, domain.TypeEmail, "Bad@Actor.com", "chargebacks", denylist.AddOptions{})
	require.NoError(t, err)

	first.HitCount = 4

	// Same value, different case: one row, attributes refreshed, hits kept.
	second, err := svc.Add(ctx, domain.TypeEmail, "BAD@ACTOR.COM", "confirmed fraud ring", denylist.AddOptions{
		Severity: domain.SeverityPermanent,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(4), second.HitCount)
	assert.Equal(t, "confirmed fraud ring", second.Reason)
	assert.Equal(t, domain.SeverityPermanent, second.Severity)
	assert.Len(t, repo.entries, 1)
}

func TestAddReactivatesRemovedEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc := denylist.NewService(repo, discard(), nil)
	ctx := context.Background()

	_, err := svc.Add(ctx, domain.TypeIP, "203.0.113.7", "card testing", denylist.AddOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Remove(ctx, domain.TypeIP, "203.0.113.7"))

	res, err := svc.Check(ctx, domain.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)

	_, err = svc.Add(ctx, domain.TypeIP, "203.0.113.7", "back at it", denylist.AddOptions{})
	require.NoError(t, err)

	res, err = svc.Check(ctx, domain.TypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Denylisted)
	assert.Equal(t, "back at it", res.Reason)
}

func TestAddRejectsUnknownSeverity(t *testing.T) {
	svc := denylist.NewService(newMemoryRepo(), discard(), nil)

	_, err := svc.Add(context.Background(), domain.TypeIP, "1.2.3.4", "r", denylist.AddOptions{
		Severity: domain.Severity("apocalyptic"),
	})
	assert.Error(t, err)
}

func TestCheckIncrementsHitCount(t *testing.T) {
	repo := newMemoryRepo()
	svc := denylist.NewService(repo, discard(), nil)
	ctx := context.Background()

	entry, err := svc.Add(ctx, domain.TypeEmail, "fraud@example.com", "chargebacks", denylist.AddOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := svc.Check(ctx, domain.TypeEmail, "FRAUD@example.com")
		require.NoError(t, err)
		assert.True(t, res.Denylisted)
	}
	assert.Equal(t, int64(3), entry.HitCount)
}

func TestCheckMissReportsNotDenylisted(t *testing.T) {
	svc := denylist.NewService(newMemoryRepo(), discard(), nil)

	res, err := svc.Check(context.Background(), domain.TypeEmail, "clean@example.com")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)
}

func TestCheckExpiredEntryDoesNotMatch(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := denylist.NewService(repo, discard(), nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	expires := now.Add(time.Hour)
	entry, err := svc.Add(ctx, domain.TypeIP, "198.51.100.4", "temp block", denylist.AddOptions{
		ExpiresAt: &expires,
	})
	require.NoError(t, err)

	res, err := svc.Check(ctx, domain.TypeIP, "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, res.Denylisted)

	// Past expiry: no match and no hit-count increment.
	svc.WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	res, err = svc.Check(ctx, domain.TypeIP, "198.51.100.4")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)
	assert.Equal(t, int64(1), entry.HitCount)
}

func TestCheckUnnormalizableValue(t *testing.T) {
	svc := denylist.NewService(newMemoryRepo(), discard(), nil)

	res, err := svc.Check(context.Background(), domain.TypeEmail, "   ")
	require.NoError(t, err)
	assert.False(t, res.Denylisted)
}

func TestAutoDenylist(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := denylist.NewService(repo, discard(), nil).WithClock(func() time.Time { return now })

	entry, err := svc.AutoDenylist(context.Background(), domain.TypeIP, "203.0.113.9", "repeated severe fraud attempts")
	require.NoError(t, err)

	assert.Equal(t, domain.SeverityHigh, entry.Severity)
	require.NotNil(t, entry.ExpiresAt)
	assert.Equal(t, now.Add(denylist.AutoDenylistTTL), *entry.ExpiresAt)
}

func TestCleanupExpired(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := denylist.NewService(repo, discard(), nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	_, err := svc.Add(ctx, domain.TypeIP, "1.1.1.1", "old", denylist.AddOptions{ExpiresAt: &past})
	require.NoError(t, err)
	_, err = svc.Add(ctx, domain.TypeIP, "2.2.2.2", "current", denylist.AddOptions{ExpiresAt: &future})
	require.NoError(t, err)

	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entries, err := svc.List(ctx, nil, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2.2.2.2", entries[0].Value)
}

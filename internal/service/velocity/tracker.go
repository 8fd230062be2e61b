package velocity

import (
	"context"
	"log/slog"
	"time"

	"github.com/orderlane/fraud-engine/internal/domain/errors"
	"github.com/orderlane/fraud-engine/internal/domain/velocity"
	"github.com/orderlane/fraud-engine/internal/metrics"
)

// DefaultRetention is how long closed windows are kept before cleanup.
const DefaultRetention = 24 * time.Hour

// Repository is the persistence contract for velocity windows.
type Repository interface {
	// IncrementOpen atomically increments the count of an open window for
	// (identifier, action) and merges metadata. It returns false when no
	// open window exists.
	IncrementOpen(ctx context.Context, identifier, action string, now time.Time, metadata map[string]string) (*velocity.Window, bool, error)
	// Create inserts a new window.
	Create(ctx context.Context, w *velocity.Window) error
	// SumOpenCounts sums counts across all open windows for the key.
	// Overlapping windows created by racing callers are all counted.
	SumOpenCounts(ctx context.Context, identifier, action string, now time.Time) (int64, error)
	// DeleteExpiredBefore removes windows whose end is before the cutoff,
	// returning how many were deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Tracker maintains per-identifier, per-action windowed counters. Increments
// are atomic at the storage layer; checks deliberately sum all open windows
// for a key, which can over-count when two callers race to open a window.
// That imprecision favors false positives over false negatives and is kept
// intentionally.
type Tracker struct {
	repo    Repository
	logger  *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewTracker creates a velocity tracker.
func NewTracker(repo Repository, logger *slog.Logger, reg *metrics.Registry) *Tracker {
	return &Tracker{
		repo:    repo,
		logger:  logger,
		metrics: reg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the tracker clock. Test use only.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Track records one occurrence of action for identifier. An existing open
// window is incremented; otherwise a fresh window of windowMinutes opens
// with a count of one.
func (t *Tracker) Track(ctx context.Context, identifier, action string, windowMinutes int, metadata map[string]string) (*velocity.Window, error) {
	if identifier == "" || action == "" {
		return nil, errors.NewValidationError("INVALID_VELOCITY_KEY", "identifier and action are required")
	}

	now := t.now()
	w, found, err := t.repo.IncrementOpen(ctx, identifier, action, now, metadata)
	if err != nil {
		return nil, errors.Wrap(err, "incrementing velocity window")
	}
	if found {
		t.metrics.RecordVelocityTrack(ctx, action)
		return w, nil
	}

	w, err = velocity.NewWindow(identifier, action, windowMinutes, now)
	if err != nil {
		return nil, err
	}
	w.MergeMetadata(metadata)
	if err := t.repo.Create(ctx, w); err != nil {
		return nil, errors.Wrap(err, "creating velocity window")
	}
	t.metrics.RecordVelocityTrack(ctx, action)
	return w, nil
}

// CheckLimit reports whether the summed open-window count for the key has
// reached the limit. Storage failures fail open: the check reports not
// exceeded and the event is surfaced through logs and metrics, never by
// blocking the caller.
func (t *Tracker) CheckLimit(ctx context.Context, identifier, action string, limit int64, windowMinutes int) velocity.CheckResult {
	count, err := t.repo.SumOpenCounts(ctx, identifier, action, t.now())
	if err != nil {
		t.logger.WarnContext(ctx, "velocity check failed open",
			"identifier", identifier, "action", action, "error", err)
		t.metrics.RecordFailOpen(ctx, "velocity")
		return velocity.CheckResult{Exceeded: false, CurrentCount: 0, Remaining: limit}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	exceeded := count >= limit
	t.metrics.RecordVelocityCheck(ctx, exceeded)
	return velocity.CheckResult{
		Exceeded:     exceeded,
		CurrentCount: count,
		Remaining:    remaining,
	}
}

// CurrentCount sums counts across all currently-open windows for the key.
func (t *Tracker) CurrentCount(ctx context.Context, identifier, action string) (int64, error) {
	return t.repo.SumOpenCounts(ctx, identifier, action, t.now())
}

// Cleanup deletes windows that closed more than olderThanHours ago. It is
// the only deletion path and is safe to run concurrently with tracking.
func (t *Tracker) Cleanup(ctx context.Context, olderThanHours int) (int64, error) {
	retention := time.Duration(olderThanHours) * time.Hour
	if retention <= 0 {
		retention = DefaultRetention
	}
	deleted, err := t.repo.DeleteExpiredBefore(ctx, t.now().Add(-retention))
	if err != nil {
		return 0, errors.Wrap(err, "cleaning up velocity windows")
	}
	if deleted > 0 {
		t.logger.InfoContext(ctx, "velocity windows cleaned up", "deleted", deleted)
	}
	return deleted, nil
}

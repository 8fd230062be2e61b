package denylist

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
	"github.com/orderlane/fraud-engine/internal/domain/errors"
	"github.com/orderlane/fraud-engine/internal/metrics"
)

// AutoDenylistTTL is the expiry applied to system-added entries.
const AutoDenylistTTL = 30 * 24 * time.Hour

// Repository is the persistence contract for denylist entries. Values are
// already normalized (and hashed for PII types) before they reach it.
type Repository interface {
	// FindByValue returns the entry for (type, value) regardless of its
	// active state, or ErrEntryNotFound.
	FindByValue(ctx context.Context, entryType denylist.EntryType, value string) (*denylist.Entry, error)
	// Create inserts a new entry.
	Create(ctx context.Context, e *denylist.Entry) error
	// Update persists mutable entry fields.
	Update(ctx context.Context, e *denylist.Entry) error
	// IncrementHitCount atomically bumps the hit counter.
	IncrementHitCount(ctx context.Context, id uuid.UUID) error
	// DeactivateExpired bulk-deactivates active entries past their expiry,
	// returning how many were touched.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	// List returns entries filtered by type and active state.
	List(ctx context.Context, entryType *denylist.EntryType, activeOnly bool, limit, offset int) ([]*denylist.Entry, error)
}

// AddOptions carries optional attributes for Add.
type AddOptions struct {
	Severity  denylist.Severity
	ExpiresAt *time.Time
	AddedBy   *uuid.UUID
	Notes     *string
}

// Service owns the denylist: hashed-PII storage, idempotent upserts,
// hit counting, auto-expiry.
type Service struct {
	repo    Repository
	logger  *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// NewService creates a denylist service.
func NewService(repo Repository, logger *slog.Logger, reg *metrics.Registry) *Service {
	return &Service{
		repo:    repo,
		logger:  logger,
		metrics: reg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test use only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Add upserts a denylist entry. Re-adding an existing value reactivates the
// row and overwrites reason, severity, expiry and notes instead of
// duplicating it; the hit count survives.
func (s *Service) Add(ctx context.Context, entryType denylist.EntryType, rawValue, reason string, opts AddOptions) (*denylist.Entry, error) {
	if opts.Severity == "" {
		opts.Severity = denylist.SeverityMedium
	}
	if !denylist.ValidSeverity(opts.Severity) {
		return nil, errors.NewValidationError("INVALID_SEVERITY", "unknown denylist severity")
	}

	value, err := denylist.NormalizeValue(entryType, rawValue)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByValue(ctx, entryType, value)
	switch {
	case err == nil:
		existing.Reactivate(reason, opts.Severity, opts.ExpiresAt)
		if opts.Notes != nil {
			existing.Notes = opts.Notes
		}
		if err := s.repo.Update(ctx, existing); err != nil {
			return nil, errors.Wrap(err, "reactivating denylist entry")
		}
		s.logger.InfoContext(ctx, "denylist entry reactivated",
			"entry_type", string(entryType), "severity", string(opts.Severity))
		return existing, nil
	case errors.IsType(err, errors.ErrorTypeNotFound):
		// Fall through to create.
	default:
		return nil, errors.Wrap(err, "looking up denylist entry")
	}

	entry, err := denylist.NewEntry(entryType, rawValue, reason, opts.Severity)
	if err != nil {
		return nil, err
	}
	entry.ExpiresAt = opts.ExpiresAt
	entry.AddedBy = opts.AddedBy
	entry.Notes = opts.Notes
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, errors.Wrap(err, "creating denylist entry")
	}
	s.logger.InfoContext(ctx, "denylist entry added",
		"entry_type", string(entryType), "severity", string(opts.Severity))
	return entry, nil
}

// Check looks up a raw value. A positive hit on an active, unexpired entry
// increments its hit count; expired or inactive entries, and values that
// cannot be normalized, report not denylisted.
func (s *Service) Check(ctx context.Context, entryType denylist.EntryType, rawValue string) (denylist.CheckResult, error) {
	value, err := denylist.NormalizeValue(entryType, rawValue)
	if err != nil {
		return denylist.CheckResult{}, nil
	}

	entry, err := s.repo.FindByValue(ctx, entryType, value)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return denylist.CheckResult{}, nil
		}
		return denylist.CheckResult{}, errors.Wrap(err, "checking denylist")
	}

	if !entry.IsEffective(s.now()) {
		return denylist.CheckResult{}, nil
	}

	if err := s.repo.IncrementHitCount(ctx, entry.ID); err != nil {
		// A lost hit-count increment never blocks the positive answer.
		s.logger.WarnContext(ctx, "denylist hit count increment failed",
			"entry_id", entry.ID, "error", err)
	}
	s.metrics.RecordDenylistHit(ctx, string(entryType))

	return denylist.CheckResult{
		Denylisted: true,
		Reason:     entry.Reason,
		Severity:   entry.Severity,
	}, nil
}

// Remove soft-deletes an entry by (type, raw value).
func (s *Service) Remove(ctx context.Context, entryType denylist.EntryType, rawValue string) error {
	value, err := denylist.NormalizeValue(entryType, rawValue)
	if err != nil {
		return err
	}
	entry, err := s.repo.FindByValue(ctx, entryType, value)
	if err != nil {
		return err
	}
	entry.Deactivate()
	return s.repo.Update(ctx, entry)
}

// AutoDenylist adds a system-attributed high-severity entry expiring in 30
// days, used when the attempt logger's escalation trigger fires.
func (s *Service) AutoDenylist(ctx context.Context, entryType denylist.EntryType, identifier, reason string) (*denylist.Entry, error) {
	expiresAt := s.now().Add(AutoDenylistTTL)
	return s.Add(ctx, entryType, identifier, reason, AddOptions{
		Severity:  denylist.SeverityHigh,
		ExpiresAt: &expiresAt,
	})
}

// CleanupExpired bulk-deactivates all active entries past their expiry.
// Safe to run concurrently with lookups.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, errors.Wrap(err, "deactivating expired denylist entries")
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired denylist entries deactivated", "count", n)
	}
	return n, nil
}

// List returns entries for admin tooling.
func (s *Service) List(ctx context.Context, entryType *denylist.EntryType, activeOnly bool, limit, offset int) ([]*denylist.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.List(ctx, entryType, activeOnly, limit, offset)
}

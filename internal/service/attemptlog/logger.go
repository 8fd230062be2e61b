package attemptlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/fraud-engine/internal/domain/attempt"
	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

const (
	// Escalation trigger: this many attempts at or above the severity floor
	// within the trailing 24 hours.
	escalationCount        = 3
	escalationSeverityMin  = 7
	escalationLookbackSpan = 24 * time.Hour
)

// Repository is the append-only persistence contract for attempt records.
type Repository interface {
	// Append inserts a record. Records are never updated or deleted.
	Append(ctx context.Context, r *attempt.Record) error
	// CountSevereByIP counts attempts for an IP at or above the severity
	// floor since the given time.
	CountSevereByIP(ctx context.Context, ip string, minSeverity int, since time.Time) (int, error)
	// CountSevereByUser counts attempts for a user at or above the severity
	// floor since the given time.
	CountSevereByUser(ctx context.Context, userID uuid.UUID, minSeverity int, since time.Time) (int, error)
	// ListRecent returns the latest records, newest first.
	ListRecent(ctx context.Context, limit int) ([]*attempt.Record, error)
}

// Logger records suspicious attempts and answers the escalation question.
// It never escalates on its own: the caller checks ShouldDenylistIP/User and
// invokes the denylist when the trigger fires.
type Logger struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates an attempt logger.
func NewLogger(repo Repository, logger *slog.Logger) *Logger {
	return &Logger{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the logger clock. Test use only.
func (l *Logger) WithClock(now func() time.Time) *Logger {
	l.now = now
	return l
}

// Log records a suspicious attempt with its derived severity.
func (l *Logger) Log(ctx context.Context, attemptType attempt.Type, data attempt.Data) (*attempt.Record, error) {
	record, err := attempt.NewRecord(attemptType, data)
	if err != nil {
		return nil, err
	}
	if err := l.repo.Append(ctx, record); err != nil {
		return nil, errors.Wrap(err, "appending attempt record")
	}

	l.logger.InfoContext(ctx, "suspicious attempt logged",
		"attempt_type", string(attemptType),
		"severity", record.Severity,
		"blocked", record.Blocked)
	return record, nil
}

// ShouldDenylistIP reports whether the IP has accumulated enough severe
// attempts in the trailing 24 hours to warrant auto-denylisting.
func (l *Logger) ShouldDenylistIP(ctx context.Context, ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	count, err := l.repo.CountSevereByIP(ctx, ip, escalationSeverityMin, l.now().Add(-escalationLookbackSpan))
	if err != nil {
		return false, errors.Wrap(err, "counting severe attempts by ip")
	}
	return count >= escalationCount, nil
}

// ShouldDenylistUser reports whether the user has accumulated enough severe
// attempts in the trailing 24 hours to warrant auto-denylisting.
func (l *Logger) ShouldDenylistUser(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, nil
	}
	count, err := l.repo.CountSevereByUser(ctx, userID, escalationSeverityMin, l.now().Add(-escalationLookbackSpan))
	if err != nil {
		return false, errors.Wrap(err, "counting severe attempts by user")
	}
	return count >= escalationCount, nil
}

// ListRecent returns the latest attempt records for admin tooling.
func (l *Logger) ListRecent(ctx context.Context, limit int) ([]*attempt.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.repo.ListRecent(ctx, limit)
}

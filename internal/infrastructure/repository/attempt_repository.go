package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/fraud-engine/internal/domain/attempt"
)

// AttemptRepository persists the append-only suspicious-attempt log.
type AttemptRepository struct {
	db *pgxpool.Pool
}

// NewAttemptRepository creates an attempt repository.
func NewAttemptRepository(db *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Append inserts a record. There are no update or delete paths.
func (r *AttemptRepository) Append(ctx context.Context, rec *attempt.Record) error {
	query := `
		INSERT INTO fraud_attempts (id, user_id, order_id, attempt_type, ip_address, device_fingerprint, severity, blocked, block_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.Exec(ctx, query,
		rec.ID, rec.UserID, rec.OrderID, string(rec.AttemptType), rec.IPAddress,
		rec.DeviceFingerprint, rec.Severity, rec.Blocked, rec.BlockReason, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting attempt record: %w", err)
	}
	return nil
}

// CountSevereByIP counts attempts for an IP at or above the severity floor
// since the given time.
func (r *AttemptRepository) CountSevereByIP(ctx context.Context, ip string, minSeverity int, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM fraud_attempts
		WHERE ip_address = $1 AND severity >= $2 AND created_at >= $3`
	if err := r.db.QueryRow(ctx, query, ip, minSeverity, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting attempts by ip: %w", err)
	}
	return count, nil
}

// CountSevereByUser counts attempts for a user at or above the severity
// floor since the given time.
func (r *AttemptRepository) CountSevereByUser(ctx context.Context, userID uuid.UUID, minSeverity int, since time.Time) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM fraud_attempts
		WHERE user_id = $1 AND severity >= $2 AND created_at >= $3`
	if err := r.db.QueryRow(ctx, query, userID, minSeverity, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting attempts by user: %w", err)
	}
	return count, nil
}

// ListRecent returns the latest records, newest first.
func (r *AttemptRepository) ListRecent(ctx context.Context, limit int) ([]*attempt.Record, error) {
	query := `
		SELECT id, user_id, order_id, attempt_type, ip_address, device_fingerprint, severity, blocked, block_reason, created_at
		FROM fraud_attempts
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	defer rows.Close()

	var records []*attempt.Record
	for rows.Next() {
		var (
			rec         attempt.Record
			attemptType string
		)
		err := rows.Scan(&rec.ID, &rec.UserID, &rec.OrderID, &attemptType,
			&rec.IPAddress, &rec.DeviceFingerprint, &rec.Severity,
			&rec.Blocked, &rec.BlockReason, &rec.Timestamp)
		if err != nil {
			return nil, err
		}
		rec.AttemptType = attempt.Type(attemptType)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderHistoryRepository answers the behavioral-rule queries from the
// order_snapshots read model. The checkout pipeline writes a row per order;
// this service only reads.
type OrderHistoryRepository struct {
	db *pgxpool.Pool
}

// NewOrderHistoryRepository creates an order history repository.
func NewOrderHistoryRepository(db *pgxpool.Pool) *OrderHistoryRepository {
	return &OrderHistoryRepository{db: db}
}

// CountOrders returns how many completed orders the user has placed.
func (r *OrderHistoryRepository) CountOrders(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM order_snapshots
		WHERE user_id = $1 AND status = 'completed'`

	var count int
	if err := r.db.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting orders: %w", err)
	}
	return count, nil
}

// DeviceSeenBefore reports whether the fingerprint appears on any of the
// user's orders created before the cutoff.
func (r *OrderHistoryRepository) DeviceSeenBefore(ctx context.Context, userID uuid.UUID, fingerprint string, before time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM order_snapshots
			WHERE user_id = $1 AND device_fingerprint = $2 AND created_at < $3
		)`

	var seen bool
	if err := r.db.QueryRow(ctx, query, userID, fingerprint, before).Scan(&seen); err != nil {
		return false, fmt.Errorf("checking device history: %w", err)
	}
	return seen, nil
}

// DistinctCards returns how many distinct card-last-4 values the user has
// used since the cutoff.
func (r *OrderHistoryRepository) DistinctCards(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT card_last4)
		FROM order_snapshots
		WHERE user_id = $1 AND card_last4 <> '' AND created_at >= $2`

	var count int
	if err := r.db.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting distinct cards: %w", err)
	}
	return count, nil
}

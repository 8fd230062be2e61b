package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/fraud-engine/internal/domain/velocity"
)

// VelocityRepository persists windowed counters in Postgres. Increments are
// a single UPDATE so concurrent callers for the same key never lose counts.
type VelocityRepository struct {
	db *pgxpool.Pool
}

// NewVelocityRepository creates a velocity repository.
func NewVelocityRepository(db *pgxpool.Pool) *VelocityRepository {
	return &VelocityRepository{db: db}
}

// IncrementOpen bumps the most recent open window for (identifier, action)
// and merges metadata, existing keys winning. Returns false when no open
// window exists.
func (r *VelocityRepository) IncrementOpen(ctx context.Context, identifier, action string, now time.Time, metadata map[string]string) (*velocity.Window, bool, error) {
	md, err := json.Marshal(metadata)
	if err != nil {
		return nil, false, fmt.Errorf("marshaling window metadata: %w", err)
	}

	query := `
		UPDATE velocity_windows
		SET count = count + 1,
		    metadata = $4::jsonb || metadata
		WHERE id = (
			SELECT id FROM velocity_windows
			WHERE identifier = $1 AND action = $2 AND window_end > $3
			ORDER BY window_end DESC
			LIMIT 1
		)
		RETURNING id, identifier, action, count, window_start, window_end, metadata`

	w, err := scanWindow(r.db.QueryRow(ctx, query, identifier, action, now, md))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("incrementing velocity window: %w", err)
	}
	return w, true, nil
}

// Create inserts a new window.
func (r *VelocityRepository) Create(ctx context.Context, w *velocity.Window) error {
	md, err := json.Marshal(w.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling window metadata: %w", err)
	}
	query := `
		INSERT INTO velocity_windows (id, identifier, action, count, window_start, window_end, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.Exec(ctx, query, w.ID, w.Identifier, w.Action, w.Count, w.WindowStart, w.WindowEnd, md); err != nil {
		return fmt.Errorf("inserting velocity window: %w", err)
	}
	return nil
}

// SumOpenCounts sums counts across all open windows for the key. Overlapping
// windows are all counted.
func (r *VelocityRepository) SumOpenCounts(ctx context.Context, identifier, action string, now time.Time) (int64, error) {
	var sum int64
	query := `
		SELECT COALESCE(SUM(count), 0)
		FROM velocity_windows
		WHERE identifier = $1 AND action = $2 AND window_end > $3`
	if err := r.db.QueryRow(ctx, query, identifier, action, now).Scan(&sum); err != nil {
		return 0, fmt.Errorf("summing open windows: %w", err)
	}
	return sum, nil
}

// DeleteExpiredBefore removes windows that closed before the cutoff.
func (r *VelocityRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM velocity_windows WHERE window_end < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired windows: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanWindow(row pgx.Row) (*velocity.Window, error) {
	var (
		w  velocity.Window
		md []byte
	)
	if err := row.Scan(&w.ID, &w.Identifier, &w.Action, &w.Count, &w.WindowStart, &w.WindowEnd, &md); err != nil {
		return nil, err
	}
	if len(md) > 0 {
		if err := json.Unmarshal(md, &w.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling window metadata: %w", err)
		}
	}
	return &w, nil
}

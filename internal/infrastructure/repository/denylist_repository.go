package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
)

// DenylistRepository persists denylist entries in Postgres. A unique index
// on (entry_type, value) backs the idempotent upsert in the service layer.
type DenylistRepository struct {
	db *pgxpool.Pool
}

// NewDenylistRepository creates a denylist repository.
func NewDenylistRepository(db *pgxpool.Pool) *DenylistRepository {
	return &DenylistRepository{db: db}
}

const denylistColumns = `id, entry_type, value, reason, severity, expires_at, is_active, hit_count, added_by, notes, created_at, updated_at`

// FindByValue returns the entry for (type, value) regardless of active state.
func (r *DenylistRepository) FindByValue(ctx context.Context, entryType denylist.EntryType, value string) (*denylist.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM denylist_entries WHERE entry_type = $1 AND value = $2`, denylistColumns)
	e, err := scanDenylistEntry(r.db.QueryRow(ctx, query, string(entryType), value))
	if err != nil {
		return nil, notFound(err, "denylist entry")
	}
	return e, nil
}

// Create inserts an entry.
func (r *DenylistRepository) Create(ctx context.Context, e *denylist.Entry) error {
	query := `
		INSERT INTO denylist_entries (id, entry_type, value, reason, severity, expires_at, is_active, hit_count, added_by, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.Exec(ctx, query,
		e.ID, string(e.EntryType), e.Value, e.Reason, string(e.Severity),
		e.ExpiresAt, e.IsActive, e.HitCount, e.AddedBy, e.Notes,
		e.CreatedAt, e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A racing Add won; the caller's upsert semantics absorb this.
			return fmt.Errorf("denylist entry already exists: %w", err)
		}
		return fmt.Errorf("inserting denylist entry: %w", err)
	}
	return nil
}

// Update persists mutable entry fields. The hit counter is excluded; it
// only moves through IncrementHitCount.
func (r *DenylistRepository) Update(ctx context.Context, e *denylist.Entry) error {
	query := `
		UPDATE denylist_entries
		SET reason = $2, severity = $3, expires_at = $4, is_active = $5,
		    notes = $6, updated_at = $7
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query,
		e.ID, e.Reason, string(e.Severity), e.ExpiresAt, e.IsActive,
		e.Notes, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating denylist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "denylist entry")
	}
	return nil
}

// IncrementHitCount atomically bumps the hit counter.
func (r *DenylistRepository) IncrementHitCount(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE denylist_entries SET hit_count = hit_count + 1 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("incrementing hit count: %w", err)
	}
	return nil
}

// DeactivateExpired bulk-deactivates active entries past their expiry.
func (r *DenylistRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE denylist_entries
		SET is_active = false, updated_at = $1
		WHERE is_active = true AND expires_at IS NOT NULL AND expires_at < $1`
	tag, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("deactivating expired entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// List returns entries filtered by type and active state.
func (r *DenylistRepository) List(ctx context.Context, entryType *denylist.EntryType, activeOnly bool, limit, offset int) ([]*denylist.Entry, error) {
	query := fmt.Sprintf(`SELECT %s FROM denylist_entries WHERE 1=1`, denylistColumns)
	args := []any{}
	n := 0
	if entryType != nil {
		n++
		query += fmt.Sprintf(" AND entry_type = $%d", n)
		args = append(args, string(*entryType))
	}
	if activeOnly {
		query += " AND is_active = true"
	}
	n++
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", n)
	args = append(args, limit)
	n++
	query += fmt.Sprintf(" OFFSET $%d", n)
	args = append(args, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing denylist entries: %w", err)
	}
	defer rows.Close()

	var entries []*denylist.Entry
	for rows.Next() {
		e, err := scanDenylistEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanDenylistEntry(row pgx.Row) (*denylist.Entry, error) {
	var (
		e         denylist.Entry
		entryType string
		severity  string
	)
	err := row.Scan(&e.ID, &entryType, &e.Value, &e.Reason, &severity,
		&e.ExpiresAt, &e.IsActive, &e.HitCount, &e.AddedBy, &e.Notes,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.EntryType = denylist.EntryType(entryType)
	e.Severity = denylist.Severity(severity)
	return &e, nil
}

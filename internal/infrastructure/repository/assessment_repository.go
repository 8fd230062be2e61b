package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/fraud-engine/internal/domain/assessment"
	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

// AssessmentRepository persists risk assessments in Postgres. A unique index
// on order_id enforces one assessment per order.
type AssessmentRepository struct {
	db *pgxpool.Pool
}

// NewAssessmentRepository creates an assessment repository.
func NewAssessmentRepository(db *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

const assessmentColumns = `id, order_id, user_id, total_score, raw_score, risk_level, recommended_action,
	triggered_rules, score_breakdown, status, reviewer, reviewed_at, review_notes, false_positive,
	created_at, updated_at`

// Create inserts an assessment. A duplicate order id surfaces as a conflict
// so concurrent duplicate assessment requests are deduplicated at the store.
func (r *AssessmentRepository) Create(ctx context.Context, a *assessment.Assessment) error {
	triggered, err := json.Marshal(a.TriggeredRules)
	if err != nil {
		return fmt.Errorf("marshaling triggered rules: %w", err)
	}
	breakdown, err := json.Marshal(a.ScoreBreakdown)
	if err != nil {
		return fmt.Errorf("marshaling score breakdown: %w", err)
	}

	query := `
		INSERT INTO risk_assessments (id, order_id, user_id, total_score, raw_score, risk_level, recommended_action,
			triggered_rules, score_breakdown, status, reviewer, reviewed_at, review_notes, false_positive,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = r.db.Exec(ctx, query,
		a.ID, a.OrderID, a.UserID, a.TotalScore, a.RawScore, string(a.RiskLevel),
		string(a.RecommendedAction), triggered, breakdown, string(a.Status),
		a.Reviewer, a.ReviewedAt, a.ReviewNotes, a.FalsePositive,
		a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.ErrDuplicateAssessment
		}
		return fmt.Errorf("inserting assessment: %w", err)
	}
	return nil
}

// GetByID returns one assessment.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*assessment.Assessment, error) {
	query := fmt.Sprintf(`SELECT %s FROM risk_assessments WHERE id = $1`, assessmentColumns)
	a, err := scanAssessment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "assessment")
	}
	return a, nil
}

// GetByOrderID returns the assessment for an order.
func (r *AssessmentRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*assessment.Assessment, error) {
	query := fmt.Sprintf(`SELECT %s FROM risk_assessments WHERE order_id = $1`, assessmentColumns)
	a, err := scanAssessment(r.db.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, notFound(err, "assessment")
	}
	return a, nil
}

// Update persists review-workflow mutations.
func (r *AssessmentRepository) Update(ctx context.Context, a *assessment.Assessment) error {
	query := `
		UPDATE risk_assessments
		SET status = $2, reviewer = $3, reviewed_at = $4, review_notes = $5,
		    false_positive = $6, updated_at = $7
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query,
		a.ID, string(a.Status), a.Reviewer, a.ReviewedAt, a.ReviewNotes,
		a.FalsePositive, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating assessment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "assessment")
	}
	return nil
}

// List returns assessments filtered by status and risk levels, newest first.
func (r *AssessmentRepository) List(ctx context.Context, status assessment.Status, levels []assessment.RiskLevel, limit, offset int) ([]*assessment.Assessment, error) {
	levelStrings := make([]string, len(levels))
	for i, l := range levels {
		levelStrings[i] = string(l)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM risk_assessments
		WHERE status = $1 AND risk_level = ANY($2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, assessmentColumns)
	rows, err := r.db.Query(ctx, query, string(status), levelStrings, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()

	var assessments []*assessment.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

func scanAssessment(row pgx.Row) (*assessment.Assessment, error) {
	var (
		a         assessment.Assessment
		level     string
		action    string
		status    string
		triggered []byte
		breakdown []byte
	)
	err := row.Scan(&a.ID, &a.OrderID, &a.UserID, &a.TotalScore, &a.RawScore,
		&level, &action, &triggered, &breakdown, &status, &a.Reviewer,
		&a.ReviewedAt, &a.ReviewNotes, &a.FalsePositive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.RiskLevel = assessment.RiskLevel(level)
	a.RecommendedAction = assessment.RecommendedAction(action)
	a.Status = assessment.Status(status)
	if len(triggered) > 0 {
		if err := json.Unmarshal(triggered, &a.TriggeredRules); err != nil {
			return nil, fmt.Errorf("unmarshaling triggered rules: %w", err)
		}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &a.ScoreBreakdown); err != nil {
			return nil, fmt.Errorf("unmarshaling score breakdown: %w", err)
		}
	}
	return &a, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/fraud-engine/internal/domain/rule"
)

// RuleRepository persists risk rules in Postgres. Rule conditions are stored
// as a JSONB document.
type RuleRepository struct {
	db *pgxpool.Pool
}

// NewRuleRepository creates a rule repository.
func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, rule_type, conditions, risk_score, action, is_active, priority, trigger_count, created_at, updated_at`

// ListActive returns all active rules. Callers sort by priority.
func (r *RuleRepository) ListActive(ctx context.Context) ([]*rule.RiskRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM risk_rules WHERE is_active = true`, ruleColumns)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying active rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// List returns rules for admin tooling, active or not.
func (r *RuleRepository) List(ctx context.Context, limit, offset int) ([]*rule.RiskRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM risk_rules ORDER BY priority DESC, id ASC LIMIT $1 OFFSET $2`, ruleColumns)
	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// GetByID returns one rule.
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*rule.RiskRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM risk_rules WHERE id = $1`, ruleColumns)
	rr, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "rule")
	}
	return rr, nil
}

// Create inserts a rule.
func (r *RuleRepository) Create(ctx context.Context, rr *rule.RiskRule) error {
	conditions, err := json.Marshal(rr.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling rule conditions: %w", err)
	}
	query := `
		INSERT INTO risk_rules (id, name, rule_type, conditions, risk_score, action, is_active, priority, trigger_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.db.Exec(ctx, query,
		rr.ID, rr.Name, string(rr.RuleType), conditions, rr.RiskScore,
		string(rr.Action), rr.IsActive, rr.Priority, rr.TriggerCount,
		rr.CreatedAt, rr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update persists rule edits. The trigger counter is excluded; it only
// moves through IncrementTriggerCount.
func (r *RuleRepository) Update(ctx context.Context, rr *rule.RiskRule) error {
	conditions, err := json.Marshal(rr.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling rule conditions: %w", err)
	}
	query := `
		UPDATE risk_rules
		SET name = $2, rule_type = $3, conditions = $4, risk_score = $5,
		    action = $6, is_active = $7, priority = $8, updated_at = $9
		WHERE id = $1`
	tag, err := r.db.Exec(ctx, query,
		rr.ID, rr.Name, string(rr.RuleType), conditions, rr.RiskScore,
		string(rr.Action), rr.IsActive, rr.Priority, rr.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "rule")
	}
	return nil
}

// IncrementTriggerCount atomically bumps the monotonic trigger counter.
func (r *RuleRepository) IncrementTriggerCount(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE risk_rules SET trigger_count = trigger_count + 1 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("incrementing trigger count: %w", err)
	}
	return nil
}

func scanRules(rows pgx.Rows) ([]*rule.RiskRule, error) {
	var rules []*rule.RiskRule
	for rows.Next() {
		rr, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rr)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (*rule.RiskRule, error) {
	var (
		rr         rule.RiskRule
		ruleType   string
		action     string
		conditions []byte
	)
	err := row.Scan(&rr.ID, &rr.Name, &ruleType, &conditions, &rr.RiskScore,
		&action, &rr.IsActive, &rr.Priority, &rr.TriggerCount,
		&rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rr.RuleType = rule.Type(ruleType)
	rr.Action = rule.Action(action)
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &rr.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshaling rule conditions: %w", err)
		}
	}
	return &rr, nil
}

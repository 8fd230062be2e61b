package rule

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

// Type identifies the evaluation semantics of a risk rule.
type Type string

const (
	TypeVelocityCheck     Type = "velocity_check"
	TypeAmountThreshold   Type = "amount_threshold"
	TypeLocationMismatch  Type = "location_mismatch"
	TypeDeviceFingerprint Type = "device_fingerprint"
	TypeBehavioralPattern Type = "behavioral_pattern"
	TypeDenylistMatch     Type = "blacklist_match"
	TypeHighRiskCountry   Type = "high_risk_country"
	TypeSuspiciousEmail   Type = "suspicious_email"
	TypeMultipleCards     Type = "multiple_cards"
	TypeUnusualTime       Type = "unusual_time"
)

// Action is the rule-level recommendation when a rule triggers.
type Action string

const (
	ActionAllow Action = "allow"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// ComparisonOperator is used by operator-driven rules (amount_threshold).
type ComparisonOperator string

const (
	OpGreaterThan  ComparisonOperator = ">"
	OpGreaterEqual ComparisonOperator = ">="
	OpLessThan     ComparisonOperator = "<"
	OpLessEqual    ComparisonOperator = "<="
	OpEqual        ComparisonOperator = "=="
)

// Conditions holds per-type rule configuration. Each rule type reads only
// the fields it needs; unset fields are ignored. JSON tags match the
// persisted conditions document.
type Conditions struct {
	// velocity_check
	IdentifierField string `json:"identifier_field,omitempty"`
	Action          string `json:"action,omitempty"`

	// velocity_check, amount_threshold, multiple_cards
	Threshold decimal.Decimal `json:"threshold,omitempty"`

	// amount_threshold
	Operator ComparisonOperator `json:"operator,omitempty"`

	// behavioral_pattern
	Pattern         string          `json:"pattern,omitempty"`
	AmountThreshold decimal.Decimal `json:"amount_threshold,omitempty"`

	// blacklist_match
	CheckTypes []string `json:"check_types,omitempty"`

	// high_risk_country
	Countries []string `json:"countries,omitempty"`

	// multiple_cards
	TimeWindowHours int `json:"time_window,omitempty"`

	// unusual_time, hours in [0,24)
	UnusualStart *int `json:"unusual_start,omitempty"`
	UnusualEnd   *int `json:"unusual_end,omitempty"`
}

// RiskRule is a named, weighted, independently togglable predicate over a
// transaction context. Rules are data, not code: semantics live in the
// evaluator registry keyed by Type.
type RiskRule struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	RuleType     Type       `json:"rule_type"`
	Conditions   Conditions `json:"conditions"`
	RiskScore    int        `json:"risk_score"`
	Action       Action     `json:"action"`
	IsActive     bool       `json:"is_active"`
	Priority     int        `json:"priority"`
	TriggerCount int64      `json:"trigger_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewRiskRule creates a rule with validation.
func NewRiskRule(name string, ruleType Type, conditions Conditions, riskScore int, action Action) (*RiskRule, error) {
	if name == "" {
		return nil, errors.NewValidationError("INVALID_RULE_NAME", "rule name cannot be empty")
	}
	if !ValidType(ruleType) {
		return nil, errors.NewValidationError("INVALID_RULE_TYPE", "unknown rule type")
	}
	if riskScore < 0 || riskScore > 100 {
		return nil, errors.NewValidationError("INVALID_RISK_SCORE", "risk score must be between 0 and 100")
	}
	switch action {
	case ActionAllow, ActionFlag, ActionBlock:
	default:
		return nil, errors.NewValidationError("INVALID_RULE_ACTION", "action must be allow, flag or block")
	}

	now := time.Now().UTC()
	return &RiskRule{
		ID:         uuid.New(),
		Name:       name,
		RuleType:   ruleType,
		Conditions: conditions,
		RiskScore:  riskScore,
		Action:     action,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// ValidType reports whether t is a known rule type.
func ValidType(t Type) bool {
	switch t {
	case TypeVelocityCheck, TypeAmountThreshold, TypeLocationMismatch,
		TypeDeviceFingerprint, TypeBehavioralPattern, TypeDenylistMatch,
		TypeHighRiskCountry, TypeSuspiciousEmail, TypeMultipleCards,
		TypeUnusualTime:
		return true
	}
	return false
}

// Activate enables the rule.
func (r *RiskRule) Activate() {
	r.IsActive = true
	r.UpdatedAt = time.Now().UTC()
}

// Deactivate disables the rule; a disabled rule is skipped entirely during
// assessment and contributes nothing to the total score.
func (r *RiskRule) Deactivate() {
	r.IsActive = false
	r.UpdatedAt = time.Now().UTC()
}

// SetPriority updates the evaluation priority (higher evaluates first).
func (r *RiskRule) SetPriority(p int) {
	r.Priority = p
	r.UpdatedAt = time.Now().UTC()
}

// SortByPriority orders rules by priority descending, ties broken by rule id
// ascending so evaluation order is deterministic.
func SortByPriority(rules []*RiskRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID.String() < rules[j].ID.String()
	})
}

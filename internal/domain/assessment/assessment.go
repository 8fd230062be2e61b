package assessment

import (
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/fraud-engine/internal/domain/errors"
)

// Status is the review state of an assessment.
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusFalsePositive Status = "false_positive"
)

// RiskLevel classifies the aggregated score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RecommendedAction is the automated policy derived from the risk level.
type RecommendedAction string

const (
	ActionApprove RecommendedAction = "approve"
	ActionFlag    RecommendedAction = "flag"
	ActionReview  RecommendedAction = "review"
	ActionBlock   RecommendedAction = "block"
)

// RuleContribution is one triggered rule's share of the total score,
// snapshotted at evaluation time so later rule edits do not retroactively
// alter historical assessments.
type RuleContribution struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleName string    `json:"rule_name"`
	Score    int       `json:"score"`
}

// Assessment is the persisted outcome of running all active rules against
// one order's context. Created once per order; mutated only through the
// review workflow.
type Assessment struct {
	ID                uuid.UUID          `json:"id"`
	OrderID           uuid.UUID          `json:"order_id"`
	UserID            *uuid.UUID         `json:"user_id,omitempty"`
	TotalScore        int                `json:"total_score"`
	RawScore          int                `json:"raw_score"`
	RiskLevel         RiskLevel          `json:"risk_level"`
	RecommendedAction RecommendedAction  `json:"recommended_action"`
	TriggeredRules    []uuid.UUID        `json:"triggered_rules"`
	ScoreBreakdown    []RuleContribution `json:"score_breakdown"`
	Status            Status             `json:"status"`
	Reviewer          *uuid.UUID         `json:"reviewer,omitempty"`
	ReviewedAt        *time.Time         `json:"reviewed_at,omitempty"`
	ReviewNotes       string             `json:"review_notes,omitempty"`
	FalsePositive     bool               `json:"false_positive"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// New builds a pending assessment from the evaluated rule contributions.
// The raw sum may exceed 100; the reported total is clamped to [0, 100].
func New(orderID uuid.UUID, userID *uuid.UUID, breakdown []RuleContribution) (*Assessment, error) {
	if orderID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ORDER_ID", "order id cannot be empty")
	}

	raw := 0
	triggered := make([]uuid.UUID, 0, len(breakdown))
	for _, c := range breakdown {
		raw += c.Score
		triggered = append(triggered, c.RuleID)
	}
	total := raw
	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	now := time.Now().UTC()
	return &Assessment{
		ID:                uuid.New(),
		OrderID:           orderID,
		UserID:            userID,
		TotalScore:        total,
		RawScore:          raw,
		RiskLevel:         LevelForScore(total),
		RecommendedAction: ActionForLevel(LevelForScore(total)),
		TriggeredRules:    triggered,
		ScoreBreakdown:    breakdown,
		Status:            StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// LevelForScore maps a clamped score onto a risk level:
// 0-39 low, 40-59 medium, 60-79 high, 80+ critical.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ActionForLevel maps a risk level onto the recommended automated action.
func ActionForLevel(level RiskLevel) RecommendedAction {
	switch level {
	case RiskCritical:
		return ActionBlock
	case RiskHigh:
		return ActionReview
	case RiskMedium:
		return ActionFlag
	default:
		return ActionApprove
	}
}

// IsTerminal reports whether the assessment has left the pending state.
// Terminal assessments accept no further transitions, with the single
// exception of false-positive relabeling of an approved record.
func (a *Assessment) IsTerminal() bool {
	return a.Status != StatusPending
}

// Approve transitions pending -> approved.
func (a *Assessment) Approve(reviewer uuid.UUID, notes string) error {
	if a.Status != StatusPending {
		return errors.NewInvalidStateError(string(a.Status), string(StatusApproved))
	}
	a.applyReview(StatusApproved, reviewer, notes)
	return nil
}

// Reject transitions pending -> rejected.
func (a *Assessment) Reject(reviewer uuid.UUID, notes string) error {
	if a.Status != StatusPending {
		return errors.NewInvalidStateError(string(a.Status), string(StatusRejected))
	}
	a.applyReview(StatusRejected, reviewer, notes)
	return nil
}

// MarkFalsePositive approves the assessment and labels it a false positive
// for downstream model feedback. An already-approved assessment may be
// relabeled; any other terminal state is rejected.
func (a *Assessment) MarkFalsePositive(reviewer uuid.UUID, notes string) error {
	switch a.Status {
	case StatusPending:
		a.applyReview(StatusApproved, reviewer, notes)
	case StatusApproved:
		a.UpdatedAt = time.Now().UTC()
	default:
		return errors.NewInvalidStateError(string(a.Status), string(StatusApproved))
	}
	a.FalsePositive = true
	return nil
}

func (a *Assessment) applyReview(status Status, reviewer uuid.UUID, notes string) {
	now := time.Now().UTC()
	a.Status = status
	a.Reviewer = &reviewer
	a.ReviewedAt = &now
	a.ReviewNotes = notes
	a.UpdatedAt = now
}

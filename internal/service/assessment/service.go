package assessment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/fraud-engine/internal/domain/assessment"
	"github.com/orderlane/fraud-engine/internal/domain/errors"
	"github.com/orderlane/fraud-engine/internal/domain/rule"
	"github.com/orderlane/fraud-engine/internal/metrics"
	"github.com/orderlane/fraud-engine/internal/service/evaluator"
)

// RuleRepository is the persistence contract for risk rules.
type RuleRepository interface {
	ListActive(ctx context.Context) ([]*rule.RiskRule, error)
	List(ctx context.Context, limit, offset int) ([]*rule.RiskRule, error)
	GetByID(ctx context.Context, id uuid.UUID) (*rule.RiskRule, error)
	Create(ctx context.Context, r *rule.RiskRule) error
	Update(ctx context.Context, r *rule.RiskRule) error
	// IncrementTriggerCount atomically bumps the monotonic trigger counter.
	IncrementTriggerCount(ctx context.Context, id uuid.UUID) error
}

// Repository is the persistence contract for assessments. Create must
// enforce one assessment per order id and surface duplicates as a conflict.
type Repository interface {
	Create(ctx context.Context, a *assessment.Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*assessment.Assessment, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*assessment.Assessment, error)
	Update(ctx context.Context, a *assessment.Assessment) error
	List(ctx context.Context, status assessment.Status, levels []assessment.RiskLevel, limit, offset int) ([]*assessment.Assessment, error)
}

// OrderGateway signals order-state changes to the checkout pipeline. The
// engine never owns order processing; holds and releases are a collaborator
// concern.
type OrderGateway interface {
	// Release moves an order held in fraud review back to normal
	// processing. Releasing an order that was never held is a no-op.
	Release(ctx context.Context, orderID uuid.UUID) error
	// Cancel cancels the order following a rejection.
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) error
}

// Decision is a reviewer's verdict on a pending assessment.
type Decision string

const (
	DecisionApprove       Decision = "approve"
	DecisionReject        Decision = "reject"
	DecisionFalsePositive Decision = "false_positive"
)

// Service aggregates rule evaluations into persisted assessments and drives
// the human-review workflow over them.
type Service struct {
	rules       RuleRepository
	assessments Repository
	engine      *evaluator.Engine
	orders      OrderGateway
	logger      *slog.Logger
	metrics     *metrics.Registry
}

// NewService creates the assessment service.
func NewService(rules RuleRepository, assessments Repository, engine *evaluator.Engine, orders OrderGateway, logger *slog.Logger, reg *metrics.Registry) *Service {
	return &Service{
		rules:       rules,
		assessments: assessments,
		engine:      engine,
		orders:      orders,
		logger:      logger,
		metrics:     reg,
	}
}

// Assess runs all active rules against the order context and persists a
// pending assessment. It is side-effect-free with respect to order state:
// the only writes are the assessment row and the triggered rules' counters.
// A persistence failure is fatal to the call; callers must treat it as
// "unable to assess" and fall back to a conservative policy.
func (s *Service) Assess(ctx context.Context, orderCtx map[string]any) (*assessment.Assessment, error) {
	started := time.Now()

	ec := evaluator.NewContext(orderCtx)
	orderID, ok := ec.UUID(evaluator.KeyOrderID)
	if !ok {
		return nil, errors.NewValidationError("MISSING_ORDER_ID", "order_id is required in assessment context")
	}
	var userID *uuid.UUID
	if id, ok := ec.UUID(evaluator.KeyUserID); ok {
		userID = &id
	}

	active, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading active rules")
	}
	rule.SortByPriority(active)

	var breakdown []assessment.RuleContribution
	for _, r := range active {
		if !s.engine.Evaluate(ctx, r, ec) {
			continue
		}
		breakdown = append(breakdown, assessment.RuleContribution{
			RuleID:   r.ID,
			RuleName: r.Name,
			Score:    r.RiskScore,
		})
		s.metrics.RecordRuleTriggered(ctx, string(r.RuleType))
	}

	a, err := assessment.New(orderID, userID, breakdown)
	if err != nil {
		return nil, err
	}

	if err := s.assessments.Create(ctx, a); err != nil {
		return nil, errors.Wrap(err, "persisting assessment")
	}

	// Trigger counters are best-effort bookkeeping; a failed increment
	// never invalidates a persisted assessment.
	for _, c := range breakdown {
		if err := s.rules.IncrementTriggerCount(ctx, c.RuleID); err != nil {
			s.logger.WarnContext(ctx, "rule trigger count increment failed",
				"rule_id", c.RuleID, "error", err)
		}
	}

	s.metrics.RecordAssessment(ctx, string(a.RiskLevel), time.Since(started).Seconds())
	s.logger.InfoContext(ctx, "order assessed",
		"order_id", orderID,
		"total_score", a.TotalScore,
		"risk_level", string(a.RiskLevel),
		"recommended_action", string(a.RecommendedAction),
		"triggered_rules", len(breakdown))
	return a, nil
}

// ApplyDecision applies a reviewer's verdict to a pending assessment.
// Decisions against a non-pending assessment fail with an invalid-state
// error and touch nothing.
func (s *Service) ApplyDecision(ctx context.Context, assessmentID uuid.UUID, decision Decision, reviewer uuid.UUID, notes string) (*assessment.Assessment, error) {
	if reviewer == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_REVIEWER", "reviewer id cannot be empty")
	}

	a, err := s.assessments.GetByID(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	switch decision {
	case DecisionApprove:
		err = a.Approve(reviewer, notes)
	case DecisionReject:
		err = a.Reject(reviewer, notes)
	case DecisionFalsePositive:
		err = a.MarkFalsePositive(reviewer, notes)
	default:
		return nil, errors.NewValidationError("INVALID_DECISION", "decision must be approve, reject or false_positive")
	}
	if err != nil {
		return nil, err
	}

	if err := s.assessments.Update(ctx, a); err != nil {
		return nil, errors.Wrap(err, "persisting decision")
	}
	s.metrics.RecordDecision(ctx, string(decision))

	switch decision {
	case DecisionApprove, DecisionFalsePositive:
		if err := s.orders.Release(ctx, a.OrderID); err != nil {
			s.logger.ErrorContext(ctx, "order release failed after approval",
				"order_id", a.OrderID, "assessment_id", a.ID, "error", err)
			return a, errors.NewExternalError("orders", "order release failed").WithCause(err)
		}
	case DecisionReject:
		if err := s.orders.Cancel(ctx, a.OrderID, "fraud review rejection"); err != nil {
			s.logger.ErrorContext(ctx, "order cancel failed after rejection",
				"order_id", a.OrderID, "assessment_id", a.ID, "error", err)
			return a, errors.NewExternalError("orders", "order cancel failed").WithCause(err)
		}
	}

	s.logger.InfoContext(ctx, "review decision applied",
		"assessment_id", a.ID,
		"decision", string(decision),
		"reviewer", reviewer)
	return a, nil
}

// Get returns one assessment by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*assessment.Assessment, error) {
	return s.assessments.GetByID(ctx, id)
}

// GetByOrder returns the assessment for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID uuid.UUID) (*assessment.Assessment, error) {
	return s.assessments.GetByOrderID(ctx, orderID)
}

// ReviewQueue lists assessments awaiting review, filtered by risk level.
// With no levels given it defaults to high and critical, the levels human
// reviewers act on.
func (s *Service) ReviewQueue(ctx context.Context, status assessment.Status, levels []assessment.RiskLevel, limit, offset int) ([]*assessment.Assessment, error) {
	if status == "" {
		status = assessment.StatusPending
	}
	if len(levels) == 0 {
		levels = []assessment.RiskLevel{assessment.RiskHigh, assessment.RiskCritical}
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.assessments.List(ctx, status, levels, limit, offset)
}

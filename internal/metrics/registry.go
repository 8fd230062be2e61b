package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the fraud-engine domain metrics. A nil registry is valid
// and records nothing, which keeps tests free of metric plumbing.
type Registry struct {
	meter metric.Meter

	// Assessment metrics
	AssessmentCounter    metric.Int64Counter
	AssessmentDuration   metric.Float64Histogram
	RuleTriggeredCounter metric.Int64Counter

	// Velocity metrics
	VelocityTrackCounter metric.Int64Counter
	VelocityCheckCounter metric.Int64Counter

	// Denylist metrics
	DenylistHitCounter metric.Int64Counter

	// Fail-open events per component (velocity, denylist, evaluator)
	FailOpenCounter metric.Int64Counter

	// Review workflow
	DecisionCounter metric.Int64Counter
}

// NewRegistry creates the metric instruments on the named meter.
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	var err error
	if r.AssessmentCounter, err = meter.Int64Counter(
		"fraud.assessments.total",
		metric.WithDescription("Risk assessments performed, by risk level"),
	); err != nil {
		return nil, err
	}
	if r.AssessmentDuration, err = meter.Float64Histogram(
		"fraud.assessment.duration",
		metric.WithDescription("Assessment duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if r.RuleTriggeredCounter, err = meter.Int64Counter(
		"fraud.rules.triggered.total",
		metric.WithDescription("Rule triggers, by rule type"),
	); err != nil {
		return nil, err
	}
	if r.VelocityTrackCounter, err = meter.Int64Counter(
		"fraud.velocity.tracked.total",
		metric.WithDescription("Velocity track operations, by action"),
	); err != nil {
		return nil, err
	}
	if r.VelocityCheckCounter, err = meter.Int64Counter(
		"fraud.velocity.checks.total",
		metric.WithDescription("Velocity limit checks, by outcome"),
	); err != nil {
		return nil, err
	}
	if r.DenylistHitCounter, err = meter.Int64Counter(
		"fraud.denylist.hits.total",
		metric.WithDescription("Positive denylist lookups, by entry type"),
	); err != nil {
		return nil, err
	}
	if r.FailOpenCounter, err = meter.Int64Counter(
		"fraud.failopen.total",
		metric.WithDescription("Fail-open events, by component"),
	); err != nil {
		return nil, err
	}
	if r.DecisionCounter, err = meter.Int64Counter(
		"fraud.decisions.total",
		metric.WithDescription("Review decisions applied, by decision"),
	); err != nil {
		return nil, err
	}
	return r, nil
}

// RecordAssessment records one completed assessment.
func (r *Registry) RecordAssessment(ctx context.Context, riskLevel string, seconds float64) {
	if r == nil {
		return
	}
	r.AssessmentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("risk_level", riskLevel)))
	r.AssessmentDuration.Record(ctx, seconds)
}

// RecordRuleTriggered records one rule trigger.
func (r *Registry) RecordRuleTriggered(ctx context.Context, ruleType string) {
	if r == nil {
		return
	}
	r.RuleTriggeredCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_type", ruleType)))
}

// RecordVelocityTrack records one track operation.
func (r *Registry) RecordVelocityTrack(ctx context.Context, action string) {
	if r == nil {
		return
	}
	r.VelocityTrackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordVelocityCheck records one limit check and its outcome.
func (r *Registry) RecordVelocityCheck(ctx context.Context, exceeded bool) {
	if r == nil {
		return
	}
	r.VelocityCheckCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("exceeded", exceeded)))
}

// RecordDenylistHit records one positive denylist lookup.
func (r *Registry) RecordDenylistHit(ctx context.Context, entryType string) {
	if r == nil {
		return
	}
	r.DenylistHitCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("entry_type", entryType)))
}

// RecordFailOpen records a fail-open event for a component.
func (r *Registry) RecordFailOpen(ctx context.Context, component string) {
	if r == nil {
		return
	}
	r.FailOpenCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

// RecordDecision records a review decision.
func (r *Registry) RecordDecision(ctx context.Context, decision string) {
	if r == nil {
		return
	}
	r.DecisionCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}

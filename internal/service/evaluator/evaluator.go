package evaluator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
	"github.com/orderlane/fraud-engine/internal/domain/rule"
	"github.com/orderlane/fraud-engine/internal/metrics"
)

// VelocityReader exposes the windowed counters the velocity_check rule reads.
type VelocityReader interface {
	// CurrentCount sums counts across all open windows for the key.
	CurrentCount(ctx context.Context, identifier, action string) (int64, error)
}

// DenylistChecker exposes denylist lookups for the blacklist_match rule.
type DenylistChecker interface {
	// Check normalizes, hashes if needed, and looks up the value.
	Check(ctx context.Context, entryType denylist.EntryType, rawValue string) (denylist.CheckResult, error)
}

// OrderHistory exposes the order-history queries the behavioral rules need.
type OrderHistory interface {
	// CountOrders returns how many completed orders the user has placed.
	CountOrders(ctx context.Context, userID uuid.UUID) (int, error)
	// DeviceSeenBefore reports whether the device fingerprint appears on any
	// of the user's orders created before the given time.
	DeviceSeenBefore(ctx context.Context, userID uuid.UUID, fingerprint string, before time.Time) (bool, error)
	// DistinctCards returns how many distinct card-last-4 values the user
	// has used since the given time.
	DistinctCards(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
}

// Engine evaluates risk rules against a transaction context. Evaluation is
// fail-open: a rule that cannot be evaluated (unknown type, missing context
// field, collaborator failure) evaluates to false and never aborts the
// assessment.
type Engine struct {
	velocity VelocityReader
	denylist DenylistChecker
	history  OrderHistory
	logger   *slog.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	evaluators map[rule.Type]evalFunc
}

type evalFunc func(ctx context.Context, r *rule.RiskRule, ec *Context) (bool, error)

// Option configures the engine.
type Option func(*Engine)

// WithClock injects the wall clock used by time-based rules.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics attaches the metric registry for fail-open reporting.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = reg }
}

// NewEngine creates a rule evaluation engine.
func NewEngine(velocity VelocityReader, denylist DenylistChecker, history OrderHistory, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		velocity: velocity,
		denylist: denylist,
		history:  history,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}

	e.evaluators = map[rule.Type]evalFunc{
		rule.TypeVelocityCheck:     e.evalVelocityCheck,
		rule.TypeAmountThreshold:   e.evalAmountThreshold,
		rule.TypeLocationMismatch:  e.evalLocationMismatch,
		rule.TypeDeviceFingerprint: e.evalDeviceFingerprint,
		rule.TypeBehavioralPattern: e.evalBehavioralPattern,
		rule.TypeDenylistMatch:     e.evalDenylistMatch,
		rule.TypeHighRiskCountry:   e.evalHighRiskCountry,
		rule.TypeSuspiciousEmail:   e.evalSuspiciousEmail,
		rule.TypeMultipleCards:     e.evalMultipleCards,
		rule.TypeUnusualTime:       e.evalUnusualTime,
	}
	return e
}

// Evaluate runs one rule against the context. It returns false for unknown
// rule types and for rules whose evaluation failed.
func (e *Engine) Evaluate(ctx context.Context, r *rule.RiskRule, ec *Context) bool {
	fn, ok := e.evaluators[r.RuleType]
	if !ok {
		e.logger.WarnContext(ctx, "unknown rule type, skipping",
			"rule_id", r.ID, "rule_type", string(r.RuleType))
		return false
	}

	triggered, err := fn(ctx, r, ec)
	if err != nil {
		e.logger.WarnContext(ctx, "rule evaluation failed, treating as not triggered",
			"rule_id", r.ID, "rule_type", string(r.RuleType), "error", err)
		e.metrics.RecordFailOpen(ctx, "evaluator")
		return false
	}
	return triggered
}

func (e *Engine) evalVelocityCheck(ctx context.Context, r *rule.RiskRule, ec *Context) (bool, error) {
	identifier, ok := ec.String(r.Conditions.IdentifierField)
	if !ok || r.Conditions.Action == "" {
		return false, nil
	}
	count, err := e.velocity.CurrentCount(ctx, identifier, r.Conditions.Action)
	if err != nil {
		return false, err
	}
	return decimal.NewFromInt(count).GreaterThanOrEqual(r.Conditions.Threshold), nil
}

func (e *Engine) evalAmountThreshold(_ context.Context, r *rule.RiskRule, ec *Context) (bool, error) {
	amount, ok := ec.Decimal(KeyOrderAmount)
	if !ok {
		return false, nil
	}
	threshold := r.Conditions.Threshold
	switch r.Conditions.Operator {
	case rule.OpGreaterThan:
		return amount.GreaterThan(threshold), nil
	case rule.OpGreaterEqual:
		return amount.GreaterThanOrEqual(threshold), nil
	case rule.OpLessThan:
		return amount.LessThan(threshold), nil
	case rule.OpLessEqual:
		return amount.LessThanOrEqual(threshold), nil
	case rule.OpEqual:
		return amount.Equal(threshold), nil
	}
	return false, nil
}

func (e *Engine) evalLocationMismatch(_ context.Context, _ *rule.RiskRule, ec *Context) (bool, error) {
	ipCountry, ok := ec.String(KeyIPCountry)
	if !ok {
		return false, nil
	}
	billingCountry, ok := ec.String(KeyBillingCountry)
	if !ok {
		return false, nil
	}
	return !strings.EqualFold(ipCountry, billingCountry), nil
}

// evalDeviceFingerprint flags genuinely new devices only: a device first
// seen within the last 24 hours does not yet count as known.
func (e *Engine) evalDeviceFingerprint(ctx context.Context, _ *rule.RiskRule, ec *Context) (bool, error) {
	userID, ok := ec.UUID(KeyUserID)
	if !ok {
		return false, nil
	}
	fingerprint, ok := ec.String(KeyDeviceFingerprint)
	if !ok {
		return false, nil
	}
	known, err := e.history.DeviceSeenBefore(ctx, userID, fingerprint, e.now().Add(-24*time.Hour))
	if err != nil {
		return false, err
	}
	return !known, nil
}

func (e *Engine) evalBehavioralPattern(ctx context.Context, r *rule.RiskRule, ec *Context) (bool, error) {
	if r.Conditions.Pattern != "first_order_high_value" {
		return false, nil
	}
	userID, ok := ec.UUID(KeyUserID)
	if !ok {
		return false, nil
	}
	amount, ok := ec.Decimal(KeyOrderAmount)
	if !ok {
		return false, nil
	}
	priorOrders, err := e.history.CountOrders(ctx, userID)
	if err != nil {
		return false, err
	}
	return priorOrders == 0 && amount.GreaterThanOrEqual(r.Conditions.AmountThreshold), nil
}

// Context key per denylist entry type for blacklist_match.
var denylistContextKeys = map[denylist.EntryType][]string{
	denylist.TypeIP:       {KeyIPAddress},
	denylist.TypeEmail:    {KeyEmail},
	denylist.TypeCardHash: {KeyCardHash, KeyCardLast4},
	denylist.TypeUser:     {KeyUserID},
	denylist.TypeDevice:   {KeyDeviceFingerprint},
}

func (e *Engine) evalDenylistMatch(ctx context.Context, r *rule.RiskRule, ec *Context) (bool, error) {
	for _, t := range r.Conditions.CheckTypes {
		entryType := denylist.EntryType(t)
		keys, ok := denylistContextKeys[entryType]
		if !ok {
			continue
		}
		var value string
		for _, key := range keys {
			if v, found := ec.String(key); found {
				value = v
				break
			}
		}
		if value == "" {
			if id, found := ec.UUID(keys[0]); found {
				value = id.String()
			} else {
				continue
			}
		}
		result, err := e.denylist.Check(ctx, entryType, value)
		if err != nil {
			return false, err
		}
		if result.Denylisted {
			return true, nil
		}
	}
	return false, nil
}

// evalHighRiskCountry checks the billing country first and then the IP
// country. Either one appearing in the rule's country list triggers.
func (e *Engine) evalHighRiskCountry(_ context.Context, r *rule.RiskRule, ec *Context) (bool, error) {
	for _, key := range []string{KeyBillingCountry, KeyIPCountry} {
		country, ok := ec.String(key)
		if !ok {
			continue
		}
		for _, c := range r.Conditions.Countries {
			if strings.EqualFold(c, country) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Disposable-domain fragments matched as substrings of the email domain.
var disposableDomainFragments = []string{
	"tempmail", "throwaway", "guerrilla", "mailinator", "10minutemail",
	"trashmail", "yopmail", "fakeinbox", "sharklasers", "dispostable",
}

func (e *Engine) evalSuspiciousEmail(_ context.Context, _ *rule.RiskRule, ec *Context) (bool, error) {
	email, ok := ec.String(KeyEmail)
	if !ok {
		return false, nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false, nil
	}
	local, domain := email[:at], email[at+1:]

	for _, fragment := range disposableDomainFragments {
		if strings.Contains(domain, fragment) {
			return true, nil
		}
	}

	// Long machine-generated local parts: over 15 chars with a run of five
	// or more consecutive digits.
	if len(local) > 15 && hasDigitRun(local, 5) {
		return true, nil
	}
	return false, nil
}

func hasDigitRun(s string, n int) bool {
	run := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

func (e *Engine) evalMultipleCards(ctx context.Context, r *rule.RiskRule, ec *Context) (bool, error) {
	userID, ok := ec.UUID(KeyUserID)
	if !ok {
		return false, nil
	}
	windowHours := r.Conditions.TimeWindowHours
	if windowHours <= 0 {
		windowHours = 24
	}
	since := e.now().Add(-time.Duration(windowHours) * time.Hour)
	cards, err := e.history.DistinctCards(ctx, userID, since)
	if err != nil {
		return false, err
	}
	return decimal.NewFromInt(int64(cards)).GreaterThanOrEqual(r.Conditions.Threshold), nil
}

// evalUnusualTime triggers when the current wall-clock hour falls within
// [unusual_start, unusual_end), default 2-5 AM.
func (e *Engine) evalUnusualTime(_ context.Context, r *rule.RiskRule, _ *Context) (bool, error) {
	start, end := 2, 5
	if r.Conditions.UnusualStart != nil {
		start = *r.Conditions.UnusualStart
	}
	if r.Conditions.UnusualEnd != nil {
		end = *r.Conditions.UnusualEnd
	}
	hour := e.now().Hour()
	if start <= end {
		return hour >= start && hour < end, nil
	}
	// Window wraps midnight, e.g. 23-4.
	return hour >= start || hour < end, nil
}

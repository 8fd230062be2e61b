package evaluator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/orderlane/fraud-engine/internal/domain/denylist"
	"github.com/orderlane/fraud-engine/internal/domain/rule"
	"github.com/orderlane/fraud-engine/internal/metrics"
	"github.com/orderlane/fraud-engine/internal/service/evaluator"
)

type fakeVelocity struct {
	counts map[string]int64
	err    error
}

func (f *fakeVelocity) CurrentCount(_ context.Context, identifier, action string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[identifier+"|"+action], nil
}

type fakeDenylist struct {
	hits map[string]denylist.CheckResult
	err  error
}

func (f *fakeDenylist) Check(_ context.Context, entryType denylist.EntryType, rawValue string) (denylist.CheckResult, error) {
	if f.err != nil {
		return denylist.CheckResult{}, f.err
	}
	return f.hits[string(entryType)+"|"+rawValue], nil
}

type fakeHistory struct {
	orders      int
	deviceKnown bool
	cards       int
	err         error
}

func (f *fakeHistory) CountOrders(context.Context, uuid.UUID) (int, error) {
	return f.orders, f.err
}

func (f *fakeHistory) DeviceSeenBefore(context.Context, uuid.UUID, string, time.Time) (bool, error) {
	return f.deviceKnown, f.err
}

func (f *fakeHistory) DistinctCards(context.Context, uuid.UUID, time.Time) (int, error) {
	return f.cards, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkRule(t *testing.T, ruleType rule.Type, conditions rule.Conditions) *rule.RiskRule {
	t.Helper()
	r, err := rule.NewRiskRule("test "+string(ruleType), ruleType, conditions, 10, rule.ActionFlag)
	require.NoError(t, err)
	return r
}

func newEngine(v *fakeVelocity, d *fakeDenylist, h *fakeHistory, opts ...evaluator.Option) *evaluator.Engine {
	if v == nil {
		v = &fakeVelocity{}
	}
	if d == nil {
		d = &fakeDenylist{}
	}
	if h == nil {
		h = &fakeHistory{}
	}
	return evaluator.NewEngine(v, d, h, discard(), opts...)
}

func intPtr(n int) *int { return &n }

func TestEvaluateUnknownRuleType(t *testing.T) {
	engine := newEngine(nil, nil, nil)

	r := mkRule(t, rule.TypeVelocityCheck, rule.Conditions{})
	r.RuleType = rule.Type("not_a_thing")

	assert.False(t, engine.Evaluate(context.Background(), r, evaluator.NewContext(nil)))
}

func TestVelocityCheck(t *testing.T) {
	conditions := rule.Conditions{
		IdentifierField: evaluator.KeyUserID,
		Action:          "order_placed",
		Threshold:       decimal.NewFromInt(5),
	}
	userID := uuid.New().String()
	ec := evaluator.NewContext(map[string]any{evaluator.KeyUserID: userID})

	t.Run("triggers at or above threshold", func(t *testing.T) {
		engine := newEngine(&fakeVelocity{counts: map[string]int64{userID + "|order_placed": 5}}, nil, nil)
		assert.True(t, engine.Evaluate(context.Background(), mkRule(t, rule.TypeVelocityCheck, conditions), ec))
	})

	t.Run("quiet below threshold", func(t *testing.T) {
		engine := newEngine(&fakeVelocity{counts: map[string]int64{userID + "|order_placed": 4}}, nil, nil)
		assert.False(t, engine.Evaluate(context.Background(), mkRule(t, rule.TypeVelocityCheck, conditions), ec))
	})

	t.Run("missing identifier field fails open", func(t *testing.T) {
		engine := newEngine(&fakeVelocity{counts: map[string]int64{}}, nil, nil)
		assert.False(t, engine.Evaluate(context.Background(), mkRule(t, rule.TypeVelocityCheck, conditions), evaluator.NewContext(nil)))
	})

	t.Run("storage failure fails open", func(t *testing.T) {
		engine := newEngine(&fakeVelocity{err: errors.New("connection refused")}, nil, nil)
		assert.False(t, engine.Evaluate(context.Background(), mkRule(t, rule.TypeVelocityCheck, conditions), ec))
	})
}

func TestAmountThreshold(t *testing.T) {
	tests := []struct {
		name     string
		operator rule.ComparisonOperator
		amount   string
		want     bool
	}{
		{"greater than triggers", rule.OpGreaterThan, "500.01", true},
		{"greater than quiet on equal", rule.OpGreaterThan, "500", false},
		{"greater equal triggers on equal", rule.OpGreaterEqual, "500", true},
		{"less than triggers", rule.OpLessThan, "499.99", true},
		{"less equal quiet above", rule.OpLessEqual, "500.01", false},
		{"equal triggers", rule.OpEqual, "500", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(nil, nil, nil)
			r := mkRule(t, rule.TypeAmountThreshold, rule.Conditions{
				Threshold: decimal.NewFromInt(500),
				Operator:  tt.operator,
			})
			ec := evaluator.NewContext(map[string]any{evaluator.KeyOrderAmount: tt.amount})
			assert.Equal(t, tt.want, engine.Evaluate(context.Background(), r, ec))
		})
	}

	t.Run("missing amount fails open", func(t *testing.T) {
		engine := newEngine(nil, nil, nil)
		r := mkRule(t, rule.TypeAmountThreshold, rule.Conditions{
			Threshold: decimal.NewFromInt(500),
			Operator:  rule.OpGreaterThan,
		})
		assert.False(t, engine.Evaluate(context.Background(), r, evaluator.NewContext(nil)))
	})
}

func TestLocationMismatch(t *testing.T) {
	engine := newEngine(nil, nil, nil)
	r := mkRule(t, rule.TypeLocationMismatch, rule.Conditions{})

	tests := []struct {
		name    string
		ctx     map[string]any
		want    bool
	}{
		{
			name: "different countries trigger",
			ctx:  map[string]any{evaluator.KeyIPCountry: "NG", evaluator.KeyBillingCountry: "US"},
			want: true,
		},
		{
			name: "same country quiet",
			ctx:  map[string]any{evaluator.KeyIPCountry: "US", evaluator.KeyBillingCountry: "US"},
			want: false,
		},
		{
			name: "case insensitive comparison",
			ctx:  map[string]any{evaluator.KeyIPCountry: "us", evaluator.KeyBillingCountry: "US"},
			want: false,
		},
		{
			name: "missing ip country fails open",
			ctx:  map[string]any{evaluator.KeyBillingCountry: "US"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Evaluate(context.Background(), r, evaluator.NewContext(tt.ctx)))
		})
	}
}

func TestDeviceFingerprint(t *testing.T) {
	r := mkRule(t, rule.TypeDeviceFingerprint, rule.Conditions{})
	ec := evaluator.NewContext(map[string]any{
		evaluator.KeyUserID:            uuid.New(),
		evaluator.KeyDeviceFingerprint: "fp-1234",
	})

	t.Run("new device triggers", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{deviceKnown: false})
		assert.True(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("known device quiet", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{deviceKnown: true})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("missing fingerprint fails open", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{deviceKnown: false})
		ec := evaluator.NewContext(map[string]any{evaluator.KeyUserID: uuid.New()})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})
}

func TestBehavioralPattern(t *testing.T) {
	r := mkRule(t, rule.TypeBehavioralPattern, rule.Conditions{
		Pattern:         "first_order_high_value",
		AmountThreshold: decimal.NewFromInt(500),
	})
	ec := evaluator.NewContext(map[string]any{
		evaluator.KeyUserID:      uuid.New(),
		evaluator.KeyOrderAmount: decimal.NewFromInt(750),
	})

	t.Run("first order over threshold triggers", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{orders: 0})
		assert.True(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("returning customer quiet", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{orders: 3})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("unknown pattern quiet", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{orders: 0})
		r := mkRule(t, rule.TypeBehavioralPattern, rule.Conditions{Pattern: "some_future_pattern"})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})
}

func TestDenylistMatch(t *testing.T) {
	r := mkRule(t, rule.TypeDenylistMatch, rule.Conditions{
		CheckTypes: []string{"ip", "email"},
	})

	t.Run("ip hit triggers", func(t *testing.T) {
		engine := newEngine(nil, &fakeDenylist{hits: map[string]denylist.CheckResult{
			"ip|203.0.113.7": {Denylisted: true, Reason: "card testing", Severity: denylist.SeverityHigh},
		}}, nil)
		ec := evaluator.NewContext(map[string]any{
			evaluator.KeyIPAddress: "203.0.113.7",
			evaluator.KeyEmail:     "clean@example.com",
		})
		assert.True(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("no hits quiet", func(t *testing.T) {
		engine := newEngine(nil, &fakeDenylist{}, nil)
		ec := evaluator.NewContext(map[string]any{
			evaluator.KeyIPAddress: "203.0.113.7",
			evaluator.KeyEmail:     "clean@example.com",
		})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("lookup failure fails open", func(t *testing.T) {
		engine := newEngine(nil, &fakeDenylist{err: errors.New("redis down")}, nil)
		ec := evaluator.NewContext(map[string]any{evaluator.KeyIPAddress: "203.0.113.7"})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("unconfigured check types quiet", func(t *testing.T) {
		engine := newEngine(nil, &fakeDenylist{}, nil)
		r := mkRule(t, rule.TypeDenylistMatch, rule.Conditions{})
		ec := evaluator.NewContext(map[string]any{evaluator.KeyIPAddress: "203.0.113.7"})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})
}

func TestHighRiskCountry(t *testing.T) {
	r := mkRule(t, rule.TypeHighRiskCountry, rule.Conditions{Countries: []string{"NG", "PK", "VN"}})
	engine := newEngine(nil, nil, nil)

	tests := []struct {
		name string
		ctx  map[string]any
		want bool
	}{
		{
			name: "billing country in list triggers",
			ctx:  map[string]any{evaluator.KeyBillingCountry: "NG"},
			want: true,
		},
		{
			name: "falls back to ip country",
			ctx:  map[string]any{evaluator.KeyIPCountry: "pk"},
			want: true,
		},
		{
			name: "ip country still checked when billing is clean",
			ctx:  map[string]any{evaluator.KeyBillingCountry: "US", evaluator.KeyIPCountry: "NG"},
			want: true,
		},
		{
			name: "clean country quiet",
			ctx:  map[string]any{evaluator.KeyBillingCountry: "DE"},
			want: false,
		},
		{
			name: "no location fails open",
			ctx:  nil,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Evaluate(context.Background(), r, evaluator.NewContext(tt.ctx)))
		})
	}
}

func TestSuspiciousEmail(t *testing.T) {
	r := mkRule(t, rule.TypeSuspiciousEmail, rule.Conditions{})
	engine := newEngine(nil, nil, nil)

	tests := []struct {
		email string
		want  bool
	}{
		{"a@tempmail.com", true},
		{"user@mailinator.com", true},
		{"x@sub.10minutemail.org", true},
		{"normal.person@gmail.com", false},
		{"a1b2c3d4e5607890xyz@gmail.com", true},
		{"short12345@gmail.com", false},
		{"not-an-email", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			ec := evaluator.NewContext(map[string]any{evaluator.KeyEmail: tt.email})
			assert.Equal(t, tt.want, engine.Evaluate(context.Background(), r, ec))
		})
	}
}

func TestMultipleCards(t *testing.T) {
	r := mkRule(t, rule.TypeMultipleCards, rule.Conditions{
		Threshold:       decimal.NewFromInt(3),
		TimeWindowHours: 24,
	})
	ec := evaluator.NewContext(map[string]any{evaluator.KeyUserID: uuid.New()})

	t.Run("triggers at threshold", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{cards: 3})
		assert.True(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("quiet below threshold", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{cards: 2})
		assert.False(t, engine.Evaluate(context.Background(), r, ec))
	})

	t.Run("missing user fails open", func(t *testing.T) {
		engine := newEngine(nil, nil, &fakeHistory{cards: 5})
		assert.False(t, engine.Evaluate(context.Background(), r, evaluator.NewContext(nil)))
	})
}

func TestUnusualTime(t *testing.T) {
	at := func(hour int) evaluator.Option {
		return evaluator.WithClock(func() time.Time {
			return time.Date(2025, 6, 1, hour, 30, 0, 0, time.UTC)
		})
	}

	t.Run("default window 2-5", func(t *testing.T) {
		r := mkRule(t, rule.TypeUnusualTime, rule.Conditions{})
		assert.True(t, newEngine(nil, nil, nil, at(3)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
		assert.True(t, newEngine(nil, nil, nil, at(2)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
		assert.False(t, newEngine(nil, nil, nil, at(5)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
		assert.False(t, newEngine(nil, nil, nil, at(14)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
	})

	t.Run("window wrapping midnight", func(t *testing.T) {
		r := mkRule(t, rule.TypeUnusualTime, rule.Conditions{
			UnusualStart: intPtr(23),
			UnusualEnd:   intPtr(4),
		})
		assert.True(t, newEngine(nil, nil, nil, at(23)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
		assert.True(t, newEngine(nil, nil, nil, at(1)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
		assert.False(t, newEngine(nil, nil, nil, at(4)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
		assert.False(t, newEngine(nil, nil, nil, at(12)).Evaluate(context.Background(), r, evaluator.NewContext(nil)))
	})
}

func TestFailedEvaluationRecordsFailOpenMetric(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	reg, err := metrics.NewRegistry("evaluator-test")
	require.NoError(t, err)

	engine := newEngine(&fakeVelocity{err: errors.New("storage down")}, nil, nil, evaluator.WithMetrics(reg))
	conditions := rule.Conditions{
		IdentifierField: evaluator.KeyUserID,
		Action:          "order_placed",
		Threshold:       decimal.NewFromInt(5),
	}
	ec := evaluator.NewContext(map[string]any{evaluator.KeyUserID: uuid.New().String()})

	assert.False(t, engine.Evaluate(context.Background(), mkRule(t, rule.TypeVelocityCheck, conditions), ec))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var failOpens int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "fraud.failopen.total" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					failOpens += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), failOpens)
}

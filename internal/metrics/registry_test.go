package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/orderlane/fraud-engine/internal/metrics"
)

// newTestRegistry backs the global meter provider with a manual reader so
// tests can collect what the instruments recorded.
func newTestRegistry(t *testing.T) (*metrics.Registry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	reg, err := metrics.NewRegistry("fraud-engine-test")
	require.NoError(t, err)
	return reg, reader
}

func sumByName(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestRecordedMeasurementsReachReader(t *testing.T) {
	reg, reader := newTestRegistry(t)
	ctx := context.Background()

	reg.RecordAssessment(ctx, "high", 0.02)
	reg.RecordRuleTriggered(ctx, "amount_threshold")
	reg.RecordVelocityTrack(ctx, "order_placed")
	reg.RecordVelocityTrack(ctx, "order_placed")
	reg.RecordVelocityCheck(ctx, true)
	reg.RecordDenylistHit(ctx, "ip")
	reg.RecordFailOpen(ctx, "velocity")
	reg.RecordDecision(ctx, "approve")

	assert.Equal(t, int64(1), sumByName(t, reader, "fraud.assessments.total"))
	assert.Equal(t, int64(1), sumByName(t, reader, "fraud.rules.triggered.total"))
	assert.Equal(t, int64(2), sumByName(t, reader, "fraud.velocity.tracked.total"))
	assert.Equal(t, int64(1), sumByName(t, reader, "fraud.velocity.checks.total"))
	assert.Equal(t, int64(1), sumByName(t, reader, "fraud.denylist.hits.total"))
	assert.Equal(t, int64(1), sumByName(t, reader, "fraud.failopen.total"))
	assert.Equal(t, int64(1), sumByName(t, reader, "fraud.decisions.total"))
}

func TestNilRegistryRecordsNothing(t *testing.T) {
	var reg *metrics.Registry
	ctx := context.Background()

	reg.RecordAssessment(ctx, "low", 0.01)
	reg.RecordVelocityTrack(ctx, "order_placed")
	reg.RecordVelocityCheck(ctx, false)
	reg.RecordFailOpen(ctx, "denylist")
}

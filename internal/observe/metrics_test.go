package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestSegmentCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegmentAccepted(ctx)
	m.RecordSegmentAccepted(ctx)
	m.RecordSegmentRejected(ctx, "exact duplicate")
	m.RecordSegmentRejected(ctx, "near-duplicate")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "onvoice.segments.accepted"); got != 2 {
		t.Errorf("accepted = %d, want 2", got)
	}
	if got := counterValue(t, rm, "onvoice.segments.rejected"); got != 2 {
		t.Errorf("rejected = %d, want 2", got)
	}

	// Rejections must be split by reason.
	met := findMetric(rm, "onvoice.segments.rejected")
	sum := met.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Errorf("rejection series = %d, want one per reason", len(sum.DataPoints))
	}
}

func TestTranslationLookupResults(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranslationLookup(ctx, true)
	m.RecordTranslationLookup(ctx, true)
	m.RecordTranslationLookup(ctx, false)

	rm := collect(t, reader)
	met := findMetric(rm, "onvoice.translation.lookups")
	if met == nil {
		t.Fatal("lookup metric not found")
	}
	sum := met.Data.(metricdata.Sum[int64])
	for _, dp := range sum.DataPoints {
		result, _ := dp.Attributes.Value(attribute.Key("result"))
		switch result.AsString() {
		case "hit":
			if dp.Value != 2 {
				t.Errorf("hits = %d, want 2", dp.Value)
			}
		case "miss":
			if dp.Value != 1 {
				t.Errorf("misses = %d, want 1", dp.Value)
			}
		default:
			t.Errorf("unexpected result attribute %q", result.AsString())
		}
	}
}

func TestProviderLatencyHistograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ASRDuration.Record(ctx, 0.42)
	m.MTDuration.Record(ctx, 0.1)
	m.MTDuration.Record(ctx, 1.2)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"onvoice.asr.duration": 1,
		"onvoice.mt.duration":  2,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok {
			t.Fatalf("metric %q is not a histogram", name)
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s sample count = %d, want %d", name, got, want)
		}
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "onvoice.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics must return the same instance")
	}
}

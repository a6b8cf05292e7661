// Package observe provides the observability primitives for onvoice:
// OpenTelemetry metrics, tracing, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed to
// scrapers through a Prometheus exporter bridge set up by [InitProvider]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all onvoice metrics.
const meterName = "github.com/mooner92/onvoice"

// Metrics holds the OTel instruments for the pipeline. All fields are safe
// for concurrent use.
type Metrics struct {
	// ASRDuration tracks recognition provider latency.
	ASRDuration metric.Float64Histogram

	// MTDuration tracks translation provider latency.
	MTDuration metric.Float64Histogram

	// SegmentsAccepted counts segments appended to transcripts.
	SegmentsAccepted metric.Int64Counter

	// SegmentsRejected counts dedup rejections. Use with
	// attribute.String("reason", ...).
	SegmentsRejected metric.Int64Counter

	// AudioFlushes counts voice-activity segment cuts. Use with
	// attribute.String("reason", ...).
	AudioFlushes metric.Int64Counter

	// TranslationLookups counts translation cache lookups. Use with
	// attribute.String("result", "hit"|"miss").
	TranslationLookups metric.Int64Counter

	// ProviderErrors counts recognition and translation backend failures.
	// Use with attribute.String("provider", ...), attribute.String("kind", ...).
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks live speaker sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries (seconds) sized for provider round
// trips in a live captioning pipeline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ASRDuration, err = m.Float64Histogram("onvoice.asr.duration",
		metric.WithDescription("Latency of speech recognition calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MTDuration, err = m.Float64Histogram("onvoice.mt.duration",
		metric.WithDescription("Latency of translation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SegmentsAccepted, err = m.Int64Counter("onvoice.segments.accepted",
		metric.WithDescription("Transcript segments accepted by the deduper."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsRejected, err = m.Int64Counter("onvoice.segments.rejected",
		metric.WithDescription("Candidate segments rejected, by reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioFlushes, err = m.Int64Counter("onvoice.audio.flushes",
		metric.WithDescription("Audio buffer cuts, by trigger."),
	); err != nil {
		return nil, err
	}
	if met.TranslationLookups, err = m.Int64Counter("onvoice.translation.lookups",
		metric.WithDescription("Translation cache lookups, by result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("onvoice.provider.errors",
		metric.WithDescription("Provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("onvoice.active_sessions",
		metric.WithDescription("Number of live speaker sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("onvoice.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails, which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSegmentAccepted increments the accepted-segment counter.
func (m *Metrics) RecordSegmentAccepted(ctx context.Context) {
	m.SegmentsAccepted.Add(ctx, 1)
}

// RecordSegmentRejected increments the rejected-segment counter with the
// dedup reason.
func (m *Metrics) RecordSegmentRejected(ctx context.Context, reason string) {
	m.SegmentsRejected.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordFlush increments the audio flush counter with the trigger.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.AudioFlushes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordTranslationLookup increments the cache lookup counter.
func (m *Metrics) RecordTranslationLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TranslationLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

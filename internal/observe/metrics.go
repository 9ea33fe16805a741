// Package observe provides application-wide observability primitives for
// speakwell: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all speakwell metrics.
const meterName = "github.com/MrWong99/speakwell"

// Utterance outcomes recorded by [Metrics.RecordUtterance].
const (
	OutcomeAnalyzed = "analyzed"
	OutcomeBusy     = "dropped_busy"
	OutcomeEcho     = "dropped_echo"
	OutcomeTooShort = "dropped_too_short"
	OutcomeFailed   = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// AnalysisDuration tracks the full Analyze call. Use with attribute:
	//   attribute.String("source", "rules"|"rules+assistant")
	AnalysisDuration metric.Float64Histogram

	// AssistantDuration tracks external assistant calls. Use with attributes:
	//   attribute.String("operation", ...), attribute.String("status", ...)
	AssistantDuration metric.Float64Histogram

	// STTDuration tracks the time from the first audio chunk of a segment to
	// its final transcript. Use with attribute:
	//   attribute.String("provider", ...)
	STTDuration metric.Float64Histogram

	// TTSDuration tracks correction playback latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ErrorsDetected counts grammar mistakes. Use with attribute:
	//   attribute.String("type", ...)
	ErrorsDetected metric.Int64Counter

	// Utterances counts committed live-loop utterances by outcome. Use with:
	//   attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// AssistantErrors counts failed assistant calls. Use with attribute:
	//   attribute.String("operation", ...)
	AssistantErrors metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running live coaching sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Rule-based
// analysis sits in the millisecond range; assistant calls and speech
// playback take seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AnalysisDuration, err = m.Float64Histogram("speakwell.analysis.duration",
		metric.WithDescription("Latency of a full utterance analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AssistantDuration, err = m.Float64Histogram("speakwell.assistant.duration",
		metric.WithDescription("Latency of external assistant calls by operation and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("speakwell.stt.duration",
		metric.WithDescription("Time from the first audio chunk of a segment to its final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("speakwell.tts.duration",
		metric.WithDescription("Latency of correction speech playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ErrorsDetected, err = m.Int64Counter("speakwell.errors.detected",
		metric.WithDescription("Total grammar mistakes detected by type."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("speakwell.utterances",
		metric.WithDescription("Total live-loop utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("speakwell.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.AssistantErrors, err = m.Int64Counter("speakwell.assistant.errors",
		metric.WithDescription("Total failed assistant calls by operation."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("speakwell.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("speakwell.active_sessions",
		metric.WithDescription("Number of running live coaching sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("speakwell.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordDetectedError increments the detected-mistake counter for errType.
func (m *Metrics) RecordDetectedError(ctx context.Context, errType string) {
	m.ErrorsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errType)))
}

// RecordAssistantCall records the latency of one assistant call and, when err
// is non-nil, increments the assistant error counter.
func (m *Metrics) RecordAssistantCall(ctx context.Context, op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.AssistantErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	}
	m.AssistantDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("status", status),
		),
	)
}

// RecordTranscriptLatency records how long provider took to finalise a
// transcript segment.
func (m *Metrics) RecordTranscriptLatency(ctx context.Context, provider string, d time.Duration) {
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordUtterance increments the live-loop utterance counter for outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

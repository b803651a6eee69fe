// Package observe provides the gateway's observability primitives:
// OpenTelemetry metric instruments and the Prometheus exporter bridge that
// serves them on /metrics.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all gateway metrics.
const meterName = "github.com/gimseonjin/realtime-character"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TTFT tracks time-to-first-token per turn, in milliseconds.
	TTFT metric.Float64Histogram

	// TTAF tracks time-to-first-audio per turn, in milliseconds.
	TTAF metric.Float64Histogram

	// Turns counts processed turns. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Turns metric.Int64Counter

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", "llm"|"tts"), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ActiveConnections tracks live websocket sessions.
	ActiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request latency. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBucketsMs defines histogram bucket boundaries (in milliseconds)
// sized for interactive voice latencies.
var latencyBucketsMs = []float64{
	10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TTFT, err = m.Float64Histogram("gateway.turn.ttft",
		metric.WithDescription("Time from utterance receipt to the first token event."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}
	if met.TTAF, err = m.Float64Histogram("gateway.turn.ttaf",
		metric.WithDescription("Time from utterance receipt to the first audio chunk event."),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(latencyBucketsMs...),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("gateway.turns",
		metric.WithDescription("Total processed turns by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("gateway.provider.errors",
		metric.WithDescription("Total provider failures by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("gateway.active_connections",
		metric.WithDescription("Number of live websocket sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gateway.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("ms"),
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

// RecordTTFT records a turn's time-to-first-token in milliseconds.
func (m *Metrics) RecordTTFT(ctx context.Context, millis int64) {
	m.TTFT.Record(ctx, float64(millis))
}

// RecordTTAF records a turn's time-to-first-audio in milliseconds.
func (m *Metrics) RecordTTAF(ctx context.Context, millis int64) {
	m.TTAF.Record(ctx, float64(millis))
}

// RecordTurn records a finished turn with its terminal status.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderError records a provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

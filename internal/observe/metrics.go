// Package observe provides application-wide observability primitives for
// dialdeck: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dialdeck metrics.
const meterName = "github.com/MrWong99/dialdeck"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Reconciliation ---

	// ReconcilePasses counts reconciliation passes. Use with attributes:
	//   attribute.String("chain", ...), attribute.String("mode", ...)
	ReconcilePasses metric.Int64Counter

	// Fallbacks counts values that were not legal for their candidate set
	// and were replaced. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("field", ...)
	Fallbacks metric.Int64Counter

	// SynthesizedEntries counts catalog entries added to keep a persisted
	// model selectable. Use with attribute:
	//   attribute.String("provider", ...)
	SynthesizedEntries metric.Int64Counter

	// ProfileSwitches counts active-profile changes. Use with attribute:
	//   attribute.String("channel", ...)
	ProfileSwitches metric.Int64Counter

	// --- Saves ---

	// Saves counts save attempts. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("status", ...)
	Saves metric.Int64Counter

	// SaveDuration tracks the latency of the save collaborator.
	SaveDuration metric.Float64Histogram

	// BreakerTransitions counts state changes of the saver's circuit
	// breaker. Use with attributes:
	//   attribute.String("breaker", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Bootstrap ---

	// BootstrapDuration tracks how long loading the bootstrap bundle takes.
	BootstrapDuration metric.Float64Histogram

	// BootstrapReloads counts bundle reloads. Use with attribute:
	//   attribute.String("status", ...)
	BootstrapReloads metric.Int64Counter

	// --- Simulator ---

	// SimulatorLatency tracks the latencies reported by the live simulator.
	// Use with attribute:
	//   attribute.String("stage", ...)
	SimulatorLatency metric.Float64Histogram

	// --- Gauges ---

	// EventSubscribers tracks the number of connected change-stream clients.
	EventSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// calls and file loads.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.ReconcilePasses, err = m.Int64Counter("dialdeck.reconcile.passes",
		metric.WithDescription("Total reconciliation passes by chain and mode."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("dialdeck.reconcile.fallbacks",
		metric.WithDescription("Total illegal selections replaced by channel and field."),
	); err != nil {
		return nil, err
	}
	if met.SynthesizedEntries, err = m.Int64Counter("dialdeck.catalog.synthesized_entries",
		metric.WithDescription("Total catalog entries synthesised for persisted models."),
	); err != nil {
		return nil, err
	}
	if met.ProfileSwitches, err = m.Int64Counter("dialdeck.profile.switches",
		metric.WithDescription("Total active-profile switches by target channel."),
	); err != nil {
		return nil, err
	}
	if met.Saves, err = m.Int64Counter("dialdeck.saves",
		metric.WithDescription("Total save attempts by channel and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("dialdeck.saver.breaker_transitions",
		metric.WithDescription("Total saver circuit breaker transitions by new state."),
	); err != nil {
		return nil, err
	}
	if met.BootstrapReloads, err = m.Int64Counter("dialdeck.bootstrap.reloads",
		metric.WithDescription("Total bootstrap bundle reloads by status."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SaveDuration, err = m.Float64Histogram("dialdeck.save.duration",
		metric.WithDescription("Latency of the save collaborator."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BootstrapDuration, err = m.Float64Histogram("dialdeck.bootstrap.duration",
		metric.WithDescription("Time taken to load the bootstrap bundle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SimulatorLatency, err = m.Float64Histogram("dialdeck.simulator.latency",
		metric.WithDescription("Latencies reported by the live simulator by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.EventSubscribers, err = m.Int64UpDownCounter("dialdeck.events.subscribers",
		metric.WithDescription("Number of connected change-stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialdeck.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordReconcile records one reconciliation pass and its fallbacks.
func (m *Metrics) RecordReconcile(ctx context.Context, channel, chain, mode string, fallbackFields []string) {
	m.ReconcilePasses.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("chain", chain),
			attribute.String("mode", mode),
		),
	)
	for _, f := range fallbackFields {
		m.Fallbacks.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("channel", channel),
				attribute.String("field", f),
			),
		)
	}
}

// RecordSynthesized records a catalog entry synthesised for provider.
func (m *Metrics) RecordSynthesized(ctx context.Context, provider string) {
	m.SynthesizedEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordProfileSwitch records a switch to channel.
func (m *Metrics) RecordProfileSwitch(ctx context.Context, channel string) {
	m.ProfileSwitches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}

// RecordSave records a save attempt with the standard attribute set.
// seconds is ignored when negative (the save never reached the collaborator).
func (m *Metrics) RecordSave(ctx context.Context, channel, status string, seconds float64) {
	m.Saves.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("status", status),
		),
	)
	if seconds >= 0 {
		m.SaveDuration.Record(ctx, seconds,
			metric.WithAttributes(attribute.String("channel", channel)),
		)
	}
}

// RecordBreakerTransition records breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}

// RecordBootstrapReload records a bundle reload outcome.
func (m *Metrics) RecordBootstrapReload(ctx context.Context, status string) {
	m.BootstrapReloads.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

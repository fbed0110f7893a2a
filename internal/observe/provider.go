package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing a dialdeck deployment.
const (
	ResourceChannels = attribute.Key("dialdeck.channels")
	ResourceSaver    = attribute.Key("dialdeck.saver.kind")
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is reported as service.name. Default: "dialdeck".
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment when set.
	Environment string

	// Channels lists the profile channels this instance serves.
	Channels []string

	// BootstrapSources are the snapshot and catalog files the session is
	// built from.
	BootstrapSources []string

	// SaverKind names the configured save backend.
	SaverKind string

	// TraceExporter is optional. Without one spans are recorded but not
	// exported.
	TraceExporter sdktrace.SpanExporter

	// Registerer receives the Prometheus collector. Default:
	// [prometheus.DefaultRegisterer], which the /metrics handler serves.
	Registerer prometheus.Registerer
}

// NewResource builds the resource describing this dialdeck instance.
func NewResource(ctx context.Context, cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "dialdeck"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		ResourceChannels.StringSlice(cfg.Channels),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	if len(cfg.BootstrapSources) > 0 {
		attrs = append(attrs, AttrSources.StringSlice(cfg.BootstrapSources))
	}
	if cfg.SaverKind != "" {
		attrs = append(attrs, ResourceSaver.String(cfg.SaverKind))
	}
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
	)
}

// Telemetry holds the SDK providers installed by [InitProvider].
type Telemetry struct {
	Resource *resource.Resource
	Meters   *sdkmetric.MeterProvider
	Tracers  *sdktrace.TracerProvider

	// Metrics are the dialdeck instruments on Meters.
	Metrics *Metrics
}

// InitProvider installs a meter provider bridged to Prometheus and a tracer
// provider as the global OTel providers, and builds the dialdeck instruments
// on them. Call [Telemetry.Shutdown] before exiting to flush exporters.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	m, err := NewMetrics(mp)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Telemetry{Resource: res, Meters: mp, Tracers: tp, Metrics: m}, nil
}

// Shutdown flushes and closes both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Meters.Shutdown(ctx), t.Tracers.Shutdown(ctx))
}

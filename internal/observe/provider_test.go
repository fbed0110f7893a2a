package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewResource(t *testing.T) {
	res, err := NewResource(context.Background(), ProviderConfig{
		ServiceVersion:   "1.2.0",
		Environment:      "staging",
		Channels:         []string{"browser", "twilio", "telnyx"},
		BootstrapSources: []string{"bundle.yaml"},
		SaverKind:        "file",
	})
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}

	set := res.Set()
	str := func(k attribute.Key) string {
		v, _ := set.Value(k)
		return v.AsString()
	}
	slice := func(k attribute.Key) string {
		v, _ := set.Value(k)
		return strings.Join(v.AsStringSlice(), ",")
	}

	checks := []struct {
		key       attribute.Key
		got, want string
	}{
		{semconv.ServiceNameKey, str(semconv.ServiceNameKey), "dialdeck"},
		{semconv.ServiceVersionKey, str(semconv.ServiceVersionKey), "1.2.0"},
		{semconv.DeploymentEnvironmentKey, str(semconv.DeploymentEnvironmentKey), "staging"},
		{ResourceChannels, slice(ResourceChannels), "browser,twilio,telnyx"},
		{AttrSources, slice(AttrSources), "bundle.yaml"},
		{ResourceSaver, str(ResourceSaver), "file"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.key, c.got, c.want)
		}
	}
	if _, ok := set.Value(semconv.TelemetrySDKNameKey); !ok {
		t.Error("resource is missing the telemetry SDK attributes")
	}
}

func TestNewResource_OmitsUnsetFields(t *testing.T) {
	res, err := NewResource(context.Background(), ProviderConfig{ServiceName: "dialdeck-dev"})
	if err != nil {
		t.Fatalf("NewResource: %v", err)
	}
	set := res.Set()
	if v, _ := set.Value(semconv.ServiceNameKey); v.AsString() != "dialdeck-dev" {
		t.Errorf("service.name = %q, want dialdeck-dev", v.AsString())
	}
	for _, k := range []attribute.Key{semconv.DeploymentEnvironmentKey, AttrSources, ResourceSaver} {
		if set.HasValue(k) {
			t.Errorf("unexpected %s on a resource without it configured", k)
		}
	}
}

func TestInitProvider_ExportsDialdeckMetrics(t *testing.T) {
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})

	reg := prometheus.NewRegistry()
	ctx := context.Background()
	tel, err := InitProvider(ctx, ProviderConfig{
		ServiceName: "dialdeck-test",
		Channels:    []string{"browser"},
		SaverKind:   "log",
		Registerer:  reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if otel.GetTracerProvider() != tel.Tracers {
		t.Error("InitProvider did not install its tracer provider globally")
	}
	if v, _ := tel.Resource.Set().Value(ResourceSaver); v.AsString() != "log" {
		t.Errorf("resource saver = %q, want log", v.AsString())
	}

	tel.Metrics.RecordSave(ctx, "browser", "ok", 0.01)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var saves, target bool
	for _, f := range families {
		switch name := f.GetName(); {
		case strings.HasPrefix(name, "dialdeck_saves"):
			saves = true
		case name == "target_info":
			target = true
			labels := f.GetMetric()[0].GetLabel()
			found := false
			for _, l := range labels {
				if l.GetName() == "service_name" && l.GetValue() == "dialdeck-test" {
					found = true
				}
			}
			if !found {
				t.Errorf("target_info labels %v lack service_name=dialdeck-test", labels)
			}
		}
	}
	if !saves {
		t.Error("dialdeck save counter not exported to the registry")
	}
	if !target {
		t.Error("target_info not exported to the registry")
	}
}

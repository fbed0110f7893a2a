package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the dialdeck tracer.
const tracerName = "github.com/MrWong99/dialdeck"

// Span attribute keys used across dialdeck spans.
const (
	// AttrChannel is the profile channel an operation works on.
	AttrChannel = attribute.Key("dialdeck.channel")

	// AttrOutcome is the result of a save: ok, error, malformed, conflict or
	// invalid.
	AttrOutcome = attribute.Key("dialdeck.save.outcome")

	AttrSnapshotKeys   = attribute.Key("dialdeck.bootstrap.snapshot_keys")
	AttrModelProviders = attribute.Key("dialdeck.bootstrap.model_providers")
	AttrVoiceProviders = attribute.Key("dialdeck.bootstrap.voice_providers")
	AttrSources        = attribute.Key("dialdeck.bootstrap.sources")
)

type channelKey struct{}

// WithChannel tags ctx with the profile channel an operation works on. Spans
// started from the returned context carry [AttrChannel] and [Logger] adds a
// channel attribute.
func WithChannel(ctx context.Context, channel string) context.Context {
	if channel == "" {
		return ctx
	}
	return context.WithValue(ctx, channelKey{}, channel)
}

// ChannelFrom returns the channel set by [WithChannel], or "".
func ChannelFrom(ctx context.Context) string {
	ch, _ := ctx.Value(channelKey{}).(string)
	return ch
}

// Tracer returns the dialdeck [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. A channel carried by ctx is recorded as
// [AttrChannel]. The caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ch := ChannelFrom(ctx); ch != "" {
		opts = append(opts, trace.WithAttributes(AttrChannel.String(ch)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// Fail records err on span and marks it as failed. An empty msg uses the
// error text as the status description.
func Fail(span trace.Span, err error, msg string) {
	if err == nil {
		return
	}
	if msg == "" {
		msg = err.Error()
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// CorrelationID returns the trace ID of the span in ctx, or "". API error
// bodies carry it so a failed save can be matched to the server logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with trace_id and span_id of the
// span in ctx and with the channel set by [WithChannel].
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if ch := ChannelFrom(ctx); ch != "" {
		l = l.With(slog.String("channel", ch))
	}
	return l
}

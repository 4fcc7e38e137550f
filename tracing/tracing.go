// Package tracing wraps the engine's compute calls in OpenTelemetry
// spans carrying the attributes required by §4.5: span/parent/trace
// ids plus the key's cache-path prefix, key label, and (once known)
// its resulting value. It is the context.Context-based sibling of the
// teacher's echo-bound otel/correlation.go, ported off *echo.Context
// onto plain context.Context since the engine has no HTTP layer.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans in exported telemetry.
const tracerName = "github.com/evalgo/forgecache/engine"

// NewProvider returns a TracerProvider exporting nothing by default;
// callers wire a real exporter with sdktrace.WithBatcher/WithSyncer
// before passing span-processor options through, or use it as-is in
// tests where spans only need to carry attributes, not leave process.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(opts...)
}

// StartCompute opens a span for one Typed Caching Function invocation,
// tagging it with keyPrefix, key, trace.trace_id and trace.span_id, plus
// trace.parent_id when ctx carries a valid parent span. Call RecordValue
// once the value is known and End when compute returns.
func StartCompute(ctx context.Context, tp trace.TracerProvider, keyPrefix, key string) (context.Context, trace.Span) {
	parent := trace.SpanFromContext(ctx)

	ctx, span := tp.Tracer(tracerName).Start(ctx, "compute")
	span.SetAttributes(
		attribute.String("keyPrefix", keyPrefix),
		attribute.String("key", key),
		attribute.String("trace.trace_id", span.SpanContext().TraceID().String()),
		attribute.String("trace.span_id", span.SpanContext().SpanID().String()),
	)
	if parent.SpanContext().IsValid() {
		span.SetAttributes(attribute.String("trace.parent_id", parent.SpanContext().SpanID().String()))
	}
	return ctx, span
}

// RecordValue tags span with the stringified value compute produced.
func RecordValue(span trace.Span, value string) {
	span.SetAttributes(attribute.String("value", value))
}

// TraceID returns the trace id of the span carried by ctx, or "" if
// ctx carries no recording span.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// SpanID returns the span id of the span carried by ctx, or "" if ctx
// carries no recording span.
func SpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

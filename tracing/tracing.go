// Package tracing provides span helpers around module resolution,
// compile/link/evaluate, and snapshot creation, grounded on
// yesoreyeram-thaiyyal's direct use of go.opentelemetry.io/otel for its
// own evaluation-pipeline spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/v8app/jsapp"

// Tracer returns the module's named tracer from the global TracerProvider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartModuleLoad starts a span for resolving and loading one module.
func StartModuleLoad(ctx context.Context, specifier string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "module.load", trace.WithAttributes(
		attribute.String("jsapp.specifier", specifier),
	))
}

// StartLink starts a span for linking a module's dependency graph.
func StartLink(ctx context.Context, path string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "module.link", trace.WithAttributes(
		attribute.String("jsapp.path", path),
	))
}

// StartEvaluate starts a span for evaluating a module.
func StartEvaluate(ctx context.Context, path string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "module.evaluate", trace.WithAttributes(
		attribute.String("jsapp.path", path),
	))
}

// StartSnapshot starts a span for a whole-App snapshot emission.
func StartSnapshot(ctx context.Context, appName string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "app.snapshot", trace.WithAttributes(
		attribute.String("jsapp.app", appName),
	))
}

// EndWithError records err on span (if non-nil) and sets the span status
// accordingly, then ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

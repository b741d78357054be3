package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta describes a guarded call against a named dependency for telemetry
// purposes.
type OpMeta struct {
	Dependency string // Logical dependency name (required)
	Operation  string // Operation within the dependency (optional)
	Strategy   string // Resilience strategy preset in effect (optional)
}

// SpanName returns the deterministic span name for this operation.
// Format: resilience.exec.<dependency>.<operation> or resilience.exec.<dependency>
func (m OpMeta) SpanName() string {
	if m.Operation != "" {
		return "resilience.exec." + m.Dependency + "." + m.Operation
	}
	return "resilience.exec." + m.Dependency
}

// Key returns the fully qualified operation identifier.
// Format: <dependency>.<operation> or <dependency> when Operation is empty.
func (m OpMeta) Key() string {
	if m.Operation != "" {
		return m.Dependency + "." + m.Operation
	}
	return m.Dependency
}

// Tracer wraps OpenTelemetry tracing with per-call span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for a guarded call.
	StartSpan(ctx context.Context, op OpMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// newTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func newTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, op OpMeta) (context.Context, trace.Span) {
	spanName := op.SpanName()

	// Build attributes
	attrs := []attribute.KeyValue{
		attribute.String("resilience.key", op.Key()),
		attribute.String("resilience.dependency", op.Dependency),
		attribute.Bool("resilience.error", false), // Will be updated in EndSpan if error
	}

	// Add optional attributes if present
	if op.Operation != "" {
		attrs = append(attrs, attribute.String("resilience.operation", op.Operation))
	}
	if op.Strategy != "" {
		attrs = append(attrs, attribute.String("resilience.strategy", op.Strategy))
	}

	ctx, span := t.tracer.Start(ctx, spanName,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("resilience.error", true))
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// newNoopTracer creates a no-op tracer.
func newNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, op OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, op.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}

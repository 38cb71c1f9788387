package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "voxreview-relay"

// SpanContext wraps an OTel span for managed lifecycle.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartSpan creates a new span as a child of the current trace context.
//
//	sc := logger.StartSpan(ctx, "pipeline.synthesize")
//	defer sc.End()
//	ctx = sc.Context()
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) *SpanContext {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// StartStageSpan starts a consumer span for a queue message. When the producer
// stamped a trace ID on the message the new span is linked to that remote trace,
// so one review can be followed from intake to the last platform post.
func StartStageSpan(ctx context.Context, traceIDStr, taskType, messageID string) *SpanContext {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.message.id", messageID),
			attribute.String("relay.task_type", taskType),
		),
	}

	if traceIDStr != "" {
		if traceID, err := trace.TraceIDFromHex(traceIDStr); err == nil {
			remote := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			})
			opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
			ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
		}
	}

	return StartSpan(ctx, "stage."+taskType, opts...)
}

// TraceIDFromContext returns the current trace ID as hex, or "" when the
// context carries no valid span. Producers stamp it on queue messages.
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Safe to call multiple times.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError records err on the span and marks the span as failed.
func (sc *SpanContext) RecordError(err error) {
	if sc.span != nil && err != nil {
		sc.span.RecordError(err)
		sc.span.SetStatus(codes.Error, err.Error())
	}
}

func (sc *SpanContext) Span() trace.Span {
	return sc.span
}

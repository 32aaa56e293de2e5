package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/edgeflow/event"
)

// tracerName is the instrumentation scope name for edgeflow tracing.
const tracerName = "github.com/xraph/edgeflow"

// Tracing wraps each Processor invocation in an OpenTelemetry span using the
// global TracerProvider.
//
// Span attributes: edgeflow.event.id, edgeflow.event.type,
// edgeflow.event.priority, edgeflow.event.device, edgeflow.event.dedup_key,
// edgeflow.event.repeated. Errors set codes.Error on the span.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, ev *event.Event, next Handler) ([]event.FollowOn, error) {
		ctx, span := tracer.Start(ctx, "edgeflow.event.process",
			trace.WithAttributes(
				attribute.String("edgeflow.event.id", ev.ID.String()),
				attribute.String("edgeflow.event.type", ev.Type.String()),
				attribute.Int("edgeflow.event.priority", ev.Priority),
				attribute.String("edgeflow.event.device", ev.Device),
				attribute.String("edgeflow.event.dedup_key", ev.DedupKey),
				attribute.Bool("edgeflow.event.repeated", ev.Repeated),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
			span.SetAttributes(attribute.Int("edgeflow.event.follow_ons", len(out)))
		}
		return out, err
	}
}

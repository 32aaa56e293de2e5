package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/edgeflow/event"
)

// meterName is the instrumentation scope name for edgeflow metrics.
const meterName = "github.com/xraph/edgeflow"

// Metrics records per-invocation metrics using the global OTel
// MeterProvider. Without a configured provider the instruments are noops.
//
// Instruments:
//   - edgeflow.event.duration (Float64Histogram): processing time in
//     seconds, by event_type, priority and status ("ok" or "error")
//   - edgeflow.event.executions (Int64Counter): total invocations, same
//     attributes
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments on error.
	duration, _ := meter.Float64Histogram(
		"edgeflow.event.duration",
		metric.WithDescription("Duration of event processing in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"edgeflow.event.executions",
		metric.WithDescription("Total number of processor invocations"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, ev *event.Event, next Handler) ([]event.FollowOn, error) {
		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("event_type", ev.Type.String()),
			attribute.Int("priority", ev.Priority),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return out, err
	}
}

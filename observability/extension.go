package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
)

const meterName = "github.com/xraph/edgeflow/observability"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.EventEnqueued    = (*MetricsExtension)(nil)
	_ ext.EventCompleted   = (*MetricsExtension)(nil)
	_ ext.EventFailed      = (*MetricsExtension)(nil)
	_ ext.EventThrottled   = (*MetricsExtension)(nil)
	_ ext.EventRescheduled = (*MetricsExtension)(nil)
	_ ext.EventDuplicate   = (*MetricsExtension)(nil)
	_ ext.MessageReceived  = (*MetricsExtension)(nil)
)

// MetricsExtension counts lifecycle events per event type.
type MetricsExtension struct {
	Enqueued    metric.Int64Counter
	Completed   metric.Int64Counter
	Failed      metric.Int64Counter
	Throttled   metric.Int64Counter
	Rescheduled metric.Int64Counter
	Duplicate   metric.Int64Counter
	Messages    metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API returns a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		Enqueued:    counter("edgeflow.event.enqueued", "Events pushed onto a queue lane"),
		Completed:   counter("edgeflow.event.completed", "Events processed successfully"),
		Failed:      counter("edgeflow.event.failed", "Events whose processor failed"),
		Throttled:   counter("edgeflow.event.throttled", "Events backed off by a throttle limit"),
		Rescheduled: counter("edgeflow.event.rescheduled", "Repeated events put back on the scheduler"),
		Duplicate:   counter("edgeflow.event.duplicate", "Scheduled events dropped by dedup"),
		Messages:    counter("edgeflow.message.received", "Ingress messages enqueued"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttr(ev *event.Event) metric.AddOption {
	return metric.WithAttributes(attribute.String("event_type", ev.Type.String()))
}

// OnEventEnqueued implements ext.EventEnqueued.
func (m *MetricsExtension) OnEventEnqueued(ctx context.Context, ev *event.Event) error {
	m.Enqueued.Add(ctx, 1, typeAttr(ev))
	return nil
}

// OnEventCompleted implements ext.EventCompleted.
func (m *MetricsExtension) OnEventCompleted(ctx context.Context, ev *event.Event, _ time.Duration) error {
	m.Completed.Add(ctx, 1, typeAttr(ev))
	return nil
}

// OnEventFailed implements ext.EventFailed.
func (m *MetricsExtension) OnEventFailed(ctx context.Context, ev *event.Event, _ error) error {
	m.Failed.Add(ctx, 1, typeAttr(ev))
	return nil
}

// OnEventThrottled implements ext.EventThrottled.
func (m *MetricsExtension) OnEventThrottled(ctx context.Context, ev *event.Event, _ int, _ time.Time) error {
	m.Throttled.Add(ctx, 1, typeAttr(ev))
	return nil
}

// OnEventRescheduled implements ext.EventRescheduled.
func (m *MetricsExtension) OnEventRescheduled(ctx context.Context, ev *event.Event, _ time.Time) error {
	m.Rescheduled.Add(ctx, 1, typeAttr(ev))
	return nil
}

// OnEventDuplicate implements ext.EventDuplicate.
func (m *MetricsExtension) OnEventDuplicate(ctx context.Context, ev *event.Event) error {
	m.Duplicate.Add(ctx, 1, typeAttr(ev))
	return nil
}

// OnMessageReceived implements ext.MessageReceived.
func (m *MetricsExtension) OnMessageReceived(ctx context.Context, msg *codec.Message) error {
	m.Messages.Add(ctx, 1, metric.WithAttributes(attribute.String("device", msg.Device)))
	return nil
}

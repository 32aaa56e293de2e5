package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/edgeflow/queue"
)

// LaneSizer reports the current depth of every queue lane.
type LaneSizer interface {
	SizePerLane() [queue.Lanes]int
}

// ObserveQueue registers an observable gauge, edgeflow.queue.depth, that
// reports the depth of each lane of q on every collection. The returned
// registration should be unregistered on shutdown.
func ObserveQueue(meter metric.Meter, q LaneSizer) (metric.Registration, error) {
	depth, err := meter.Int64ObservableGauge("edgeflow.queue.depth",
		metric.WithDescription("Items waiting in each dispatch queue lane"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		sizes := q.SizePerLane()
		for lane, n := range sizes {
			o.ObserveInt64(depth, int64(n), metric.WithAttributes(attribute.Int("lane", lane)))
		}
		return nil
	}, depth)
}

package middleware

import (
	"context"
	"time"

	"github.com/xraph/edgeflow/event"
)

// Timeout bounds each Processor invocation with a context deadline. A
// non-positive d makes it a pass-through. Processors must honour ctx for the
// deadline to take effect.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *event.Event, next Handler) ([]event.FollowOn, error) {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}

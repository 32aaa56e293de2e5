package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/edgeflow/event"
)

// Logging logs each Processor invocation at debug level and failures at
// error level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev *event.Event, next Handler) ([]event.FollowOn, error) {
		logger.Debug("event started",
			slog.String("event_type", ev.Type.String()),
			slog.String("event_id", ev.ID.String()),
			slog.Int("priority", ev.Priority),
		)

		start := time.Now()
		out, err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("event failed",
				slog.String("event_type", ev.Type.String()),
				slog.String("event_id", ev.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("event completed",
				slog.String("event_type", ev.Type.String()),
				slog.String("event_id", ev.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.Int("follow_ons", len(out)),
			)
		}
		return out, err
	}
}

package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/edgeflow/event"
)

// ErrPanic wraps a recovered Processor panic.
var ErrPanic = errors.New("edgeflow: processor panicked")

// Recover converts a panic in the chain into an ErrPanic error and logs it
// with a stack trace. Any follow-ons are discarded.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev *event.Event, next Handler) (out []event.FollowOn, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("processor panicked",
					slog.String("event_type", ev.Type.String()),
					slog.String("event_id", ev.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				out = nil
				retErr = fmt.Errorf("%w: %s: %v", ErrPanic, ev.Type, r)
			}
		}()
		return next(ctx)
	}
}

// Package middleware provides composable wrappers around Processor
// invocations. Middleware runs synchronously on the worker goroutine and can
// observe or alter execution (recover from panics, log, trace, bound the
// run time).
package middleware

import (
	"context"

	"github.com/xraph/edgeflow/event"
)

// Handler is the terminal call that runs the Processor for an event.
type Handler func(ctx context.Context) ([]event.FollowOn, error)

// Middleware wraps a Handler. It receives the event being processed and the
// next handler to call, and MUST call next to continue the chain unless it
// short-circuits with an error.
type Middleware func(ctx context.Context, ev *event.Event, next Handler) ([]event.FollowOn, error)

// Chain composes middleware into a single Middleware. The first middleware
// in the list is the outermost wrapper:
//
//	Chain(recover, tracing, logging) runs recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, ev *event.Event, next Handler) ([]event.FollowOn, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) ([]event.FollowOn, error) {
				return mw(ctx, ev, prev)
			}
		}
		return h(ctx)
	}
}

package ext

import (
	"context"
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Event lifecycle hooks
// ──────────────────────────────────────────────────

// EventEnqueued is called after an event is pushed onto a queue lane.
type EventEnqueued interface {
	OnEventEnqueued(ctx context.Context, ev *event.Event) error
}

// EventStarted is called when a worker admits an event past the throttle.
type EventStarted interface {
	OnEventStarted(ctx context.Context, ev *event.Event) error
}

// EventCompleted is called after a processor returns successfully.
type EventCompleted interface {
	OnEventCompleted(ctx context.Context, ev *event.Event, elapsed time.Duration) error
}

// EventFailed is called when a processor errors or panics.
type EventFailed interface {
	OnEventFailed(ctx context.Context, ev *event.Event, err error) error
}

// EventThrottled is called when an event is backed off by a throttle limit.
type EventThrottled interface {
	OnEventThrottled(ctx context.Context, ev *event.Event, attempt int, retryAt time.Time) error
}

// EventRescheduled is called when a repeated event is put back on the
// delay scheduler.
type EventRescheduled interface {
	OnEventRescheduled(ctx context.Context, ev *event.Event, fireAt time.Time) error
}

// EventDuplicate is called when a scheduled event is dropped because an
// event with the same dedup key is already pending.
type EventDuplicate interface {
	OnEventDuplicate(ctx context.Context, ev *event.Event) error
}

// ──────────────────────────────────────────────────
// Other hooks
// ──────────────────────────────────────────────────

// MessageReceived is called after an ingress message is enqueued.
type MessageReceived interface {
	OnMessageReceived(ctx context.Context, msg *codec.Message) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}

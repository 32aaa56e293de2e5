package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and fans lifecycle events out to
// them. Hook slices are type-cached at registration so emitters iterate
// only over extensions that implement the hook.
//
// Register is not safe to call concurrently with the emitters; register
// every extension before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	enqueued    []entry[EventEnqueued]
	started     []entry[EventStarted]
	completed   []entry[EventCompleted]
	failed      []entry[EventFailed]
	throttled   []entry[EventThrottled]
	rescheduled []entry[EventRescheduled]
	duplicate   []entry[EventDuplicate]
	received    []entry[MessageReceived]
	shutdown    []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches it under every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(EventEnqueued); ok {
		r.enqueued = append(r.enqueued, entry[EventEnqueued]{name, h})
	}
	if h, ok := e.(EventStarted); ok {
		r.started = append(r.started, entry[EventStarted]{name, h})
	}
	if h, ok := e.(EventCompleted); ok {
		r.completed = append(r.completed, entry[EventCompleted]{name, h})
	}
	if h, ok := e.(EventFailed); ok {
		r.failed = append(r.failed, entry[EventFailed]{name, h})
	}
	if h, ok := e.(EventThrottled); ok {
		r.throttled = append(r.throttled, entry[EventThrottled]{name, h})
	}
	if h, ok := e.(EventRescheduled); ok {
		r.rescheduled = append(r.rescheduled, entry[EventRescheduled]{name, h})
	}
	if h, ok := e.(EventDuplicate); ok {
		r.duplicate = append(r.duplicate, entry[EventDuplicate]{name, h})
	}
	if h, ok := e.(MessageReceived); ok {
		r.received = append(r.received, entry[MessageReceived]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitEventEnqueued notifies all extensions that implement EventEnqueued.
func (r *Registry) EmitEventEnqueued(ctx context.Context, ev *event.Event) {
	for _, e := range r.enqueued {
		if err := e.hook.OnEventEnqueued(ctx, ev); err != nil {
			r.logHookError("OnEventEnqueued", e.name, err)
		}
	}
}

// EmitEventStarted notifies all extensions that implement EventStarted.
func (r *Registry) EmitEventStarted(ctx context.Context, ev *event.Event) {
	for _, e := range r.started {
		if err := e.hook.OnEventStarted(ctx, ev); err != nil {
			r.logHookError("OnEventStarted", e.name, err)
		}
	}
}

// EmitEventCompleted notifies all extensions that implement EventCompleted.
func (r *Registry) EmitEventCompleted(ctx context.Context, ev *event.Event, elapsed time.Duration) {
	for _, e := range r.completed {
		if err := e.hook.OnEventCompleted(ctx, ev, elapsed); err != nil {
			r.logHookError("OnEventCompleted", e.name, err)
		}
	}
}

// EmitEventFailed notifies all extensions that implement EventFailed.
func (r *Registry) EmitEventFailed(ctx context.Context, ev *event.Event, procErr error) {
	for _, e := range r.failed {
		if err := e.hook.OnEventFailed(ctx, ev, procErr); err != nil {
			r.logHookError("OnEventFailed", e.name, err)
		}
	}
}

// EmitEventThrottled notifies all extensions that implement EventThrottled.
func (r *Registry) EmitEventThrottled(ctx context.Context, ev *event.Event, attempt int, retryAt time.Time) {
	for _, e := range r.throttled {
		if err := e.hook.OnEventThrottled(ctx, ev, attempt, retryAt); err != nil {
			r.logHookError("OnEventThrottled", e.name, err)
		}
	}
}

// EmitEventRescheduled notifies all extensions that implement EventRescheduled.
func (r *Registry) EmitEventRescheduled(ctx context.Context, ev *event.Event, fireAt time.Time) {
	for _, e := range r.rescheduled {
		if err := e.hook.OnEventRescheduled(ctx, ev, fireAt); err != nil {
			r.logHookError("OnEventRescheduled", e.name, err)
		}
	}
}

// EmitEventDuplicate notifies all extensions that implement EventDuplicate.
func (r *Registry) EmitEventDuplicate(ctx context.Context, ev *event.Event) {
	for _, e := range r.duplicate {
		if err := e.hook.OnEventDuplicate(ctx, ev); err != nil {
			r.logHookError("OnEventDuplicate", e.name, err)
		}
	}
}

// EmitMessageReceived notifies all extensions that implement MessageReceived.
func (r *Registry) EmitMessageReceived(ctx context.Context, msg *codec.Message) {
	for _, e := range r.received {
		if err := e.hook.OnMessageReceived(ctx, msg); err != nil {
			r.logHookError("OnMessageReceived", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}

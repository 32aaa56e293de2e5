// Package worker is the dispatcher: an Executor that runs one dequeued item
// (throttle, processor through middleware, follow-on routing, completion or
// repeat), a Router that writes to the queue and delay scheduler, and a
// Pool of goroutines feeding the Executor from the priority queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/edgeflow/backoff"
	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/dlq"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
	"github.com/xraph/edgeflow/middleware"
	"github.com/xraph/edgeflow/processor"
	"github.com/xraph/edgeflow/queue"
	"github.com/xraph/edgeflow/throttle"
)

// ErrUnknownKind is returned for a queue item with an unrecognized Kind.
var ErrUnknownKind = errors.New("edgeflow: unknown queue item kind")

// Executor runs a single dequeued item to completion.
type Executor struct {
	router     *Router
	processor  processor.Processor
	mapper     processor.MessageMapper
	limits     *throttle.Limits
	backoff    backoff.Strategy
	dlqService *dlq.Service
	extensions *ext.Registry
	mw         middleware.Middleware
	logger     *slog.Logger

	releaseDedupOnFailure bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLimits sets the per-type throttle limits. Without it every type is
// unlimited.
func WithLimits(l *throttle.Limits) ExecutorOption {
	return func(e *Executor) { e.limits = l }
}

// WithBackoff sets the throttle back-off strategy.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.backoff = s }
}

// WithDLQ records processing failures in svc.
func WithDLQ(svc *dlq.Service) ExecutorOption {
	return func(e *Executor) { e.dlqService = svc }
}

// WithExtensions sets the lifecycle extension registry.
func WithExtensions(r *ext.Registry) ExecutorOption {
	return func(e *Executor) { e.extensions = r }
}

// WithMiddleware wraps every processor call in mws, outermost first.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithMessageMapper sets the mapper for KindMessage items.
func WithMessageMapper(m processor.MessageMapper) ExecutorOption {
	return func(e *Executor) { e.mapper = m }
}

// WithReleaseDedupOnFailure clears a failed event's dedup key so the
// logical event can be scheduled again. By default the key stays held.
func WithReleaseDedupOnFailure(release bool) ExecutorOption {
	return func(e *Executor) { e.releaseDedupOnFailure = release }
}

// NewExecutor creates an Executor that routes through r and invokes p.
func NewExecutor(r *Router, p processor.Processor, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		router:    r,
		processor: p,
		limits:    throttle.NewLimits(),
		backoff:   backoff.DefaultStrategy(),
		mw:        middleware.Chain(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.extensions == nil {
		e.extensions = ext.NewRegistry(logger)
	}
	return e
}

// Execute classifies it by Kind and handles it. The returned error is
// informational; the item has been fully dealt with either way.
func (e *Executor) Execute(ctx context.Context, it queue.Item) error {
	switch it.Kind {
	case queue.KindEvent:
		return e.executeEvent(ctx, it.Event)
	case queue.KindMessage:
		return e.executeMessage(ctx, it.Message)
	case queue.KindControl:
		e.executeControl(it.Control)
		return nil
	default:
		e.logger.Error("unknown queue item kind", slog.String("kind", it.Kind.String()))
		return fmt.Errorf("%w: %d", ErrUnknownKind, it.Kind)
	}
}

func (e *Executor) executeEvent(ctx context.Context, ev *event.Event) error {
	if !e.limits.Acquire(ev.Type.String()) {
		return e.throttled(ctx, ev)
	}
	ev.Attempts = 0

	e.extensions.EmitEventStarted(ctx, ev)
	start := time.Now()

	follow, err := e.invoke(ctx, ev)
	e.limits.Release(ev.Type.String())
	elapsed := time.Since(start)

	if err != nil {
		e.fail(ctx, ev, err)
		return err
	}

	if routeErr := e.router.Route(ctx, follow); routeErr != nil {
		e.logger.Error("follow-on routing failed",
			slog.String("event_id", ev.ID.String()),
			slog.String("event_type", ev.Type.String()),
			slog.String("error", routeErr.Error()),
		)
	}

	e.complete(ctx, ev)
	e.extensions.EmitEventCompleted(ctx, ev, elapsed)
	return nil
}

// invoke runs the processor through the middleware chain. Panics are
// converted to errors here even when no Recover middleware is configured.
func (e *Executor) invoke(ctx context.Context, ev *event.Event) (out []event.FollowOn, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %s: %v", middleware.ErrPanic, ev.Type, r)
		}
	}()
	return e.mw(ctx, ev, func(ctx context.Context) ([]event.FollowOn, error) {
		return e.processor.Process(ctx, ev)
	})
}

func (e *Executor) throttled(ctx context.Context, ev *event.Event) error {
	ev.Attempts++
	d := e.backoff.Delay(ev.Attempts)
	retryAt, err := e.router.Defer(ev, d)
	if err != nil {
		e.logger.Warn("throttled event dropped",
			slog.String("event_id", ev.ID.String()),
			slog.String("event_type", ev.Type.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.logger.Debug("event throttled",
		slog.String("event_id", ev.ID.String()),
		slog.String("event_type", ev.Type.String()),
		slog.Int("attempt", ev.Attempts),
		slog.Duration("backoff", d),
	)
	e.extensions.EmitEventThrottled(ctx, ev, ev.Attempts, retryAt)
	return nil
}

func (e *Executor) complete(ctx context.Context, ev *event.Event) {
	if !ev.Repeated {
		e.router.Complete(ev)
		return
	}
	if _, err := e.router.Reschedule(ctx, ev); err != nil {
		e.logger.Error("repeated event not rescheduled",
			slog.String("event_id", ev.ID.String()),
			slog.String("event_type", ev.Type.String()),
			slog.String("error", err.Error()),
		)
		e.router.Complete(ev)
	}
}

func (e *Executor) fail(ctx context.Context, ev *event.Event, procErr error) {
	e.logger.Error("event processing failed",
		slog.String("event_id", ev.ID.String()),
		slog.String("event_type", ev.Type.String()),
		slog.String("error", procErr.Error()),
	)

	if e.releaseDedupOnFailure {
		e.router.Complete(ev)
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, ev, procErr); dlqErr != nil {
			e.logger.Error("failed to push event to DLQ",
				slog.String("event_id", ev.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}
	e.extensions.EmitEventFailed(ctx, ev, procErr)
}

func (e *Executor) executeMessage(ctx context.Context, msg *codec.Message) error {
	if e.mapper == nil {
		e.logger.Warn("message dropped",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", processor.ErrNoMapper.Error()),
		)
		return processor.ErrNoMapper
	}
	ev, err := e.mapper.Map(ctx, msg)
	if err != nil {
		e.logger.Error("message mapping failed",
			slog.String("message_id", msg.ID.String()),
			slog.String("device", msg.Device),
			slog.String("error", err.Error()),
		)
		return err
	}
	if ev == nil {
		return nil
	}
	if err := ev.Validate(); err != nil {
		e.logger.Error("mapped event invalid",
			slog.String("message_id", msg.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return e.router.Route(ctx, []event.FollowOn{event.Immediate(ev)})
}

func (e *Executor) executeControl(c *queue.Control) {
	if c == nil {
		return
	}
	e.logger.Debug("control message handled", slog.String("name", c.Name))
	if c.Done != nil {
		close(c.Done)
	}
}

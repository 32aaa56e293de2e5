package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/dedup"
	"github.com/xraph/edgeflow/delay"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
	"github.com/xraph/edgeflow/queue"
)

// Router places events on the dispatch queue or the delay scheduler. It is
// the single write path into both, so the dedup inventory is consulted in
// one place.
type Router struct {
	queue      *queue.Priority[queue.Item]
	scheduler  *delay.Scheduler[*event.Event]
	inventory  *dedup.Inventory
	schedules  *delay.Schedules
	extensions *ext.Registry
	logger     *slog.Logger

	mu sync.Mutex
	// owners holds the instances whose dedup key was claimed by Schedule.
	owners map[*event.Event]struct{}
}

// NewRouter creates a Router over the shared queue, scheduler and
// inventory. extensions and logger may be nil.
func NewRouter(
	q *queue.Priority[queue.Item],
	s *delay.Scheduler[*event.Event],
	inv *dedup.Inventory,
	extensions *ext.Registry,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Router{
		queue:      q,
		scheduler:  s,
		inventory:  inv,
		schedules:  delay.NewSchedules(),
		extensions: extensions,
		logger:     logger,
		owners:     make(map[*event.Event]struct{}),
	}
}

// Enqueue pushes ev onto the lane given by its priority, blocking while the
// lane is full.
func (r *Router) Enqueue(ctx context.Context, ev *event.Event) error {
	if err := r.queue.EnqueueContext(ctx, ev.Priority, queue.EventItem(ev)); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev, err)
	}
	r.extensions.EmitEventEnqueued(ctx, ev)
	return nil
}

// EnqueueMessage pushes an ingress message onto lane p.
func (r *Router) EnqueueMessage(ctx context.Context, p int, msg *codec.Message) error {
	if err := r.queue.EnqueueContext(ctx, p, queue.MessageItem(msg)); err != nil {
		return fmt.Errorf("enqueue message %s: %w", msg.ID, err)
	}
	r.extensions.EmitMessageReceived(ctx, msg)
	return nil
}

// Schedule puts ev on the delay scheduler after d. A keyed event whose key
// is already held is dropped and Schedule returns false.
func (r *Router) Schedule(ctx context.Context, ev *event.Event, d time.Duration) (bool, error) {
	if !r.inventory.TryAcquire(ev.DedupKey) {
		r.logger.Debug("duplicate scheduled event dropped",
			slog.String("event_type", ev.Type.String()),
			slog.String("dedup_key", ev.DedupKey),
		)
		r.extensions.EmitEventDuplicate(ctx, ev)
		return false, nil
	}
	r.claim(ev)
	if err := r.scheduler.Put(ev, d); err != nil {
		r.Complete(ev)
		return false, fmt.Errorf("schedule %s: %w", ev, err)
	}
	return true, nil
}

func (r *Router) claim(ev *event.Event) {
	if ev.DedupKey == "" {
		return
	}
	r.mu.Lock()
	r.owners[ev] = struct{}{}
	r.mu.Unlock()
}

// Route dispatches a Processor's follow-ons: immediate ones to the queue,
// delayed ones through Schedule.
func (r *Router) Route(ctx context.Context, follow []event.FollowOn) error {
	var errs []error
	for _, f := range follow {
		if f.Event == nil {
			continue
		}
		if f.Scheduled() {
			if _, err := r.Schedule(ctx, f.Event, f.Delay); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := r.Enqueue(ctx, f.Event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reschedule puts a repeated event back on the scheduler for its next run:
// after Interval, or at the next tick of Schedule. Its dedup key stays held.
func (r *Router) Reschedule(ctx context.Context, ev *event.Event) (time.Time, error) {
	d := ev.Interval
	if ev.Schedule != "" {
		next, err := r.schedules.NextDelay(ev.Schedule, time.Now())
		if err != nil {
			return time.Time{}, fmt.Errorf("reschedule %s: %w", ev, err)
		}
		d = next
	}
	fireAt := time.Now().Add(d)
	if err := r.scheduler.PutAt(ev, fireAt); err != nil {
		return time.Time{}, fmt.Errorf("reschedule %s: %w", ev, err)
	}
	r.extensions.EmitEventRescheduled(ctx, ev, fireAt)
	return fireAt, nil
}

// Defer puts an admitted-elsewhere event back on the scheduler without a
// dedup check. Used for throttle back-off.
func (r *Router) Defer(ev *event.Event, d time.Duration) (time.Time, error) {
	fireAt := time.Now().Add(d)
	if err := r.scheduler.PutAt(ev, fireAt); err != nil {
		return time.Time{}, fmt.Errorf("defer %s: %w", ev, err)
	}
	return fireAt, nil
}

// Complete clears the dedup key of a finished event. Only the instance that
// claimed the key through Schedule releases it; a keyed event that entered
// the queue directly leaves the key of a pending instance alone.
func (r *Router) Complete(ev *event.Event) {
	r.mu.Lock()
	_, owned := r.owners[ev]
	delete(r.owners, ev)
	r.mu.Unlock()
	if owned {
		r.inventory.Release(ev.DedupKey)
	}
}

package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/edgeflow/backoff"
	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/dedup"
	"github.com/xraph/edgeflow/delay"
	"github.com/xraph/edgeflow/dlq"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/middleware"
	"github.com/xraph/edgeflow/processor"
	"github.com/xraph/edgeflow/queue"
	"github.com/xraph/edgeflow/throttle"
	"github.com/xraph/edgeflow/worker"
)

// harness wires a queue, scheduler, inventory, router, executor and pool,
// plus the scheduler→queue pump the engine normally runs.
type harness struct {
	q      *queue.Priority[queue.Item]
	sched  *delay.Scheduler[*event.Event]
	inv    *dedup.Inventory
	router *worker.Router
	reg    *processor.Registry
	dlq    *dlq.Service
	pool   *worker.Pool
	cancel context.CancelFunc
	pumped sync.WaitGroup
}

func newHarness(t *testing.T, workers int, opts ...worker.ExecutorOption) *harness {
	t.Helper()
	h := &harness{
		q:     queue.NewPriority[queue.Item](64),
		sched: delay.NewScheduler[*event.Event](),
		inv:   dedup.NewInventory(),
		reg:   processor.NewRegistry(),
		dlq:   dlq.NewService(dlq.NewMemoryStore(16), nil),
	}
	h.router = worker.NewRouter(h.q, h.sched, h.inv, nil, nil)

	base := []worker.ExecutorOption{
		worker.WithDLQ(h.dlq),
		worker.WithBackoff(backoff.NewConstant(10 * time.Millisecond)),
		worker.WithMiddleware(middleware.Recover(nil)),
	}
	exec := worker.NewExecutor(h.router, h.reg, nil, append(base, opts...)...)
	h.pool = worker.NewPool(h.q, exec, nil, worker.WithPoolConcurrency(workers))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.pumped.Add(1)
	go func() {
		defer h.pumped.Done()
		for {
			ev, err := h.sched.Take(ctx)
			if err != nil {
				return
			}
			_ = h.q.Enqueue(ev.Priority, queue.EventItem(ev))
		}
	}()

	require.NoError(t, h.pool.Start(context.Background()))
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.pool.Stop(ctx)
	h.cancel()
	h.pumped.Wait()
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPool_ProcessesEventsAndRoutesFollowOns(t *testing.T) {
	h := newHarness(t, 2)

	var aggregates atomic.Int32
	h.reg.RegisterFunc("SampleEvent", func(_ context.Context, ev *event.Event) ([]event.FollowOn, error) {
		return []event.FollowOn{
			event.Immediate(event.New("AggregateEvent", event.WithDevice(ev.Device))),
			event.Delayed(event.New("AggregateEvent", event.WithDevice(ev.Device)), 20*time.Millisecond),
		}, nil
	})
	h.reg.RegisterFunc("AggregateEvent", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		aggregates.Add(1)
		return nil, nil
	})

	require.NoError(t, h.router.Enqueue(context.Background(), event.New("SampleEvent", event.WithDevice("d1"))))
	waitFor(t, time.Second, func() bool { return aggregates.Load() == 2 })
}

// Scenario C: a keyed event scheduled twice before it fires runs once; after
// it completes the key is free again.
func TestRouter_ScheduleDedup(t *testing.T) {
	h := newHarness(t, 1)

	var runs atomic.Int32
	h.reg.RegisterFunc("OeeEvent", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		runs.Add(1)
		return nil, nil
	})

	ctx := context.Background()
	ok, err := h.router.Schedule(ctx, event.New("OeeEvent", event.WithDedupKey("K")), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.router.Schedule(ctx, event.New("OeeEvent", event.WithDedupKey("K")), 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok, "second schedule for K must be a no-op")
	assert.Equal(t, 1, h.sched.Len())

	waitFor(t, time.Second, func() bool { return runs.Load() == 1 && !h.inv.Contains("K") })

	ok, err = h.router.Schedule(ctx, event.New("OeeEvent", event.WithDedupKey("K")), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
	waitFor(t, time.Second, func() bool { return runs.Load() == 2 })
}

func TestRouter_UnclaimedEventKeepsPendingKey(t *testing.T) {
	h := newHarness(t, 1)

	var runs atomic.Int32
	h.reg.RegisterFunc("OeeEvent", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		runs.Add(1)
		return nil, nil
	})

	ctx := context.Background()
	ok, err := h.router.Schedule(ctx, event.New("OeeEvent", event.WithDedupKey("K")), time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Same key, straight onto the queue: it runs but never owned K.
	require.NoError(t, h.router.Enqueue(ctx, event.New("OeeEvent", event.WithDedupKey("K"))))
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
	time.Sleep(20 * time.Millisecond)

	assert.True(t, h.inv.Contains("K"), "pending instance still owns K")
	ok, err = h.router.Schedule(ctx, event.New("OeeEvent", event.WithDedupKey("K")), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.sched.Len())
}

// Scenario D: throttle 2, ten 50ms events. Never more than two run at once
// and all ten finish in at least five rounds.
func TestPool_ThrottleBoundsConcurrency(t *testing.T) {
	limits := throttle.NewLimits(throttle.Config{Type: "OeeEvent", MaxConcurrency: 2})
	h := newHarness(t, 8, worker.WithLimits(limits))

	var current, peak, done atomic.Int32
	h.reg.RegisterFunc("OeeEvent", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		current.Add(-1)
		done.Add(1)
		return nil, nil
	})

	start := time.Now()
	for range 10 {
		require.NoError(t, h.router.Enqueue(context.Background(), event.New("OeeEvent")))
	}
	waitFor(t, 5*time.Second, func() bool { return done.Load() == 10 })

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}

func TestPool_ThrottleZeroNeverProcesses(t *testing.T) {
	limits := throttle.NewLimits(throttle.Config{Type: "OeeEvent", MaxConcurrency: 0})
	h := newHarness(t, 2, worker.WithLimits(limits))

	var runs atomic.Int32
	h.reg.RegisterFunc("OeeEvent", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		runs.Add(1)
		return nil, nil
	})

	ev := event.New("OeeEvent")
	require.NoError(t, h.router.Enqueue(context.Background(), ev))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, runs.Load())

	// Lifting the limit at runtime lets the backed-off event through.
	limits.SetLimit("OeeEvent", 1)
	waitFor(t, time.Second, func() bool { return runs.Load() == 1 })
}

func TestPool_FailureGoesToDLQAndWorkerSurvives(t *testing.T) {
	h := newHarness(t, 1)

	var ok atomic.Int32
	h.reg.RegisterFunc("Broken", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		return []event.FollowOn{event.Immediate(event.New("Fine"))}, errors.New("device offline")
	})
	h.reg.RegisterFunc("Panicky", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		panic("bad register map")
	})
	h.reg.RegisterFunc("Fine", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		ok.Add(1)
		return nil, nil
	})

	ctx := context.Background()
	_, err := h.router.Schedule(ctx, event.New("Broken", event.WithDedupKey("Broken-1")), time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, h.router.Enqueue(ctx, event.New("Panicky")))
	require.NoError(t, h.router.Enqueue(ctx, event.New("Unregistered")))
	require.NoError(t, h.router.Enqueue(ctx, event.New("Fine")))

	store := h.dlq.Store()
	waitFor(t, time.Second, func() bool {
		n, _ := store.CountDLQ(ctx)
		return n == 3 && ok.Load() == 1
	})

	// Follow-ons of a failed call are never routed.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), ok.Load())
	// Default: the failed event's dedup key stays held.
	assert.True(t, h.inv.Contains("Broken-1"))

	entries, err := store.ListDLQ(ctx, dlq.ListOpts{Type: "Panicky"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Error, "bad register map")

	entries, _ = store.ListDLQ(ctx, dlq.ListOpts{Type: "Unregistered"})
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Error, processor.ErrUnknownType.Error())
}

func TestPool_ReleaseDedupOnFailure(t *testing.T) {
	h := newHarness(t, 1, worker.WithReleaseDedupOnFailure(true))

	var calls atomic.Int32
	h.reg.RegisterFunc("Broken", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	})

	_, err := h.router.Schedule(context.Background(), event.New("Broken", event.WithDedupKey("K")), time.Millisecond)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool { return calls.Load() == 1 && !h.inv.Contains("K") })
}

func TestPool_RepeatedEventReschedules(t *testing.T) {
	h := newHarness(t, 1)

	var runs atomic.Int32
	h.reg.RegisterFunc("PollEvent", func(context.Context, *event.Event) ([]event.FollowOn, error) {
		runs.Add(1)
		return nil, nil
	})

	ev := event.New("PollEvent", event.WithRepeat(15*time.Millisecond), event.WithDedupKey("PollEvent-press-1"))
	ok, err := h.router.Schedule(context.Background(), ev, 0)
	require.NoError(t, err)
	require.True(t, ok)

	waitFor(t, 2*time.Second, func() bool { return runs.Load() >= 3 })
	assert.True(t, h.inv.Contains("PollEvent-press-1"), "repeated events keep their key")

	ok, err = h.router.Schedule(context.Background(), event.New("PollEvent", event.WithDedupKey("PollEvent-press-1")), 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPool_MessagesAreMapped(t *testing.T) {
	var got atomic.Value
	mapper := processor.MapperFunc(func(_ context.Context, msg *codec.Message) (*event.Event, error) {
		if msg.Signal == "ignored" {
			return nil, nil
		}
		return event.New("SampleEvent", event.WithDevice(msg.Device), event.WithPriority(1)), nil
	})
	h := newHarness(t, 1, worker.WithMessageMapper(mapper))

	h.reg.RegisterFunc("SampleEvent", func(_ context.Context, ev *event.Event) ([]event.FollowOn, error) {
		got.Store(ev.Device)
		return nil, nil
	})

	ctx := context.Background()
	require.NoError(t, h.router.EnqueueMessage(ctx, 2, &codec.Message{Device: "x", Signal: "ignored"}))
	require.NoError(t, h.router.EnqueueMessage(ctx, 2, &codec.Message{Device: "press-9", Signal: "temp"}))
	waitFor(t, time.Second, func() bool { return got.Load() == "press-9" })
}

func TestPool_ControlDone(t *testing.T) {
	h := newHarness(t, 1)
	done := make(chan struct{})
	require.NoError(t, h.q.Enqueue(queue.LaneLowest, queue.ControlItem(&queue.Control{Name: "barrier", Done: done})))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("control message not handled")
	}
}

func TestPool_StopCancelsSlowProcessors(t *testing.T) {
	q := queue.NewPriority[queue.Item](8)
	reg := processor.NewRegistry()
	started := make(chan struct{})
	reg.RegisterFunc("Slow", func(ctx context.Context, _ *event.Event) ([]event.FollowOn, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	router := worker.NewRouter(q, delay.NewScheduler[*event.Event](), dedup.NewInventory(), nil, nil)
	pool := worker.NewPool(q, worker.NewExecutor(router, reg, nil), nil, worker.WithPoolConcurrency(1))
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, router.Enqueue(context.Background(), event.New("Slow")))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_StopIdempotent(t *testing.T) {
	h := newHarness(t, 3)
	assert.Equal(t, 3, h.pool.Concurrency())
	require.NoError(t, h.pool.Stop(context.Background()))
	require.NoError(t, h.pool.Stop(context.Background()))
}

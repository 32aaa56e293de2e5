package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/edgeflow"
	"github.com/xraph/edgeflow/backoff"
	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/connpool"
	"github.com/xraph/edgeflow/dedup"
	"github.com/xraph/edgeflow/delay"
	"github.com/xraph/edgeflow/dlq"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
	"github.com/xraph/edgeflow/ingress"
	mw "github.com/xraph/edgeflow/middleware"
	"github.com/xraph/edgeflow/observability"
	"github.com/xraph/edgeflow/processor"
	"github.com/xraph/edgeflow/queue"
	"github.com/xraph/edgeflow/throttle"
	"github.com/xraph/edgeflow/worker"
)

const instrumentationName = "github.com/xraph/edgeflow"

// ErrDuplicate is returned by Submit for a repeated event whose dedup key is
// already held.
var ErrDuplicate = errors.New("edgeflow: duplicate event")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware appends a middleware after the built-in chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.userMW = append(eng.userMW, m) }
}

// WithMessageMapper sets how ingress messages become events.
func WithMessageMapper(m processor.MessageMapper) Option {
	return func(eng *Engine) { eng.mapper = m }
}

// WithDialer sets the connection pool dialer. Defaults to TCP.
func WithDialer(d connpool.Dialer) Option {
	return func(eng *Engine) { eng.dialer = d }
}

// WithIngress attaches protocol adapters. They start after the workers and
// stop first.
func WithIngress(adapters ...ingress.Adapter) Option {
	return func(eng *Engine) { eng.adapters = append(eng.adapters, adapters...) }
}

// WithDLQStore replaces the in-memory dead letter store.
func WithDLQStore(s dlq.Store) Option {
	return func(eng *Engine) { eng.dlqStore = s }
}

// WithTracerProvider sets the OTel TracerProvider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OTel MeterProvider. Defaults to the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Engine owns the queue, scheduler, dedup inventory, throttle limits,
// connection pool and worker pool, and is the sole ingress point for events
// and messages.
type Engine struct {
	cfg    edgeflow.Config
	logger *slog.Logger

	queue      *queue.Priority[queue.Item]
	scheduler  *delay.Scheduler[*event.Event]
	inventory  *dedup.Inventory
	limits     *throttle.Limits
	backoff    backoff.Strategy
	conns      *connpool.Pool
	processors *processor.Registry
	extensions *ext.Registry
	dlqService *dlq.Service
	router     *worker.Router
	executor   *worker.Executor
	pool       *worker.Pool
	adapters   []ingress.Adapter

	pendingExts    []ext.Extension
	userMW         []mw.Middleware
	mapper         processor.MessageMapper
	dialer         connpool.Dialer
	dlqStore       dlq.Store
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu         sync.Mutex
	started    bool
	stopped    bool
	stopping   atomic.Bool
	pumpCancel context.CancelFunc
	group      *errgroup.Group
	gauge      metric.Registration
}

// New builds an Engine from cfg. The config is validated first.
func New(cfg edgeflow.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.dialer == nil {
		eng.dialer = &connpool.TCPDialer{}
	}
	if eng.dlqStore == nil {
		eng.dlqStore = dlq.NewMemoryStore(cfg.DLQCapacity)
	}

	bo, err := cfg.Backoff()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", edgeflow.ErrInvalidConfig, err)
	}
	eng.backoff = bo

	eng.queue = queue.NewPriority[queue.Item](cfg.LaneCapacity)
	eng.scheduler = delay.NewScheduler[*event.Event]()
	eng.inventory = dedup.NewInventory()
	eng.limits = throttle.NewLimits(cfg.ThrottleConfigs()...)
	eng.conns = connpool.New(cfg.ConnPool(), eng.dialer, eng.logger)
	eng.processors = processor.NewRegistry()

	eng.extensions = ext.NewRegistry(eng.logger)
	if eng.meterProvider != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	eng.dlqService = dlq.NewService(eng.dlqStore, eng)
	eng.router = worker.NewRouter(eng.queue, eng.scheduler, eng.inventory, eng.extensions, eng.logger)

	execOpts := []worker.ExecutorOption{
		worker.WithLimits(eng.limits),
		worker.WithBackoff(eng.backoff),
		worker.WithDLQ(eng.dlqService),
		worker.WithExtensions(eng.extensions),
		worker.WithMiddleware(eng.middleware()...),
		worker.WithReleaseDedupOnFailure(cfg.ReleaseDedupOnFailure),
	}
	if eng.mapper != nil {
		execOpts = append(execOpts, worker.WithMessageMapper(eng.mapper))
	}
	eng.executor = worker.NewExecutor(eng.router, eng.processors, eng.logger, execOpts...)
	eng.pool = worker.NewPool(eng.queue, eng.executor, eng.logger,
		worker.WithPoolConcurrency(cfg.Workers))

	return eng, nil
}

// middleware builds recover → tracing → metrics → logging → timeout, then
// the user's middleware.
func (eng *Engine) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if eng.tracerProvider != nil {
		tracing = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if eng.meterProvider != nil {
		metrics = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}
	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		tracing,
		metrics,
		mw.Logging(eng.logger),
		mw.Timeout(eng.cfg.ProcessorTimeout.Std()),
	}
	return append(chain, eng.userMW...)
}

func (eng *Engine) meter() metric.Meter {
	if eng.meterProvider != nil {
		return eng.meterProvider.Meter(instrumentationName)
	}
	return otel.Meter(instrumentationName)
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Start launches the worker pool, the scheduler pump and the ingress
// adapters.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	switch {
	case eng.stopped:
		return edgeflow.ErrStopped
	case eng.started:
		return edgeflow.ErrAlreadyStarted
	}

	if reg, err := observability.ObserveQueue(eng.meter(), eng.queue); err != nil {
		eng.logger.Warn("queue depth gauge unavailable", slog.String("error", err.Error()))
	} else {
		eng.gauge = reg
	}

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eng.pumpCancel = cancel
	eng.group, pumpCtx = errgroup.WithContext(pumpCtx)
	eng.group.Go(func() error { return eng.pump(pumpCtx) })

	for _, a := range eng.adapters {
		if err := a.Start(ctx, eng); err != nil {
			eng.started = true
			stopErr := eng.stopLocked(context.WithoutCancel(ctx))
			return errors.Join(fmt.Errorf("start ingress %s: %w", a.Name(), err), stopErr)
		}
	}

	eng.started = true
	eng.logger.Info("engine started",
		slog.Int("workers", eng.cfg.Workers),
		slog.Int("lane_capacity", eng.cfg.LaneCapacity),
		slog.Int("ingress_adapters", len(eng.adapters)),
	)
	return nil
}

// pump moves due events from the scheduler onto the queue at their own
// priority.
func (eng *Engine) pump(ctx context.Context) error {
	for {
		ev, err := eng.scheduler.Take(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, delay.ErrClosed) {
				return nil
			}
			return fmt.Errorf("scheduler take: %w", err)
		}
		if err := eng.router.Enqueue(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
				eng.logger.Warn("due event dropped at shutdown",
					slog.String("event_id", ev.ID.String()),
					slog.String("event_type", ev.Type.String()),
				)
				return nil
			}
			eng.logger.Error("due event not enqueued",
				slog.String("event_id", ev.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Stop shuts down in order: ingress adapters, scheduler pump, worker pool
// (bounded by ShutdownTimeout), connection pool, extensions, queue. Events
// still waiting on the scheduler are discarded.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if !eng.started || eng.stopped {
		return nil
	}
	return eng.stopLocked(ctx)
}

func (eng *Engine) stopLocked(ctx context.Context) error {
	eng.stopped = true
	eng.stopping.Store(true)

	var errs []error
	for i := len(eng.adapters) - 1; i >= 0; i-- {
		if err := eng.adapters[i].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop ingress %s: %w", eng.adapters[i].Name(), err))
		}
	}

	eng.pumpCancel()
	pending := eng.scheduler.Close()
	if err := eng.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	if pending > 0 {
		eng.logger.Info("scheduled events discarded", slog.Int("count", pending))
	}

	stopCtx := ctx
	if d := eng.cfg.ShutdownTimeout.Std(); d > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := eng.pool.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop worker pool: %w", err))
	}

	if err := eng.conns.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection pool: %w", err))
	}

	eng.extensions.EmitShutdown(ctx)
	eng.queue.Close()
	if eng.gauge != nil {
		if err := eng.gauge.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}

	eng.logger.Info("engine stopped", slog.Int("queued_remaining", eng.queue.Len()))
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Ingress
// ──────────────────────────────────────────────────

func (eng *Engine) running() error {
	if eng.stopping.Load() {
		return edgeflow.ErrStopped
	}
	return nil
}

// Submit validates ev and places it on the queue at its priority. A
// repeated event goes through the scheduler instead so its dedup key is
// acquired; ErrDuplicate is returned when the key is already held.
// Submit blocks while the lane is full.
func (eng *Engine) Submit(ctx context.Context, ev *event.Event) error {
	if err := eng.running(); err != nil {
		return err
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.Repeated {
		ok, err := eng.router.Schedule(ctx, ev, 0)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, ev.DedupKey)
		}
		return nil
	}
	return eng.router.Enqueue(ctx, ev)
}

// SubmitMessage places an ingress message on lane priority for mapping by
// the worker pool. It implements ingress.Sink.
func (eng *Engine) SubmitMessage(ctx context.Context, priority int, msg *codec.Message) error {
	if err := eng.running(); err != nil {
		return err
	}
	return eng.router.EnqueueMessage(ctx, priority, msg)
}

// Schedule puts ev on the delay scheduler to fire after d. It returns false
// when ev's dedup key is already held.
func (eng *Engine) Schedule(ctx context.Context, ev *event.Event, d time.Duration) (bool, error) {
	if err := eng.running(); err != nil {
		return false, err
	}
	if err := ev.Validate(); err != nil {
		return false, err
	}
	return eng.router.Schedule(ctx, ev, d)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Config returns the configuration the engine was built with.
func (eng *Engine) Config() edgeflow.Config { return eng.cfg }

// Queue returns the dispatch queue.
func (eng *Engine) Queue() *queue.Priority[queue.Item] { return eng.queue }

// Scheduler returns the delay scheduler.
func (eng *Engine) Scheduler() *delay.Scheduler[*event.Event] { return eng.scheduler }

// Inventory returns the dedup inventory.
func (eng *Engine) Inventory() *dedup.Inventory { return eng.inventory }

// Pool returns the device connection pool.
func (eng *Engine) Pool() *connpool.Pool { return eng.conns }

// Workers returns the worker pool.
func (eng *Engine) Workers() *worker.Pool { return eng.pool }

// Processors returns the processor registry.
func (eng *Engine) Processors() *processor.Registry { return eng.processors }

// Register binds p to events of type t.
func (eng *Engine) Register(t event.Type, p processor.Processor) {
	eng.processors.Register(t, p)
}

// Limits returns the throttle limits.
func (eng *Engine) Limits() *throttle.Limits { return eng.limits }

// SetThrottle changes the concurrency cap of an event type at runtime.
func (eng *Engine) SetThrottle(t event.Type, limit int) {
	eng.limits.SetLimit(t.String(), limit)
	eng.logger.Info("throttle updated",
		slog.String("event_type", t.String()),
		slog.Int("max_concurrency", limit),
	)
}

// DLQ returns the dead letter service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Drain enqueues a marker on the lowest lane and blocks until a worker
// handles it or ctx ends. Items ahead of the marker have been dequeued by
// then, though they may still be running.
func (eng *Engine) Drain(ctx context.Context) error {
	done := make(chan struct{})
	if err := eng.queue.EnqueueContext(ctx, queue.LaneLowest,
		queue.ControlItem(&queue.Control{Name: "drain", Done: done})); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

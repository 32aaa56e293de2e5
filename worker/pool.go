package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/xraph/edgeflow/id"
	"github.com/xraph/edgeflow/queue"
)

// Source is the queue the pool consumes.
type Source interface {
	Dequeue(ctx context.Context) (queue.Item, error)
}

// Pool runs a fixed number of goroutines, each dequeuing from the priority
// queue and handing items to the Executor.
type Pool struct {
	source      Source
	executor    *Executor
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	// loopCancel stops dequeuing; runCancel aborts in-flight processors.
	loopCancel context.CancelFunc
	runCancel  context.CancelFunc

	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewPool creates a worker pool over source.
func NewPool(source Source, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		source:      source,
		executor:    executor,
		concurrency: 4,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Concurrency returns the number of worker goroutines.
func (p *Pool) Concurrency() int { return p.concurrency }

// Start launches the worker goroutines and returns immediately. ctx only
// seeds values for processor contexts; use Stop to shut down.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	base := context.WithoutCancel(ctx)
	loopCtx, loopCancel := context.WithCancel(base)
	runCtx, runCancel := context.WithCancel(base)
	p.loopCancel = loopCancel
	p.runCancel = runCancel

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(loopCtx, runCtx)
	}
	return nil
}

// Stop stops dequeuing and waits for in-flight items. If ctx ends first,
// in-flight processor contexts are cancelled and Stop waits for them to
// return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	p.loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active events")
		p.cancelActive()
		<-done
		err = ctx.Err()
	}
	p.runCancel()
	return err
}

func (p *Pool) dequeueLoop(loopCtx, runCtx context.Context) {
	defer p.wg.Done()

	for {
		it, err := p.source.Dequeue(loopCtx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, queue.ErrClosed) {
				p.logger.Error("dequeue error", slog.String("error", err.Error()))
			}
			return
		}

		key := p.track(it, runCtx)
		_ = p.executor.Execute(key.ctx, it)
		p.untrack(key)
	}
}

type activeKey struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *Pool) track(it queue.Item, runCtx context.Context) activeKey {
	ctx, cancel := context.WithCancel(runCtx)
	k := activeKey{ctx: ctx, cancel: cancel}
	if it.Kind == queue.KindEvent && it.Event != nil {
		k.id = it.Event.ID.String()
		p.activeMu.Lock()
		p.active[k.id] = cancel
		p.activeMu.Unlock()
	}
	return k
}

func (p *Pool) untrack(k activeKey) {
	if k.id != "" {
		p.activeMu.Lock()
		delete(p.active, k.id)
		p.activeMu.Unlock()
	}
	k.cancel()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for eventID, cancel := range p.active {
		p.logger.Warn("cancelling active event", slog.String("event_id", eventID))
		cancel()
	}
}

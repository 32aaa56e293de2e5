// Package connpool leases device connections keyed by (host, port).
//
// Each target holds at most MaxPerTarget open connections and the whole pool
// at most MaxTotal leased ones. A connection is always either idle in the
// pool or held by exactly one Lease. When no connection can be leased within
// AcquireTimeout, Acquire fails with ErrPoolExhausted, which callers treat
// as retryable.
package connpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/edgeflow/id"
)

// Sentinel errors.
var (
	ErrPoolExhausted = errors.New("edgeflow: connection pool exhausted")
	ErrPoolClosed    = errors.New("edgeflow: connection pool closed")
	ErrDial          = errors.New("edgeflow: dial failed")
)

// IsRetryable reports whether err is a transient pool condition.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted)
}

// Target is a device endpoint.
type Target struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// String returns host:port.
func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Dialer opens a connection to a target.
type Dialer interface {
	Dial(ctx context.Context, t Target) (io.Closer, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, t Target) (io.Closer, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, t Target) (io.Closer, error) { return f(ctx, t) }

// TCPDialer dials plain TCP connections.
type TCPDialer struct {
	net.Dialer
}

// Dial implements Dialer.
func (d *TCPDialer) Dial(ctx context.Context, t Target) (io.Closer, error) {
	return d.DialContext(ctx, "tcp", t.String())
}

// Config bounds the pool.
type Config struct {
	// MaxPerTarget caps open connections per target. Default 4.
	MaxPerTarget int `json:"max_per_target" yaml:"max_per_target"`
	// MaxTotal caps leased connections across all targets. Default 64.
	MaxTotal int `json:"max_total" yaml:"max_total"`
	// AcquireTimeout bounds how long Acquire waits for capacity. Zero
	// waits until ctx is done.
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	// DialTimeout bounds a single dial. Zero means no extra bound.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// DefaultConfig returns the default pool bounds.
func DefaultConfig() Config {
	return Config{
		MaxPerTarget:   4,
		MaxTotal:       64,
		AcquireTimeout: 5 * time.Second,
		DialTimeout:    3 * time.Second,
	}
}

// Lease is exclusive use of one pooled connection. It must be returned with
// exactly one call to Release or Discard.
type Lease struct {
	ID     id.ConnID
	Target Target
	Conn   io.Closer

	pool     *Pool
	tp       *targetPool
	returned atomic.Bool
}

// Release returns the connection to the pool. Shorthand for Pool.Release.
func (l *Lease) Release() { l.pool.Release(l) }

// Discard closes the connection instead of pooling it.
func (l *Lease) Discard() { l.pool.Discard(l) }

type idleConn struct {
	id   id.ConnID
	conn io.Closer
}

type targetPool struct {
	sem       *semaphore.Weighted
	idle      []idleConn
	inUse     map[*Lease]struct{}
	dialed    int64
	discarded int64
}

// Stats is a per-target snapshot.
type Stats struct {
	Idle      int
	InUse     int
	Dialed    int64
	Discarded int64
}

// Pool is a keyed connection pool. It is safe for concurrent use.
type Pool struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger
	global *semaphore.Weighted

	closeCtx context.Context
	closeFn  context.CancelFunc

	mu      sync.Mutex
	targets map[Target]*targetPool
	closed  bool
}

// New creates a pool. Non-positive bounds fall back to DefaultConfig.
func New(cfg Config, dialer Dialer, logger *slog.Logger) *Pool {
	def := DefaultConfig()
	if cfg.MaxPerTarget <= 0 {
		cfg.MaxPerTarget = def.MaxPerTarget
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = def.MaxTotal
	}
	if dialer == nil {
		dialer = &TCPDialer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:      cfg,
		dialer:   dialer,
		logger:   logger,
		global:   semaphore.NewWeighted(int64(cfg.MaxTotal)),
		closeCtx: ctx,
		closeFn:  cancel,
		targets:  make(map[Target]*targetPool),
	}
}

func (p *Pool) target(t Target) (*targetPool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	tp := p.targets[t]
	if tp == nil {
		tp = &targetPool{
			sem:   semaphore.NewWeighted(int64(p.cfg.MaxPerTarget)),
			inUse: make(map[*Lease]struct{}),
		}
		p.targets[t] = tp
	}
	return tp, nil
}

// Acquire leases a connection to t, reusing an idle one when available and
// dialing otherwise. It waits up to AcquireTimeout for capacity.
func (p *Pool) Acquire(ctx context.Context, t Target) (*Lease, error) {
	tp, err := p.target(t)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.cfg.AcquireTimeout > 0 {
		waitCtx, cancel = context.WithTimeout(waitCtx, p.cfg.AcquireTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	// Target slot first: a waiter parked on a busy target must not hold a
	// global slot another target could use.
	if err := tp.sem.Acquire(waitCtx, 1); err != nil {
		return nil, p.waitErr(ctx, t)
	}
	if err := p.global.Acquire(waitCtx, 1); err != nil {
		tp.sem.Release(1)
		return nil, p.waitErr(ctx, t)
	}

	lease, err := p.checkout(ctx, t, tp)
	if err != nil {
		tp.sem.Release(1)
		p.global.Release(1)
		return nil, err
	}
	return lease, nil
}

// waitErr classifies a failed semaphore wait.
func (p *Pool) waitErr(ctx context.Context, t Target) error {
	switch {
	case p.closeCtx.Err() != nil:
		return ErrPoolClosed
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		p.logger.Debug("connection pool exhausted", slog.String("target", t.String()))
		return fmt.Errorf("%w: %s", ErrPoolExhausted, t)
	}
}

// checkout runs with both semaphore slots held.
func (p *Pool) checkout(ctx context.Context, t Target, tp *targetPool) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(tp.idle); n > 0 {
		ic := tp.idle[n-1]
		tp.idle = tp.idle[:n-1]
		l := &Lease{ID: ic.id, Target: t, Conn: ic.conn, pool: p, tp: tp}
		tp.inUse[l] = struct{}{}
		p.mu.Unlock()
		return l, nil
	}
	p.mu.Unlock()

	dialCtx := ctx
	if p.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := p.dialer.Dial(dialCtx, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, t, err)
	}

	l := &Lease{ID: id.NewConnID(), Target: t, Conn: conn, pool: p, tp: tp}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPoolClosed
	}
	tp.inUse[l] = struct{}{}
	tp.dialed++
	p.mu.Unlock()

	p.logger.Debug("connection dialed",
		slog.String("target", t.String()),
		slog.String("conn_id", l.ID.String()),
	)
	return l, nil
}

func (p *Pool) markReturned(l *Lease) {
	if l.returned.Swap(true) {
		panic(fmt.Sprintf("connpool: lease %s returned twice", l.ID))
	}
}

// Release returns a leased connection to the idle set. Releasing the same
// lease twice panics.
func (p *Pool) Release(l *Lease) {
	p.markReturned(l)

	p.mu.Lock()
	delete(l.tp.inUse, l)
	// Close already closed every in-use connection.
	if !p.closed {
		l.tp.idle = append(l.tp.idle, idleConn{id: l.ID, conn: l.Conn})
	}
	p.mu.Unlock()

	l.tp.sem.Release(1)
	p.global.Release(1)
}

// Discard closes a leased connection and frees its slot. Use it for broken
// connections.
func (p *Pool) Discard(l *Lease) {
	p.markReturned(l)

	p.mu.Lock()
	delete(l.tp.inUse, l)
	l.tp.discarded++
	closed := p.closed
	p.mu.Unlock()

	if closed {
		l.tp.sem.Release(1)
		p.global.Release(1)
		return
	}
	if err := l.Conn.Close(); err != nil {
		p.logger.Debug("close discarded connection",
			slog.String("target", l.Target.String()),
			slog.String("error", err.Error()),
		)
	}
	l.tp.sem.Release(1)
	p.global.Release(1)
}

// Close closes every idle and in-use connection and fails pending and
// future Acquire calls with ErrPoolClosed. Outstanding leases must still be
// released; doing so is a no-op beyond freeing the slot.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var conns []io.Closer
	for _, tp := range p.targets {
		for _, ic := range tp.idle {
			conns = append(conns, ic.conn)
		}
		tp.idle = nil
		for l := range tp.inUse {
			conns = append(conns, l.Conn)
		}
	}
	p.mu.Unlock()

	p.closeFn()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot per target.
func (p *Pool) Stats() map[Target]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[Target]Stats, len(p.targets))
	for t, tp := range p.targets {
		out[t] = Stats{
			Idle:      len(tp.idle),
			InUse:     len(tp.inUse),
			Dialed:    tp.dialed,
			Discarded: tp.discarded,
		}
	}
	return out
}

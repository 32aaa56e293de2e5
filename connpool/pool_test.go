package connpool_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/edgeflow/connpool"
)

type fakeConn struct {
	closed atomic.Int32
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, _ connpool.Target) (io.Closer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

var plc = connpool.Target{Host: "10.0.0.5", Port: 502}

func newPool(cfg connpool.Config, d connpool.Dialer) *connpool.Pool {
	return connpool.New(cfg, d, nil)
}

func TestAcquire_ReusesIdleConnection(t *testing.T) {
	d := &fakeDialer{}
	p := newPool(connpool.Config{MaxPerTarget: 2, MaxTotal: 4}, d)
	ctx := context.Background()

	l1, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	first := l1.Conn
	l1.Release()

	l2, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	assert.Same(t, first, l2.Conn)
	assert.Equal(t, l1.ID, l2.ID)
	assert.Equal(t, 1, d.dialed())
	l2.Release()

	st := p.Stats()[plc]
	assert.Equal(t, connpool.Stats{Idle: 1, InUse: 0, Dialed: 1}, st)
}

func TestAcquire_ExhaustedTimesOut(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 4, AcquireTimeout: 30 * time.Millisecond}, &fakeDialer{})
	ctx := context.Background()

	l, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	defer l.Release()

	start := time.Now()
	_, err = p.Acquire(ctx, plc)
	require.ErrorIs(t, err, connpool.ErrPoolExhausted)
	assert.True(t, connpool.IsRetryable(err))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestAcquire_GlobalBound(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 4, MaxTotal: 1, AcquireTimeout: 20 * time.Millisecond}, &fakeDialer{})
	ctx := context.Background()

	l, err := p.Acquire(ctx, plc)
	require.NoError(t, err)

	_, err = p.Acquire(ctx, connpool.Target{Host: "10.0.0.6", Port: 502})
	require.ErrorIs(t, err, connpool.ErrPoolExhausted)

	l.Release()
	l2, err := p.Acquire(ctx, connpool.Target{Host: "10.0.0.6", Port: 502})
	require.NoError(t, err)
	l2.Release()
}

func TestAcquire_BusyTargetDoesNotBlockOthers(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 2, AcquireTimeout: 300 * time.Millisecond}, &fakeDialer{})
	ctx := context.Background()

	held, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	defer held.Release()

	waiting := make(chan error, 1)
	go func() {
		l, err := p.Acquire(ctx, plc)
		if err == nil {
			l.Release()
		}
		waiting <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	other, err := p.Acquire(ctx, connpool.Target{Host: "10.0.0.6", Port: 502})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	other.Release()

	require.ErrorIs(t, <-waiting, connpool.ErrPoolExhausted)
}

func TestAcquire_WaiterGetsReleasedConnection(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 1, AcquireTimeout: time.Second}, &fakeDialer{})
	ctx := context.Background()

	l, err := p.Acquire(ctx, plc)
	require.NoError(t, err)

	got := make(chan *connpool.Lease, 1)
	go func() {
		l2, err := p.Acquire(ctx, plc)
		if err == nil {
			got <- l2
		}
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release()

	select {
	case l2 := <-got:
		assert.Same(t, l.Conn, l2.Conn)
		l2.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired")
	}
}

func TestPool_ExclusiveWithMaxOne(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 8, AcquireTimeout: 5 * time.Second}, &fakeDialer{})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		holders atomic.Int32
		overlap atomic.Bool
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				l, err := p.Acquire(ctx, plc)
				if err != nil {
					return
				}
				if holders.Add(1) > 1 {
					overlap.Store(true)
				}
				time.Sleep(100 * time.Microsecond)
				holders.Add(-1)
				l.Release()
			}
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two leases held the same target at once")
	st := p.Stats()[plc]
	assert.Equal(t, int64(1), st.Dialed)
	assert.Equal(t, 1, st.Idle)
}

func TestRelease_TwicePanics(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 1}, &fakeDialer{})
	l, err := p.Acquire(context.Background(), plc)
	require.NoError(t, err)
	l.Release()
	assert.Panics(t, func() { l.Release() })
	assert.Panics(t, func() { l.Discard() })
}

func TestDiscard_ClosesAndRedials(t *testing.T) {
	d := &fakeDialer{}
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 1}, d)
	ctx := context.Background()

	l, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	conn := l.Conn.(*fakeConn)
	l.Discard()
	assert.Equal(t, int32(1), conn.closed.Load())

	l2, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	assert.NotSame(t, conn, l2.Conn)
	l2.Release()

	st := p.Stats()[plc]
	assert.Equal(t, int64(2), st.Dialed)
	assert.Equal(t, int64(1), st.Discarded)
}

func TestAcquire_DialErrorFreesSlot(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 1, AcquireTimeout: 20 * time.Millisecond}, d)
	ctx := context.Background()

	_, err := p.Acquire(ctx, plc)
	require.ErrorIs(t, err, connpool.ErrDial)
	assert.False(t, connpool.IsRetryable(err))

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()

	l, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	l.Release()
}

func TestClose_ClosesAllAndRejects(t *testing.T) {
	d := &fakeDialer{}
	p := newPool(connpool.Config{MaxPerTarget: 2, MaxTotal: 4}, d)
	ctx := context.Background()

	idle, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	busy, err := p.Acquire(ctx, plc)
	require.NoError(t, err)
	idle.Release()

	require.NoError(t, p.Close())
	for _, c := range d.conns {
		assert.Equal(t, int32(1), c.closed.Load())
	}

	_, err = p.Acquire(ctx, plc)
	require.ErrorIs(t, err, connpool.ErrPoolClosed)

	busy.Release()
	assert.Equal(t, int32(1), busy.Conn.(*fakeConn).closed.Load())
	require.NoError(t, p.Close())
}

func TestClose_WakesWaiters(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 1}, &fakeDialer{})
	ctx := context.Background()

	l, err := p.Acquire(ctx, plc)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, plc)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, connpool.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	l.Release()
}

func TestAcquire_ContextCanceled(t *testing.T) {
	p := newPool(connpool.Config{MaxPerTarget: 1, MaxTotal: 1}, &fakeDialer{})
	l, err := p.Acquire(context.Background(), plc)
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, plc)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, connpool.IsRetryable(err))
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "10.0.0.5:502", plc.String())
	assert.Equal(t, "[fe80::1]:502", connpool.Target{Host: "fe80::1", Port: 502}.String())
}

// Package channel provides Bounded, a fixed-capacity FIFO ring buffer with
// blocking and non-blocking operations.
//
// A Bounded channel is the leaf storage for every lane of the priority
// dispatch queue. It has no priority semantics of its own. Producers block
// while the buffer is full and consumers block while it is empty; this is the
// only backpressure mechanism in the engine. Nothing is ever dropped.
//
//	ch := channel.New[*event.Event](1024)
//	_ = ch.Push(ev)       // blocks while full
//	ev, _ := ch.Pop()     // blocks while empty
//	ev, ok := ch.TryPop() // never blocks
package channel

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is the lane capacity used when none is configured.
const DefaultCapacity = 1 << 18

// ErrClosed is returned by blocking operations once the channel is closed.
var ErrClosed = errors.New("edgeflow: channel closed")

// Bounded is a thread-safe FIFO ring buffer of fixed capacity.
// The capacity is always a power of two.
type Bounded[T any] struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf   []T
	mask  int
	head  int // next write position
	tail  int // next read position
	count int

	closed bool
}

// New creates a Bounded channel. The capacity is rounded up to the next
// power of two; values below one panic.
func New[T any](capacity int) *Bounded[T] {
	if capacity < 1 {
		panic("channel: capacity must be positive")
	}
	size := nextPowerOfTwo(capacity)
	c := &Bounded[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

func nextPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

// Push appends item, blocking while the channel is full.
func (c *Bounded[T]) Push(item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == len(c.buf) && !c.closed {
		c.notFull.Wait()
	}
	if c.closed {
		return ErrClosed
	}
	c.put(item)
	return nil
}

// PushContext is Push with cancellation. It returns ctx.Err() if the context
// ends before space becomes available.
func (c *Bounded[T]) PushContext(ctx context.Context, item T) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.notFull.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == len(c.buf) && !c.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.notFull.Wait()
	}
	if c.closed {
		return ErrClosed
	}
	c.put(item)
	return nil
}

// TryPush appends item if there is room. It never blocks.
func (c *Bounded[T]) TryPush(item T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.count == len(c.buf) {
		return false
	}
	c.put(item)
	return true
}

// Pop removes the oldest item, blocking while the channel is empty. After
// Close, remaining items are still returned; ErrClosed follows once drained.
func (c *Bounded[T]) Pop() (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.count == 0 && !c.closed {
		c.notEmpty.Wait()
	}
	if c.count == 0 {
		var zero T
		return zero, ErrClosed
	}
	return c.take(), nil
}

// PopContext is Pop with cancellation.
func (c *Bounded[T]) PopContext(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.notEmpty.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	for c.count == 0 && !c.closed {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		c.notEmpty.Wait()
	}
	if c.count == 0 {
		return zero, ErrClosed
	}
	return c.take(), nil
}

// TryPop removes the oldest item if one is present. It never blocks.
func (c *Bounded[T]) TryPop() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		var zero T
		return zero, false
	}
	return c.take(), true
}

// Len returns the current number of buffered items. The value is advisory
// and may be stale as soon as it is returned.
func (c *Bounded[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Cap returns the fixed capacity.
func (c *Bounded[T]) Cap() int { return len(c.buf) }

// Close wakes every blocked producer and consumer. Pushes fail afterwards;
// pops drain what is left. Close is idempotent.
func (c *Bounded[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

// put and take require c.mu.
func (c *Bounded[T]) put(item T) {
	c.buf[c.head] = item
	c.head = (c.head + 1) & c.mask
	c.count++
	c.notEmpty.Signal()
}

func (c *Bounded[T]) take() T {
	var zero T
	item := c.buf[c.tail]
	c.buf[c.tail] = zero
	c.tail = (c.tail + 1) & c.mask
	c.count--
	c.notFull.Signal()
	return item
}

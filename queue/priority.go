package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/edgeflow/channel"
)

// Lanes is the number of priority lanes.
const Lanes = 7

// Lane bounds.
const (
	LaneHighest = 0
	LaneLowest  = Lanes - 1
)

var (
	// ErrPriorityOutOfRange is returned for a priority outside [0, 6].
	ErrPriorityOutOfRange = errors.New("edgeflow: priority out of range")

	// ErrClosed is returned once the queue is closed and drained.
	ErrClosed = errors.New("edgeflow: queue closed")
)

// Priority is a seven-lane dispatch queue. It is safe for concurrent use
// by any number of producers and consumers.
type Priority[T any] struct {
	lanes [Lanes]*channel.Bounded[T]

	mu       sync.Mutex
	notEmpty *sync.Cond
	// count is the number of items announced by Enqueue and not yet
	// claimed. It can briefly run ahead of or behind the lanes while a
	// producer or a lane-dedicated consumer is between its two steps.
	count  int
	closed bool
}

// NewPriority creates a queue whose lanes each hold laneCapacity items.
func NewPriority[T any](laneCapacity int) *Priority[T] {
	q := &Priority[T]{}
	for i := range q.lanes {
		q.lanes[i] = channel.New[T](laneCapacity)
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func checkPriority(priority int) error {
	if priority < LaneHighest || priority > LaneLowest {
		return fmt.Errorf("%w: %d (want %d..%d)", ErrPriorityOutOfRange, priority, LaneHighest, LaneLowest)
	}
	return nil
}

// Enqueue appends item to the lane for priority. It blocks while that lane
// is full.
func (q *Priority[T]) Enqueue(priority int, item T) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	if err := q.lanes[priority].Push(item); err != nil {
		return ErrClosed
	}
	q.announce()
	return nil
}

// EnqueueContext is Enqueue with cancellation while the lane is full.
func (q *Priority[T]) EnqueueContext(ctx context.Context, priority int, item T) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	if err := q.lanes[priority].PushContext(ctx, item); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	q.announce()
	return nil
}

// MustEnqueue is Enqueue for internal callers whose priority is known to be
// valid and whose queue is known to be open. An out-of-range priority or a
// closed queue is a programming error and panics.
func (q *Priority[T]) MustEnqueue(priority int, item T) {
	if err := q.Enqueue(priority, item); err != nil {
		panic(err)
	}
}

func (q *Priority[T]) announce() {
	q.mu.Lock()
	q.count++
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Dequeue removes the next item, scanning lanes from highest to lowest
// priority. It blocks while every lane is empty. After Close it drains the
// remaining items and then returns ErrClosed.
func (q *Priority[T]) Dequeue(ctx context.Context) (T, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	for {
		for q.count <= 0 && !q.closed {
			if err := ctx.Err(); err != nil {
				return zero, err
			}
			q.notEmpty.Wait()
		}
		if item, ok := q.scan(); ok {
			q.count--
			return item, nil
		}
		if q.closed {
			return zero, ErrClosed
		}
		// Another consumer claimed the item we were woken for.
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		q.notEmpty.Wait()
	}
}

// TryDequeue is the non-blocking form of Dequeue.
func (q *Priority[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if item, ok := q.scan(); ok {
		q.count--
		return item, true
	}
	var zero T
	return zero, false
}

// scan requires q.mu.
func (q *Priority[T]) scan() (T, bool) {
	for _, lane := range q.lanes {
		if item, ok := lane.TryPop(); ok {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// DequeueLane blocks on a single lane, bypassing the priority scan. It is
// meant for consumers dedicated to one lane.
func (q *Priority[T]) DequeueLane(ctx context.Context, priority int) (T, error) {
	var zero T
	if err := checkPriority(priority); err != nil {
		return zero, err
	}
	item, err := q.lanes[priority].PopContext(ctx)
	if err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return zero, ErrClosed
		}
		return zero, err
	}
	q.mu.Lock()
	q.count--
	q.mu.Unlock()
	return item, nil
}

// SizePerLane returns a snapshot of each lane's length.
func (q *Priority[T]) SizePerLane() [Lanes]int {
	var sizes [Lanes]int
	for i, lane := range q.lanes {
		sizes[i] = lane.Len()
	}
	return sizes
}

// Len returns the total number of queued items (advisory).
func (q *Priority[T]) Len() int {
	n := 0
	for _, lane := range q.lanes {
		n += lane.Len()
	}
	return n
}

// Close stops accepting new items and wakes all blocked producers and
// consumers. Items already queued can still be dequeued.
func (q *Priority[T]) Close() {
	for _, lane := range q.lanes {
		lane.Close()
	}
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// Package delay provides the delay scheduler: a min-heap of items keyed by
// absolute fire time, delivering each item only once it is due.
//
// Items sharing a fire time are delivered in insertion order. An item is
// never returned by Take before its fire time.
//
//	s := delay.NewScheduler[*event.Event]()
//	_ = s.Put(ev, 30*time.Second)
//	ev, err := s.Take(ctx) // blocks until due
package delay

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned once the scheduler is closed.
var ErrClosed = errors.New("edgeflow: delay scheduler closed")

type entry[T any] struct {
	value  T
	fireAt time.Time
	seq    uint64
}

type entryHeap[T any] []*entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}

func (h entryHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap[T]) Push(x any) { *h = append(*h, x.(*entry[T])) }

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler holds items until their fire time. It is safe for concurrent
// use by any number of producers and takers.
type Scheduler[T any] struct {
	mu      sync.Mutex
	items   entryHeap[T]
	seq     uint64
	closed  bool
	changed chan struct{} // closed and replaced whenever the head changes
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithNow overrides the time source used to compute fire times and due
// checks. Waiting still uses real timers for the remaining duration.
func WithNow(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewScheduler creates an empty scheduler.
func NewScheduler[T any](opts ...Option) *Scheduler[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler[T]{
		changed: make(chan struct{}),
		now:     o.now,
	}
}

// Put schedules item to fire after d. Negative delays fire immediately.
func (s *Scheduler[T]) Put(item T, d time.Duration) error {
	if d < 0 {
		d = 0
	}
	return s.PutAt(item, s.now().Add(d))
}

// PutAt schedules item to fire at t.
func (s *Scheduler[T]) PutAt(item T, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.seq++
	e := &entry[T]{value: item, fireAt: t, seq: s.seq}
	heap.Push(&s.items, e)
	if s.items[0] == e {
		s.notify()
	}
	return nil
}

// notify requires s.mu.
func (s *Scheduler[T]) notify() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// Take blocks until the earliest item is due, then removes and returns it.
func (s *Scheduler[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return zero, ErrClosed
		}

		var wait <-chan time.Time
		var timer *time.Timer
		if len(s.items) > 0 {
			head := s.items[0]
			remaining := head.fireAt.Sub(s.now())
			if remaining <= 0 {
				heap.Pop(&s.items)
				s.mu.Unlock()
				return head.value, nil
			}
			timer = time.NewTimer(remaining)
			wait = timer.C
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return zero, ctx.Err()
		case <-changed:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// TryTake returns the earliest item if it is already due.
func (s *Scheduler[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	if len(s.items) == 0 || s.items[0].fireAt.After(s.now()) {
		return zero, false
	}
	e := heap.Pop(&s.items).(*entry[T])
	return e.value, true
}

// Next returns the fire time of the earliest pending item.
func (s *Scheduler[T]) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return time.Time{}, false
	}
	return s.items[0].fireAt, true
}

// Len returns the number of pending items.
func (s *Scheduler[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close wakes every blocked taker. Pending items are discarded; in-flight
// queue state is not persisted across restarts. It returns the number of
// items that were still pending.
func (s *Scheduler[T]) Close() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.closed = true
	n := len(s.items)
	s.items = nil
	s.notify()
	return n
}

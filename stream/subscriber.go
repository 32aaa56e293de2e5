package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrSubscriberClosed is returned by Next once the subscriber is closed and
// its buffer drained.
var ErrSubscriberClosed = errors.New("edgeflow: stream subscriber closed")

// Unlimited credits disable flow control for a subscriber.
const Unlimited int64 = -1

// Subscriber receives the records matching its topics.
//
// Each delivery spends one credit. With no credits left, or a full buffer,
// the record is counted as dropped for this subscriber.
type Subscriber struct {
	id     string
	topics []Topic
	ch     chan *Record

	credits   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// SubscribeOption configures a Subscriber.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	buffer  int
	credits int64
}

// WithBuffer sets the subscriber's record buffer.
func WithBuffer(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.buffer = n }
}

// WithCredits sets the initial credits. Unlimited disables flow control.
func WithCredits(n int64) SubscribeOption {
	return func(o *subscribeOptions) { o.credits = n }
}

func newSubscriber(id string, topics []Topic, o subscribeOptions) *Subscriber {
	s := &Subscriber{
		id:     id,
		topics: topics,
		ch:     make(chan *Record, o.buffer),
	}
	s.credits.Store(o.credits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// Topics returns the topics the subscriber was created with.
func (s *Subscriber) Topics() []Topic {
	return append([]Topic(nil), s.topics...)
}

// C returns the record channel. It is closed when the subscriber is.
func (s *Subscriber) C() <-chan *Record { return s.ch }

// Next blocks for the next record.
func (s *Subscriber) Next(ctx context.Context) (*Record, error) {
	select {
	case r, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriberClosed
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddCredits grants n more deliveries. No-op for an unlimited subscriber.
func (s *Subscriber) AddCredits(n int64) {
	for {
		cur := s.credits.Load()
		if cur < 0 || s.credits.CompareAndSwap(cur, cur+n) {
			return
		}
	}
}

// Credits returns the remaining credits, or Unlimited.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Delivered returns how many records reached the buffer.
func (s *Subscriber) Delivered() int64 { return s.delivered.Load() }

// Dropped returns how many matching records were missed.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) matches(r *Record) bool {
	for _, t := range s.topics {
		if t.Matches(r) {
			return true
		}
	}
	return false
}

func (s *Subscriber) spend() bool {
	for {
		cur := s.credits.Load()
		switch {
		case cur < 0:
			return true
		case cur == 0:
			return false
		case s.credits.CompareAndSwap(cur, cur-1):
			return true
		}
	}
}

// deliver hands r to the subscriber without blocking.
func (s *Subscriber) deliver(r *Record) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if !s.spend() {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.ch <- r:
		s.delivered.Add(1)
		return true
	default:
		s.AddCredits(1)
		s.dropped.Add(1)
		return false
	}
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Broker)(nil)
	_ ext.EventEnqueued    = (*Broker)(nil)
	_ ext.EventStarted     = (*Broker)(nil)
	_ ext.EventCompleted   = (*Broker)(nil)
	_ ext.EventFailed      = (*Broker)(nil)
	_ ext.EventThrottled   = (*Broker)(nil)
	_ ext.EventRescheduled = (*Broker)(nil)
	_ ext.EventDuplicate   = (*Broker)(nil)
	_ ext.MessageReceived  = (*Broker)(nil)
	_ ext.Shutdown         = (*Broker)(nil)
)

// ErrDuplicateSubscriber is returned when a subscriber ID is already taken.
var ErrDuplicateSubscriber = errors.New("edgeflow: stream subscriber exists")

// Subscriber defaults.
const (
	DefaultBuffer        = 256
	DefaultCredits int64 = 1000
)

// Broker is an ext.Extension that publishes every lifecycle hook as a
// Record.
type Broker struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscriber

	published atomic.Int64
	dropped   atomic.Int64
}

// NewBroker creates a broker. logger may be nil.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		logger: logger,
		subs:   make(map[string]*Subscriber),
	}
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream" }

// Subscribe registers a subscriber for topics. No topics means Firehose.
func (b *Broker) Subscribe(id string, topics []Topic, opts ...SubscribeOption) (*Subscriber, error) {
	if len(topics) == 0 {
		topics = []Topic{Firehose}
	}
	for _, t := range topics {
		if _, err := ParseTopic(t.String()); err != nil {
			return nil, err
		}
	}
	o := subscribeOptions{buffer: DefaultBuffer, credits: DefaultCredits}
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSubscriber, id)
	}
	sub := newSubscriber(id, append([]Topic(nil), topics...), o)
	b.subs[id] = sub
	b.logger.Debug("stream subscriber added",
		slog.String("subscriber", id),
		slog.Int("topics", len(topics)),
	)
	return sub, nil
}

// Remove closes and forgets a subscriber.
func (b *Broker) Remove(id string) {
	b.mu.Lock()
	sub := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Subscribers returns the registered subscriber IDs in sorted order.
func (b *Broker) Subscribers() []string {
	b.mu.RLock()
	out := make([]string, 0, len(b.subs))
	for id := range b.subs {
		out = append(out, id)
	}
	b.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Stats are broker-wide delivery counters.
type Stats struct {
	Subscribers int   `json:"subscribers"`
	Published   int64 `json:"published"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns the current counters.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Subscribers: n, Published: b.published.Load(), Dropped: b.dropped.Load()}
}

func (b *Broker) publish(r *Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(r) {
			continue
		}
		if sub.deliver(r) {
			b.published.Add(1)
		} else {
			b.dropped.Add(1)
		}
	}
}

// ── Event lifecycle hooks ───────────────────────────

func (b *Broker) OnEventEnqueued(_ context.Context, ev *event.Event) error {
	b.publish(eventRecord(EventEnqueued, ev))
	return nil
}

func (b *Broker) OnEventStarted(_ context.Context, ev *event.Event) error {
	b.publish(eventRecord(EventStarted, ev))
	return nil
}

func (b *Broker) OnEventCompleted(_ context.Context, ev *event.Event, elapsed time.Duration) error {
	r := eventRecord(EventCompleted, ev)
	r.Event.ElapsedMs = elapsed.Milliseconds()
	b.publish(r)
	return nil
}

func (b *Broker) OnEventFailed(_ context.Context, ev *event.Event, procErr error) error {
	r := eventRecord(EventFailed, ev)
	r.Event.Error = procErr.Error()
	b.publish(r)
	return nil
}

func (b *Broker) OnEventThrottled(_ context.Context, ev *event.Event, attempt int, retryAt time.Time) error {
	r := eventRecord(EventThrottled, ev)
	r.Event.Attempt = attempt
	r.Event.NextRunAt = retryAt.UTC()
	b.publish(r)
	return nil
}

func (b *Broker) OnEventRescheduled(_ context.Context, ev *event.Event, fireAt time.Time) error {
	r := eventRecord(EventRescheduled, ev)
	r.Event.NextRunAt = fireAt.UTC()
	b.publish(r)
	return nil
}

func (b *Broker) OnEventDuplicate(_ context.Context, ev *event.Event) error {
	b.publish(eventRecord(EventDuplicate, ev))
	return nil
}

// ── Ingress ─────────────────────────────────────────

func (b *Broker) OnMessageReceived(_ context.Context, msg *codec.Message) error {
	b.publish(messageRecord(msg))
	return nil
}

// ── Shutdown ────────────────────────────────────────

// OnShutdown closes every subscriber so readers see the end of the stream.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	st := b.Stats()
	b.logger.Info("stream broker shut down",
		slog.Int64("published", st.Published),
		slog.Int64("dropped", st.Dropped),
	)
	return nil
}

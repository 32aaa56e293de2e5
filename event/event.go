// Package event defines the domain event that flows through the dispatch
// queue, the follow-on events a Processor returns, and the dedup key
// formats used to suppress duplicate pending timers.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/xraph/edgeflow/id"
)

// Type names an event kind. Processors and throttle limits are keyed by it.
type Type string

// String returns the type name.
func (t Type) String() string { return string(t) }

// DefaultPriority is the lane used when an event does not set one.
const DefaultPriority = 3

// ErrInvalidEvent is returned by Validate for malformed events.
var ErrInvalidEvent = errors.New("edgeflow: invalid event")

// Event is a unit of domain work. It is created by an adapter or returned by
// a Processor, travels through the dispatch queue, and either completes or is
// rescheduled when Repeated is set.
type Event struct {
	ID   id.EventID `json:"id"`
	Type Type       `json:"type"`

	// DedupKey identifies logically equivalent recurring events. Empty
	// means the event never participates in dedup.
	DedupKey string `json:"dedup_key,omitempty"`

	// Priority is the queue lane, 0 (highest) to 6 (lowest).
	Priority int `json:"priority"`

	// Repeated events are rescheduled after each successful dispatch,
	// every Interval or on the next tick of Schedule.
	Repeated bool          `json:"repeated,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Schedule string        `json:"schedule,omitempty"`

	Device     string            `json:"device,omitempty"`
	Payload    []byte            `json:"payload,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// Attempts counts throttle rejections since the last admission.
	Attempts int `json:"attempts,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New creates an event of the given type with a fresh ID.
func New(t Type, opts ...Option) *Event {
	ev := &Event{
		ID:        id.NewEventID(),
		Type:      t,
		Priority:  DefaultPriority,
		CreatedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Validate checks the invariants the dispatcher relies on.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidEvent)
	}
	if e.Priority < 0 || e.Priority > 6 {
		return fmt.Errorf("%w: priority %d out of range", ErrInvalidEvent, e.Priority)
	}
	if e.Repeated && e.Interval <= 0 && e.Schedule == "" {
		return fmt.Errorf("%w: repeated event %s has no interval or schedule", ErrInvalidEvent, e.Type)
	}
	if e.Interval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidEvent)
	}
	return nil
}

// String returns "type/id" for logs.
func (e *Event) String() string {
	return fmt.Sprintf("%s/%s", e.Type, e.ID)
}

// Option configures an Event at construction.
type Option func(*Event)

// WithPriority sets the queue lane.
func WithPriority(p int) Option {
	return func(e *Event) { e.Priority = p }
}

// WithDedupKey sets the dedup key.
func WithDedupKey(key string) Option {
	return func(e *Event) { e.DedupKey = key }
}

// WithRepeat marks the event as recurring every interval.
func WithRepeat(interval time.Duration) Option {
	return func(e *Event) {
		e.Repeated = true
		e.Interval = interval
	}
}

// WithSchedule marks the event as recurring on a cron expression
// (e.g. "*/5 * * * *" or "@every 30s").
func WithSchedule(expr string) Option {
	return func(e *Event) {
		e.Repeated = true
		e.Schedule = expr
	}
}

// WithDevice sets the originating device.
func WithDevice(device string) Option {
	return func(e *Event) { e.Device = device }
}

// WithPayload sets the opaque payload.
func WithPayload(p []byte) Option {
	return func(e *Event) { e.Payload = p }
}

// WithAttribute adds a string attribute.
func WithAttribute(k, v string) Option {
	return func(e *Event) {
		if e.Attributes == nil {
			e.Attributes = make(map[string]string)
		}
		e.Attributes[k] = v
	}
}

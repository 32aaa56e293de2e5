package queue

import (
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
)

// Kind discriminates the payload carried by an Item.
type Kind uint8

const (
	// KindEvent carries a domain event ready for a Processor.
	KindEvent Kind = iota + 1
	// KindMessage carries an adapter-normalized device message that still
	// has to be mapped to an event.
	KindMessage
	// KindControl carries an internal control message.
	KindControl
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindMessage:
		return "message"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Control is an internal message handled by the worker pool itself.
type Control struct {
	// Name labels the control message in logs.
	Name string
	// Done, when set, is closed by the worker that handled the message.
	Done chan struct{}
}

// Item is the unit stored in the dispatch queue. Exactly one payload field
// is set, matching Kind. An Item is owned by the queue holding it and moves
// to the consumer on dequeue.
type Item struct {
	Kind      Kind
	Event     *event.Event
	Message   *codec.Message
	Control   *Control
	CreatedAt time.Time
}

// EventItem wraps an event.
func EventItem(ev *event.Event) Item {
	return Item{Kind: KindEvent, Event: ev, CreatedAt: time.Now().UTC()}
}

// MessageItem wraps a device message.
func MessageItem(msg *codec.Message) Item {
	return Item{Kind: KindMessage, Message: msg, CreatedAt: time.Now().UTC()}
}

// ControlItem wraps a control message.
func ControlItem(c *Control) Item {
	return Item{Kind: KindControl, Control: c, CreatedAt: time.Now().UTC()}
}

package dlq

import (
	"time"

	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/id"
)

// Entry is a failed dispatch held for inspection or replay.
type Entry struct {
	ID         id.DLQID          `json:"id"`
	EventID    id.EventID        `json:"event_id"`
	EventType  event.Type        `json:"event_type"`
	Priority   int               `json:"priority"`
	DedupKey   string            `json:"dedup_key,omitempty"`
	Device     string            `json:"device,omitempty"`
	Payload    []byte            `json:"payload,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Error      string            `json:"error"`
	FailedAt   time.Time         `json:"failed_at"`
	ReplayedAt *time.Time        `json:"replayed_at,omitempty"`
}

// Event rebuilds a fresh, non-repeating event from the entry.
func (e *Entry) Event() *event.Event {
	opts := []event.Option{
		event.WithPriority(e.Priority),
		event.WithDevice(e.Device),
		event.WithPayload(e.Payload),
	}
	for k, v := range e.Attributes {
		opts = append(opts, event.WithAttribute(k, v))
	}
	return event.New(e.EventType, opts...)
}

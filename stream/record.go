// Package stream is a live tap on the engine. The Broker is an extension
// that turns lifecycle hooks into Records and hands each one to every
// subscriber whose topics match it. Delivery never blocks the engine: a
// subscriber that is out of credits or has a full buffer misses the record.
package stream

import (
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
)

// Kind names the lifecycle step a Record describes.
type Kind string

const (
	EventEnqueued    Kind = "event.enqueued"
	EventStarted     Kind = "event.started"
	EventCompleted   Kind = "event.completed"
	EventFailed      Kind = "event.failed"
	EventThrottled   Kind = "event.throttled"
	EventRescheduled Kind = "event.rescheduled"
	EventDuplicate   Kind = "event.duplicate"

	MessageReceived Kind = "message.received"
)

// Record is one observed lifecycle step. Exactly one of Event and Message
// is set.
type Record struct {
	Kind    Kind         `json:"kind"`
	At      time.Time    `json:"at"`
	Event   *EventInfo   `json:"event,omitempty"`
	Message *MessageInfo `json:"message,omitempty"`
}

// EventInfo snapshots the event a Record is about.
type EventInfo struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Priority  int       `json:"priority"`
	Device    string    `json:"device,omitempty"`
	DedupKey  string    `json:"dedup_key,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms,omitempty"`
	Error     string    `json:"error,omitempty"`
	NextRunAt time.Time `json:"next_run_at,omitzero"`
}

// MessageInfo snapshots an ingress message.
type MessageInfo struct {
	ID     string  `json:"id"`
	Device string  `json:"device"`
	Port   string  `json:"port,omitempty"`
	Signal string  `json:"signal,omitempty"`
	Value  float64 `json:"value"`
}

// Device returns the device the record concerns, or "".
func (r *Record) Device() string {
	switch {
	case r.Event != nil:
		return r.Event.Device
	case r.Message != nil:
		return r.Message.Device
	}
	return ""
}

func eventRecord(kind Kind, ev *event.Event) *Record {
	return &Record{
		Kind: kind,
		At:   time.Now().UTC(),
		Event: &EventInfo{
			ID:       ev.ID.String(),
			Type:     ev.Type.String(),
			Priority: ev.Priority,
			Device:   ev.Device,
			DedupKey: ev.DedupKey,
			Attempt:  ev.Attempts,
		},
	}
}

func messageRecord(msg *codec.Message) *Record {
	return &Record{
		Kind: MessageReceived,
		At:   time.Now().UTC(),
		Message: &MessageInfo{
			ID:     msg.ID.String(),
			Device: msg.Device,
			Port:   msg.Port,
			Signal: msg.Signal,
			Value:  msg.Value,
		},
	}
}

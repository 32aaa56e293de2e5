// Package processor defines the domain collaborators the dispatcher invokes:
// a Processor turns one event into zero or more follow-on events, and a
// MessageMapper turns a Unified Message into an event.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
)

// ErrUnknownType is returned when no Processor is registered for an event
// type.
var ErrUnknownType = errors.New("edgeflow: no processor registered for event type")

// ErrNoMapper is returned when a message arrives and no MessageMapper is
// configured.
var ErrNoMapper = errors.New("edgeflow: no message mapper configured")

// Processor handles a single event. Returned follow-ons are routed by the
// dispatcher only when err is nil.
type Processor interface {
	Process(ctx context.Context, ev *event.Event) ([]event.FollowOn, error)
}

// Func adapts an ordinary function to Processor.
type Func func(ctx context.Context, ev *event.Event) ([]event.FollowOn, error)

// Process calls f.
func (f Func) Process(ctx context.Context, ev *event.Event) ([]event.FollowOn, error) {
	return f(ctx, ev)
}

// Typed builds a Processor that JSON-decodes Event.Payload into T before
// calling fn. An empty payload yields the zero T.
func Typed[T any](fn func(ctx context.Context, ev *event.Event, payload T) ([]event.FollowOn, error)) Processor {
	return Func(func(ctx context.Context, ev *event.Event) ([]event.FollowOn, error) {
		var p T
		if len(ev.Payload) > 0 {
			if err := json.Unmarshal(ev.Payload, &p); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", ev.Type, err)
			}
		}
		return fn(ctx, ev, p)
	})
}

// MessageMapper converts an ingress message into an event. Returning a nil
// event with a nil error drops the message.
type MessageMapper interface {
	Map(ctx context.Context, msg *codec.Message) (*event.Event, error)
}

// MapperFunc adapts an ordinary function to MessageMapper.
type MapperFunc func(ctx context.Context, msg *codec.Message) (*event.Event, error)

// Map calls f.
func (f MapperFunc) Map(ctx context.Context, msg *codec.Message) (*event.Event, error) {
	return f(ctx, msg)
}

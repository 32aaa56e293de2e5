package stream

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTopic is returned for a topic string that does not parse.
var ErrInvalidTopic = errors.New("edgeflow: invalid stream topic")

// Scope is what a Topic selects on.
type Scope string

const (
	ScopeAll      Scope = "firehose"
	ScopeEvents   Scope = "events"
	ScopeMessages Scope = "messages"
	ScopeType     Scope = "type"
	ScopeDevice   Scope = "device"
)

// Topic selects records. Its string form is one of
//
//	firehose        every record
//	events          every event.* record
//	messages        every message.received record
//	type:<Type>     event records of one event type
//	device:<id>     event and message records of one device
type Topic struct {
	Scope Scope
	Value string
}

var (
	Firehose = Topic{Scope: ScopeAll}
	Events   = Topic{Scope: ScopeEvents}
	Messages = Topic{Scope: ScopeMessages}
)

// TypeTopic selects the records of one event type.
func TypeTopic(eventType string) Topic { return Topic{Scope: ScopeType, Value: eventType} }

// DeviceTopic selects the records of one device.
func DeviceTopic(device string) Topic { return Topic{Scope: ScopeDevice, Value: device} }

func (t Topic) String() string {
	if t.Value == "" {
		return string(t.Scope)
	}
	return string(t.Scope) + ":" + t.Value
}

// Matches reports whether r is selected by t.
func (t Topic) Matches(r *Record) bool {
	switch t.Scope {
	case ScopeAll:
		return true
	case ScopeEvents:
		return r.Event != nil
	case ScopeMessages:
		return r.Message != nil
	case ScopeType:
		return r.Event != nil && r.Event.Type == t.Value
	case ScopeDevice:
		return t.Value != "" && r.Device() == t.Value
	}
	return false
}

// ParseTopic parses the string form of a Topic.
func ParseTopic(s string) (Topic, error) {
	scope, value, scoped := strings.Cut(s, ":")
	switch Scope(scope) {
	case ScopeAll, ScopeEvents, ScopeMessages:
		if !scoped {
			return Topic{Scope: Scope(scope)}, nil
		}
	case ScopeType, ScopeDevice:
		if value != "" {
			return Topic{Scope: Scope(scope), Value: value}, nil
		}
	}
	return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, s)
}

// ParseTopics parses every element of ss. No topics means Firehose.
func ParseTopics(ss []string) ([]Topic, error) {
	if len(ss) == 0 {
		return []Topic{Firehose}, nil
	}
	out := make([]Topic, 0, len(ss))
	for _, s := range ss {
		t, err := ParseTopic(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

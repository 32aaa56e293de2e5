// Package codec defines the Unified Message that protocol adapters hand to
// the engine, and the encodings used to carry it over transports.
package codec

import (
	"errors"
	"time"

	"github.com/xraph/edgeflow/id"
)

// ErrUnknownCodec is returned by Lookup for an unregistered codec name.
var ErrUnknownCodec = errors.New("edgeflow: unknown codec")

// Message is an adapter-normalized reading from a field device, independent
// of the protocol it arrived on.
type Message struct {
	ID        id.MessageID      `json:"id" msgpack:"-"`
	Device    string            `json:"device" msgpack:"device"`
	Port      string            `json:"port,omitempty" msgpack:"port,omitempty"`
	Signal    string            `json:"signal" msgpack:"signal"`
	Value     float64           `json:"value" msgpack:"value"`
	Quality   string            `json:"quality,omitempty" msgpack:"quality,omitempty"`
	Timestamp time.Time         `json:"timestamp" msgpack:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// Codec serializes messages to and from bytes.
type Codec interface {
	// Encode serializes a message.
	Encode(msg *Message) ([]byte, error)

	// Decode deserializes bytes into a message.
	Decode(data []byte) (*Message, error)

	// Name returns the codec identifier ("json" or "msgpack").
	Name() string
}

// Codec names.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Lookup returns a codec by name. An empty name selects JSON.
func Lookup(name string) (Codec, error) {
	switch name {
	case NameJSON, "":
		return &JSON{}, nil
	case NameMsgpack:
		return &Msgpack{}, nil
	default:
		return nil, ErrUnknownCodec
	}
}

// stamp fills the ID and timestamp of a decoded message when the adapter
// left them empty.
func stamp(m *Message) *Message {
	if m.ID.IsNil() {
		m.ID = id.NewMessageID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m
}

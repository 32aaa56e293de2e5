package codec

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/edgeflow/id"
)

// Msgpack encodes messages as MessagePack.
type Msgpack struct{}

// msgpackMessage is the wire form; the ID travels as its string.
type msgpackMessage struct {
	ID        string            `msgpack:"id,omitempty"`
	Device    string            `msgpack:"device"`
	Port      string            `msgpack:"port,omitempty"`
	Signal    string            `msgpack:"signal"`
	Value     float64           `msgpack:"value"`
	Quality   string            `msgpack:"quality,omitempty"`
	Timestamp time.Time         `msgpack:"timestamp"`
	Metadata  map[string]string `msgpack:"metadata,omitempty"`
}

func (c *Msgpack) Encode(msg *Message) ([]byte, error) {
	return msgpack.Marshal(&msgpackMessage{
		ID:        msg.ID.String(),
		Device:    msg.Device,
		Port:      msg.Port,
		Signal:    msg.Signal,
		Value:     msg.Value,
		Quality:   msg.Quality,
		Timestamp: msg.Timestamp,
		Metadata:  msg.Metadata,
	})
}

func (c *Msgpack) Decode(data []byte) (*Message, error) {
	var w msgpackMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	m := &Message{
		Device:    w.Device,
		Port:      w.Port,
		Signal:    w.Signal,
		Value:     w.Value,
		Quality:   w.Quality,
		Timestamp: w.Timestamp,
		Metadata:  w.Metadata,
	}
	if w.ID != "" {
		parsed, err := id.ParseMessageID(w.ID)
		if err != nil {
			return nil, fmt.Errorf("decode message id: %w", err)
		}
		m.ID = parsed
	}
	return stamp(m), nil
}

func (c *Msgpack) Name() string { return NameMsgpack }

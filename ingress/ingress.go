// Package ingress holds the protocol adapters that feed device readings into
// the engine as Unified Messages.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xraph/edgeflow/codec"
)

var (
	// ErrNotStarted is returned when publishing through an adapter that has
	// no sink yet.
	ErrNotStarted = errors.New("edgeflow: ingress adapter not started")

	// ErrDecode wraps payload decoding failures.
	ErrDecode = errors.New("edgeflow: ingress decode failed")
)

// Sink accepts normalized messages. The engine implements it.
type Sink interface {
	SubmitMessage(ctx context.Context, priority int, msg *codec.Message) error
}

// Adapter is a protocol front-end. Start attaches it to a sink; Stop
// detaches it and must make the adapter stop calling the sink.
type Adapter interface {
	Name() string
	Start(ctx context.Context, sink Sink) error
	Stop(ctx context.Context) error
}

// Direct is an in-process adapter for callers that already hold readings,
// such as tests or an embedding application.
type Direct struct {
	priority int
	codec    codec.Codec

	mu   sync.RWMutex
	sink Sink
}

var _ Adapter = (*Direct)(nil)

// NewDirect creates a Direct adapter that submits on lane priority and
// decodes raw payloads with c. A nil c selects JSON.
func NewDirect(priority int, c codec.Codec) *Direct {
	if c == nil {
		c = &codec.JSON{}
	}
	return &Direct{priority: priority, codec: c}
}

// Name implements Adapter.
func (d *Direct) Name() string { return "direct" }

// Start implements Adapter.
func (d *Direct) Start(_ context.Context, sink Sink) error {
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	return nil
}

// Stop implements Adapter.
func (d *Direct) Stop(context.Context) error {
	d.mu.Lock()
	d.sink = nil
	d.mu.Unlock()
	return nil
}

// Publish submits msg.
func (d *Direct) Publish(ctx context.Context, msg *codec.Message) error {
	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()
	if sink == nil {
		return ErrNotStarted
	}
	return sink.SubmitMessage(ctx, d.priority, msg)
}

// PublishRaw decodes data with the adapter's codec and submits the result.
func (d *Direct) PublishRaw(ctx context.Context, data []byte) error {
	msg, err := d.codec.Decode(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return d.Publish(ctx, msg)
}

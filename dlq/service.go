package dlq

import (
	"context"
	"maps"
	"time"

	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/id"
)

// Submitter re-injects a replayed event into dispatch.
type Submitter interface {
	Submit(ctx context.Context, ev *event.Event) error
}

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store     Store
	submitter Submitter
}

// NewService creates a DLQ service. submitter may be nil, in which case
// Replay is unavailable.
func NewService(store Store, submitter Submitter) *Service {
	return &Service{store: store, submitter: submitter}
}

// SetSubmitter sets the replay target after construction.
func (s *Service) SetSubmitter(sub Submitter) { s.submitter = sub }

// Push records a failed event.
func (s *Service) Push(ctx context.Context, ev *event.Event, procErr error) error {
	entry := &Entry{
		ID:         id.NewDLQID(),
		EventID:    ev.ID,
		EventType:  ev.Type,
		Priority:   ev.Priority,
		DedupKey:   ev.DedupKey,
		Device:     ev.Device,
		Payload:    ev.Payload,
		Attributes: maps.Clone(ev.Attributes),
		Error:      procErr.Error(),
		FailedAt:   time.Now().UTC(),
	}
	return s.store.PushDLQ(ctx, entry)
}

// Replay submits a fresh copy of the entry's event and marks the entry
// replayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*event.Event, error) {
	if s.submitter == nil {
		return nil, ErrNoSubmitter
	}
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	ev := entry.Event()
	if err := s.submitter.Submit(ctx, ev); err != nil {
		return nil, err
	}
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// Already submitted; report the bookkeeping error with the event.
		return ev, err
	}
	return ev, nil
}

// Store returns the underlying store for List, Get, Purge and Count.
func (s *Service) Store() Store {
	return s.store
}

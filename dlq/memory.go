package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/edgeflow/id"
)

// DefaultCapacity is the ring size used when NewMemoryStore gets ≤0.
const DefaultCapacity = 1024

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a bounded in-memory Store. Entries are kept oldest first;
// pushing into a full store evicts the oldest entry.
type MemoryStore struct {
	mu      sync.RWMutex
	cap     int
	entries []*Entry
	evicted int64
}

// NewMemoryStore creates a ring store holding at most capacity entries.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{cap: capacity, entries: make([]*Entry, 0, capacity)}
}

// PushDLQ implements Store.
func (s *MemoryStore) PushDLQ(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == s.cap {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
		s.evicted++
	}
	s.entries = append(s.entries, entry)
	return nil
}

// ListDLQ implements Store.
func (s *MemoryStore) ListDLQ(_ context.Context, opts ListOpts) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	skipped := 0
	for _, e := range s.entries {
		if opts.Type != "" && e.EventType != opts.Type {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetDLQ implements Store.
func (s *MemoryStore) GetDLQ(_ context.Context, entryID id.DLQID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ID == entryID {
			return e, nil
		}
	}
	return nil, ErrNotFound
}

// ReplayDLQ implements Store.
func (s *MemoryStore) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == entryID {
			now := time.Now().UTC()
			e.ReplayedAt = &now
			return nil
		}
	}
	return ErrNotFound
}

// PurgeDLQ implements Store.
func (s *MemoryStore) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if e.FailedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	return removed, nil
}

// CountDLQ implements Store.
func (s *MemoryStore) CountDLQ(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

// Evicted returns how many entries were dropped because the ring was full.
func (s *MemoryStore) Evicted() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

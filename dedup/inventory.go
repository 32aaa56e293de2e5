// Package dedup provides the inventory of recurring-event keys that are
// already pending or in flight.
//
// A key is present exactly while one instance of the logical event it names
// is scheduled or being dispatched. Callers claim a key with TryAcquire
// before scheduling and release it once the instance completes; a failed
// claim means an equivalent instance already exists and the new one must be
// skipped.
package dedup

import (
	"sort"
	"sync"
)

// Inventory is a concurrency-safe set of pending dedup keys.
type Inventory struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{keys: make(map[string]struct{})}
}

// TryAcquire atomically adds key and reports whether it was absent.
// The empty key is always admitted and never recorded.
func (inv *Inventory) TryAcquire(key string) bool {
	if key == "" {
		return true
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.keys[key]; ok {
		return false
	}
	inv.keys[key] = struct{}{}
	return true
}

// Release removes key. Releasing an absent key is a no-op.
func (inv *Inventory) Release(key string) {
	if key == "" {
		return
	}
	inv.mu.Lock()
	delete(inv.keys, key)
	inv.mu.Unlock()
}

// Contains reports whether key is pending.
func (inv *Inventory) Contains(key string) bool {
	if key == "" {
		return false
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	_, ok := inv.keys[key]
	return ok
}

// Len returns the number of pending keys.
func (inv *Inventory) Len() int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return len(inv.keys)
}

// Keys returns the pending keys in sorted order.
func (inv *Inventory) Keys() []string {
	inv.mu.Lock()
	out := make([]string, 0, len(inv.keys))
	for k := range inv.keys {
		out = append(out, k)
	}
	inv.mu.Unlock()
	sort.Strings(out)
	return out
}

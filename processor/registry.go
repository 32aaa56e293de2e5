package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/edgeflow/event"
)

// Registry maps event types to processors. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[event.Type]Processor
}

// NewRegistry creates an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[event.Type]Processor),
	}
}

// Register binds p to typ, replacing any existing binding.
func (r *Registry) Register(typ event.Type, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[typ] = p
}

// RegisterFunc binds a plain function to typ.
func (r *Registry) RegisterFunc(typ event.Type, fn func(ctx context.Context, ev *event.Event) ([]event.FollowOn, error)) {
	r.Register(typ, Func(fn))
}

// Get returns the processor for typ.
func (r *Registry) Get(typ event.Type) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[typ]
	return p, ok
}

// Process looks up the processor for ev.Type and invokes it. Registry
// itself satisfies Processor so the dispatcher can wrap it in middleware.
func (r *Registry) Process(ctx context.Context, ev *event.Event) ([]event.FollowOn, error) {
	p, ok := r.Get(ev.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, ev.Type)
	}
	return p.Process(ctx, ev)
}

// Types returns the registered event types, sorted.
func (r *Registry) Types() []event.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]event.Type, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

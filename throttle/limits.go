// Package throttle enforces per-event-type concurrency limits and optional
// token-bucket rate limits on Processor invocations.
//
// A type with no configuration is unlimited. A configured concurrency limit
// of zero disables the type: Acquire always refuses it, so its events are
// backed off and never processed.
//
//	l := throttle.NewLimits(
//	    throttle.Config{Type: "OeeEvent", MaxConcurrency: 2},
//	    throttle.Config{Type: "SampleEvent", MaxConcurrency: throttle.Unlimited, RateLimit: 100},
//	)
//	if l.Acquire("OeeEvent") {
//	    defer l.Release("OeeEvent")
//	    // invoke the processor
//	}
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Unlimited disables the concurrency cap for a configured type.
const Unlimited = -1

// Config defines the limits for one event type.
type Config struct {
	// Type is the event type name.
	Type string

	// MaxConcurrency caps simultaneous Processor invocations of this type.
	// Zero disables the type; Unlimited (or any negative value) removes
	// the cap.
	MaxConcurrency int

	// RateLimit is the maximum sustained admissions per second. Zero
	// disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 if RateLimit
	// is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single event type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Limits holds the throttle counters for every event type. It is safe for
// concurrent use.
type Limits struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewLimits creates Limits with the given per-type configurations.
func NewLimits(configs ...Config) *Limits {
	l := &Limits{types: make(map[string]*typeState, len(configs))}
	for _, cfg := range configs {
		l.types[cfg.Type] = newTypeState(cfg)
	}
	return l
}

// Acquire atomically tests the limits for typ and, if the invocation may
// proceed, increments its active count. The caller MUST call Release when
// the invocation completes.
func (l *Limits) Acquire(typ string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[typ]
	if ts == nil {
		ts = newTypeState(Config{Type: typ, MaxConcurrency: Unlimited})
		l.types[typ] = ts
	}

	max := ts.config.MaxConcurrency
	if max == 0 {
		return false
	}
	if max > 0 && ts.active >= max {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for typ.
func (l *Limits) Release(typ string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.types[typ]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// Set replaces (or creates) the configuration for a type at runtime. The
// current active count is preserved; lowering the limit below it only
// blocks new admissions.
func (l *Limits) Set(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := newTypeState(cfg)
	if existing := l.types[cfg.Type]; existing != nil {
		ts.active = existing.active
	}
	l.types[cfg.Type] = ts
}

// SetLimit changes only the concurrency cap for typ, keeping any
// rate limit in place.
func (l *Limits) SetLimit(typ string, max int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.types[typ]
	if ts == nil {
		l.types[typ] = newTypeState(Config{Type: typ, MaxConcurrency: max})
		return
	}
	ts.config.MaxConcurrency = max
}

// Limit returns the configured cap for typ and whether the type is
// configured at all.
func (l *Limits) Limit(typ string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[typ]; ts != nil {
		return ts.config.MaxConcurrency, true
	}
	return Unlimited, false
}

// Disabled reports whether typ is configured with a zero cap.
func (l *Limits) Disabled(typ string) bool {
	max, ok := l.Limit(typ)
	return ok && max == 0
}

// ActiveCount returns the current number of active invocations for typ.
func (l *Limits) ActiveCount(typ string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.types[typ]; ts != nil {
		return ts.active
	}
	return 0
}

// Package backoff computes how long a throttled event waits in the delay
// scheduler before it is offered to a worker again. The attempt number is
// the count of consecutive throttle refusals the event has accumulated.
//
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultInterval is the constant backoff applied to throttled events when
// no strategy is configured.
const DefaultInterval = 250 * time.Millisecond

// ErrUnknownStrategy is returned by Parse for an unrecognized kind.
var ErrUnknownStrategy = errors.New("edgeflow: unknown backoff strategy")

// Strategy computes the delay before a throttled event is retried.
type Strategy interface {
	// Delay returns the wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant waits the same interval after every refusal.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the wait per refusal, capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	return capped(e.Initial, e.Max, attempt)
}

// ──────────────────────────────────────────────────
// Jitter
// ──────────────────────────────────────────────────

// Jitter spreads throttled retries of a burst of same-type events across
// [0, min(Initial * 2^(attempt-1), Max)].
type Jitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewJitter creates an exponential strategy with full jitter.
func NewJitter(initial, maxDelay time.Duration) *Jitter {
	return &Jitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration up to the capped exponential base.
func (j *Jitter) Delay(attempt int) time.Duration {
	base := capped(j.Initial, j.Max, attempt)
	return time.Duration(rand.Float64() * float64(base)) //nolint:gosec // jitter intentionally uses non-crypto rand
}

func capped(initial, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if maxDelay > 0 && d > float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}

// ──────────────────────────────────────────────────
// Selection
// ──────────────────────────────────────────────────

// Strategy kinds accepted by Parse.
const (
	KindConstant    = "constant"
	KindExponential = "exponential"
	KindJitter      = "jitter"
)

// Parse builds a strategy from its configuration name. An empty kind
// selects Constant.
func Parse(kind string, initial, maxDelay time.Duration) (Strategy, error) {
	if initial <= 0 {
		initial = DefaultInterval
	}
	switch kind {
	case "", KindConstant:
		return NewConstant(initial), nil
	case KindExponential:
		return NewExponential(initial, maxDelay), nil
	case KindJitter:
		return NewJitter(initial, maxDelay), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, kind)
	}
}

// DefaultStrategy returns a constant DefaultInterval backoff.
func DefaultStrategy() Strategy {
	return NewConstant(DefaultInterval)
}

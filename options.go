package edgeflow

import "time"

// Option adjusts a Config.
type Option func(*Config)

// NewConfig applies opts over DefaultConfig and validates the result.
func NewConfig(opts ...Option) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithWorkers sets the number of dispatcher goroutines.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithLaneCapacity sets the per-lane queue bound.
func WithLaneCapacity(n int) Option {
	return func(c *Config) { c.LaneCapacity = n }
}

// WithThrottle caps concurrent invocations of an event type. Zero disables
// the type.
func WithThrottle(eventType string, max int) Option {
	return func(c *Config) {
		if c.Throttles == nil {
			c.Throttles = make(map[string]int)
		}
		c.Throttles[eventType] = max
	}
}

// WithRateLimit sets a token-bucket rate for an event type.
func WithRateLimit(eventType string, rate float64, burst int) Option {
	return func(c *Config) {
		if c.RateLimits == nil {
			c.RateLimits = make(map[string]RateLimit)
		}
		c.RateLimits[eventType] = RateLimit{Rate: rate, Burst: burst}
	}
}

// WithThrottleBackoff selects the back-off for throttled events.
func WithThrottleBackoff(kind string, interval, maxDelay time.Duration) Option {
	return func(c *Config) {
		c.ThrottleBackoff = BackoffConfig{Kind: kind, Interval: Duration(interval), Max: Duration(maxDelay)}
	}
}

// WithPool sets the connection pool bounds.
func WithPool(maxPerTarget, maxTotal int, acquireTimeout time.Duration) Option {
	return func(c *Config) {
		c.Pool.MaxPerTarget = maxPerTarget
		c.Pool.MaxTotal = maxTotal
		c.Pool.AcquireTimeout = Duration(acquireTimeout)
	}
}

// WithReleaseDedupOnFailure clears a failed event's dedup key.
func WithReleaseDedupOnFailure(release bool) Option {
	return func(c *Config) { c.ReleaseDedupOnFailure = release }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = Duration(d) }
}

// WithProcessorTimeout bounds each processor invocation.
func WithProcessorTimeout(d time.Duration) Option {
	return func(c *Config) { c.ProcessorTimeout = Duration(d) }
}

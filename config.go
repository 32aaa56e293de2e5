package edgeflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/edgeflow/backoff"
	"github.com/xraph/edgeflow/connpool"
	"github.com/xraph/edgeflow/queue"
	"github.com/xraph/edgeflow/stream"
	"github.com/xraph/edgeflow/throttle"
)

// Duration is a time.Duration that reads and writes as a Go duration
// string ("250ms", "5s") in YAML and JSON.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds the engine configuration.
type Config struct {
	// Workers is the number of dispatcher goroutines.
	Workers int `yaml:"workers" json:"workers"`

	// LaneCapacity bounds each of the seven queue lanes. Rounded up to a
	// power of two.
	LaneCapacity int `yaml:"lane_capacity" json:"lane_capacity"`

	// ThrottleBackoff selects how throttled events are backed off.
	ThrottleBackoff BackoffConfig `yaml:"throttle_backoff" json:"throttle_backoff"`

	// Throttles caps concurrent processor invocations per event type.
	// Zero disables a type; negative means unlimited.
	Throttles map[string]int `yaml:"throttles" json:"throttles"`

	// RateLimits adds a token-bucket rate per event type.
	RateLimits map[string]RateLimit `yaml:"rate_limits" json:"rate_limits"`

	// Pool bounds outbound device connections.
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// ReleaseDedupOnFailure clears a failed event's dedup key.
	ReleaseDedupOnFailure bool `yaml:"release_dedup_on_failure" json:"release_dedup_on_failure"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// ProcessorTimeout bounds each processor invocation. Zero disables.
	ProcessorTimeout Duration `yaml:"processor_timeout" json:"processor_timeout"`

	// DLQCapacity bounds the in-memory dead letter ring.
	DLQCapacity int `yaml:"dlq_capacity" json:"dlq_capacity"`

	MQTT   MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	Log    LogConfig    `yaml:"log" json:"log"`
	Audit  AuditConfig  `yaml:"audit" json:"audit"`
	Stream StreamConfig `yaml:"stream" json:"stream"`
}

// BackoffConfig selects a backoff.Strategy.
type BackoffConfig struct {
	// Kind is "constant" (default), "exponential" or "jitter".
	Kind     string   `yaml:"kind" json:"kind"`
	Interval Duration `yaml:"interval" json:"interval"`
	Max      Duration `yaml:"max" json:"max"`
}

// UnmarshalYAML accepts either a bare kind ("exponential") or a mapping.
func (b *BackoffConfig) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		b.Kind = n.Value
		return nil
	}
	type plain BackoffConfig
	return n.Decode((*plain)(b))
}

// RateLimit is a per-type token bucket.
type RateLimit struct {
	Rate  float64 `yaml:"rate" json:"rate"`
	Burst int     `yaml:"burst" json:"burst"`
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxPerTarget   int      `yaml:"max_per_target" json:"max_per_target"`
	MaxTotal       int      `yaml:"max_total" json:"max_total"`
	AcquireTimeout Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	DialTimeout    Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// MQTTConfig configures the optional MQTT ingress. It is disabled when
// Broker is empty.
type MQTTConfig struct {
	Broker   string   `yaml:"broker" json:"broker"`
	ClientID string   `yaml:"client_id" json:"client_id"`
	Topics   []string `yaml:"topics" json:"topics"`
	QoS      byte     `yaml:"qos" json:"qos"`
	// Codec names the payload encoding: "json" or "msgpack".
	Codec string `yaml:"codec" json:"codec"`
	// Priority is the queue lane ingress messages are placed on.
	Priority int `yaml:"priority" json:"priority"`
}

// LogConfig configures the daemon's slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
}

// AuditConfig enables lifecycle audit records in the log.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Actions limits the recorded actions, e.g. "event.failed". Empty
	// records all of them.
	Actions []string `yaml:"actions" json:"actions"`
}

// StreamConfig enables the live record tap. The daemon writes matching
// records to stdout as JSON lines.
type StreamConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Topics selects records, e.g. "events", "type:OeeEvent",
	// "device:press-1". Empty means every record.
	Topics []string `yaml:"topics" json:"topics"`
	// Buffer is the tap's record buffer.
	Buffer int `yaml:"buffer" json:"buffer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	pool := connpool.DefaultConfig()
	return Config{
		Workers:      8,
		LaneCapacity: 4096,
		ThrottleBackoff: BackoffConfig{
			Kind:     backoff.KindConstant,
			Interval: Duration(backoff.DefaultInterval),
			Max:      Duration(10 * time.Second),
		},
		Pool: PoolConfig{
			MaxPerTarget:   pool.MaxPerTarget,
			MaxTotal:       pool.MaxTotal,
			AcquireTimeout: Duration(pool.AcquireTimeout),
			DialTimeout:    Duration(pool.DialTimeout),
		},
		ShutdownTimeout: Duration(30 * time.Second),
		DLQCapacity:     1024,
		MQTT: MQTTConfig{
			ClientID: "edgeflowd",
			QoS:      1,
			Codec:    "json",
			Priority: 3,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Stream: StreamConfig{Buffer: stream.DefaultBuffer},
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1, got %d", ErrInvalidConfig, c.Workers)
	case c.LaneCapacity < 1:
		return fmt.Errorf("%w: lane_capacity must be at least 1, got %d", ErrInvalidConfig, c.LaneCapacity)
	case c.Pool.MaxPerTarget < 1 || c.Pool.MaxTotal < 1:
		return fmt.Errorf("%w: pool bounds must be at least 1", ErrInvalidConfig)
	case c.Pool.MaxTotal < c.Pool.MaxPerTarget:
		return fmt.Errorf("%w: pool.max_total (%d) below pool.max_per_target (%d)",
			ErrInvalidConfig, c.Pool.MaxTotal, c.Pool.MaxPerTarget)
	case c.ShutdownTimeout < 0 || c.ProcessorTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	case c.MQTT.Priority < queue.LaneHighest || c.MQTT.Priority > queue.LaneLowest:
		return fmt.Errorf("%w: mqtt.priority %d out of range", ErrInvalidConfig, c.MQTT.Priority)
	case c.MQTT.QoS > 2:
		return fmt.Errorf("%w: mqtt.qos %d out of range", ErrInvalidConfig, c.MQTT.QoS)
	}
	if c.MQTT.Broker != "" && len(c.MQTT.Topics) == 0 {
		return fmt.Errorf("%w: mqtt.topics required when mqtt.broker is set", ErrInvalidConfig)
	}
	for typ, rl := range c.RateLimits {
		if rl.Rate < 0 || rl.Burst < 0 {
			return fmt.Errorf("%w: rate_limits.%s must not be negative", ErrInvalidConfig, typ)
		}
	}
	if c.Stream.Enabled {
		if c.Stream.Buffer < 1 {
			return fmt.Errorf("%w: stream.buffer must be at least 1, got %d", ErrInvalidConfig, c.Stream.Buffer)
		}
		if _, err := stream.ParseTopics(c.Stream.Topics); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if _, err := c.Backoff(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Backoff builds the configured throttle back-off strategy.
func (c Config) Backoff() (backoff.Strategy, error) {
	b := c.ThrottleBackoff
	return backoff.Parse(b.Kind, b.Interval.Std(), b.Max.Std())
}

// ThrottleConfigs merges Throttles and RateLimits into per-type limits.
// A type with only a rate limit has no concurrency cap.
func (c Config) ThrottleConfigs() []throttle.Config {
	byType := make(map[string]*throttle.Config)
	get := func(typ string) *throttle.Config {
		tc := byType[typ]
		if tc == nil {
			tc = &throttle.Config{Type: typ, MaxConcurrency: throttle.Unlimited}
			byType[typ] = tc
		}
		return tc
	}
	for typ, n := range c.Throttles {
		get(typ).MaxConcurrency = n
	}
	for typ, rl := range c.RateLimits {
		tc := get(typ)
		tc.RateLimit = rl.Rate
		tc.RateBurst = rl.Burst
	}
	out := make([]throttle.Config, 0, len(byType))
	for _, tc := range byType {
		out = append(out, *tc)
	}
	return out
}

// ConnPool converts the pool section.
func (c Config) ConnPool() connpool.Config {
	return connpool.Config{
		MaxPerTarget:   c.Pool.MaxPerTarget,
		MaxTotal:       c.Pool.MaxTotal,
		AcquireTimeout: c.Pool.AcquireTimeout.Std(),
		DialTimeout:    c.Pool.DialTimeout.Std(),
	}
}

// LoadFile reads a YAML (.yaml, .yml) or JSON (.json) file over
// DefaultConfig and validates the result.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse json: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported config file extension %q", ErrInvalidConfig, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

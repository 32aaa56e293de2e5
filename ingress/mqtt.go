package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/xraph/edgeflow/codec"
)

const (
	connectTimeout    = 5 * time.Second
	subscribeTimeout  = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// ErrMQTT wraps broker connection and subscription failures.
var ErrMQTT = errors.New("edgeflow: mqtt")

// MQTTConfig configures an MQTT subscriber.
type MQTTConfig struct {
	// Broker is host:port or a full URL (tcp://, ssl://, ws://).
	Broker   string
	ClientID string
	Topics   []string
	QoS      byte
	// Codec names the payload encoding, "json" or "msgpack".
	Codec string
	// Priority is the queue lane messages are submitted on.
	Priority int
}

// ClientFactory builds the paho client. Tests replace it.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MQTT subscribes to device topics and submits every decoded payload.
type MQTT struct {
	cfg       MQTTConfig
	codec     codec.Codec
	newClient ClientFactory
	logger    *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc

	received atomic.Int64
	dropped  atomic.Int64
}

var _ Adapter = (*MQTT)(nil)

// MQTTOption configures an MQTT adapter.
type MQTTOption func(*MQTT)

// WithClientFactory replaces mqtt.NewClient.
func WithClientFactory(f ClientFactory) MQTTOption {
	return func(m *MQTT) { m.newClient = f }
}

// NewMQTT creates an MQTT adapter. An empty ClientID gets a random suffix.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger, opts ...MQTTOption) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: broker required", ErrMQTT)
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("%w: at least one topic required", ErrMQTT)
	}
	c, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: codec %q: %w", ErrMQTT, cfg.Codec, err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "edgeflow-" + uuid.NewString()[:8]
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &MQTT{
		cfg:       cfg,
		codec:     c,
		newClient: mqtt.NewClient,
		logger:    logger.With(slog.String("adapter", "mqtt")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name implements Adapter.
func (m *MQTT) Name() string { return "mqtt" }

// Received returns how many messages were submitted.
func (m *MQTT) Received() int64 { return m.received.Load() }

// Dropped returns how many payloads failed to decode or submit.
func (m *MQTT) Dropped() int64 { return m.dropped.Load() }

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Start connects to the broker and subscribes to every configured topic.
func (m *MQTT) Start(ctx context.Context, sink Sink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(m.cfg.Broker))
	opts.SetClientID(m.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(false)
	opts.OnConnect = func(mqtt.Client) {
		m.logger.Info("mqtt connection established",
			slog.String("broker", m.cfg.Broker),
			slog.String("client_id", m.cfg.ClientID),
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost, will auto-reconnect",
			slog.String("broker", m.cfg.Broker),
			slog.String("error", err.Error()),
		)
	}

	client := m.newClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("%w: connect to %s timed out", ErrMQTT, m.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: connect to %s: %w", ErrMQTT, m.cfg.Broker, err)
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.sink = sink
	m.client = client

	for _, topic := range m.cfg.Topics {
		token := client.Subscribe(topic, m.cfg.QoS, m.handle)
		if !token.WaitTimeout(subscribeTimeout) {
			m.teardownLocked()
			return fmt.Errorf("%w: subscribe %s timed out", ErrMQTT, topic)
		}
		if err := token.Error(); err != nil {
			m.teardownLocked()
			return fmt.Errorf("%w: subscribe %s: %w", ErrMQTT, topic, err)
		}
		m.logger.Info("mqtt subscribed", slog.String("topic", topic), slog.Int("qos", int(m.cfg.QoS)))
	}
	return nil
}

// Stop unsubscribes and disconnects. Handlers blocked on a full queue are
// released through their context.
func (m *MQTT) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	if m.client.IsConnected() {
		m.client.Unsubscribe(m.cfg.Topics...).WaitTimeout(subscribeTimeout)
	}
	m.teardownLocked()
	m.logger.Info("mqtt adapter stopped",
		slog.Int64("received", m.received.Load()),
		slog.Int64("dropped", m.dropped.Load()),
	)
	return nil
}

func (m *MQTT) teardownLocked() {
	m.cancel()
	m.client.Disconnect(disconnectQuiesce)
	m.client = nil
	m.sink = nil
}

func (m *MQTT) handle(_ mqtt.Client, raw mqtt.Message) {
	m.mu.Lock()
	sink, ctx := m.sink, m.ctx
	m.mu.Unlock()
	if sink == nil {
		return
	}

	msg, err := m.codec.Decode(raw.Payload())
	if err != nil {
		m.dropped.Add(1)
		m.logger.Warn("mqtt payload dropped",
			slog.String("topic", raw.Topic()),
			slog.String("error", err.Error()),
		)
		return
	}
	if msg.Device == "" {
		msg.Device = deviceFromTopic(raw.Topic())
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]string, 1)
	}
	msg.Metadata["topic"] = raw.Topic()

	if err := sink.SubmitMessage(ctx, m.cfg.Priority, msg); err != nil {
		m.dropped.Add(1)
		m.logger.Warn("mqtt message not submitted",
			slog.String("topic", raw.Topic()),
			slog.String("message_id", msg.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	m.received.Add(1)
}

// deviceFromTopic takes the last non-empty topic level.
func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return topic
}

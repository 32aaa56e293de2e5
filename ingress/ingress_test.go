package ingress_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/ingress"
)

// ──────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────

type submitted struct {
	priority int
	msg      *codec.Message
}

type recordingSink struct {
	mu   sync.Mutex
	got  []submitted
	fail error
}

func (s *recordingSink) SubmitMessage(_ context.Context, priority int, msg *codec.Message) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, submitted{priority: priority, msg: msg})
	return nil
}

func (s *recordingSink) messages() []submitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submitted(nil), s.got...)
}

type doneToken struct{ err error }

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

// fakeClient embeds mqtt.Client so only the methods the adapter calls need
// bodies.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connectErr   error
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return &doneToken{err: c.connectErr} }
func (c *fakeClient) IsConnected() bool   { return true }

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]mqtt.MessageHandler)
	}
	c.handlers[topic] = cb
	return &doneToken{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	c.mu.Unlock()
	return &doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) deliver(sub, topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[sub]
	c.mu.Unlock()
	h(c, &fakeMessage{topic: topic, payload: payload})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newMQTT(t *testing.T, client *fakeClient, cfg ingress.MQTTConfig) *ingress.MQTT {
	t.Helper()
	a, err := ingress.NewMQTT(cfg, nil, ingress.WithClientFactory(func(*mqtt.ClientOptions) mqtt.Client {
		return client
	}))
	require.NoError(t, err)
	return a
}

// ──────────────────────────────────────────────────
// Direct
// ──────────────────────────────────────────────────

func TestDirect_PublishBeforeStart(t *testing.T) {
	d := ingress.NewDirect(2, nil)
	err := d.Publish(context.Background(), &codec.Message{Device: "press-1"})
	assert.ErrorIs(t, err, ingress.ErrNotStarted)
}

func TestDirect_PublishRaw(t *testing.T) {
	sink := &recordingSink{}
	d := ingress.NewDirect(2, nil)
	require.NoError(t, d.Start(context.Background(), sink))

	require.NoError(t, d.PublishRaw(context.Background(),
		[]byte(`{"device":"press-1","signal":"count","value":12}`)))

	got := sink.messages()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].priority)
	assert.Equal(t, "press-1", got[0].msg.Device)
	assert.InDelta(t, 12.0, got[0].msg.Value, 0)

	err := d.PublishRaw(context.Background(), []byte("{"))
	assert.ErrorIs(t, err, ingress.ErrDecode)

	require.NoError(t, d.Stop(context.Background()))
	assert.ErrorIs(t, d.Publish(context.Background(), got[0].msg), ingress.ErrNotStarted)
}

// ──────────────────────────────────────────────────
// MQTT
// ──────────────────────────────────────────────────

func TestNewMQTT_Validation(t *testing.T) {
	_, err := ingress.NewMQTT(ingress.MQTTConfig{Topics: []string{"a"}}, nil)
	assert.ErrorIs(t, err, ingress.ErrMQTT)

	_, err = ingress.NewMQTT(ingress.MQTTConfig{Broker: "localhost:1883"}, nil)
	assert.ErrorIs(t, err, ingress.ErrMQTT)

	_, err = ingress.NewMQTT(ingress.MQTTConfig{
		Broker: "localhost:1883", Topics: []string{"a"}, Codec: "xml",
	}, nil)
	assert.ErrorIs(t, err, codec.ErrUnknownCodec)
}

func TestMQTT_SubmitsDecodedPayloads(t *testing.T) {
	client := &fakeClient{}
	a := newMQTT(t, client, ingress.MQTTConfig{
		Broker:   "localhost:1883",
		Topics:   []string{"plant/+/samples"},
		Priority: 1,
	})
	sink := &recordingSink{}
	require.NoError(t, a.Start(context.Background(), sink))

	client.deliver("plant/+/samples", "plant/line-4/samples/press-7",
		[]byte(`{"signal":"temp","value":71.5}`))

	got := sink.messages()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].priority)
	assert.Equal(t, "press-7", got[0].msg.Device)
	assert.Equal(t, "plant/line-4/samples/press-7", got[0].msg.Metadata["topic"])
	assert.False(t, got[0].msg.ID.IsNil())
	assert.Equal(t, int64(1), a.Received())
}

func TestMQTT_MsgpackCodec(t *testing.T) {
	client := &fakeClient{}
	a := newMQTT(t, client, ingress.MQTTConfig{
		Broker: "localhost:1883",
		Topics: []string{"devices"},
		Codec:  codec.NameMsgpack,
	})
	sink := &recordingSink{}
	require.NoError(t, a.Start(context.Background(), sink))

	data, err := (&codec.Msgpack{}).Encode(&codec.Message{Device: "plc-2", Signal: "state", Value: 1})
	require.NoError(t, err)
	client.deliver("devices", "devices", data)

	got := sink.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "plc-2", got[0].msg.Device)
}

func TestMQTT_DropsBadPayloadsAndSubmitErrors(t *testing.T) {
	client := &fakeClient{}
	a := newMQTT(t, client, ingress.MQTTConfig{Broker: "b:1883", Topics: []string{"t"}})
	sink := &recordingSink{}
	require.NoError(t, a.Start(context.Background(), sink))

	client.deliver("t", "t", []byte("not json"))
	assert.Equal(t, int64(1), a.Dropped())

	sink.fail = errors.New("queue closed")
	client.deliver("t", "t", []byte(`{"device":"d"}`))
	assert.Equal(t, int64(2), a.Dropped())
	assert.Equal(t, int64(0), a.Received())
}

func TestMQTT_ConnectError(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("refused")}
	a := newMQTT(t, client, ingress.MQTTConfig{Broker: "b:1883", Topics: []string{"t"}})
	err := a.Start(context.Background(), &recordingSink{})
	assert.ErrorIs(t, err, ingress.ErrMQTT)
}

func TestMQTT_StopUnsubscribesAndDisconnects(t *testing.T) {
	client := &fakeClient{}
	a := newMQTT(t, client, ingress.MQTTConfig{Broker: "b:1883", Topics: []string{"t1", "t2"}})
	sink := &recordingSink{}
	require.NoError(t, a.Start(context.Background(), sink))
	require.NoError(t, a.Stop(context.Background()))

	assert.ElementsMatch(t, []string{"t1", "t2"}, client.unsubscribed)
	assert.True(t, client.disconnected)

	// Late deliveries after Stop are ignored.
	client.deliver("t1", "t1", []byte(`{"device":"d"}`))
	assert.Empty(t, sink.messages())

	require.NoError(t, a.Stop(context.Background()))
}

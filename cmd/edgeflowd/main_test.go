package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/edgeflow"
	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/engine"
	"github.com/xraph/edgeflow/ingress"
	"github.com/xraph/edgeflow/stream"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 12\nthrottles:\n  OeeEvent: 2\n"), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "workers: 12")
	assert.Contains(t, out, "OeeEvent: 2")
	assert.Contains(t, out, "shutdown_timeout: 30s")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgeflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 0\n"), 0o600))

	_, err := execute(t, "validate", "-c", path)
	assert.ErrorIs(t, err, edgeflow.ErrInvalidConfig)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := edgeflow.DefaultConfig()
	cfg.Workers = 1
	cfg.ShutdownTimeout = edgeflow.Duration(time.Second)
	cfg.Audit.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	var logs bytes.Buffer
	go func() { done <- run(ctx, cfg, edgeflow.NewLogger(cfg.Log, &logs), io.Discard) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Contains(t, logs.String(), "engine stopped")
}

func TestRun_StreamTapWritesRecords(t *testing.T) {
	cfg := edgeflow.DefaultConfig()
	cfg.Workers = 1
	cfg.ShutdownTimeout = edgeflow.Duration(time.Second)
	cfg.Stream.Enabled = true
	cfg.Stream.Topics = []string{"type:SampleEvent"}

	direct := ingress.NewDirect(2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, edgeflow.NewLogger(cfg.Log, io.Discard), out, engine.WithIngress(direct))
	}()

	msg := &codec.Message{Device: "press-1", Signal: "count", Value: 1}
	require.Eventually(t, func() bool {
		return direct.Publish(context.Background(), msg) == nil
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return bytes.Contains(out.Bytes(), []byte(`"kind":"event.completed"`))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	var kinds []stream.Kind
	for _, line := range bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")) {
		var r stream.Record
		require.NoError(t, json.Unmarshal(line, &r))
		require.NotNil(t, r.Event)
		assert.Equal(t, "SampleEvent", r.Event.Type)
		assert.Equal(t, "press-1", r.Event.Device)
		kinds = append(kinds, r.Kind)
	}
	assert.Equal(t, []stream.Kind{stream.EventEnqueued, stream.EventStarted, stream.EventCompleted}, kinds)
}

func TestRun_StreamInvalidTopic(t *testing.T) {
	cfg := edgeflow.DefaultConfig()
	cfg.Stream.Enabled = true
	cfg.Stream.Topics = []string{"tenant:acme"}

	err := run(context.Background(), cfg, edgeflow.NewLogger(cfg.Log, io.Discard), io.Discard)
	assert.ErrorIs(t, err, stream.ErrInvalidTopic)
}

func TestMapSample(t *testing.T) {
	ev, err := mapSample(context.Background(), &codec.Message{Device: "press-1", Signal: "count", Value: 4})
	require.NoError(t, err)
	assert.Equal(t, sampleEvent, ev.Type)
	assert.Equal(t, "press-1", ev.Device)
	assert.Equal(t, "count", ev.Attributes["signal"])
	assert.Contains(t, string(ev.Payload), `"value":4`)
}

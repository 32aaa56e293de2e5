package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ah "github.com/xraph/edgeflow/audit_hook"
	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
)

type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func newTestEvent() *event.Event {
	return event.New("OeeEvent",
		event.WithPriority(1),
		event.WithDevice("press-4"),
		event.WithDedupKey("OeeEvent-press-4-avg"),
	)
}

func TestExtension_Name(t *testing.T) {
	assert.Equal(t, "audit-hook", ah.New(&mockRecorder{}).Name())
}

func TestExtension_EventHooks(t *testing.T) {
	ctx := context.Background()
	ev := newTestEvent()

	tests := []struct {
		name     string
		fire     func(e *ah.Extension) error
		action   string
		severity string
		outcome  string
	}{
		{"enqueued", func(e *ah.Extension) error { return e.OnEventEnqueued(ctx, ev) },
			ah.ActionEventEnqueued, ah.SeverityInfo, ah.OutcomeSuccess},
		{"started", func(e *ah.Extension) error { return e.OnEventStarted(ctx, ev) },
			ah.ActionEventStarted, ah.SeverityInfo, ah.OutcomeSuccess},
		{"completed", func(e *ah.Extension) error { return e.OnEventCompleted(ctx, ev, 40*time.Millisecond) },
			ah.ActionEventCompleted, ah.SeverityInfo, ah.OutcomeSuccess},
		{"failed", func(e *ah.Extension) error { return e.OnEventFailed(ctx, ev, errors.New("boom")) },
			ah.ActionEventFailed, ah.SeverityCritical, ah.OutcomeFailure},
		{"throttled", func(e *ah.Extension) error { return e.OnEventThrottled(ctx, ev, 2, time.Now()) },
			ah.ActionEventThrottled, ah.SeverityWarning, ah.OutcomeFailure},
		{"rescheduled", func(e *ah.Extension) error { return e.OnEventRescheduled(ctx, ev, time.Now()) },
			ah.ActionEventRescheduled, ah.SeverityInfo, ah.OutcomeSuccess},
		{"duplicate", func(e *ah.Extension) error { return e.OnEventDuplicate(ctx, ev) },
			ah.ActionEventDuplicate, ah.SeverityWarning, ah.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &mockRecorder{}
			require.NoError(t, tt.fire(ah.New(rec)))

			evt := rec.last()
			require.NotNil(t, evt)
			assert.Equal(t, tt.action, evt.Action)
			assert.Equal(t, tt.severity, evt.Severity)
			assert.Equal(t, tt.outcome, evt.Outcome)
			assert.Equal(t, ah.ResourceEvent, evt.Resource)
			assert.Equal(t, ah.CategoryEvent, evt.Category)
			assert.Equal(t, ev.ID.String(), evt.ResourceID)
			assert.Equal(t, "OeeEvent", evt.Metadata["event_type"])
			assert.Equal(t, "press-4", evt.Metadata["device"])
			assert.Equal(t, "OeeEvent-press-4-avg", evt.Metadata["dedup_key"])
		})
	}
}

func TestExtension_FailedCarriesReason(t *testing.T) {
	rec := &mockRecorder{}
	require.NoError(t, ah.New(rec).OnEventFailed(context.Background(), newTestEvent(), errors.New("device offline")))

	evt := rec.last()
	assert.Equal(t, "device offline", evt.Reason)
	assert.Equal(t, "device offline", evt.Metadata["error"])
}

func TestExtension_MessageReceived(t *testing.T) {
	rec := &mockRecorder{}
	msg := &codec.Message{Device: "plc-1", Signal: "state"}
	require.NoError(t, ah.New(rec).OnMessageReceived(context.Background(), msg))

	evt := rec.last()
	assert.Equal(t, ah.ActionMessageReceived, evt.Action)
	assert.Equal(t, ah.ResourceMessage, evt.Resource)
	assert.Equal(t, "plc-1", evt.Metadata["device"])
}

func TestExtension_WithActionsFilters(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionEventFailed))
	ctx := context.Background()
	ev := newTestEvent()

	require.NoError(t, e.OnEventStarted(ctx, ev))
	require.NoError(t, e.OnEventCompleted(ctx, ev, time.Millisecond))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, e.OnEventFailed(ctx, ev, errors.New("x")))
	assert.Equal(t, 1, rec.count())
}

func TestExtension_RecorderErrorSwallowed(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})

	err := ah.New(failing, ah.WithLogger(logger)).OnEventStarted(context.Background(), newTestEvent())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "backend down")
}

func TestSlogRecorder_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	e := ah.New(ah.SlogRecorder(logger))
	ctx := context.Background()
	ev := newTestEvent()

	require.NoError(t, e.OnEventStarted(ctx, ev))
	assert.Empty(t, buf.String(), "info records are below the handler level")

	require.NoError(t, e.OnEventFailed(ctx, ev, errors.New("boom")))
	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "action=event.failed")
	assert.Contains(t, out, "reason=boom")
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(nil)
	reg.Register(ah.New(rec))

	ctx := context.Background()
	ev := newTestEvent()
	reg.EmitEventEnqueued(ctx, ev)
	reg.EmitEventDuplicate(ctx, ev)
	reg.EmitShutdown(ctx)

	assert.Equal(t, 2, rec.count())
}

package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/edgeflow/codec"
	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/ext"
)

// Compile-time interface checks.
var (
	_ ext.Extension        = (*Extension)(nil)
	_ ext.EventEnqueued    = (*Extension)(nil)
	_ ext.EventStarted     = (*Extension)(nil)
	_ ext.EventCompleted   = (*Extension)(nil)
	_ ext.EventFailed      = (*Extension)(nil)
	_ ext.EventThrottled   = (*Extension)(nil)
	_ ext.EventRescheduled = (*Extension)(nil)
	_ ext.EventDuplicate   = (*Extension)(nil)
	_ ext.MessageReceived  = (*Extension)(nil)
)

// Recorder is implemented by audit backends.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a plain function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// SlogRecorder writes audit events as log records: critical at error
// level, warning at warn level, the rest at info.
func SlogRecorder(logger *slog.Logger) Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		if len(evt.Metadata) > 0 {
			meta := make([]any, 0, len(evt.Metadata))
			for k, v := range evt.Metadata {
				meta = append(meta, slog.Any(k, v))
			}
			attrs = append(attrs, slog.Group("meta", meta...))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension records every lifecycle hook through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension writing to r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Event lifecycle hooks ───────────────────────────

// OnEventEnqueued implements ext.EventEnqueued.
func (e *Extension) OnEventEnqueued(ctx context.Context, ev *event.Event) error {
	return e.recordEvent(ctx, ActionEventEnqueued, SeverityInfo, OutcomeSuccess, ev, nil,
		"priority", ev.Priority,
	)
}

// OnEventStarted implements ext.EventStarted.
func (e *Extension) OnEventStarted(ctx context.Context, ev *event.Event) error {
	return e.recordEvent(ctx, ActionEventStarted, SeverityInfo, OutcomeSuccess, ev, nil)
}

// OnEventCompleted implements ext.EventCompleted.
func (e *Extension) OnEventCompleted(ctx context.Context, ev *event.Event, elapsed time.Duration) error {
	return e.recordEvent(ctx, ActionEventCompleted, SeverityInfo, OutcomeSuccess, ev, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnEventFailed implements ext.EventFailed.
func (e *Extension) OnEventFailed(ctx context.Context, ev *event.Event, procErr error) error {
	return e.recordEvent(ctx, ActionEventFailed, SeverityCritical, OutcomeFailure, ev, procErr)
}

// OnEventThrottled implements ext.EventThrottled.
func (e *Extension) OnEventThrottled(ctx context.Context, ev *event.Event, attempt int, retryAt time.Time) error {
	return e.recordEvent(ctx, ActionEventThrottled, SeverityWarning, OutcomeFailure, ev, nil,
		"attempt", attempt,
		"retry_at", retryAt.Format(time.RFC3339Nano),
	)
}

// OnEventRescheduled implements ext.EventRescheduled.
func (e *Extension) OnEventRescheduled(ctx context.Context, ev *event.Event, fireAt time.Time) error {
	return e.recordEvent(ctx, ActionEventRescheduled, SeverityInfo, OutcomeSuccess, ev, nil,
		"fire_at", fireAt.Format(time.RFC3339Nano),
	)
}

// OnEventDuplicate implements ext.EventDuplicate.
func (e *Extension) OnEventDuplicate(ctx context.Context, ev *event.Event) error {
	return e.recordEvent(ctx, ActionEventDuplicate, SeverityWarning, OutcomeFailure, ev, nil)
}

// ── Ingress hooks ───────────────────────────────────

// OnMessageReceived implements ext.MessageReceived.
func (e *Extension) OnMessageReceived(ctx context.Context, msg *codec.Message) error {
	return e.record(ctx, ActionMessageReceived, SeverityInfo, OutcomeSuccess,
		ResourceMessage, msg.ID.String(), CategoryMessage, nil,
		"device", msg.Device,
		"signal", msg.Signal,
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordEvent(
	ctx context.Context,
	action, severity, outcome string,
	ev *event.Event,
	err error,
	kvPairs ...any,
) error {
	kvPairs = append(kvPairs, "event_type", ev.Type.String())
	if ev.Device != "" {
		kvPairs = append(kvPairs, "device", ev.Device)
	}
	if ev.DedupKey != "" {
		kvPairs = append(kvPairs, "dedup_key", ev.DedupKey)
	}
	return e.record(ctx, action, severity, outcome,
		ResourceEvent, ev.ID.String(), CategoryEvent, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled. Recorder
// failures are logged, never returned.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}

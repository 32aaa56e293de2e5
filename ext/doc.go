// Package ext defines the extension system for edgeflow.
//
// Extensions are notified of dispatch lifecycle events and can react to
// them, e.g. by recording metrics or forwarding failures to an alerting
// channel. Each hook is a separate interface so an extension opts in only
// to the events it cares about.
//
//	type lateSamples struct{}
//
//	func (lateSamples) Name() string { return "late-samples" }
//
//	func (lateSamples) OnEventThrottled(ctx context.Context, ev *event.Event, attempt int, retryAt time.Time) error {
//	    if attempt > 10 {
//	        slog.WarnContext(ctx, "event starved", slog.String("event_type", ev.Type.String()))
//	    }
//	    return nil
//	}
//
// # Hooks
//
//   - [EventEnqueued]: event entered a queue lane
//   - [EventStarted]: a worker admitted the event and invoked its processor
//   - [EventCompleted]: the processor returned without error
//   - [EventFailed]: the processor errored or panicked
//   - [EventThrottled]: a throttle limit refused the event; it was backed off
//   - [EventRescheduled]: a repeated event was put back on the delay scheduler
//   - [EventDuplicate]: a scheduled event was dropped because its dedup key
//     was already held
//   - [MessageReceived]: an ingress message entered the queue
//   - [Shutdown]: the engine is stopping
//
// Hook errors are logged and never block dispatch.
package ext

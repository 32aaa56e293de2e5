package audithook

// Audit actions. Each corresponds to one ext lifecycle hook and becomes the
// Action field of the audit event.
const (
	ActionEventEnqueued    = "event.enqueued"
	ActionEventStarted     = "event.started"
	ActionEventCompleted   = "event.completed"
	ActionEventFailed      = "event.failed"
	ActionEventThrottled   = "event.throttled"
	ActionEventRescheduled = "event.rescheduled"
	ActionEventDuplicate   = "event.duplicate"
	ActionMessageReceived  = "message.received"
)

// Categories group related actions.
const (
	CategoryEvent   = "edgeflow.event"
	CategoryMessage = "edgeflow.message"
)

// Resource types used as the Resource field.
const (
	ResourceEvent   = "event"
	ResourceMessage = "message"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionEventEnqueued,
		ActionEventStarted,
		ActionEventCompleted,
		ActionEventFailed,
		ActionEventThrottled,
		ActionEventRescheduled,
		ActionEventDuplicate,
		ActionMessageReceived,
	}
}

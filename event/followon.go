package event

import "time"

// FollowOn is an event produced by a Processor. A zero Delay routes it
// straight to the dispatch queue at Event.Priority; a positive Delay routes
// it through the delay scheduler.
type FollowOn struct {
	Event *Event
	Delay time.Duration
}

// Immediate returns a follow-on that is enqueued right away.
func Immediate(ev *Event) FollowOn {
	return FollowOn{Event: ev}
}

// Delayed returns a follow-on that becomes due after d.
func Delayed(ev *Event, d time.Duration) FollowOn {
	return FollowOn{Event: ev, Delay: d}
}

// Scheduled reports whether the follow-on goes through the delay scheduler.
func (f FollowOn) Scheduled() bool { return f.Delay > 0 }

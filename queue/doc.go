// Package queue defines the priority dispatch queue: seven bounded FIFO
// lanes with priority-ordered dequeue.
//
// Lane 0 is the highest priority and lane 6 the lowest. Items within a lane
// leave in arrival order; across lanes the lowest lane number wins. Priority
// is sampled when a consumer dequeues, so an item that is already being
// processed is never preempted by a later, more urgent arrival.
//
//	q := queue.NewPriority[queue.Item](1 << 18)
//	_ = q.Enqueue(3, queue.EventItem(ev))
//	item, err := q.Dequeue(ctx)
//
// # Wake-up discipline
//
// Enqueue wakes every waiting consumer. Each woken consumer re-checks the
// shared count, scans the lanes 0→6, and if another consumer claimed the
// item first it goes back to waiting. No consumer assumes that the wake-up
// it received corresponds to an item it can claim.
//
// Ordering across lanes is therefore approximate under concurrency: two
// consumers woken together may claim a lane-0 and a lane-3 item in either
// order. Within one consumer the scan always prefers the lower lane.
package queue

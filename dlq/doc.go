// Package dlq keeps events whose processor failed so they can be inspected
// and replayed.
//
// The worker calls [Service.Push] after every processing failure. The
// event's identity, payload and the error are captured in an [Entry].
// [MemoryStore] is a bounded ring: once full, the oldest entry is evicted.
//
//	svc := dlq.NewService(dlq.NewMemoryStore(1024), engine)
//	entries, _ := svc.Store().ListDLQ(ctx, dlq.ListOpts{Type: "OeeEvent"})
//	_, _ = svc.Replay(ctx, entries[0].ID)
package dlq

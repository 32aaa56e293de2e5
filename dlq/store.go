package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/edgeflow/event"
	"github.com/xraph/edgeflow/id"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("edgeflow: dlq entry not found")

	// ErrNoSubmitter is returned by Replay when the service has no replay target.
	ErrNoSubmitter = errors.New("edgeflow: dlq has no submitter")
)

// ListOpts controls pagination and filtering for list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Type filters by event type. Empty means all types.
	Type event.Type
}

// Store is the persistence contract for the dead letter queue.
type Store interface {
	PushDLQ(ctx context.Context, entry *Entry) error
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error
	// PurgeDLQ removes entries that failed before the given time and
	// returns how many were removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)
	CountDLQ(ctx context.Context) (int64, error)
}

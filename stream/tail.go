package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Tail writes every record sub receives to w as one JSON object per line,
// returning one credit per record written so the subscriber's credits bound
// its unwritten backlog. It returns nil once sub is closed.
func Tail(ctx context.Context, sub *Subscriber, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		r, err := sub.Next(ctx)
		if errors.Is(err, ErrSubscriberClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("tail %s: %w", sub.ID(), err)
		}
		sub.AddCredits(1)
	}
}

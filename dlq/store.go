package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/signalworks/herald/id"
)

// ErrNotFound is returned when a DLQ entry does not exist.
var ErrNotFound = errors.New("dlq: entry not found")

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// Push moves a permanently failed delivery into the DLQ.
	Push(ctx context.Context, entry *Entry) error

	// ListDLQ returns DLQ entries, optionally filtered.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ returns a DLQ entry by ID.
	GetDLQ(ctx context.Context, dlqID id.ID) (*Entry, error)

	// MarkReplayed stamps ReplayedAt on a DLQ entry.
	MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error

	// Purge deletes DLQ entries older than a threshold.
	Purge(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the total number of DLQ entries.
	CountDLQ(ctx context.Context) (int64, error)
}

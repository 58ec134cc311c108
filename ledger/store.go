package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/signalworks/herald/id"
)

// Sentinel errors for ledger operations.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("ledger: record not found")

	// ErrDuplicateRecord is returned by InsertRecord when a record already
	// exists for the (subscription, event) pair.
	ErrDuplicateRecord = errors.New("ledger: duplicate record")

	// ErrStaleRecord is returned by UpdateRecordIf when the record changed
	// since it was read, or has reached a terminal state.
	ErrStaleRecord = errors.New("ledger: stale record")
)

// Store defines the persistence contract for the delivery ledger.
type Store interface {
	// InsertRecord persists a new record. Returns ErrDuplicateRecord when a
	// record already exists for the same (subscription, event) pair.
	InsertRecord(ctx context.Context, rec *Record) error

	// GetRecord returns the record for a (subscription, event) pair.
	GetRecord(ctx context.Context, subID, eventID id.ID) (*Record, error)

	// GetRecordByID returns a record by its TypeID.
	GetRecordByID(ctx context.Context, recID id.ID) (*Record, error)

	// UpdateRecordIf applies the record's current field values, but only when
	// the stored row still has expectedAttempts attempts and is not terminal.
	// Returns ErrStaleRecord otherwise. This is the compare-and-swap that
	// keeps the live path and the sweeper from double-counting an attempt.
	UpdateRecordIf(ctx context.Context, rec *Record, expectedAttempts int) error

	// DueRecords returns up to limit non-terminal records with
	// next_attempt_at <= now, oldest due first.
	DueRecords(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// ListRecordsBySubscription returns records for a subscription, newest first.
	ListRecordsBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Record, error)

	// ListRecordsByEvent returns records for an event across subscriptions.
	ListRecordsByEvent(ctx context.Context, eventID id.ID) ([]*Record, error)

	// CountPendingRecords returns the number of non-terminal records.
	CountPendingRecords(ctx context.Context) (int, error)
}

package dlq

import (
	"encoding/json"
	"time"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
)

// Entry represents a permanently failed delivery in the dead letter queue.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// RecordID references the failed ledger record.
	RecordID id.ID `json:"record_id"`

	// EventID references the original event.
	EventID id.ID `json:"event_id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventType is the event type name for filtering.
	EventType string `json:"event_type"`

	// WorkspaceID identifies the workspace that owns the event.
	WorkspaceID string `json:"workspace_id"`

	// URL is the subscription URL at the time of failure.
	URL string `json:"url"`

	// Payload is the event body that failed to deliver.
	Payload json.RawMessage `json:"payload"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// Attempts is the total number of attempts made.
	Attempts int `json:"attempts"`

	// LastStatusCode is the HTTP status code from the final attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset         int
	Limit          int
	WorkspaceID    string
	SubscriptionID *id.ID
	From           *time.Time
	To             *time.Time
}

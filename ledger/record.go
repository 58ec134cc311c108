package ledger

import (
	"encoding/json"
	"time"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
)

// State represents the derived state of a delivery record.
type State string

const (
	// StatePending indicates at least one attempt is outstanding.
	StatePending State = "pending"

	// StateDelivered indicates the subscriber acknowledged the delivery.
	StateDelivered State = "delivered"

	// StateFailed indicates the delivery permanently failed.
	StateFailed State = "failed"
)

// Record is the ledger row for one (subscription, event) delivery. There is
// at most one record per pair; repeated attempts update it in place.
// Delivered and failed are absorbing: once either timestamp is set the
// record never changes again.
type Record struct {
	entity.Entity

	// ID is the unique TypeID for this record.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// EventType is the event type name, denormalized for querying.
	EventType string `json:"event_type"`

	// WorkspaceID identifies the owning workspace.
	WorkspaceID string `json:"workspace_id"`

	// Payload is the serialized event body. Redeliveries reuse these exact
	// bytes so the signature stays verifiable against what was sent.
	Payload json.RawMessage `json:"payload"`

	// Attempts is the number of delivery attempts made so far.
	Attempts int `json:"attempts"`

	// LastAttemptAt is when the most recent attempt finished.
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// LastStatusCode is the HTTP status code from the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastResponse is the response body from the most recent attempt,
	// truncated for storage.
	LastResponse string `json:"last_response,omitempty"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastSignature is the signature header sent with the most recent attempt.
	LastSignature string `json:"last_signature,omitempty"`

	// NextAttemptAt is when the sweeper should retry. Nil for terminal records.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// DeliveredAt is set when the subscriber acknowledged the delivery.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	// FailedAt is set when the delivery permanently failed.
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// State derives the record state from its terminal timestamps.
func (r *Record) State() State {
	switch {
	case r.DeliveredAt != nil:
		return StateDelivered
	case r.FailedAt != nil:
		return StateFailed
	default:
		return StatePending
	}
}

// Terminal reports whether the record is in an absorbing state.
func (r *Record) Terminal() bool {
	return r.DeliveredAt != nil || r.FailedAt != nil
}

// ListOpts configures filtering and pagination for record listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}

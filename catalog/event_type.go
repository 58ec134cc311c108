package catalog

import (
	"time"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
)

// EventType is the persisted entity for a registered event type.
// It wraps Definition with identity and deprecation state.
type EventType struct {
	entity.Entity

	// ID is the unique TypeID for this event type.
	ID id.ID `json:"id"`

	// Definition contains the event type descriptor.
	Definition Definition `json:"definition"`

	// IsDeprecated indicates whether this event type has been soft-deleted.
	// Deprecated types are rejected at emission but kept for audit.
	IsDeprecated bool `json:"deprecated"`

	// DeprecatedAt is when the event type was deprecated.
	DeprecatedAt *time.Time `json:"deprecated_at,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for event type listing.
type ListOpts struct {
	Offset            int
	Limit             int
	Group             string
	IncludeDeprecated bool
}

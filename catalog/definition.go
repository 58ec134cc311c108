package catalog

import "encoding/json"

// Definition is the canonical description of an event type in the closed,
// versioned vocabulary. Definitions are registered at boot (or by host
// extensions) and persisted; emitting an event whose type has no definition
// is rejected at the bus, not at delivery time.
type Definition struct {
	// Name is the dot-separated event type name.
	// Convention: "<resource>.<action>" — e.g. "issue.created", "app.installed".
	Name string `json:"name"`

	// Description is a human-readable explanation of when this event fires.
	Description string `json:"description"`

	// Group is an optional category for organizing event types in docs/UI.
	Group string `json:"group,omitempty"`

	// Schema is an optional JSON Schema (draft-07) describing the payload
	// shape. When set, emission validates the event data against it.
	Schema json.RawMessage `json:"schema,omitempty"`

	// SchemaVersion tracks changes to the Schema itself.
	SchemaVersion string `json:"schema_version,omitempty"`

	// Version is the API version of this event type.
	// Convention: date-based, e.g. "2025-01-01".
	Version string `json:"version"`

	// Example is an optional example payload for documentation and testing.
	Example json.RawMessage `json:"example,omitempty"`
}

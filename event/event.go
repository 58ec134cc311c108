// Package event defines the immutable event value announced on the bus.
//
// Events are never persisted on their own: they exist only embedded in
// delivery ledger rows, as the exact payload bytes sent over the wire.
package event

import "github.com/signalworks/herald/id"

// Workspace is the tenancy attribution carried by every event.
type Workspace struct {
	// ID is the workspace identifier. Every delivery is scoped to exactly
	// one workspace.
	ID string `json:"id"`

	// Name is the display name of the workspace.
	Name string `json:"name,omitempty"`

	// Slug is the URL slug of the workspace.
	Slug string `json:"slug,omitempty"`
}

// Event represents an immutable fact announced for webhook delivery.
type Event struct {
	// ID is the unique TypeID for this event. The UUIDv7 suffix encodes the
	// emission time in milliseconds followed by random bits; consumers use it
	// as their idempotency key.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "issue.created").
	Type string `json:"type"`

	// Timestamp is the emission instant in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Data is the type-specific payload. Opaque to the delivery pipeline.
	Data any `json:"data"`

	// Workspace attributes the event to its tenant.
	Workspace Workspace `json:"workspace"`

	// AppID attributes the event to the app that caused it, when known.
	AppID string `json:"app_id,omitempty"`

	// UserID is the acting user, when known.
	UserID string `json:"user_id,omitempty"`

	// Source names the producing subsystem (e.g. "api", "automation").
	Source string `json:"source,omitempty"`
}

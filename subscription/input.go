package subscription

import "github.com/signalworks/herald/id"

// Input is the creation/update payload for subscriptions.
type Input struct {
	// WorkspaceID identifies the workspace that owns this subscription.
	WorkspaceID string `json:"workspace_id"`

	// AppID identifies the app this subscription belongs to, if any.
	AppID string `json:"app_id,omitempty"`

	// InstallationID ties the subscription to an app installation, if any.
	InstallationID id.ID `json:"installation_id,omitempty"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// EventTypes are glob patterns for event type subscriptions.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}

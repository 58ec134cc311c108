package subscription

import (
	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
)

// Subscription represents a webhook delivery target registered for a workspace.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// WorkspaceID identifies the workspace that owns this subscription.
	WorkspaceID string `json:"workspace_id"`

	// AppID identifies the app this subscription belongs to, if any.
	AppID string `json:"app_id,omitempty"`

	// InstallationID ties the subscription to an app installation, if any.
	// Subscriptions provisioned by Install are torn down with it.
	InstallationID id.ID `json:"installation_id,omitempty"`

	// URL is the webhook delivery URL.
	URL string `json:"url"`

	// Description is a human-readable description of this subscription.
	Description string `json:"description"`

	// Secret is the HMAC signing secret, encrypted at rest. Never serialized.
	Secret string `json:"-"`

	// EventTypes are glob patterns for event type subscriptions.
	EventTypes []string `json:"event_types"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Active indicates whether the subscription receives deliveries.
	Active bool `json:"active"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Matches reports whether this subscription's patterns cover the event type.
func (s *Subscription) Matches(eventType string) bool {
	return catalog.MatchAny(s.EventTypes, eventType)
}

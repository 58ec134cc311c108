package subscription

import (
	"context"
	"errors"

	"github.com/signalworks/herald/id"
)

// ErrNotFound is returned when a subscription does not exist.
var ErrNotFound = errors.New("subscription: not found")

// Store defines the persistence contract for webhook subscriptions.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns subscriptions for a workspace, optionally filtered.
	ListSubscriptions(ctx context.Context, workspaceID string, opts ListOpts) ([]*Subscription, error)

	// ListByInstallation returns subscriptions provisioned under an installation.
	ListByInstallation(ctx context.Context, instID id.ID) ([]*Subscription, error)

	// ResolveSubscriptions finds all active subscriptions whose patterns
	// match an event type for a workspace. This is the hot path, called on
	// every emit.
	ResolveSubscriptions(ctx context.Context, workspaceID string, eventType string) ([]*Subscription, error)

	// SetActive activates or deactivates a subscription without deleting it.
	SetActive(ctx context.Context, subID id.ID, active bool) error
}

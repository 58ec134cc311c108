package catalog

import (
	"context"
	"errors"

	"github.com/signalworks/herald/id"
)

// Sentinel errors for catalog lookups.
var (
	// ErrNotFound is returned when an event type is not registered.
	ErrNotFound = errors.New("catalog: event type not found")

	// ErrDeprecated is returned when emitting an event of a deprecated type.
	ErrDeprecated = errors.New("catalog: event type is deprecated")
)

// Store defines the persistence contract for the event type registry.
type Store interface {
	// RegisterType creates or updates an event type definition (upsert by name).
	RegisterType(ctx context.Context, et *EventType) error

	// GetType returns an event type by name (e.g. "issue.created").
	GetType(ctx context.Context, name string) (*EventType, error)

	// GetTypeByID returns an event type by its TypeID.
	GetTypeByID(ctx context.Context, etID id.ID) (*EventType, error)

	// ListTypes returns all registered event types, optionally filtered.
	ListTypes(ctx context.Context, opts ListOpts) ([]*EventType, error)

	// DeprecateType soft-deletes an event type.
	DeprecateType(ctx context.Context, name string) error
}

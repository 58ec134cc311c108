package herald

import "errors"

// Sentinel errors returned by Herald operations.
var (
	// ErrNoStore is returned when a Herald is created without a store.
	ErrNoStore = errors.New("herald: store is required")

	// ErrEventTypeNotFound is returned when an event type is not registered in the catalog.
	ErrEventTypeNotFound = errors.New("herald: event type not found")

	// ErrEventTypeDeprecated is returned when emitting an event with a deprecated type.
	ErrEventTypeDeprecated = errors.New("herald: event type is deprecated")

	// ErrPayloadValidationFailed is returned when event data fails JSON Schema validation.
	ErrPayloadValidationFailed = errors.New("herald: payload validation failed")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("herald: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("herald: migration failed")
)

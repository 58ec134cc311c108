// Package store defines the composite Store interface for all Herald persistence.
//
// Each subsystem defines its own store interface, and the aggregate Store
// composes them all. Backends implement the whole set.
package store

import (
	"context"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/subscription"
)

// Store is the aggregate persistence interface.
type Store interface {
	catalog.Store
	subscription.Store
	installation.Store
	ledger.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

package installation

import (
	"context"
	"errors"

	"github.com/signalworks/herald/id"
)

// Sentinel errors for installation operations.
var (
	// ErrNotFound is returned when an installation does not exist.
	ErrNotFound = errors.New("installation: not found")

	// ErrAlreadyInstalled is returned when installing an app twice into
	// the same workspace.
	ErrAlreadyInstalled = errors.New("installation: app already installed in workspace")
)

// Store defines the persistence contract for app installations.
type Store interface {
	// CreateInstallation persists a new installation.
	CreateInstallation(ctx context.Context, inst *Installation) error

	// GetInstallation returns an installation by ID.
	GetInstallation(ctx context.Context, instID id.ID) (*Installation, error)

	// FindInstallation returns the installation of an app in a workspace.
	FindInstallation(ctx context.Context, appID, workspaceID string) (*Installation, error)

	// UpdateInstallation modifies an existing installation.
	UpdateInstallation(ctx context.Context, inst *Installation) error

	// ListInstallations returns installations for a workspace.
	ListInstallations(ctx context.Context, workspaceID string) ([]*Installation, error)
}

package installation

import (
	"time"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
)

// State is the lifecycle state of an app installation.
type State string

const (
	// StateActive means the installation receives deliveries.
	StateActive State = "active"

	// StateSuspended pauses deliveries without tearing anything down.
	StateSuspended State = "suspended"

	// StateUninstalled means the installation and its subscriptions are retired.
	StateUninstalled State = "uninstalled"
)

// Installation ties an app to a workspace. Webhook subscriptions declared in
// the app manifest are provisioned when the installation is created and
// deactivated when it is removed.
type Installation struct {
	entity.Entity

	// ID is the unique TypeID for this installation.
	ID id.ID `json:"id"`

	// AppID identifies the installed app.
	AppID string `json:"app_id"`

	// WorkspaceID identifies the workspace the app is installed into.
	WorkspaceID string `json:"workspace_id"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// InstalledBy is the user who performed the installation.
	InstalledBy string `json:"installed_by,omitempty"`

	// UninstalledAt is set when the installation is removed.
	UninstalledAt *time.Time `json:"uninstalled_at,omitempty"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Hook declares a webhook an app wants provisioned on install.
type Hook struct {
	// URL is the delivery URL for the hook.
	URL string `json:"url"`

	// EventTypes are glob patterns the hook subscribes to.
	EventTypes []string `json:"event_types"`

	// Description is a human-readable description.
	Description string `json:"description,omitempty"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`
}

// Manifest describes an installable app and the hooks it declares.
type Manifest struct {
	// AppID is the unique identifier of the app.
	AppID string `json:"app_id"`

	// Name is the display name of the app.
	Name string `json:"name"`

	// Hooks are the webhooks provisioned for each installation.
	Hooks []Hook `json:"hooks"`
}

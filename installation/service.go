package installation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/subscription"
)

// Service manages app installations and the subscriptions they provision.
type Service struct {
	store  Store
	subs   *subscription.Service
	logger *slog.Logger
}

// NewService creates a new installation service.
func NewService(store Store, subs *subscription.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		subs:   subs,
		logger: logger,
	}
}

// Install installs an app into a workspace and provisions one subscription
// per hook declared in the manifest. If any provisioning step fails, already
// created subscriptions are deactivated before the error is returned.
func (svc *Service) Install(ctx context.Context, m Manifest, workspaceID, installedBy string) (*Installation, error) {
	if m.AppID == "" {
		return nil, errors.New("installation: manifest app_id required")
	}
	if workspaceID == "" {
		return nil, errors.New("installation: workspace_id required")
	}

	if existing, err := svc.store.FindInstallation(ctx, m.AppID, workspaceID); err == nil && existing.State != StateUninstalled {
		return nil, ErrAlreadyInstalled
	}

	inst := &Installation{
		Entity:      entity.New(),
		ID:          id.NewInstallationID(),
		AppID:       m.AppID,
		WorkspaceID: workspaceID,
		State:       StateActive,
		InstalledBy: installedBy,
	}

	if err := svc.store.CreateInstallation(ctx, inst); err != nil {
		return nil, err
	}

	var created []*subscription.Subscription
	for _, hook := range m.Hooks {
		sub, err := svc.subs.Create(ctx, subscription.Input{
			WorkspaceID:    workspaceID,
			AppID:          m.AppID,
			InstallationID: inst.ID,
			URL:            hook.URL,
			Description:    hook.Description,
			EventTypes:     hook.EventTypes,
			RateLimit:      hook.RateLimit,
		})
		if err != nil {
			svc.rollback(ctx, created)
			return nil, err
		}
		created = append(created, sub)
	}

	svc.logger.Info("app installed",
		"installation_id", inst.ID,
		"app_id", m.AppID,
		"workspace_id", workspaceID,
		"hooks", len(m.Hooks),
	)

	return inst, nil
}

// Suspend pauses an installation. Its subscriptions stop receiving deliveries
// until Resume.
func (svc *Service) Suspend(ctx context.Context, instID id.ID) error {
	return svc.setState(ctx, instID, StateSuspended, false)
}

// Resume reactivates a suspended installation and its subscriptions.
func (svc *Service) Resume(ctx context.Context, instID id.ID) error {
	return svc.setState(ctx, instID, StateActive, true)
}

// Uninstall retires an installation and deactivates its subscriptions.
// Delivery history is kept.
func (svc *Service) Uninstall(ctx context.Context, instID id.ID) error {
	inst, err := svc.store.GetInstallation(ctx, instID)
	if err != nil {
		return err
	}

	now := time.Now()
	inst.State = StateUninstalled
	inst.UninstalledAt = &now
	inst.Touch()

	if err := svc.store.UpdateInstallation(ctx, inst); err != nil {
		return err
	}

	if err := svc.deactivateSubscriptions(ctx, instID); err != nil {
		return err
	}

	svc.logger.Info("app uninstalled",
		"installation_id", instID,
		"app_id", inst.AppID,
		"workspace_id", inst.WorkspaceID,
	)

	return nil
}

// Get returns an installation by ID.
func (svc *Service) Get(ctx context.Context, instID id.ID) (*Installation, error) {
	return svc.store.GetInstallation(ctx, instID)
}

// List returns installations for a workspace.
func (svc *Service) List(ctx context.Context, workspaceID string) ([]*Installation, error) {
	return svc.store.ListInstallations(ctx, workspaceID)
}

func (svc *Service) setState(ctx context.Context, instID id.ID, state State, active bool) error {
	inst, err := svc.store.GetInstallation(ctx, instID)
	if err != nil {
		return err
	}

	inst.State = state
	inst.Touch()
	if err := svc.store.UpdateInstallation(ctx, inst); err != nil {
		return err
	}

	subs, err := svc.subs.List(ctx, inst.WorkspaceID, subscription.ListOpts{})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.InstallationID != inst.ID {
			continue
		}
		if err := svc.subs.SetActive(ctx, sub.ID, active); err != nil {
			return err
		}
	}
	return nil
}

func (svc *Service) deactivateSubscriptions(ctx context.Context, instID id.ID) error {
	subs, err := svc.subsByInstallation(ctx, instID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if err := svc.subs.SetActive(ctx, sub.ID, false); err != nil {
			return err
		}
	}
	return nil
}

func (svc *Service) subsByInstallation(ctx context.Context, instID id.ID) ([]*subscription.Subscription, error) {
	inst, err := svc.store.GetInstallation(ctx, instID)
	if err != nil {
		return nil, err
	}
	all, err := svc.subs.List(ctx, inst.WorkspaceID, subscription.ListOpts{})
	if err != nil {
		return nil, err
	}
	var out []*subscription.Subscription
	for _, sub := range all {
		if sub.InstallationID == instID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (svc *Service) rollback(ctx context.Context, created []*subscription.Subscription) {
	for _, sub := range created {
		if err := svc.subs.SetActive(ctx, sub.ID, false); err != nil {
			svc.logger.Warn("rollback: deactivate subscription failed",
				"subscription_id", sub.ID,
				"error", err,
			)
		}
	}
}

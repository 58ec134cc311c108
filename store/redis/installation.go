package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/internal/entity"
)

// installationModel is the JSON representation stored in Redis.
type installationModel struct {
	ID            string            `json:"id"`
	AppID         string            `json:"app_id"`
	WorkspaceID   string            `json:"workspace_id"`
	State         string            `json:"state"`
	InstalledBy   string            `json:"installed_by"`
	UninstalledAt *time.Time        `json:"uninstalled_at,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toInstallationModel(inst *installation.Installation) *installationModel {
	return &installationModel{
		ID:            inst.ID.String(),
		AppID:         inst.AppID,
		WorkspaceID:   inst.WorkspaceID,
		State:         string(inst.State),
		InstalledBy:   inst.InstalledBy,
		UninstalledAt: inst.UninstalledAt,
		Metadata:      inst.Metadata,
		CreatedAt:     inst.CreatedAt,
		UpdatedAt:     inst.UpdatedAt,
	}
}

func fromInstallationModel(m *installationModel) (*installation.Installation, error) {
	instID, err := id.ParseInstallationID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse installation ID %q: %w", m.ID, err)
	}
	return &installation.Installation{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            instID,
		AppID:         m.AppID,
		WorkspaceID:   m.WorkspaceID,
		State:         installation.State(m.State),
		InstalledBy:   m.InstalledBy,
		UninstalledAt: m.UninstalledAt,
		Metadata:      m.Metadata,
	}, nil
}

func (s *Store) CreateInstallation(ctx context.Context, inst *installation.Installation) error {
	m := toInstallationModel(inst)
	key := entityKey(prefixInstallation, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: create installation: %w", err)
	}

	pipe := s.rdb.Pipeline()
	// The pair key always points at the most recent installation for the
	// (app, workspace) pair; state checks are the caller's concern.
	pipe.Set(ctx, installationPairKey(m.AppID, m.WorkspaceID), m.ID, 0)
	pipe.ZAdd(ctx, zInstWorkspace+m.WorkspaceID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create installation indexes: %w", err)
	}
	return nil
}

func (s *Store) GetInstallation(ctx context.Context, instID id.ID) (*installation.Installation, error) {
	var m installationModel
	if err := s.getEntity(ctx, entityKey(prefixInstallation, instID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, installation.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get installation: %w", err)
	}
	return fromInstallationModel(&m)
}

func (s *Store) FindInstallation(ctx context.Context, appID, workspaceID string) (*installation.Installation, error) {
	entryID, err := s.rdb.Get(ctx, installationPairKey(appID, workspaceID)).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, installation.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: find installation lookup: %w", err)
	}

	var m installationModel
	if err := s.getEntity(ctx, entityKey(prefixInstallation, entryID), &m); err != nil {
		if isNotFound(err) {
			return nil, installation.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: find installation: %w", err)
	}
	return fromInstallationModel(&m)
}

func (s *Store) UpdateInstallation(ctx context.Context, inst *installation.Installation) error {
	key := entityKey(prefixInstallation, inst.ID.String())

	var existing installationModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return installation.ErrNotFound
		}
		return fmt.Errorf("herald/redis: update installation get: %w", err)
	}

	m := toInstallationModel(inst)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: update installation: %w", err)
	}
	return nil
}

func (s *Store) ListInstallations(ctx context.Context, workspaceID string) ([]*installation.Installation, error) {
	ids, err := s.rdb.ZRange(ctx, zInstWorkspace+workspaceID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list installations: %w", err)
	}

	result := make([]*installation.Installation, 0, len(ids))
	for _, entryID := range ids {
		var m installationModel
		if err := s.getEntity(ctx, entityKey(prefixInstallation, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		inst, err := fromInstallationModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}

	return result, nil
}

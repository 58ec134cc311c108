package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/installation"
)

// CreateInstallation persists a new installation.
func (s *Store) CreateInstallation(ctx context.Context, inst *installation.Installation) error {
	m := toInstallationModel(inst)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: create installation: %w", err)
	}

	return nil
}

// GetInstallation returns an installation by ID.
func (s *Store) GetInstallation(ctx context.Context, instID id.ID) (*installation.Installation, error) {
	var m installationModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": instID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, installation.ErrNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get installation: %w", err)
	}

	return fromInstallationModel(&m)
}

// FindInstallation returns the most recent installation for an (app, workspace) pair.
func (s *Store) FindInstallation(ctx context.Context, appID, workspaceID string) (*installation.Installation, error) {
	var m installationModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"app_id": appID, "workspace_id": workspaceID}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, installation.ErrNotFound
		}

		return nil, fmt.Errorf("herald/mongo: find installation: %w", err)
	}

	return fromInstallationModel(&m)
}

// UpdateInstallation modifies an existing installation.
func (s *Store) UpdateInstallation(ctx context.Context, inst *installation.Installation) error {
	m := toInstallationModel(inst)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update installation: %w", err)
	}

	if res.MatchedCount() == 0 {
		return installation.ErrNotFound
	}

	return nil
}

// ListInstallations returns a workspace's installations.
func (s *Store) ListInstallations(ctx context.Context, workspaceID string) ([]*installation.Installation, error) {
	var models []installationModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"workspace_id": workspaceID}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list installations: %w", err)
	}

	result := make([]*installation.Installation, 0, len(models))

	for i := range models {
		inst, err := fromInstallationModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, inst)
	}

	return result, nil
}

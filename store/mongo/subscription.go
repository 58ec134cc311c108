package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/subscription"
)

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get subscription: %w", err)
	}

	return fromSubscriptionModel(&m)
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update subscription: %w", err)
	}

	if res.MatchedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	res, err := s.mdb.NewDelete((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: delete subscription: %w", err)
	}

	if res.DeletedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

// ListSubscriptions returns a workspace's subscriptions.
func (s *Store) ListSubscriptions(ctx context.Context, workspaceID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"workspace_id": workspaceID}
	if opts.Active != nil {
		filter["active"] = *opts.Active
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}

// ListByInstallation returns the subscriptions provisioned by an installation.
func (s *Store) ListByInstallation(ctx context.Context, instID id.ID) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"installation_id": instID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list by installation: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(models))

	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}

// ResolveSubscriptions returns the active subscriptions in a workspace whose
// patterns match the event type.
func (s *Store) ResolveSubscriptions(ctx context.Context, workspaceID, eventType string) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"workspace_id": workspaceID, "active": true}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: resolve subscriptions: %w", err)
	}

	// Glob matching happens in Go; patterns are too dynamic for an index.
	var result []*subscription.Subscription

	for i := range models {
		if !catalog.MatchAny(models[i].EventTypes, eventType) {
			continue
		}

		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, sub)
	}

	return result, nil
}

// SetActive toggles a subscription's active flag.
func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": subID.String()}).
		SetUpdate(bson.M{"$set": bson.M{
			"active":     active,
			"updated_at": now(),
		}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: set active: %w", err)
	}

	if res.MatchedCount() == 0 {
		return subscription.ErrNotFound
	}

	return nil
}

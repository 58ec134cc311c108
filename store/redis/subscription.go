package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/subscription"
)

// subscriptionModel is the JSON representation stored in Redis.
type subscriptionModel struct {
	ID             string            `json:"id"`
	WorkspaceID    string            `json:"workspace_id"`
	AppID          string            `json:"app_id"`
	InstallationID string            `json:"installation_id,omitempty"`
	URL            string            `json:"url"`
	Description    string            `json:"description"`
	Secret         string            `json:"secret"`
	EventTypes     []string          `json:"event_types"`
	Headers        map[string]string `json:"headers,omitempty"`
	Active         bool              `json:"active"`
	RateLimit      int               `json:"rate_limit"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func toSubscriptionModel(sub *subscription.Subscription) *subscriptionModel {
	m := &subscriptionModel{
		ID:          sub.ID.String(),
		WorkspaceID: sub.WorkspaceID,
		AppID:       sub.AppID,
		URL:         sub.URL,
		Description: sub.Description,
		Secret:      sub.Secret,
		EventTypes:  sub.EventTypes,
		Headers:     sub.Headers,
		Active:      sub.Active,
		RateLimit:   sub.RateLimit,
		Metadata:    sub.Metadata,
		CreatedAt:   sub.CreatedAt,
		UpdatedAt:   sub.UpdatedAt,
	}
	if !sub.InstallationID.IsNil() {
		m.InstallationID = sub.InstallationID.String()
	}
	return m
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.ID, err)
	}
	sub := &subscription.Subscription{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          subID,
		WorkspaceID: m.WorkspaceID,
		AppID:       m.AppID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		EventTypes:  m.EventTypes,
		Headers:     m.Headers,
		Active:      m.Active,
		RateLimit:   m.RateLimit,
		Metadata:    m.Metadata,
	}
	if m.InstallationID != "" {
		instID, err := id.ParseInstallationID(m.InstallationID)
		if err != nil {
			return nil, fmt.Errorf("parse installation ID %q: %w", m.InstallationID, err)
		}
		sub.InstallationID = instID
	}
	return sub, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	key := entityKey(prefixSubscription, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: create subscription: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zSubWorkspace+m.WorkspaceID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if m.InstallationID != "" {
		pipe.ZAdd(ctx, zSubInstallation+m.InstallationID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: create subscription indexes: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error) {
	var m subscriptionModel
	if err := s.getEntity(ctx, entityKey(prefixSubscription, subID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	key := entityKey(prefixSubscription, sub.ID.String())

	var existing subscriptionModel
	if err := s.getEntity(ctx, key, &existing); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("herald/redis: update subscription get: %w", err)
	}

	m := toSubscriptionModel(sub)
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: update subscription: %w", err)
	}
	return nil
}

func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("herald/redis: delete subscription get: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, zSubWorkspace+m.WorkspaceID, m.ID)
	if m.InstallationID != "" {
		pipe.ZRem(ctx, zSubInstallation+m.InstallationID, m.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: delete subscription: %w", err)
	}
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, workspaceID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubWorkspace+workspaceID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list subscriptions: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.Active != nil && m.Active != *opts.Active {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListByInstallation(ctx context.Context, instID id.ID) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubInstallation+instID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list by installation: %w", err)
	}

	result := make([]*subscription.Subscription, 0, len(ids))
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return result, nil
}

func (s *Store) ResolveSubscriptions(ctx context.Context, workspaceID, eventType string) ([]*subscription.Subscription, error) {
	ids, err := s.rdb.ZRange(ctx, zSubWorkspace+workspaceID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: resolve subscriptions: %w", err)
	}

	// Glob matching happens in Go; patterns are too dynamic for an index.
	var result []*subscription.Subscription
	for _, entryID := range ids {
		var m subscriptionModel
		if err := s.getEntity(ctx, entityKey(prefixSubscription, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if !m.Active || !catalog.MatchAny(m.EventTypes, eventType) {
			continue
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return result, nil
}

func (s *Store) SetActive(ctx context.Context, subID id.ID, active bool) error {
	key := entityKey(prefixSubscription, subID.String())

	var m subscriptionModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return subscription.ErrNotFound
		}
		return fmt.Errorf("herald/redis: set active get: %w", err)
	}

	m.Active = active
	m.UpdatedAt = now()
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("herald/redis: set active update: %w", err)
	}
	return nil
}

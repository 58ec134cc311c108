package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
)

// dlqEntryModel is the JSON representation stored in Redis.
type dlqEntryModel struct {
	ID             string          `json:"id"`
	RecordID       string          `json:"record_id"`
	EventID        string          `json:"event_id"`
	SubscriptionID string          `json:"subscription_id"`
	WorkspaceID    string          `json:"workspace_id"`
	EventType      string          `json:"event_type"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          string          `json:"error"`
	Attempts       int             `json:"attempts"`
	LastStatusCode int             `json:"last_status_code"`
	ReplayedAt     *time.Time      `json:"replayed_at,omitempty"`
	FailedAt       time.Time       `json:"failed_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toDLQEntryModel(e *dlq.Entry) *dlqEntryModel {
	return &dlqEntryModel{
		ID:             e.ID.String(),
		RecordID:       e.RecordID.String(),
		EventID:        e.EventID.String(),
		SubscriptionID: e.SubscriptionID.String(),
		WorkspaceID:    e.WorkspaceID,
		EventType:      e.EventType,
		URL:            e.URL,
		Payload:        e.Payload,
		Error:          e.Error,
		Attempts:       e.Attempts,
		LastStatusCode: e.LastStatusCode,
		ReplayedAt:     e.ReplayedAt,
		FailedAt:       e.FailedAt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	recID, err := id.ParseRecordID(m.RecordID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.RecordID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	return &dlq.Entry{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             dlqID,
		RecordID:       recID,
		EventID:        evtID,
		SubscriptionID: subID,
		WorkspaceID:    m.WorkspaceID,
		EventType:      m.EventType,
		URL:            m.URL,
		Payload:        m.Payload,
		Error:          m.Error,
		Attempts:       m.Attempts,
		LastStatusCode: m.LastStatusCode,
		ReplayedAt:     m.ReplayedAt,
		FailedAt:       m.FailedAt,
	}, nil
}

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	key := entityKey(prefixDLQ, m.ID)

	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: push dlq entry: %w", err)
	}

	score := scoreFromTime(m.FailedAt)
	pipe := s.rdb.Pipeline()
	pipe.ZAdd(ctx, zDLQAll, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zDLQWorkspace+m.WorkspaceID, goredis.Z{Score: score, Member: m.ID})
	pipe.ZAdd(ctx, zDLQSub+m.SubscriptionID, goredis.Z{Score: score, Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: push dlq indexes: %w", err)
	}
	return nil
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	zKey := zDLQAll
	switch {
	case opts.SubscriptionID != nil:
		zKey = zDLQSub + opts.SubscriptionID.String()
	case opts.WorkspaceID != "":
		zKey = zDLQWorkspace + opts.WorkspaceID
	}

	ids, err := s.rdb.ZRange(ctx, zKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if opts.WorkspaceID != "" && m.WorkspaceID != opts.WorkspaceID {
			continue
		}
		if opts.From != nil && m.FailedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && m.FailedAt.After(*opts.To) {
			continue
		}
		entry, err := fromDLQEntryModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, entry)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel
	if err := s.getEntity(ctx, entityKey(prefixDLQ, dlqID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get dlq entry: %w", err)
	}
	return fromDLQEntryModel(&m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	key := entityKey(prefixDLQ, dlqID.String())

	var m dlqEntryModel
	if err := s.getEntity(ctx, key, &m); err != nil {
		if isNotFound(err) {
			return dlq.ErrNotFound
		}
		return fmt.Errorf("herald/redis: mark replayed get: %w", err)
	}

	m.ReplayedAt = &at
	m.UpdatedAt = at
	if err := s.setEntity(ctx, key, &m); err != nil {
		return fmt.Errorf("herald/redis: mark replayed update: %w", err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zDLQAll, math.Inf(-1), scoreFromTime(before), 0)
	if err != nil {
		return 0, fmt.Errorf("herald/redis: purge range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for _, entryID := range ids {
		var m dlqEntryModel
		if err := s.getEntity(ctx, entityKey(prefixDLQ, entryID), &m); err == nil {
			pipe.ZRem(ctx, zDLQWorkspace+m.WorkspaceID, entryID)
			pipe.ZRem(ctx, zDLQSub+m.SubscriptionID, entryID)
		}
		pipe.Del(ctx, entityKey(prefixDLQ, entryID))
		pipe.ZRem(ctx, zDLQAll, entryID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("herald/redis: purge: %w", err)
	}
	return int64(len(ids)), nil
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zDLQAll).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: count dlq: %w", err)
	}
	return count, nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/ledger"
)

// recordModel is the JSON representation stored in Redis. Pointer fields use
// omitempty so the conditional update script can treat absence as "not set".
type recordModel struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	WorkspaceID    string          `json:"workspace_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Attempts       int             `json:"attempts"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	LastStatusCode int             `json:"last_status_code"`
	LastResponse   string          `json:"last_response"`
	LastError      string          `json:"last_error"`
	LastSignature  string          `json:"last_signature"`
	NextAttemptAt  *time.Time      `json:"next_attempt_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toRecordModel(rec *ledger.Record) *recordModel {
	return &recordModel{
		ID:             rec.ID.String(),
		SubscriptionID: rec.SubscriptionID.String(),
		EventID:        rec.EventID.String(),
		EventType:      rec.EventType,
		WorkspaceID:    rec.WorkspaceID,
		Payload:        rec.Payload,
		Attempts:       rec.Attempts,
		LastAttemptAt:  rec.LastAttemptAt,
		LastStatusCode: rec.LastStatusCode,
		LastResponse:   rec.LastResponse,
		LastError:      rec.LastError,
		LastSignature:  rec.LastSignature,
		NextAttemptAt:  rec.NextAttemptAt,
		DeliveredAt:    rec.DeliveredAt,
		FailedAt:       rec.FailedAt,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func fromRecordModel(m *recordModel) (*ledger.Record, error) {
	recID, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record ID %q: %w", m.ID, err)
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("parse subscription ID %q: %w", m.SubscriptionID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	return &ledger.Record{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             recID,
		SubscriptionID: subID,
		EventID:        evtID,
		EventType:      m.EventType,
		WorkspaceID:    m.WorkspaceID,
		Payload:        m.Payload,
		Attempts:       m.Attempts,
		LastAttemptAt:  m.LastAttemptAt,
		LastStatusCode: m.LastStatusCode,
		LastResponse:   m.LastResponse,
		LastError:      m.LastError,
		LastSignature:  m.LastSignature,
		NextAttemptAt:  m.NextAttemptAt,
		DeliveredAt:    m.DeliveredAt,
		FailedAt:       m.FailedAt,
	}, nil
}

// casUpdateScript is the conditional write that guards against concurrent
// attempt recording. It only replaces the record if it is still at the
// expected attempt count and not yet terminal.
// KEYS[1] = herald:rec:<id>
// ARGV[1] = expected attempts
// ARGV[2] = new record JSON
var casUpdateScript = goredis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return -1 end
local cur = cjson.decode(raw)
if cur.delivered_at ~= nil or cur.failed_at ~= nil then return 0 end
if tonumber(cur.attempts) ~= tonumber(ARGV[1]) then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

func (s *Store) InsertRecord(ctx context.Context, rec *ledger.Record) error {
	m := toRecordModel(rec)

	// The pair key is the idempotency guard: first writer wins.
	ok, err := s.rdb.SetNX(ctx, pairKey(m.SubscriptionID, m.EventID), m.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("herald/redis: insert record pair: %w", err)
	}
	if !ok {
		return ledger.ErrDuplicateRecord
	}

	key := entityKey(prefixRecord, m.ID)
	if err := s.setEntity(ctx, key, m); err != nil {
		return fmt.Errorf("herald/redis: insert record: %w", err)
	}

	pipe := s.rdb.Pipeline()
	if m.NextAttemptAt != nil {
		pipe.ZAdd(ctx, zRecordDue, goredis.Z{Score: scoreFromTime(*m.NextAttemptAt), Member: m.ID})
	}
	pipe.SAdd(ctx, sRecordPending, m.ID)
	pipe.ZAdd(ctx, zRecordSub+m.SubscriptionID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	pipe.ZAdd(ctx, zRecordEvt+m.EventID, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: insert record indexes: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, subID, eventID id.ID) (*ledger.Record, error) {
	entryID, err := s.rdb.Get(ctx, pairKey(subID.String(), eventID.String())).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get record lookup: %w", err)
	}

	var m recordModel
	if err := s.getEntity(ctx, entityKey(prefixRecord, entryID), &m); err != nil {
		if isNotFound(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get record: %w", err)
	}
	return fromRecordModel(&m)
}

func (s *Store) GetRecordByID(ctx context.Context, recID id.ID) (*ledger.Record, error) {
	var m recordModel
	if err := s.getEntity(ctx, entityKey(prefixRecord, recID.String()), &m); err != nil {
		if isNotFound(err) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("herald/redis: get record by id: %w", err)
	}
	return fromRecordModel(&m)
}

func (s *Store) UpdateRecordIf(ctx context.Context, rec *ledger.Record, expectedAttempts int) error {
	m := toRecordModel(rec)
	m.UpdatedAt = now()
	key := entityKey(prefixRecord, m.ID)

	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("herald/redis: marshal record: %w", err)
	}

	res, err := casUpdateScript.Run(ctx, s.rdb, []string{key}, expectedAttempts, raw).Int()
	if err != nil {
		return fmt.Errorf("herald/redis: update record script: %w", err)
	}
	switch res {
	case -1:
		return ledger.ErrNotFound
	case 0:
		return ledger.ErrStaleRecord
	}

	// Keep the due and pending indexes in step with the new state.
	pipe := s.rdb.Pipeline()
	if m.DeliveredAt != nil || m.FailedAt != nil {
		pipe.ZRem(ctx, zRecordDue, m.ID)
		pipe.SRem(ctx, sRecordPending, m.ID)
	} else if m.NextAttemptAt != nil {
		pipe.ZAdd(ctx, zRecordDue, goredis.Z{Score: scoreFromTime(*m.NextAttemptAt), Member: m.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("herald/redis: update record indexes: %w", err)
	}
	return nil
}

func (s *Store) DueRecords(ctx context.Context, dueBefore time.Time, limit int) ([]*ledger.Record, error) {
	ids, err := s.zRangeByScoreIDs(ctx, zRecordDue, math.Inf(-1), scoreFromTime(dueBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("herald/redis: due records: %w", err)
	}

	result := make([]*ledger.Record, 0, len(ids))
	for _, entryID := range ids {
		var m recordModel
		if err := s.getEntity(ctx, entityKey(prefixRecord, entryID), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("herald/redis: due records get: %w", err)
		}
		if m.DeliveredAt != nil || m.FailedAt != nil {
			// Stale index entry; drop it.
			s.rdb.ZRem(ctx, zRecordDue, entryID)
			continue
		}
		rec, err := fromRecordModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	return result, nil
}

func (s *Store) ListRecordsBySubscription(ctx context.Context, subID id.ID, opts ledger.ListOpts) ([]*ledger.Record, error) {
	ids, err := s.rdb.ZRange(ctx, zRecordSub+subID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list by subscription: %w", err)
	}

	result := make([]*ledger.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m recordModel
		if err := s.getEntity(ctx, entityKey(prefixRecord, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		rec, err := fromRecordModel(&m)
		if err != nil {
			return nil, err
		}
		if opts.State != nil && rec.State() != *opts.State {
			continue
		}
		result = append(result, rec)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}

func (s *Store) ListRecordsByEvent(ctx context.Context, eventID id.ID) ([]*ledger.Record, error) {
	ids, err := s.rdb.ZRange(ctx, zRecordEvt+eventID.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("herald/redis: list by event: %w", err)
	}

	result := make([]*ledger.Record, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- { // reverse for DESC order
		var m recordModel
		if err := s.getEntity(ctx, entityKey(prefixRecord, ids[i]), &m); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		rec, err := fromRecordModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}

	return result, nil
}

func (s *Store) CountPendingRecords(ctx context.Context) (int, error) {
	count, err := s.rdb.SCard(ctx, sRecordPending).Result()
	if err != nil {
		return 0, fmt.Errorf("herald/redis: count pending: %w", err)
	}
	return int(count), nil
}

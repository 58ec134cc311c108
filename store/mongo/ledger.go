package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/ledger"
)

// InsertRecord creates a pending delivery record. The unique compound index
// on (subscription_id, event_id) enforces at-most-one record per pair.
func (s *Store) InsertRecord(ctx context.Context, rec *ledger.Record) error {
	m := toRecordModel(rec)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return ledger.ErrDuplicateRecord
		}

		return fmt.Errorf("herald/mongo: insert record: %w", err)
	}

	return nil
}

// GetRecord returns the record for a (subscription, event) pair.
func (s *Store) GetRecord(ctx context.Context, subID, eventID id.ID) (*ledger.Record, error) {
	var m recordModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"subscription_id": subID.String(), "event_id": eventID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get record: %w", err)
	}

	return fromRecordModel(&m)
}

// GetRecordByID returns a record by ID.
func (s *Store) GetRecordByID(ctx context.Context, recID id.ID) (*ledger.Record, error) {
	var m recordModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, ledger.ErrNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get record by id: %w", err)
	}

	return fromRecordModel(&m)
}

// UpdateRecordIf is the conditional write that guards against concurrent
// attempt recording. The filter is the compare-and-swap: it only matches
// documents still at the expected attempt count and not yet terminal.
func (s *Store) UpdateRecordIf(ctx context.Context, rec *ledger.Record, expectedAttempts int) error {
	m := toRecordModel(rec)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{
			"_id":          m.ID,
			"attempts":     expectedAttempts,
			"delivered_at": nil,
			"failed_at":    nil,
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: update record: %w", err)
	}

	if res.MatchedCount() == 0 {
		return ledger.ErrStaleRecord
	}

	return nil
}

// DueRecords returns pending records whose next attempt is due, oldest first.
func (s *Store) DueRecords(ctx context.Context, dueBefore time.Time, limit int) ([]*ledger.Record, error) {
	var models []recordModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"delivered_at":    nil,
			"failed_at":       nil,
			"next_attempt_at": bson.M{"$lte": dueBefore},
		}).
		Sort(bson.D{{Key: "next_attempt_at", Value: 1}}).
		Limit(int64(limit)).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: due records: %w", err)
	}

	result := make([]*ledger.Record, 0, len(models))

	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, rec)
	}

	return result, nil
}

// ListRecordsBySubscription returns delivery history for a subscription.
func (s *Store) ListRecordsBySubscription(ctx context.Context, subID id.ID, opts ledger.ListOpts) ([]*ledger.Record, error) {
	var models []recordModel

	filter := bson.M{"subscription_id": subID.String()}
	if opts.State != nil {
		switch *opts.State {
		case ledger.StateDelivered:
			filter["delivered_at"] = bson.M{"$ne": nil}
		case ledger.StateFailed:
			filter["failed_at"] = bson.M{"$ne": nil}
		case ledger.StatePending:
			filter["delivered_at"] = nil
			filter["failed_at"] = nil
		}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list by subscription: %w", err)
	}

	result := make([]*ledger.Record, 0, len(models))

	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, rec)
	}

	return result, nil
}

// ListRecordsByEvent returns all records for a specific event.
func (s *Store) ListRecordsByEvent(ctx context.Context, eventID id.ID) ([]*ledger.Record, error) {
	var models []recordModel

	if err := s.mdb.NewFind(&models).
		Filter(bson.M{"event_id": eventID.String()}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list by event: %w", err)
	}

	result := make([]*ledger.Record, 0, len(models))

	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, rec)
	}

	return result, nil
}

// CountPendingRecords returns the number of records awaiting attempt.
func (s *Store) CountPendingRecords(ctx context.Context) (int, error) {
	count, err := s.mdb.NewFind((*recordModel)(nil)).
		Filter(bson.M{"delivered_at": nil, "failed_at": nil}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: count pending: %w", err)
	}

	return int(count), nil
}

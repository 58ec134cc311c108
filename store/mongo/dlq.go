package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/id"
)

// Push appends a failed delivery to the dead letter queue.
func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)

	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: push dlq entry: %w", err)
	}

	return nil
}

// ListDLQ returns dead letter entries matching the filter options.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel

	filter := bson.M{}
	if opts.WorkspaceID != "" {
		filter["workspace_id"] = opts.WorkspaceID
	}
	if opts.SubscriptionID != nil {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}
	if opts.From != nil || opts.To != nil {
		rangeFilter := bson.M{}
		if opts.From != nil {
			rangeFilter["$gte"] = *opts.From
		}
		if opts.To != nil {
			rangeFilter["$lte"] = *opts.To
		}
		filter["failed_at"] = rangeFilter
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "failed_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}

	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("herald/mongo: list dlq: %w", err)
	}

	result := make([]*dlq.Entry, 0, len(models))

	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}

		result = append(result, entry)
	}

	return result, nil
}

// GetDLQ returns a dead letter entry by ID.
func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	var m dlqEntryModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": dlqID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, dlq.ErrNotFound
		}

		return nil, fmt.Errorf("herald/mongo: get dlq entry: %w", err)
	}

	return fromDLQEntryModel(&m)
}

// MarkReplayed stamps a dead letter entry with its replay time.
func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.mdb.NewUpdate((*dlqEntryModel)(nil)).
		Filter(bson.M{"_id": dlqID.String()}).
		SetUpdate(bson.M{"$set": bson.M{
			"replayed_at": at,
			"updated_at":  at,
		}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("herald/mongo: mark replayed: %w", err)
	}

	if res.MatchedCount() == 0 {
		return dlq.ErrNotFound
	}

	return nil
}

// Purge removes entries that failed before the cutoff.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.mdb.NewDelete((*dlqEntryModel)(nil)).
		Filter(bson.M{"failed_at": bson.M{"$lt": before}}).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: purge: %w", err)
	}

	return res.DeletedCount(), nil
}

// CountDLQ returns the total number of dead letter entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*dlqEntryModel)(nil)).
		Filter(bson.M{}).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("herald/mongo: count dlq: %w", err)
	}

	return count, nil
}

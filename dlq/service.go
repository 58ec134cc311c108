package dlq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/signalworks/herald/delivery"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/subscription"
)

// ErrReplayFailed is returned when a replayed delivery was not acknowledged.
var ErrReplayFailed = errors.New("dlq: replay delivery failed")

// Redeliverer performs a one-shot delivery for a replayed entry.
// Implemented by delivery.Engine via SendOnce.
type Redeliverer interface {
	SendOnce(ctx context.Context, subID, eventID id.ID, eventType string, payload []byte) (delivery.Result, error)
}

// Service manages the dead letter queue. Replaying an entry performs a fresh
// one-shot delivery; the failed ledger record itself stays failed.
type Service struct {
	store     Store
	redeliver Redeliverer
	logger    *slog.Logger
}

// NewService creates a new DLQ service. The redeliverer is wired in after
// construction via SetRedeliverer.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// SetRedeliverer wires the delivery engine used for replays.
func (svc *Service) SetRedeliverer(r Redeliverer) {
	svc.redeliver = r
}

// PushFailed creates a DLQ entry from a permanently failed ledger record.
// Implements delivery.DLQPusher.
func (svc *Service) PushFailed(ctx context.Context, rec *ledger.Record, sub *subscription.Subscription) error {
	entry := &Entry{
		Entity:         entity.New(),
		ID:             id.NewDLQID(),
		RecordID:       rec.ID,
		EventID:        rec.EventID,
		SubscriptionID: rec.SubscriptionID,
		EventType:      rec.EventType,
		WorkspaceID:    rec.WorkspaceID,
		URL:            sub.URL,
		Payload:        rec.Payload,
		Error:          rec.LastError,
		Attempts:       rec.Attempts,
		LastStatusCode: rec.LastStatusCode,
		FailedAt:       time.Now().UTC(),
	}

	return svc.store.Push(ctx, entry)
}

// List returns DLQ entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// Replay performs a one-shot redelivery of a DLQ entry with the original
// payload bytes. On a 2xx acknowledgement the entry is stamped replayed.
// The failed ledger record is never reopened.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID) error {
	if svc.redeliver == nil {
		return errors.New("dlq: no redeliverer wired")
	}

	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return err
	}

	res, err := svc.redeliver.SendOnce(ctx, entry.SubscriptionID, entry.EventID, entry.EventType, entry.Payload)
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		svc.logger.WarnContext(ctx, "replay not acknowledged",
			"dlq_id", dlqID, "status", res.StatusCode, "error", res.Error)
		return ErrReplayFailed
	}

	return svc.store.MarkReplayed(ctx, dlqID, time.Now().UTC())
}

// ReplayBulk replays all DLQ entries within a time window and returns the
// number successfully redelivered. Failures are logged and skipped.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	entries, err := svc.store.ListDLQ(ctx, ListOpts{From: &from, To: &to})
	if err != nil {
		return 0, err
	}

	var replayed int64
	for _, entry := range entries {
		if err := svc.Replay(ctx, entry.ID); err != nil {
			svc.logger.WarnContext(ctx, "bulk replay entry failed",
				"dlq_id", entry.ID, "error", err)
			continue
		}
		replayed++
	}
	return replayed, nil
}

// Purge removes old DLQ entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.Purge(ctx, before)
}

// Count returns the total number of DLQ entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDLQ(ctx)
}

package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/signalworks/herald/event"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/retry"
)

// casRetries bounds how many times an attempt result is re-applied when the
// conditional update loses a race.
const casRetries = 3

// AttemptResult captures the outcome of one HTTP delivery attempt.
type AttemptResult struct {
	// StatusCode is the HTTP status, 0 when the request never completed.
	StatusCode int

	// Response is the (already truncated) response body.
	Response string

	// Error is the transport error message, empty on an HTTP response.
	Error string

	// Signature is the signature header that was sent.
	Signature string

	// At is when the attempt finished.
	At time.Time
}

// Service maintains the delivery ledger: one record per (subscription, event)
// pair, moved through pending → delivered/failed by recorded attempts.
type Service struct {
	store  Store
	policy retry.Policy
	logger *slog.Logger
}

// NewService creates a ledger service.
func NewService(store Store, policy retry.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Open creates the pending record for a (subscription, event) pair, or
// returns the existing one. Emitting the same event to the same subscription
// twice never creates a second row.
func (svc *Service) Open(ctx context.Context, subID id.ID, evt *event.Event, payload []byte) (*Record, error) {
	now := time.Now().UTC()
	rec := &Record{
		Entity:         entity.New(),
		ID:             id.NewRecordID(),
		SubscriptionID: subID,
		EventID:        evt.ID,
		EventType:      evt.Type,
		WorkspaceID:    evt.Workspace.ID,
		Payload:        payload,
		NextAttemptAt:  &now,
	}

	err := svc.store.InsertRecord(ctx, rec)
	if errors.Is(err, ErrDuplicateRecord) {
		return svc.store.GetRecord(ctx, subID, evt.ID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record for a (subscription, event) pair.
func (svc *Service) Get(ctx context.Context, subID, eventID id.ID) (*Record, error) {
	return svc.store.GetRecord(ctx, subID, eventID)
}

// RecordAttempt applies one attempt result to a record and returns the
// updated record. Terminal records are returned unchanged: delivered and
// failed are absorbing states.
//
// The write goes through the store's conditional update. When another worker
// recorded an attempt between our read and write, the record is re-read and
// the result re-applied, a bounded number of times.
func (svc *Service) RecordAttempt(ctx context.Context, rec *Record, outcome retry.Outcome, res AttemptResult) (*Record, error) {
	for i := 0; i < casRetries; i++ {
		if rec.Terminal() {
			return rec, nil
		}

		expected := rec.Attempts
		updated := *rec
		svc.apply(&updated, outcome, res)

		err := svc.store.UpdateRecordIf(ctx, &updated, expected)
		if err == nil {
			return &updated, nil
		}
		if !errors.Is(err, ErrStaleRecord) {
			return nil, err
		}

		fresh, getErr := svc.store.GetRecord(ctx, rec.SubscriptionID, rec.EventID)
		if getErr != nil {
			return nil, getErr
		}
		rec = fresh
	}

	svc.logger.Warn("attempt result dropped after conditional update retries",
		"record_id", rec.ID,
		"subscription_id", rec.SubscriptionID,
		"event_id", rec.EventID,
	)
	return nil, ErrStaleRecord
}

// apply mutates rec with the attempt result and the policy's retry decision.
func (svc *Service) apply(rec *Record, outcome retry.Outcome, res AttemptResult) {
	at := res.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	rec.Attempts++
	rec.LastAttemptAt = &at
	rec.LastStatusCode = res.StatusCode
	rec.LastResponse = res.Response
	rec.LastError = res.Error
	rec.LastSignature = res.Signature
	rec.Touch()

	switch outcome {
	case retry.Success:
		rec.DeliveredAt = &at
		rec.NextAttemptAt = nil
	case retry.PermanentFailure:
		rec.FailedAt = &at
		rec.NextAttemptAt = nil
	case retry.RetryableFailure:
		if rec.Attempts >= svc.policy.MaxAttempts {
			rec.FailedAt = &at
			rec.NextAttemptAt = nil
			return
		}
		next := at.Add(svc.policy.NextAttemptDelay(rec.Attempts))
		rec.NextAttemptAt = &next
	}
}

// Due returns up to limit records ready for a retry attempt, oldest first.
func (svc *Service) Due(ctx context.Context, now time.Time, limit int) ([]*Record, error) {
	return svc.store.DueRecords(ctx, now, limit)
}

// ListBySubscription returns delivery history for a subscription.
func (svc *Service) ListBySubscription(ctx context.Context, subID id.ID, opts ListOpts) ([]*Record, error) {
	return svc.store.ListRecordsBySubscription(ctx, subID, opts)
}

// ListByEvent returns the fan-out records for a single event.
func (svc *Service) ListByEvent(ctx context.Context, eventID id.ID) ([]*Record, error) {
	return svc.store.ListRecordsByEvent(ctx, eventID)
}

// CountPending returns the number of records still awaiting an outcome.
func (svc *Service) CountPending(ctx context.Context) (int, error) {
	return svc.store.CountPendingRecords(ctx)
}

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/signalworks/herald/event"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/observability"
	"github.com/signalworks/herald/ratelimit"
	"github.com/signalworks/herald/retry"
	"github.com/signalworks/herald/subscription"
)

// SubscriptionStore is the slice of the subscription store the engine needs.
type SubscriptionStore interface {
	GetSubscription(ctx context.Context, subID id.ID) (*subscription.Subscription, error)
	ResolveSubscriptions(ctx context.Context, workspaceID string, eventType string) ([]*subscription.Subscription, error)
	SetActive(ctx context.Context, subID id.ID, active bool) error
}

// SecretDecrypter resolves a subscription's plaintext signing secret.
// Implemented by subscription.Service.
type SecretDecrypter interface {
	DecryptSecret(sub *subscription.Subscription) (string, error)
}

// DLQPusher pushes permanently failed deliveries to the dead letter queue.
type DLQPusher interface {
	PushFailed(ctx context.Context, rec *ledger.Record, sub *subscription.Subscription) error
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine fans events out to matching subscriptions and records every attempt
// in the ledger. Each subscription is delivered to independently: one slow or
// broken subscriber never blocks or fails the others.
type Engine struct {
	subs    SubscriptionStore
	decrypt SecretDecrypter
	ledger  *ledger.Service
	dlq     DLQPusher
	sender  *Sender
	limiter *ratelimit.Limiter
	config  EngineConfig
	logger  *slog.Logger
}

// NewEngine creates a delivery engine.
func NewEngine(subs SubscriptionStore, decrypt SecretDecrypter, led *ledger.Service, dlq DLQPusher, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Engine{
		subs:    subs,
		decrypt: decrypt,
		ledger:  led,
		dlq:     dlq,
		sender:  NewSender(cfg.RequestTimeout),
		limiter: ratelimit.New(),
		config:  cfg,
		logger:  logger,
	}
}

// MatchSubscriptions returns the active subscriptions whose patterns match
// the event type within the event's workspace.
func (e *Engine) MatchSubscriptions(ctx context.Context, workspaceID, eventType string) ([]*subscription.Subscription, error) {
	return e.subs.ResolveSubscriptions(ctx, workspaceID, eventType)
}

// ProcessEvent delivers an event to every matching subscription. The fan-out
// runs under a concurrency cap; a panic in one subscription's path is
// contained to that subscription. Returns the ledger records that were
// opened, one per matched subscription.
func (e *Engine) ProcessEvent(ctx context.Context, evt *event.Event) ([]*ledger.Record, error) {
	// The signed body is the full event envelope, not just the data: the
	// receiver reads its idempotency key (event id) from the signed bytes.
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	subs, err := e.MatchSubscriptions(ctx, evt.Workspace.ID, evt.Type)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, nil
	}

	sem := make(chan struct{}, e.config.Concurrency)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		records []*ledger.Record
	)

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return records, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sub *subscription.Subscription) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					e.logger.ErrorContext(ctx, "delivery panic",
						"subscription_id", sub.ID, "event_id", evt.ID, "panic", r)
				}
			}()

			rec, err := e.ledger.Open(ctx, sub.ID, evt, payload)
			if err != nil {
				e.logger.ErrorContext(ctx, "open ledger record failed",
					"subscription_id", sub.ID, "event_id", evt.ID, "error", err)
				return
			}

			mu.Lock()
			records = append(records, rec)
			mu.Unlock()

			if rec.Terminal() {
				// Duplicate emit of an already-settled pair. Nothing to do.
				return
			}

			if _, err := e.DeliverOne(ctx, sub, rec); err != nil {
				e.logger.ErrorContext(ctx, "delivery failed",
					"subscription_id", sub.ID, "event_id", evt.ID, "error", err)
			}
		}(sub)
	}

	wg.Wait()
	return records, nil
}

// DeliverOne performs a single delivery attempt for a record and applies the
// result to the ledger. The subscription is re-validated first: it may have
// been deactivated or re-scoped since the record was opened.
func (e *Engine) DeliverOne(ctx context.Context, sub *subscription.Subscription, rec *ledger.Record) (*ledger.Record, error) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, rec.ID.String(), rec.EventID.String(), sub.ID.String())
	}

	updated, latencyMs, err := e.deliver(ctx, sub, rec)

	if span != nil {
		status, errMsg := 0, ""
		if updated != nil {
			status = updated.LastStatusCode
			errMsg = updated.LastError
		}
		if err != nil {
			errMsg = err.Error()
		}
		e.config.Tracer.EndDeliverySpan(span, status, latencyMs, errMsg)
	}

	return updated, err
}

// deliver performs the attempt and returns the updated record and the
// measured request latency in milliseconds.
func (e *Engine) deliver(ctx context.Context, sub *subscription.Subscription, rec *ledger.Record) (*ledger.Record, int, error) {
	if !sub.Active || !sub.Matches(rec.EventType) {
		// Leave the record pending; the sweeper re-checks on its next pass.
		return rec, 0, nil
	}

	secret, err := e.decrypt.DecryptSecret(sub)
	if err != nil {
		// A secret that cannot be decrypted is a configuration failure for
		// this subscription alone. No HTTP attempt is possible.
		updated, recErr := e.record(ctx, sub, rec, retry.PermanentFailure, ledger.AttemptResult{
			Error: fmt.Sprintf("decrypt secret: %v", err),
			At:    time.Now().UTC(),
		}, 0)
		return updated, 0, recErr
	}

	if err := e.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); err != nil {
		return rec, 0, err
	}

	res := e.sender.Send(ctx, Request{
		URL:            sub.URL,
		Secret:         secret,
		Headers:        sub.Headers,
		EventID:        rec.EventID,
		EventType:      rec.EventType,
		RecordID:       rec.ID,
		AppID:          sub.AppID,
		InstallationID: sub.InstallationID.String(),
		Payload:        rec.Payload,
	})

	outcome := retry.Classify(res.StatusCode)

	// 410 Gone means the subscriber wants no more deliveries at this URL.
	if res.StatusCode == 410 {
		if disableErr := e.subs.SetActive(ctx, sub.ID, false); disableErr != nil {
			e.logger.ErrorContext(ctx, "deactivate subscription failed",
				"subscription_id", sub.ID, "error", disableErr)
		} else {
			e.logger.WarnContext(ctx, "subscription deactivated (410 Gone)",
				"subscription_id", sub.ID, "record_id", rec.ID)
		}
	}

	updated, err := e.record(ctx, sub, rec, outcome, ledger.AttemptResult{
		StatusCode: res.StatusCode,
		Response:   res.Response,
		Error:      res.Error,
		Signature:  res.Signature,
		At:         time.Now().UTC(),
	}, res.LatencyMs)
	return updated, res.LatencyMs, err
}

// record applies the attempt to the ledger, emits metrics, and pushes
// permanently failed records to the DLQ.
func (e *Engine) record(ctx context.Context, sub *subscription.Subscription, rec *ledger.Record, outcome retry.Outcome, res ledger.AttemptResult, latencyMs int) (*ledger.Record, error) {
	updated, err := e.ledger.RecordAttempt(ctx, rec, outcome, res)
	if err != nil {
		return nil, err
	}

	latencySeconds := float64(latencyMs) / 1000.0

	switch updated.State() {
	case ledger.StateDelivered:
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("delivered", latencySeconds)
			e.config.Metrics.PendingRecords.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"record_id", updated.ID, "status", res.StatusCode, "latency_ms", latencyMs)

	case ledger.StateFailed:
		if e.dlq != nil {
			if dlqErr := e.dlq.PushFailed(ctx, updated, sub); dlqErr != nil {
				e.logger.ErrorContext(ctx, "push to DLQ failed",
					"record_id", updated.ID, "error", dlqErr)
			}
		}
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingRecords.Dec()
			e.config.Metrics.DLQSize.Inc()
		}
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"record_id", updated.ID, "status", res.StatusCode, "error", res.Error)

	case ledger.StatePending:
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"record_id", updated.ID, "attempt", updated.Attempts, "next_at", updated.NextAttemptAt)
	}

	return updated, nil
}

// Redeliver performs one retry attempt for a due ledger record. Used by the
// sweeper. Records whose subscription is gone or inactive are skipped.
func (e *Engine) Redeliver(ctx context.Context, rec *ledger.Record) (*ledger.Record, error) {
	if rec.Terminal() {
		return rec, nil
	}

	sub, err := e.subs.GetSubscription(ctx, rec.SubscriptionID)
	if err != nil {
		return nil, err
	}

	return e.DeliverOne(ctx, sub, rec)
}

// SendOnce performs a one-shot delivery outside the ledger. Used for DLQ
// replays: the original failed record stays failed regardless of the result.
func (e *Engine) SendOnce(ctx context.Context, subID id.ID, eventID id.ID, eventType string, payload []byte) (Result, error) {
	sub, err := e.subs.GetSubscription(ctx, subID)
	if err != nil {
		return Result{}, err
	}

	secret, err := e.decrypt.DecryptSecret(sub)
	if err != nil {
		return Result{}, err
	}

	if err := e.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); err != nil {
		return Result{}, err
	}

	return e.sender.Send(ctx, Request{
		URL:            sub.URL,
		Secret:         secret,
		Headers:        sub.Headers,
		EventID:        eventID,
		EventType:      eventType,
		RecordID:       id.NewRecordID(),
		AppID:          sub.AppID,
		InstallationID: sub.InstallationID.String(),
		Payload:        payload,
	}), nil
}

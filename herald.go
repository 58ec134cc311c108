package herald

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/delivery"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/event"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/installation"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/secrets"
	"github.com/signalworks/herald/store"
	"github.com/signalworks/herald/subscription"
	"github.com/signalworks/herald/sweeper"
)

// wireServices initializes the internal services after options have been applied.
func (h *Herald) wireServices() {
	if h.cipher == nil {
		h.cipher = secrets.Plaintext{}
	}

	h.catalog = catalog.NewCatalog(h.store, catalog.Config{
		CacheTTL: h.config.CacheTTL,
	}, h.logger)

	h.validator = catalog.NewValidator()

	h.subSvc = subscription.NewService(h.store, h.cipher, h.logger)
	h.instSvc = installation.NewService(h.store, h.subSvc, h.logger)

	h.ledgerSvc = ledger.NewService(h.store, h.config.RetryPolicy, h.logger)

	h.dlqSvc = dlq.NewService(h.store, h.logger)

	h.engine = delivery.NewEngine(h.store, h.subSvc, h.ledgerSvc, h.dlqSvc, delivery.EngineConfig{
		Concurrency:    h.config.Concurrency,
		RequestTimeout: h.config.RequestTimeout,
		Metrics:        h.metrics,
		Tracer:         h.tracer,
	}, h.logger)

	h.dlqSvc.SetRedeliverer(h.engine)

	h.sweeper = sweeper.New(h.ledgerSvc, h.engine, sweeper.Config{
		Interval:    h.config.SweepInterval,
		BatchSize:   h.config.SweepBatchSize,
		Concurrency: h.config.Concurrency,
		Metrics:     h.metrics,
	}, h.logger)
}

// Start begins the retry sweeper.
func (h *Herald) Start(ctx context.Context) {
	h.sweeper.Start(ctx)
}

// Stop gracefully shuts down the sweeper and waits for in-flight deliveries.
func (h *Herald) Stop(ctx context.Context) {
	h.sweeper.Stop(ctx)
}

// RegisterEventType registers an event type definition in the catalog.
func (h *Herald) RegisterEventType(ctx context.Context, def catalog.Definition, opts ...catalog.RegisterOption) (*catalog.EventType, error) {
	return h.catalog.RegisterType(ctx, def, opts...)
}

// Emit validates an event, dispatches it to in-process listeners, and fans
// it out to matching webhook subscriptions.
//
// The critical path:
//  1. Look up the event type in the catalog (reject unknown types).
//  2. Reject deprecated event types.
//  3. Validate the event payload against the JSON Schema (if configured).
//  4. Assign ID and millisecond timestamp.
//  5. Run synchronous listeners in registration order.
//  6. Run async listeners and the webhook fan-out in the background.
//
// Validation failures are returned directly. Listener and delivery failures
// never fail the emit; they are observable on the returned Emission. Emit
// returns as soon as the background work is handed off, so callers that need
// delivery and async listener errors must call Wait on the Emission.
func (h *Herald) Emit(ctx context.Context, evt *event.Event) (*Emission, error) {
	if h.tracer != nil {
		var end func()
		ctx, end = h.startEmitSpan(ctx, evt)
		defer end()
	}

	// 1. Validate event type exists.
	et, err := h.catalog.GetType(ctx, evt.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEventTypeNotFound, evt.Type)
	}

	// 2. Reject deprecated event types.
	if et.IsDeprecated {
		return nil, fmt.Errorf("%w: %s", ErrEventTypeDeprecated, evt.Type)
	}

	// 3. Validate payload against schema (if defined).
	if len(et.Definition.Schema) > 0 {
		if validateErr := h.validator.Validate(et.Definition.Schema, evt.Data); validateErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrPayloadValidationFailed, validateErr.Error())
		}
	}

	// 4. Assign identity. The TypeID suffix is a UUIDv7, so event IDs sort
	// by emission time.
	if evt.ID.IsNil() {
		evt.ID = id.NewEventID()
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	if h.metrics != nil {
		h.metrics.EventsEmittedTotal.Inc()
	}

	em := &Emission{Event: evt}

	// 5. Synchronous listeners, in registration order.
	for _, l := range h.matching(evt.Type) {
		if l.async {
			em.wg.Add(1)
			go func(l *listenerEntry) {
				defer em.wg.Done()
				em.invoke(ctx, l, evt)
			}(l)
			continue
		}
		em.invoke(ctx, l, evt)
	}

	// 6. Webhook fan-out in the background.
	em.wg.Add(1)
	go func() {
		defer em.wg.Done()
		records, fanoutErr := h.engine.ProcessEvent(context.WithoutCancel(ctx), evt)
		em.mu.Lock()
		em.records = records
		em.mu.Unlock()
		if fanoutErr != nil {
			em.addErr(fanoutErr)
			h.logger.ErrorContext(ctx, "fan-out failed",
				"event_id", evt.ID, "type", evt.Type, "error", fanoutErr)
		}
	}()

	h.logger.DebugContext(ctx, "event emitted",
		"event_id", evt.ID,
		"type", evt.Type,
		"workspace_id", evt.Workspace.ID,
	)

	return em, nil
}

// EmitBatch emits every event in order. One invalid event does not stop the
// rest; the combined validation errors are returned alongside the emissions
// that succeeded.
func (h *Herald) EmitBatch(ctx context.Context, events []*event.Event) ([]*Emission, error) {
	var (
		emissions []*Emission
		errs      []error
	)
	for _, evt := range events {
		em, err := h.Emit(ctx, evt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		emissions = append(emissions, em)
	}
	return emissions, errors.Join(errs...)
}

func (h *Herald) startEmitSpan(ctx context.Context, evt *event.Event) (context.Context, func()) {
	ctx, span := h.tracer.StartEmitSpan(ctx, evt.ID.String(), evt.Type)
	return ctx, func() { span.End() }
}

// Subscriptions returns the subscription management service.
func (h *Herald) Subscriptions() *subscription.Service {
	return h.subSvc
}

// Installations returns the app installation service.
func (h *Herald) Installations() *installation.Service {
	return h.instSvc
}

// Catalog returns the event type catalog.
func (h *Herald) Catalog() *catalog.Catalog {
	return h.catalog
}

// Ledger returns the delivery ledger service.
func (h *Herald) Ledger() *ledger.Service {
	return h.ledgerSvc
}

// DLQ returns the dead letter queue service.
func (h *Herald) DLQ() *dlq.Service {
	return h.dlqSvc
}

// Engine returns the delivery engine.
func (h *Herald) Engine() *delivery.Engine {
	return h.engine
}

// Sweeper returns the retry sweeper.
func (h *Herald) Sweeper() *sweeper.Sweeper {
	return h.sweeper
}

// Store returns the underlying store.
func (h *Herald) Store() store.Store {
	return h.store
}

// Package herald provides an in-process event bus with webhook fan-out.
//
// Herald is a library, not a service. Import it into your application to
// emit typed events that are dispatched to in-process listeners and, in the
// same motion, signed and delivered to webhook subscriptions over HTTP.
//
// Key features:
//   - Dynamic, persisted event type definitions with JSON Schema validation
//   - In-process listeners with glob pattern matching and optional async dispatch
//   - HMAC-SHA256 payload signing with timestamp binding on every delivery
//   - One ledger record per (subscription, event) pair; delivered and failed
//     are absorbing states
//   - Exponential backoff retries driven by a background sweeper
//   - Dead letter queue with one-shot replay
//   - Composable store pattern with multiple backends (Postgres, Bun, SQLite,
//     Redis, Mongo, Memory)
//   - Per-subscription rate limiting
//
// Quick start:
//
//	h, err := herald.New(
//	    herald.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	h.RegisterEventType(ctx, catalog.Definition{
//	    Name:    "issue.created",
//	    Version: "2025-06-01",
//	})
//
//	h.On("issue.*", func(ctx context.Context, evt *event.Event) error {
//	    // react in-process
//	    return nil
//	})
//
//	em, err := h.Emit(ctx, &event.Event{
//	    Type:      "issue.created",
//	    Workspace: event.Workspace{ID: "ws_123"},
//	    Data:      map[string]any{"issue_id": "is_01h..."},
//	})
package herald

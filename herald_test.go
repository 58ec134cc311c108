package herald_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	herald "github.com/signalworks/herald"
	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/event"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/retry"
	"github.com/signalworks/herald/store/memory"
	"github.com/signalworks/herald/subscription"
)

func ctx() context.Context { return context.Background() }

func newHerald(t *testing.T, opts ...herald.Option) *herald.Herald {
	t.Helper()

	policy := retry.DefaultPolicy()
	policy.Jitter = 0

	opts = append([]herald.Option{
		herald.WithStore(memory.New()),
		herald.WithRetryPolicy(policy),
		herald.WithRequestTimeout(5 * time.Second),
	}, opts...)

	h, err := herald.New(opts...)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func register(t *testing.T, h *herald.Herald, name string) {
	t.Helper()

	_, err := h.RegisterEventType(ctx(), catalog.Definition{
		Name:        name,
		Description: name,
		Version:     "2025-01-01",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNewRequiresStore(t *testing.T) {
	_, err := herald.New()
	if !errors.Is(err, herald.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestEmitRejectsUnknownType(t *testing.T) {
	h := newHerald(t)

	_, err := h.Emit(ctx(), &event.Event{Type: "never.registered"})
	if !errors.Is(err, herald.ErrEventTypeNotFound) {
		t.Fatalf("err = %v, want ErrEventTypeNotFound", err)
	}
}

func TestEmitRejectsDeprecatedType(t *testing.T) {
	h := newHerald(t)
	register(t, h, "legacy.event")

	if err := h.Catalog().DeprecateType(ctx(), "legacy.event"); err != nil {
		t.Fatal(err)
	}

	_, err := h.Emit(ctx(), &event.Event{Type: "legacy.event"})
	if !errors.Is(err, herald.ErrEventTypeDeprecated) {
		t.Fatalf("err = %v, want ErrEventTypeDeprecated", err)
	}
}

func TestEmitValidatesPayload(t *testing.T) {
	h := newHerald(t)

	_, err := h.RegisterEventType(ctx(), catalog.Definition{
		Name:        "invoice.paid",
		Description: "invoice paid",
		Version:     "2025-01-01",
		Schema: []byte(`{
			"type": "object",
			"properties": {"amount": {"type": "number"}},
			"required": ["amount"]
		}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Valid payload passes.
	em, err := h.Emit(ctx(), &event.Event{
		Type: "invoice.paid",
		Data: map[string]any{"amount": 12.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Wait(); err != nil {
		t.Fatal(err)
	}

	// Invalid payload is rejected before anything runs.
	_, err = h.Emit(ctx(), &event.Event{
		Type: "invoice.paid",
		Data: map[string]any{"note": "no amount"},
	})
	if !errors.Is(err, herald.ErrPayloadValidationFailed) {
		t.Fatalf("err = %v, want ErrPayloadValidationFailed", err)
	}
}

func TestEmitAssignsIdentity(t *testing.T) {
	h := newHerald(t)
	register(t, h, "user.created")

	evt := &event.Event{Type: "user.created"}
	em, err := h.Emit(ctx(), evt)
	if err != nil {
		t.Fatal(err)
	}
	defer em.Wait() //nolint:errcheck

	if evt.ID.IsNil() {
		t.Fatal("emit did not assign an event ID")
	}
	if evt.ID.Prefix() != "evt" {
		t.Fatalf("ID prefix = %q, want evt", evt.ID.Prefix())
	}
	if evt.Timestamp == 0 {
		t.Fatal("emit did not assign a timestamp")
	}
}

func TestSyncListenersRunInRegistrationOrder(t *testing.T) {
	h := newHerald(t)
	register(t, h, "task.done")

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		h.On("task.*", func(ctx context.Context, evt *event.Event) error {
			order = append(order, i)
			return nil
		})
	}

	em, err := h.Emit(ctx(), &event.Event{Type: "task.done"})
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Wait(); err != nil {
		t.Fatal(err)
	}

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("listener order = %v, want [0 1 2]", order)
	}
}

func TestListenerPatternMatching(t *testing.T) {
	h := newHerald(t)
	register(t, h, "issue.created")

	var issueHits, userHits atomic.Int32
	h.On("issue.*", func(ctx context.Context, evt *event.Event) error {
		issueHits.Add(1)
		return nil
	})
	h.On("user.*", func(ctx context.Context, evt *event.Event) error {
		userHits.Add(1)
		return nil
	})

	em, err := h.Emit(ctx(), &event.Event{Type: "issue.created"})
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Wait(); err != nil {
		t.Fatal(err)
	}

	if issueHits.Load() != 1 {
		t.Fatalf("issue listener hits = %d, want 1", issueHits.Load())
	}
	if userHits.Load() != 0 {
		t.Fatalf("user listener hits = %d, want 0", userHits.Load())
	}
}

func TestOffRemovesListener(t *testing.T) {
	h := newHerald(t)
	register(t, h, "ping.sent")

	var hits atomic.Int32
	handle := h.On("*", func(ctx context.Context, evt *event.Event) error {
		hits.Add(1)
		return nil
	})

	if !h.Off(handle) {
		t.Fatal("Off returned false for a live handle")
	}
	if h.Off(handle) {
		t.Fatal("Off returned true for an already removed handle")
	}

	em, err := h.Emit(ctx(), &event.Event{Type: "ping.sent"})
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Wait(); err != nil {
		t.Fatal(err)
	}

	if hits.Load() != 0 {
		t.Fatalf("removed listener ran %d times", hits.Load())
	}
}

func TestAsyncListenerErrorSurfacesOnWait(t *testing.T) {
	h := newHerald(t)
	register(t, h, "report.ready")

	wantErr := errors.New("async listener broke")
	h.On("report.*", func(ctx context.Context, evt *event.Event) error {
		return wantErr
	}, herald.Async())

	em, err := h.Emit(ctx(), &event.Event{Type: "report.ready"})
	if err != nil {
		t.Fatal(err)
	}

	if waitErr := em.Wait(); !errors.Is(waitErr, wantErr) {
		t.Fatalf("Wait() = %v, want %v", waitErr, wantErr)
	}
}

func TestListenerPanicIsContained(t *testing.T) {
	h := newHerald(t)
	register(t, h, "danger.zone")

	h.On("danger.*", func(ctx context.Context, evt *event.Event) error {
		panic("listener exploded")
	})

	var ranAfter atomic.Bool
	h.On("danger.*", func(ctx context.Context, evt *event.Event) error {
		ranAfter.Store(true)
		return nil
	})

	em, err := h.Emit(ctx(), &event.Event{Type: "danger.zone"})
	if err != nil {
		t.Fatal(err)
	}

	if waitErr := em.Wait(); waitErr == nil {
		t.Fatal("panic should surface as an error on Wait")
	}
	if !ranAfter.Load() {
		t.Fatal("panic in one listener blocked the next")
	}
}

func TestEmitFansOutToWebhooks(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHerald(t)
	register(t, h, "order.created")

	if _, err := h.Subscriptions().Create(ctx(), subscription.Input{
		WorkspaceID: "ws_1",
		URL:         srv.URL,
		EventTypes:  []string{"order.*"},
	}); err != nil {
		t.Fatal(err)
	}

	em, err := h.Emit(ctx(), &event.Event{
		Type:      "order.created",
		Data:      map[string]any{"order": "o_1"},
		Workspace: event.Workspace{ID: "ws_1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Wait(); err != nil {
		t.Fatal(err)
	}

	records := em.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec, err := h.Ledger().Get(ctx(), records[0].SubscriptionID, records[0].EventID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != ledger.StateDelivered {
		t.Fatalf("state = %q, want delivered", rec.State())
	}

	// The body is the full signed event envelope.
	var delivered event.Event
	if err := json.Unmarshal([]byte(gotBody.Load().(string)), &delivered); err != nil {
		t.Fatalf("delivered body is not an event: %v", err)
	}
	if delivered.ID != em.Event.ID {
		t.Fatalf("body event id = %s, want %s", delivered.ID, em.Event.ID)
	}
	if delivered.Type != "order.created" {
		t.Fatalf("body type = %q", delivered.Type)
	}
	data, ok := delivered.Data.(map[string]any)
	if !ok || data["order"] != "o_1" {
		t.Fatalf("body data = %v", delivered.Data)
	}
}

func TestEmitBatchContinuesPastInvalid(t *testing.T) {
	h := newHerald(t)
	register(t, h, "a.one")
	register(t, h, "a.two")

	events := []*event.Event{
		{Type: "a.one"},
		{Type: "not.registered"},
		{Type: "a.two"},
	}

	emissions, err := h.EmitBatch(ctx(), events)
	if !errors.Is(err, herald.ErrEventTypeNotFound) {
		t.Fatalf("err = %v, want ErrEventTypeNotFound", err)
	}
	if len(emissions) != 2 {
		t.Fatalf("got %d emissions, want 2", len(emissions))
	}
	for _, em := range emissions {
		if waitErr := em.Wait(); waitErr != nil {
			t.Fatal(waitErr)
		}
	}
}

func TestSweeperDrainsBacklogEndToEnd(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// Tight backoff so the retry is due immediately.
	policy := retry.DefaultPolicy()
	policy.Jitter = 0
	policy.InitialDelay = time.Millisecond

	h := newHerald(t, herald.WithRetryPolicy(policy))
	register(t, h, "job.finished")

	if _, err := h.Subscriptions().Create(ctx(), subscription.Input{
		WorkspaceID: "ws_1",
		URL:         srv.URL,
		EventTypes:  []string{"job.*"},
	}); err != nil {
		t.Fatal(err)
	}

	em, err := h.Emit(ctx(), &event.Event{
		Type:      "job.finished",
		Workspace: event.Workspace{ID: "ws_1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Wait(); err != nil {
		t.Fatal(err)
	}

	records := em.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	healthy.Store(true)
	time.Sleep(5 * time.Millisecond)

	if _, err := h.Sweeper().RunOnce(ctx()); err != nil {
		t.Fatal(err)
	}

	rec, err := h.Ledger().Get(ctx(), records[0].SubscriptionID, records[0].EventID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != ledger.StateDelivered {
		t.Fatalf("state = %q, want delivered after sweep", rec.State())
	}
	if rec.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", rec.Attempts)
	}
}

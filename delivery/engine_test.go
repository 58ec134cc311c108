package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalworks/herald/delivery"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/event"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/retry"
	"github.com/signalworks/herald/signature"
	"github.com/signalworks/herald/store/memory"
	"github.com/signalworks/herald/subscription"
)

func ctx() context.Context { return context.Background() }

type fixture struct {
	store  *memory.Store
	subs   *subscription.Service
	ledger *ledger.Service
	dlq    *dlq.Service
	engine *delivery.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := memory.New()
	policy := retry.DefaultPolicy()
	policy.Jitter = 0

	subs := subscription.NewService(st, nil, nil)
	led := ledger.NewService(st, policy, nil)
	dlqSvc := dlq.NewService(st, nil)

	eng := delivery.NewEngine(st, subs, led, dlqSvc, delivery.EngineConfig{
		Concurrency:    4,
		RequestTimeout: 5 * time.Second,
	}, nil)
	dlqSvc.SetRedeliverer(eng)

	return &fixture{store: st, subs: subs, ledger: led, dlq: dlqSvc, engine: eng}
}

func (f *fixture) subscribe(t *testing.T, workspaceID, url string, patterns ...string) *subscription.Subscription {
	t.Helper()

	sub, err := f.subs.Create(ctx(), subscription.Input{
		WorkspaceID: workspaceID,
		URL:         url,
		EventTypes:  patterns,
	})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func testEvent(typ, workspaceID string, data any) *event.Event {
	return &event.Event{
		ID:        id.NewEventID(),
		Type:      typ,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
		Workspace: event.Workspace{ID: workspaceID},
	}
}

func TestProcessEventDeliversSignedPayload(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "invoice.*")
	evt := testEvent("invoice.paid", "ws_1", map[string]any{"amount": 42})

	records, err := f.engine.ProcessEvent(ctx(), evt)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	rec, err := f.ledger.Get(ctx(), sub.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != ledger.StateDelivered {
		t.Fatalf("state = %q, want delivered", rec.State())
	}
	if rec.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", rec.Attempts)
	}

	if got := gotHeader.Get("X-Herald-Event-ID"); got != evt.ID.String() {
		t.Fatalf("X-Herald-Event-ID = %q, want %q", got, evt.ID)
	}
	if got := gotHeader.Get("X-Herald-Event-Type"); got != "invoice.paid" {
		t.Fatalf("X-Herald-Event-Type = %q", got)
	}
	if got := gotHeader.Get("User-Agent"); got != "Herald/1.0" {
		t.Fatalf("User-Agent = %q", got)
	}
	if gotHeader.Get("X-Herald-Timestamp") == "" {
		t.Fatal("X-Herald-Timestamp header missing")
	}

	// sub.Secret holds the plaintext exactly once, on the Create return value.
	sigHeader := gotHeader.Get("X-Herald-Signature")
	if !signature.VerifyHeader(gotBody, sigHeader, sub.Secret, time.Now().UnixMilli()) {
		t.Fatalf("signature %q does not verify against delivered body %s", sigHeader, gotBody)
	}
}

func TestDeliveredBodyIsEventEnvelope(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.subscribe(t, "ws_1", srv.URL, "invoice.*")
	evt := testEvent("invoice.paid", "ws_1", map[string]any{"k": "v"})

	if _, err := f.engine.ProcessEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	// The signed body carries the whole event, not just the data, so the
	// receiver can take the event id as its idempotency key from bytes the
	// signature covers.
	var body struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		Timestamp int64          `json:"timestamp"`
		Data      map[string]any `json:"data"`
		Workspace struct {
			ID string `json:"id"`
		} `json:"workspace"`
	}
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatalf("delivered body is not JSON: %v (%s)", err, gotBody)
	}

	if body.ID != evt.ID.String() {
		t.Fatalf("body id = %q, want %q", body.ID, evt.ID)
	}
	if body.Type != "invoice.paid" {
		t.Fatalf("body type = %q", body.Type)
	}
	if body.Timestamp != evt.Timestamp {
		t.Fatalf("body timestamp = %d, want %d", body.Timestamp, evt.Timestamp)
	}
	if body.Workspace.ID != "ws_1" {
		t.Fatalf("body workspace = %q", body.Workspace.ID)
	}
	if body.Data["k"] != "v" {
		t.Fatalf("body data = %v", body.Data)
	}
}

func TestProcessEventNoMatchingSubscriptions(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.subscribe(t, "ws_1", srv.URL, "invoice.*")

	// Different type and different workspace both miss.
	records, err := f.engine.ProcessEvent(ctx(), testEvent("user.created", "ws_1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records for unmatched type, want 0", len(records))
	}

	records, err = f.engine.ProcessEvent(ctx(), testEvent("invoice.paid", "ws_other", nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records for foreign workspace, want 0", len(records))
	}

	if hits.Load() != 0 {
		t.Fatalf("endpoint hit %d times, want 0", hits.Load())
	}
}

func TestProcessEventFanOutIsolation(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	brokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer brokenSrv.Close()

	f := newFixture(t)
	healthy := f.subscribe(t, "ws_1", okSrv.URL, "order.*")
	broken := f.subscribe(t, "ws_1", brokenSrv.URL, "order.*")
	evt := testEvent("order.created", "ws_1", map[string]any{"order": "o_1"})

	records, err := f.engine.ProcessEvent(ctx(), evt)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	healthyRec, err := f.ledger.Get(ctx(), healthy.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if healthyRec.State() != ledger.StateDelivered {
		t.Fatalf("healthy sub state = %q, want delivered", healthyRec.State())
	}

	brokenRec, err := f.ledger.Get(ctx(), broken.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if brokenRec.State() != ledger.StatePending {
		t.Fatalf("broken sub state = %q, want pending (retry scheduled)", brokenRec.State())
	}
	if brokenRec.Attempts != 1 {
		t.Fatalf("broken sub attempts = %d, want 1", brokenRec.Attempts)
	}
	if brokenRec.NextAttemptAt == nil {
		t.Fatal("broken sub record has no retry scheduled")
	}
}

func TestProcessEventPermanentFailureLandsInDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "task.*")
	evt := testEvent("task.completed", "ws_1", nil)

	if _, err := f.engine.ProcessEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	rec, err := f.ledger.Get(ctx(), sub.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != ledger.StateFailed {
		t.Fatalf("state = %q, want failed", rec.State())
	}
	if rec.LastStatusCode != 404 {
		t.Fatalf("last status = %d, want 404", rec.LastStatusCode)
	}

	n, err := f.dlq.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("DLQ count = %d, want 1", n)
	}
}

func TestGoneResponseDeactivatesSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "user.*")
	evt := testEvent("user.deleted", "ws_1", nil)

	if _, err := f.engine.ProcessEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	reloaded, err := f.subs.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Active {
		t.Fatal("subscription still active after 410 Gone")
	}

	rec, err := f.ledger.Get(ctx(), sub.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != ledger.StateFailed {
		t.Fatalf("state = %q, want failed", rec.State())
	}
}

func TestInactiveSubscriptionReceivesNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "*")
	if err := f.subs.SetActive(ctx(), sub.ID, false); err != nil {
		t.Fatal(err)
	}

	records, err := f.engine.ProcessEvent(ctx(), testEvent("any.event", "ws_1", nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records for inactive subscription, want 0", len(records))
	}
	if hits.Load() != 0 {
		t.Fatalf("endpoint hit %d times, want 0", hits.Load())
	}
}

func TestProcessEventIsIdempotentPerPair(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "invoice.*")
	evt := testEvent("invoice.paid", "ws_1", nil)

	if _, err := f.engine.ProcessEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}
	// Same event emitted again: the settled record absorbs it.
	if _, err := f.engine.ProcessEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	if hits.Load() != 1 {
		t.Fatalf("endpoint hit %d times, want 1", hits.Load())
	}

	rec, err := f.ledger.Get(ctx(), sub.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", rec.Attempts)
	}
}

func TestRedeliverRetriesPendingRecord(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "job.*")
	evt := testEvent("job.finished", "ws_1", nil)

	if _, err := f.engine.ProcessEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	rec, err := f.ledger.Get(ctx(), sub.ID, evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.State() != ledger.StatePending {
		t.Fatalf("state = %q, want pending after 503", rec.State())
	}

	// Endpoint recovers; the retry succeeds.
	healthy.Store(true)

	updated, err := f.engine.Redeliver(ctx(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if updated.State() != ledger.StateDelivered {
		t.Fatalf("state = %q, want delivered after retry", updated.State())
	}
	if updated.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", updated.Attempts)
	}
}

func TestSendOnceBypassesLedger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, "ws_1", srv.URL, "any.*")

	res, err := f.engine.SendOnce(ctx(), sub.ID, id.NewEventID(), "any.thing", []byte(`{"k":"v"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if res.Signature == "" {
		t.Fatal("one-shot delivery sent no signature")
	}

	n, err := f.ledger.CountPending(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("pending records = %d, want 0 (one-shot sends stay out of the ledger)", n)
	}
}

package dlq_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalworks/herald/delivery"
	"github.com/signalworks/herald/dlq"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/retry"
	"github.com/signalworks/herald/store/memory"
	"github.com/signalworks/herald/subscription"
)

func ctx() context.Context { return context.Background() }

type fixture struct {
	store *memory.Store
	subs  *subscription.Service
	dlq   *dlq.Service
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

	return &fixture{store: st, subs: subs, dlq: dlqSvc}
}

func (f *fixture) subscribe(t *testing.T, url string) *subscription.Subscription {
	t.Helper()

	sub, err := f.subs.Create(ctx(), subscription.Input{
		WorkspaceID: "ws_1",
		URL:         url,
		EventTypes:  []string{"*"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func failedRecord(sub *subscription.Subscription) *ledger.Record {
	now := time.Now().UTC()
	return &ledger.Record{
		Entity:         entity.New(),
		ID:             id.NewRecordID(),
		SubscriptionID: sub.ID,
		EventID:        id.NewEventID(),
		EventType:      "order.created",
		WorkspaceID:    sub.WorkspaceID,
		Payload:        []byte(`{"order":"o_1"}`),
		Attempts:       10,
		LastStatusCode: 503,
		LastError:      "503 from upstream",
		FailedAt:       &now,
	}
}

func TestPushFailedCreatesEntry(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "http://localhost/hook")
	rec := failedRecord(sub)

	if err := f.dlq.PushFailed(ctx(), rec, sub); err != nil {
		t.Fatal(err)
	}

	entries, err := f.dlq.List(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	entry := entries[0]
	if entry.RecordID != rec.ID {
		t.Fatalf("record ID = %s, want %s", entry.RecordID, rec.ID)
	}
	if entry.Attempts != 10 {
		t.Fatalf("attempts = %d, want 10", entry.Attempts)
	}
	if entry.Error != "503 from upstream" {
		t.Fatalf("error = %q", entry.Error)
	}
	if entry.ReplayedAt != nil {
		t.Fatal("fresh entry must not be marked replayed")
	}
}

func TestReplaySuccessMarksReplayed(t *testing.T) {
	var gotBody atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, srv.URL)
	rec := failedRecord(sub)

	if err := f.dlq.PushFailed(ctx(), rec, sub); err != nil {
		t.Fatal(err)
	}

	entries, err := f.dlq.List(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.dlq.Replay(ctx(), entries[0].ID); err != nil {
		t.Fatal(err)
	}
	if gotBody.Load() != 1 {
		t.Fatalf("endpoint hit %d times, want 1", gotBody.Load())
	}

	entry, err := f.dlq.Get(ctx(), entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ReplayedAt == nil {
		t.Fatal("ReplayedAt not stamped after successful replay")
	}
}

func TestReplayRejectedReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t)
	sub := f.subscribe(t, srv.URL)

	if err := f.dlq.PushFailed(ctx(), failedRecord(sub), sub); err != nil {
		t.Fatal(err)
	}

	entries, err := f.dlq.List(ctx(), dlq.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}

	err = f.dlq.Replay(ctx(), entries[0].ID)
	if !errors.Is(err, dlq.ErrReplayFailed) {
		t.Fatalf("err = %v, want dlq.ErrReplayFailed", err)
	}

	entry, err := f.dlq.Get(ctx(), entries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.ReplayedAt != nil {
		t.Fatal("rejected replay must not stamp ReplayedAt")
	}
}

func TestReplayNotFound(t *testing.T) {
	f := newFixture(t)

	err := f.dlq.Replay(ctx(), id.NewDLQID())
	if !errors.Is(err, dlq.ErrNotFound) {
		t.Fatalf("err = %v, want dlq.ErrNotFound", err)
	}
}

func TestReplayBulkSkipsFailures(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()

	brokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer brokenSrv.Close()

	f := newFixture(t)
	goodSub := f.subscribe(t, okSrv.URL)
	badSub := f.subscribe(t, brokenSrv.URL)

	if err := f.dlq.PushFailed(ctx(), failedRecord(goodSub), goodSub); err != nil {
		t.Fatal(err)
	}
	if err := f.dlq.PushFailed(ctx(), failedRecord(badSub), badSub); err != nil {
		t.Fatal(err)
	}

	from := time.Now().UTC().Add(-time.Hour)
	to := time.Now().UTC().Add(time.Hour)

	replayed, err := f.dlq.ReplayBulk(ctx(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	if replayed != 1 {
		t.Fatalf("replayed = %d, want 1", replayed)
	}
}

func TestPurgeRemovesOldEntries(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(t, "http://localhost/hook")

	old := failedRecord(sub)
	if err := f.dlq.PushFailed(ctx(), old, sub); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().UTC().Add(time.Minute)

	removed, err := f.dlq.Purge(ctx(), cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("purged = %d, want 1", removed)
	}

	n, err := f.dlq.Count(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("count = %d, want 0 after purge", n)
	}
}

func TestListFiltersBySubscription(t *testing.T) {
	f := newFixture(t)
	subA := f.subscribe(t, "http://localhost/a")
	subB := f.subscribe(t, "http://localhost/b")

	if err := f.dlq.PushFailed(ctx(), failedRecord(subA), subA); err != nil {
		t.Fatal(err)
	}
	if err := f.dlq.PushFailed(ctx(), failedRecord(subB), subB); err != nil {
		t.Fatal(err)
	}

	entries, err := f.dlq.List(ctx(), dlq.ListOpts{SubscriptionID: &subA.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].SubscriptionID != subA.ID {
		t.Fatalf("entry subscription = %s, want %s", entries[0].SubscriptionID, subA.ID)
	}
}

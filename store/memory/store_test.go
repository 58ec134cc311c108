package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	herald "github.com/signalworks/herald"
	"github.com/signalworks/herald/id"
	"github.com/signalworks/herald/internal/entity"
	"github.com/signalworks/herald/ledger"
	"github.com/signalworks/herald/store/memory"
	"github.com/signalworks/herald/subscription"
)

func ctx() context.Context { return context.Background() }

func pendingRecord(subID, eventID id.ID) *ledger.Record {
	now := time.Now().UTC()
	return &ledger.Record{
		Entity:         entity.New(),
		ID:             id.NewRecordID(),
		SubscriptionID: subID,
		EventID:        eventID,
		EventType:      "test.event",
		WorkspaceID:    "ws_1",
		Payload:        []byte(`{}`),
		NextAttemptAt:  &now,
	}
}

func activeSub(workspaceID string, patterns ...string) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:      entity.New(),
		ID:          id.NewSubscriptionID(),
		WorkspaceID: workspaceID,
		URL:         "https://example.com/hook",
		EventTypes:  patterns,
		Active:      true,
	}
}

func TestInsertRecordRejectsDuplicatePair(t *testing.T) {
	st := memory.New()
	subID, eventID := id.NewSubscriptionID(), id.NewEventID()

	if err := st.InsertRecord(ctx(), pendingRecord(subID, eventID)); err != nil {
		t.Fatal(err)
	}

	err := st.InsertRecord(ctx(), pendingRecord(subID, eventID))
	if !errors.Is(err, ledger.ErrDuplicateRecord) {
		t.Fatalf("err = %v, want ErrDuplicateRecord", err)
	}

	// Same subscription, different event is a different pair.
	if err := st.InsertRecord(ctx(), pendingRecord(subID, id.NewEventID())); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateRecordIfDetectsStaleWrite(t *testing.T) {
	st := memory.New()
	rec := pendingRecord(id.NewSubscriptionID(), id.NewEventID())

	if err := st.InsertRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}

	// Winner: attempts 0 -> 1.
	winner := *rec
	winner.Attempts = 1
	if err := st.UpdateRecordIf(ctx(), &winner, 0); err != nil {
		t.Fatal(err)
	}

	// Loser still expects attempts == 0.
	loser := *rec
	loser.Attempts = 1
	if err := st.UpdateRecordIf(ctx(), &loser, 0); !errors.Is(err, ledger.ErrStaleRecord) {
		t.Fatalf("err = %v, want ErrStaleRecord", err)
	}
}

func TestUpdateRecordIfRejectsTerminalRows(t *testing.T) {
	st := memory.New()
	rec := pendingRecord(id.NewSubscriptionID(), id.NewEventID())

	if err := st.InsertRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	delivered := *rec
	delivered.Attempts = 1
	delivered.DeliveredAt = &now
	delivered.NextAttemptAt = nil
	if err := st.UpdateRecordIf(ctx(), &delivered, 0); err != nil {
		t.Fatal(err)
	}

	// Even with matching attempts, a terminal row never changes again.
	late := delivered
	late.Attempts = 2
	if err := st.UpdateRecordIf(ctx(), &late, 1); !errors.Is(err, ledger.ErrStaleRecord) {
		t.Fatalf("err = %v, want ErrStaleRecord", err)
	}
}

func TestUpdateRecordIfMissingRow(t *testing.T) {
	st := memory.New()
	rec := pendingRecord(id.NewSubscriptionID(), id.NewEventID())

	if err := st.UpdateRecordIf(ctx(), rec, 0); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetRecordReturnsCopy(t *testing.T) {
	st := memory.New()
	rec := pendingRecord(id.NewSubscriptionID(), id.NewEventID())

	if err := st.InsertRecord(ctx(), rec); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetRecord(ctx(), rec.SubscriptionID, rec.EventID)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the returned copy must not leak into the store.
	got.Attempts = 99

	again, err := st.GetRecord(ctx(), rec.SubscriptionID, rec.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Attempts != 0 {
		t.Fatalf("stored attempts = %d, caller mutation leaked", again.Attempts)
	}
}

func TestResolveSubscriptionsGlobAndScope(t *testing.T) {
	st := memory.New()

	matching := activeSub("ws_1", "invoice.*")
	exact := activeSub("ws_1", "invoice.paid")
	wildcard := activeSub("ws_1", "*")
	otherType := activeSub("ws_1", "user.*")
	otherWorkspace := activeSub("ws_2", "invoice.*")
	inactive := activeSub("ws_1", "invoice.*")
	inactive.Active = false

	for _, sub := range []*subscription.Subscription{matching, exact, wildcard, otherType, otherWorkspace, inactive} {
		if err := st.CreateSubscription(ctx(), sub); err != nil {
			t.Fatal(err)
		}
	}

	resolved, err := st.ResolveSubscriptions(ctx(), "ws_1", "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}

	if len(resolved) != 3 {
		t.Fatalf("resolved %d subscriptions, want 3", len(resolved))
	}
	for _, sub := range resolved {
		if sub.ID == otherType.ID || sub.ID == otherWorkspace.ID || sub.ID == inactive.ID {
			t.Fatalf("subscription %s should not have matched", sub.ID)
		}
	}
}

func TestListRecordsBySubscriptionStateFilter(t *testing.T) {
	st := memory.New()
	subID := id.NewSubscriptionID()

	pending := pendingRecord(subID, id.NewEventID())
	if err := st.InsertRecord(ctx(), pending); err != nil {
		t.Fatal(err)
	}

	delivered := pendingRecord(subID, id.NewEventID())
	now := time.Now().UTC()
	delivered.DeliveredAt = &now
	delivered.NextAttemptAt = nil
	delivered.Attempts = 1
	if err := st.InsertRecord(ctx(), delivered); err != nil {
		t.Fatal(err)
	}

	want := ledger.StateDelivered
	records, err := st.ListRecordsBySubscription(ctx(), subID, ledger.ListOpts{State: &want})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].ID != delivered.ID {
		t.Fatalf("record = %s, want %s", records[0].ID, delivered.ID)
	}
}

func TestPingAfterClose(t *testing.T) {
	st := memory.New()

	if err := st.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.Ping(ctx()); !errors.Is(err, herald.ErrStoreClosed) {
		t.Fatalf("err = %v, want ErrStoreClosed", err)
	}
}

package subscription_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/signalworks/herald/secrets"
	"github.com/signalworks/herald/store/memory"
	"github.com/signalworks/herald/subscription"
)

func ctx() context.Context { return context.Background() }

func newService(t *testing.T, cipher secrets.Cipher) *subscription.Service {
	t.Helper()
	return subscription.NewService(memory.New(), cipher, nil)
}

func validInput() subscription.Input {
	return subscription.Input{
		WorkspaceID: "ws_1",
		URL:         "https://example.com/hook",
		EventTypes:  []string{"invoice.*"},
	}
}

func TestCreateGeneratesSecret(t *testing.T) {
	svc := newService(t, nil)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Fatalf("secret = %q, want whsec_ prefix", sub.Secret)
	}
	if !sub.Active {
		t.Fatal("new subscription should start active")
	}
	if sub.ID.IsNil() {
		t.Fatal("subscription got no ID")
	}
}

func TestCreateReturnsPlaintextOnce(t *testing.T) {
	cipher, err := secrets.NewSecretBox([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatal(err)
	}
	svc := newService(t, cipher)

	created, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	// The returned copy carries the plaintext; the stored copy is encrypted.
	loaded, err := svc.Get(ctx(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Secret == created.Secret {
		t.Fatal("stored secret must not equal the plaintext")
	}

	plaintext, err := svc.DecryptSecret(loaded)
	if err != nil {
		t.Fatal(err)
	}
	if plaintext != created.Secret {
		t.Fatal("decrypted secret does not round-trip")
	}
}

func TestCreateValidation(t *testing.T) {
	svc := newService(t, nil)

	tests := []struct {
		name  string
		input subscription.Input
		field string
	}{
		{
			name:  "bad url",
			input: subscription.Input{WorkspaceID: "ws_1", URL: "not a url", EventTypes: []string{"*"}},
			field: "url",
		},
		{
			name:  "missing workspace",
			input: subscription.Input{URL: "https://example.com/hook", EventTypes: []string{"*"}},
			field: "workspace_id",
		},
		{
			name:  "no event types",
			input: subscription.Input{WorkspaceID: "ws_1", URL: "https://example.com/hook"},
			field: "event_types",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx(), tt.input)

			var verr *subscription.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	svc := newService(t, nil)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Update(ctx(), sub.ID, subscription.Input{
		URL:        "https://example.com/v2/hook",
		EventTypes: []string{"invoice.*", "user.*"},
		RateLimit:  5,
	})
	if err != nil {
		t.Fatal(err)
	}

	if updated.URL != "https://example.com/v2/hook" {
		t.Fatalf("url = %q", updated.URL)
	}
	if len(updated.EventTypes) != 2 {
		t.Fatalf("event types = %v", updated.EventTypes)
	}
	if updated.RateLimit != 5 {
		t.Fatalf("rate limit = %d, want 5", updated.RateLimit)
	}
}

func TestUpdateRejectsBadURL(t *testing.T) {
	svc := newService(t, nil)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Update(ctx(), sub.ID, subscription.Input{URL: "::broken::"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRotateSecret(t *testing.T) {
	cipher, err := secrets.NewSecretBox([]byte(strings.Repeat("k", 32)))
	if err != nil {
		t.Fatal(err)
	}
	svc := newService(t, cipher)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.RotateSecret(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}

	if rotated == sub.Secret {
		t.Fatal("rotation returned the old secret")
	}
	if !strings.HasPrefix(rotated, "whsec_") {
		t.Fatalf("rotated secret = %q, want whsec_ prefix", rotated)
	}

	loaded, err := svc.Get(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := svc.DecryptSecret(loaded)
	if err != nil {
		t.Fatal(err)
	}
	if plaintext != rotated {
		t.Fatal("stored secret does not decrypt to the rotated value")
	}
}

func TestSetActiveAndList(t *testing.T) {
	svc := newService(t, nil)

	a, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx(), validInput()); err != nil {
		t.Fatal(err)
	}

	if err := svc.SetActive(ctx(), a.ID, false); err != nil {
		t.Fatal(err)
	}

	active := true
	subs, err := svc.List(ctx(), "ws_1", subscription.ListOpts{Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d active subscriptions, want 1", len(subs))
	}
	if subs[0].ID == a.ID {
		t.Fatal("deactivated subscription still listed as active")
	}
}

func TestDelete(t *testing.T) {
	svc := newService(t, nil)

	sub, err := svc.Create(ctx(), validInput())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx(), sub.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Get(ctx(), sub.ID); !errors.Is(err, subscription.ErrNotFound) {
		t.Fatalf("err = %v, want subscription.ErrNotFound", err)
	}
}

func TestMatches(t *testing.T) {
	sub := &subscription.Subscription{EventTypes: []string{"invoice.*", "user.created"}}

	tests := []struct {
		eventType string
		want      bool
	}{
		{"invoice.paid", true},
		{"invoice.created", true},
		{"user.created", true},
		{"user.deleted", false},
		{"order.created", false},
	}

	for _, tt := range tests {
		if got := sub.Matches(tt.eventType); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.eventType, got, tt.want)
		}
	}
}

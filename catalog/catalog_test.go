package catalog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalworks/herald/catalog"
	"github.com/signalworks/herald/store/memory"
)

func ctx() context.Context { return context.Background() }

func newCatalog() *catalog.Catalog {
	s := memory.New()
	return catalog.NewCatalog(s, catalog.Config{CacheTTL: 30 * time.Second}, nil)
}

func TestCatalogRegisterAndGet(t *testing.T) {
	c := newCatalog()

	et, err := c.RegisterType(ctx(), catalog.Definition{
		Name:        "invoice.created",
		Description: "Invoice created",
		Group:       "invoice",
	})
	if err != nil {
		t.Fatal(err)
	}
	if et.ID.String() == "" {
		t.Fatal("expected non-empty ID")
	}

	got, err := c.GetType(ctx(), "invoice.created")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Name != "invoice.created" {
		t.Fatalf("got %q", got.Definition.Name)
	}
}

func TestCatalogCacheHit(t *testing.T) {
	c := newCatalog()

	_, err := c.RegisterType(ctx(), catalog.Definition{Name: "a.event"})
	if err != nil {
		t.Fatal(err)
	}

	// First call populates cache.
	got1, _ := c.GetType(ctx(), "a.event")
	// Second call should return same pointer (cache hit).
	got2, _ := c.GetType(ctx(), "a.event")

	if got1 != got2 {
		t.Fatal("expected cache hit (same pointer)")
	}
}

func TestCatalogCacheTTLExpiry(t *testing.T) {
	s := memory.New()
	c := catalog.NewCatalog(s, catalog.Config{CacheTTL: 1 * time.Millisecond}, nil)

	_, err := c.RegisterType(ctx(), catalog.Definition{Name: "b.event"})
	if err != nil {
		t.Fatal(err)
	}

	// Wait for cache to expire.
	time.Sleep(5 * time.Millisecond)

	// Should still find it (re-read from store).
	_, err = c.GetType(ctx(), "b.event")
	if err != nil {
		t.Fatal("expected to re-read from store after TTL, got:", err)
	}
}

func TestCatalogGetNotFound(t *testing.T) {
	c := newCatalog()

	_, err := c.GetType(ctx(), "does.not.exist")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogUpsert(t *testing.T) {
	c := newCatalog()

	_, err := c.RegisterType(ctx(), catalog.Definition{
		Name:        "invoice.created",
		Description: "v1",
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.RegisterType(ctx(), catalog.Definition{
		Name:        "invoice.created",
		Description: "v2",
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := c.GetType(ctx(), "invoice.created")
	if got.Definition.Description != "v2" {
		t.Fatalf("expected v2, got %q", got.Definition.Description)
	}
}

func TestCatalogDeprecate(t *testing.T) {
	c := newCatalog()

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "x.event"})

	if err := c.DeprecateType(ctx(), "x.event"); err != nil {
		t.Fatal(err)
	}

	// The type remains readable but carries the deprecation flag.
	got, err := c.GetType(ctx(), "x.event")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsDeprecated {
		t.Fatal("expected IsDeprecated after DeprecateType")
	}
	if got.DeprecatedAt == nil {
		t.Fatal("expected DeprecatedAt to be set")
	}
}

func TestCatalogDeprecateNotFound(t *testing.T) {
	c := newCatalog()

	if err := c.DeprecateType(ctx(), "missing.event"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogListTypes(t *testing.T) {
	c := newCatalog()

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "invoice.created", Group: "invoice"})
	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "invoice.paid", Group: "invoice"})
	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "user.created", Group: "user"})

	all, err := c.ListTypes(ctx(), catalog.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 types, got %d", len(all))
	}

	invoices, err := c.ListTypes(ctx(), catalog.ListOpts{Group: "invoice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 2 {
		t.Fatalf("expected 2 invoice types, got %d", len(invoices))
	}
}

func TestCatalogInvalidateCache(t *testing.T) {
	c := newCatalog()

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "cached.event"})

	// Get to populate cache.
	_, _ = c.GetType(ctx(), "cached.event")

	// Invalidate.
	c.InvalidateCache()

	// Should still work (re-reads from store).
	_, err := c.GetType(ctx(), "cached.event")
	if err != nil {
		t.Fatal(err)
	}
}

func TestCatalogWarmCache(t *testing.T) {
	s := memory.New()
	c := catalog.NewCatalog(s, catalog.Config{CacheTTL: time.Minute}, nil)

	_, _ = c.RegisterType(ctx(), catalog.Definition{Name: "warm.event"})

	if err := c.WarmCache(ctx()); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetType(ctx(), "warm.event")
	if err != nil {
		t.Fatal(err)
	}
	if got.Definition.Name != "warm.event" {
		t.Fatalf("got %q", got.Definition.Name)
	}
}

func TestCatalogRegisterWithMetadata(t *testing.T) {
	c := newCatalog()

	et, err := c.RegisterType(ctx(), catalog.Definition{Name: "meta.event"},
		catalog.WithMetadata(map[string]string{"key": "value"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	if et.Metadata["key"] != "value" {
		t.Fatal("expected metadata")
	}
}

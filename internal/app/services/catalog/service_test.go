package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/app/storage/memory"
	"github.com/lockshop/storefront/internal/cache"
)

func newTestService(t *testing.T) (*Service, *memory.Store, *cache.Cache) {
	t.Helper()
	store := memory.New()
	c := cache.New(cache.Config{}, nil)
	return New(store, c, nil), store, c
}

func TestProductLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetProduct(ctx, "dirt"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.UpsertProduct(ctx, inventory.Product{Code: "dirt", Name: "Dirt", Price: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Lookup is case-insensitive.
	got, err := svc.GetProduct(ctx, "DIRT")
	if err != nil || got.Name != "Dirt" || got.Price != 5 {
		t.Fatalf("get: %+v %v", got, err)
	}

	// Price change must not serve a stale cached copy.
	if _, err := svc.UpsertProduct(ctx, inventory.Product{Code: "dirt", Name: "Dirt", Price: 8}); err != nil {
		t.Fatalf("reprice: %v", err)
	}
	got, err = svc.GetProduct(ctx, "dirt")
	if err != nil || got.Price != 8 {
		t.Fatalf("expected fresh price 8, got %+v %v", got, err)
	}

	all, err := svc.GetAllProducts(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list: %v %v", all, err)
	}
}

func TestUpsertProductValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UpsertProduct(ctx, inventory.Product{Code: "", Name: "x"}); err == nil {
		t.Fatalf("expected error for empty code")
	}
	if _, err := svc.UpsertProduct(ctx, inventory.Product{Code: "dirt", Price: -1}); err == nil {
		t.Fatalf("expected error for negative price")
	}

	// A missing display name falls back to the code.
	p, err := svc.UpsertProduct(ctx, inventory.Product{Code: "dirt", Price: 1})
	if err != nil || p.Name != "dirt" {
		t.Fatalf("name fallback: %+v %v", p, err)
	}
}

func TestRestockRefreshesStockCount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UpsertProduct(ctx, inventory.Product{Code: "dirt", Name: "Dirt", Price: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	count, err := svc.GetStockCount(ctx, "dirt")
	if err != nil || count != 0 {
		t.Fatalf("empty stock: %d %v", count, err)
	}

	if _, err := svc.Restock(ctx, "dirt", []string{"lot-1", "lot-2"}); err != nil {
		t.Fatalf("restock: %v", err)
	}
	// The cached zero was invalidated by the restock.
	count, err = svc.GetStockCount(ctx, "dirt")
	if err != nil || count != 2 {
		t.Fatalf("restocked count: %d %v", count, err)
	}

	if _, err := svc.Restock(ctx, "dirt", nil); err == nil {
		t.Fatalf("expected error for empty restock")
	}
	if _, err := svc.Restock(ctx, "nosuch", []string{"x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStockHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.UpsertProduct(ctx, inventory.Product{Code: "dirt", Name: "Dirt", Price: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := svc.Restock(ctx, "dirt", []string{"lot-1", "lot-2", "lot-3"}); err != nil {
		t.Fatalf("restock: %v", err)
	}

	items, err := svc.GetStockHistory(ctx, "dirt", 2)
	if err != nil || len(items) != 2 {
		t.Fatalf("history: %d %v", len(items), err)
	}
}

func TestWorldInfo(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetWorldInfo(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before set, got %v", err)
	}
	if _, err := svc.SetWorldInfo(ctx, inventory.WorldInfo{World: ""}); err == nil {
		t.Fatalf("expected error for empty world name")
	}

	if _, err := svc.SetWorldInfo(ctx, inventory.WorldInfo{World: "BUYSHOP", Owner: "Alice", Bot: "ShopBot", Status: "open"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	info, err := svc.GetWorldInfo(ctx)
	if err != nil || info.World != "BUYSHOP" || info.Owner != "Alice" {
		t.Fatalf("get: %+v %v", info, err)
	}
}

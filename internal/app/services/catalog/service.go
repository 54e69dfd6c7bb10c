package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/cache"
	"github.com/lockshop/storefront/pkg/logger"
)

// Service serves the product catalog, stock counts and world info through the
// read-through cache. Reads here are advisory: the purchase engine re-verifies
// everything inside its lock before committing.
type Service struct {
	store storage.Ledger
	cache *cache.Cache
	log   *logger.Logger
}

// New constructs a catalog service.
func New(store storage.Ledger, c *cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	return &Service{
		store: store,
		cache: c,
		log:   log,
	}
}

func productKey(code string) string { return "product:" + strings.ToLower(code) }
func stockKey(code string) string   { return "stock:" + strings.ToLower(code) }

// GetProduct returns a catalog entry. Product codes are case-insensitive.
func (s *Service) GetProduct(ctx context.Context, code string) (inventory.Product, error) {
	v, err := s.cache.ReadThrough(ctx, productKey(code), "product", func(ctx context.Context) (interface{}, error) {
		return s.store.GetProduct(ctx, code)
	})
	if err != nil {
		return inventory.Product{}, err
	}
	return v.(inventory.Product), nil
}

// GetStockCount returns how many items are available for a product.
func (s *Service) GetStockCount(ctx context.Context, code string) (int, error) {
	v, err := s.cache.ReadThrough(ctx, stockKey(code), "stock", func(ctx context.Context) (interface{}, error) {
		return s.store.CountAvailable(ctx, code)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// GetAllProducts lists the catalog ordered by code.
func (s *Service) GetAllProducts(ctx context.Context) ([]inventory.Product, error) {
	v, err := s.cache.ReadThrough(ctx, "products:all", "product", func(ctx context.Context) (interface{}, error) {
		return s.store.ListProducts(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]inventory.Product), nil
}

// UpsertProduct creates or updates a catalog entry and drops its cached
// copies.
func (s *Service) UpsertProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	if p.Code == "" {
		return inventory.Product{}, fmt.Errorf("product code is required")
	}
	if p.Name == "" {
		p.Name = p.Code
	}
	if p.Price < 0 {
		return inventory.Product{}, fmt.Errorf("price must not be negative")
	}

	saved, err := s.store.UpsertProduct(ctx, p)
	if err != nil {
		return inventory.Product{}, err
	}

	s.cache.Invalidate(productKey(saved.Code))
	s.cache.Invalidate("products:all")

	s.log.WithField("code", saved.Code).Info("product upserted")
	return saved, nil
}

// Restock appends fulfillment items for a product and drops the stale stock
// count.
func (s *Service) Restock(ctx context.Context, code string, contents []string) ([]inventory.Item, error) {
	if len(contents) == 0 {
		return nil, fmt.Errorf("nothing to restock")
	}

	added, err := s.store.AddItems(ctx, code, contents)
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(stockKey(code))

	s.log.WithField("code", code).
		WithField("count", len(added)).
		Info("inventory restocked")
	return added, nil
}

// GetStockHistory lists a product's recently touched items, newest first.
func (s *Service) GetStockHistory(ctx context.Context, code string, limit int) ([]inventory.Item, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.store.StockHistory(ctx, code, limit)
}

// GetWorldInfo returns the advertised trading world, cache first.
func (s *Service) GetWorldInfo(ctx context.Context) (inventory.WorldInfo, error) {
	v, err := s.cache.ReadThrough(ctx, "world:info", "world", func(ctx context.Context) (interface{}, error) {
		return s.store.GetWorldInfo(ctx)
	})
	if err != nil {
		return inventory.WorldInfo{}, err
	}
	return v.(inventory.WorldInfo), nil
}

// SetWorldInfo updates the advertised trading world.
func (s *Service) SetWorldInfo(ctx context.Context, info inventory.WorldInfo) (inventory.WorldInfo, error) {
	if strings.TrimSpace(info.World) == "" {
		return inventory.WorldInfo{}, fmt.Errorf("world name is required")
	}
	saved, err := s.store.SetWorldInfo(ctx, info)
	if err != nil {
		return inventory.WorldInfo{}, err
	}
	s.cache.Invalidate("world:info")
	return saved, nil
}

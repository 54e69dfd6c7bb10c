// Package display keeps the public storefront listing fresh. On a cron
// schedule it assembles a stock snapshot from the catalog and hands it to a
// Publisher (the chat-platform glue in production, a logger by default).
package display

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/app/system"
	"github.com/lockshop/storefront/pkg/logger"
)

// Catalog is the read surface the refresher needs.
type Catalog interface {
	GetAllProducts(ctx context.Context) ([]inventory.Product, error)
	GetStockCount(ctx context.Context, code string) (int, error)
	GetWorldInfo(ctx context.Context) (inventory.WorldInfo, error)
}

// ProductStock pairs a product with its live availability.
type ProductStock struct {
	Product   inventory.Product
	Available int
}

// Snapshot is one refresh of the storefront listing.
type Snapshot struct {
	Products    []ProductStock
	World       inventory.WorldInfo
	GeneratedAt time.Time
}

// Publisher receives assembled snapshots.
type Publisher interface {
	PublishStock(ctx context.Context, snap Snapshot) error
}

// LogPublisher writes snapshots to the service log. It is the default sink
// when no chat-platform publisher is wired in.
type LogPublisher struct {
	Log *logger.Logger
}

func (p LogPublisher) PublishStock(_ context.Context, snap Snapshot) error {
	log := p.Log
	if log == nil {
		log = logger.NewDefault("display")
	}
	log.WithField("products", len(snap.Products)).
		WithField("world", snap.World.World).
		Info("stock snapshot refreshed")
	return nil
}

// Service refreshes the storefront listing on a schedule.
type Service struct {
	catalog Catalog
	pub     Publisher
	spec    string
	log     *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

var _ system.Service = (*Service)(nil)

// New constructs a display refresher. Spec is a cron expression; empty means
// every 55 seconds, just under the shortest stock cache TTL.
func New(cat Catalog, pub Publisher, spec string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("display")
	}
	if pub == nil {
		pub = LogPublisher{Log: log}
	}
	if spec == "" {
		spec = "@every 55s"
	}
	return &Service{
		catalog: cat,
		pub:     pub,
		spec:    spec,
		log:     log,
	}
}

func (s *Service) Name() string { return "display" }

// Start publishes one snapshot immediately, then keeps refreshing on the
// schedule until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.Refresh(context.Background()) }); err != nil {
		return err
	}

	s.Refresh(ctx)
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedule", s.spec).Info("display refresher started")
	return nil
}

// Stop halts the schedule and waits for an in-flight refresh to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh assembles and publishes one snapshot. Failures are logged, not
// fatal: the next tick tries again.
func (s *Service) Refresh(ctx context.Context) {
	snap, err := s.buildSnapshot(ctx)
	if err != nil {
		s.log.WithError(err).Warn("stock snapshot build failed")
		return
	}
	if err := s.pub.PublishStock(ctx, snap); err != nil {
		s.log.WithError(err).Warn("stock snapshot publish failed")
	}
}

func (s *Service) buildSnapshot(ctx context.Context) (Snapshot, error) {
	products, err := s.catalog.GetAllProducts(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Products:    make([]ProductStock, 0, len(products)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, p := range products {
		count, err := s.catalog.GetStockCount(ctx, p.Code)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Products = append(snap.Products, ProductStock{Product: p, Available: count})
	}

	// World info is optional; a storefront without one still lists stock.
	// Anything other than "not configured" is a store failure worth surfacing.
	world, err := s.catalog.GetWorldInfo(ctx)
	switch {
	case err == nil:
		snap.World = world
	case !errors.Is(err, storage.ErrNotFound):
		s.log.WithError(err).Warn("world info lookup failed")
	}
	return snap, nil
}

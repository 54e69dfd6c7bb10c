package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lockshop/storefront/internal/app/services/balance"
	"github.com/lockshop/storefront/internal/app/services/catalog"
	"github.com/lockshop/storefront/internal/app/services/display"
	"github.com/lockshop/storefront/internal/app/services/purchase"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/app/storage/memory"
	"github.com/lockshop/storefront/internal/app/system"
	"github.com/lockshop/storefront/internal/cache"
	"github.com/lockshop/storefront/internal/keymutex"
	"github.com/lockshop/storefront/pkg/logger"
)

// Options configures the application. The zero value runs a single-instance
// storefront on the in-memory store with default cache policy.
type Options struct {
	// Store is the durable ledger. Nil defaults to the in-memory store.
	Store storage.Ledger
	// Cache sizes the in-process cache; zero fields use defaults.
	Cache cache.Config
	// Fanout, when set, broadcasts cache invalidations to sibling
	// instances. A fanout that also implements system.Service joins the
	// managed lifecycle.
	Fanout cache.Fanout
	// LockTimeout bounds per-key lock acquisition.
	LockTimeout time.Duration
	// MaxPurchaseQty caps items per purchase.
	MaxPurchaseQty int
	// HistoryLimit is the default transaction history page size.
	HistoryLimit int
	// DisplayRefreshSpec is the cron schedule for stock snapshots.
	DisplayRefreshSpec string
	// Publisher receives stock snapshots; nil logs them.
	Publisher display.Publisher
}

// Application ties the storefront services together and manages their
// lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Cache    *cache.Cache
	Locks    *keymutex.Registry
	Balance  *balance.Service
	Catalog  *catalog.Service
	Purchase *purchase.Service
	Display  *display.Service
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	store := opts.Store
	if store == nil {
		store = memory.New()
	}

	c := cache.New(opts.Cache, log.WithField("component", "cache"))
	if opts.Fanout != nil {
		c.WithFanout(opts.Fanout)
		if attacher, ok := opts.Fanout.(interface{ Attach(*cache.Cache) }); ok {
			attacher.Attach(c)
		}
	}

	locks := keymutex.NewRegistry(opts.LockTimeout)

	balanceService := balance.New(store, c, locks, log.WithField("component", "balance")).
		WithHistoryLimit(opts.HistoryLimit)
	catalogService := catalog.New(store, c, log.WithField("component", "catalog"))
	purchaseService := purchase.New(store, catalogService, c, locks, log.WithField("component", "purchase"))
	if opts.MaxPurchaseQty > 0 {
		purchaseService.WithMaxQuantity(opts.MaxPurchaseQty)
	}
	displayService := display.New(catalogService, opts.Publisher, opts.DisplayRefreshSpec, log.WithField("component", "display"))

	manager := system.NewManager()

	for _, name := range []string{"balance", "catalog", "purchase"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if svc, ok := opts.Fanout.(system.Service); ok {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	if err := manager.Register(displayService); err != nil {
		return nil, fmt.Errorf("register display: %w", err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Cache:    c,
		Locks:    locks,
		Balance:  balanceService,
		Catalog:  catalogService,
		Purchase: purchaseService,
		Display:  displayService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

package purchase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lockshop/storefront/internal/app/domain/account"
	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/services/balance"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/cache"
	"github.com/lockshop/storefront/internal/keymutex"
	"github.com/lockshop/storefront/pkg/logger"
)

var (
	// ErrInsufficientStock reports fewer available items than requested.
	ErrInsufficientStock = errors.New("purchase: insufficient stock")
	// ErrInvalidQuantity reports a quantity below one or above the
	// configured ceiling.
	ErrInvalidQuantity = errors.New("purchase: invalid quantity")
)

// Catalog is the read side the engine consults before taking locks. The
// catalog service satisfies it.
type Catalog interface {
	GetProduct(ctx context.Context, code string) (inventory.Product, error)
	GetStockCount(ctx context.Context, code string) (int, error)
}

// Result is a committed purchase: the delivered item contents, the balance
// after debit and the product that was sold.
type Result struct {
	Product    inventory.Product
	Quantity   int
	TotalPrice int64
	Contents   []string
	NewBalance account.Balance
}

// Service is the order-processing engine. A purchase validates stock and
// funds, reserves inventory FIFO, debits the balance and appends an audit
// record as one atomic unit serialized per (handle, product).
type Service struct {
	store   storage.Ledger
	catalog Catalog
	cache   *cache.Cache
	locks   *keymutex.Registry
	maxQty  int
	log     *logger.Logger
}

// New constructs a purchase engine.
func New(store storage.Ledger, cat Catalog, c *cache.Cache, locks *keymutex.Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("purchase")
	}
	return &Service{
		store:   store,
		catalog: cat,
		cache:   c,
		locks:   locks,
		maxQty:  100,
		log:     log,
	}
}

// WithMaxQuantity overrides the per-purchase quantity ceiling.
func (s *Service) WithMaxQuantity(n int) *Service {
	if n > 0 {
		s.maxQty = n
	}
	return s
}

// ProcessPurchase executes a purchase for quantity units of a product.
//
// Preconditions run in order against cached reads and are side-effect free;
// they exist to fail cheap and early. The authoritative checks are repeated
// inside the lock against the store, so a stale cache can never oversell:
// when two buyers race for the last unit, whoever takes the lock first wins
// and the loser fails with ErrInsufficientStock and no partial effect.
func (s *Service) ProcessPurchase(ctx context.Context, handle, productCode string, quantity int) (Result, error) {
	if quantity < 1 || quantity > s.maxQty {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	product, err := s.catalog.GetProduct(ctx, productCode)
	if err != nil {
		return Result{}, err
	}
	totalPrice := product.Price * int64(quantity)

	stock, err := s.catalog.GetStockCount(ctx, productCode)
	if err != nil {
		return Result{}, err
	}
	if stock < quantity {
		return Result{}, fmt.Errorf("%w: %s has %d of %d requested", ErrInsufficientStock, product.Code, stock, quantity)
	}

	bal, err := s.store.ReadBalance(ctx, handle)
	if err != nil {
		return Result{}, err
	}
	if bal.TotalWL() < totalPrice {
		return Result{}, fmt.Errorf("%w: need %d WL", balance.ErrInsufficientFunds, totalPrice)
	}

	// Purchases for the same (handle, product) serialize on one key; the
	// nested balance lock keeps the debit exclusive against direct balance
	// updates. Lock order is fixed so the pair cannot deadlock.
	release, err := s.locks.Acquire(ctx, "purchase:"+handle+":"+strings.ToLower(product.Code))
	if err != nil {
		return Result{}, err
	}
	defer release()

	balRelease, err := s.locks.Acquire(ctx, "balance:"+handle)
	if err != nil {
		return Result{}, err
	}
	defer balRelease()

	var result Result
	err = s.store.RunInTransaction(ctx, func(view storage.Ledger) error {
		items, err := view.SelectAvailableItems(ctx, product.Code, quantity)
		if err != nil {
			return err
		}
		if len(items) < quantity {
			return fmt.Errorf("%w: %s has %d of %d requested", ErrInsufficientStock, product.Code, len(items), quantity)
		}

		current, err := view.ReadBalance(ctx, handle)
		if err != nil {
			return err
		}
		next, ok := current.Debit(totalPrice)
		if !ok {
			return fmt.Errorf("%w: need %d WL, have %d WL", balance.ErrInsufficientFunds, totalPrice, current.TotalWL())
		}

		ids := make([]string, len(items))
		contents := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
			contents[i] = it.Content
		}

		if err := view.MarkItemsSold(ctx, ids, handle); err != nil {
			return err
		}
		if err := view.WriteBalance(ctx, handle, next.WL, next.DL, next.BGL); err != nil {
			return err
		}
		if _, err := view.AppendTransaction(ctx, ledger.Transaction{
			Handle:     handle,
			Type:       ledger.TypePurchase,
			Details:    fmt.Sprintf("Purchased %d %s", quantity, product.Code),
			OldBalance: current.Format(),
			NewBalance: next.Format(),
			ItemCount:  quantity,
			TotalPrice: totalPrice,
		}); err != nil {
			return err
		}

		result = Result{
			Product:    product,
			Quantity:   quantity,
			TotalPrice: totalPrice,
			Contents:   contents,
			NewBalance: next,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.cache.Invalidate("balance:" + handle)
	s.cache.Invalidate("stock:" + strings.ToLower(product.Code))
	s.cache.Set("balance:"+handle, result.NewBalance, "balance")

	s.log.WithField("handle", handle).
		WithField("product", product.Code).
		WithField("quantity", quantity).
		WithField("total_price", totalPrice).
		Info("purchase committed")
	return result, nil
}

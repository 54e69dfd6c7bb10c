package storage

import (
	"context"
	"errors"

	"github.com/lockshop/storefront/internal/app/domain/account"
	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound reports a missing account, handle, product or item.
	ErrNotFound = errors.New("storage: not found")
	// ErrHandleConflict reports a registration against a handle that already
	// belongs to a different owner under different casing.
	ErrHandleConflict = errors.New("storage: handle conflict")
)

// AccountStore persists identity bindings and balances.
type AccountStore interface {
	// ResolveHandle returns the handle bound to an identity key, or
	// ErrNotFound.
	ResolveHandle(ctx context.Context, identityKey string) (string, error)
	// RegisterIdentity binds identityKey to handle, creating the handle's
	// balance row if needed. Re-registering the same pair is idempotent;
	// binding to a handle that exists under different casing returns
	// ErrHandleConflict.
	RegisterIdentity(ctx context.Context, identityKey, handle string) (account.Account, error)
	// ReadBalance returns the balance for a handle, or ErrNotFound.
	ReadBalance(ctx context.Context, handle string) (account.Balance, error)
	// WriteBalance overwrites the balance unconditionally. Only the atomic
	// update sequences in the service layer may call it.
	WriteBalance(ctx context.Context, handle string, wl, dl, bgl int64) error
}

// InventoryStore persists the product catalog and fulfillment inventory.
type InventoryStore interface {
	GetProduct(ctx context.Context, code string) (inventory.Product, error)
	ListProducts(ctx context.Context) ([]inventory.Product, error)
	UpsertProduct(ctx context.Context, p inventory.Product) (inventory.Product, error)
	// CountAvailable counts AVAILABLE items for a product.
	CountAvailable(ctx context.Context, code string) (int, error)
	// SelectAvailableItems returns up to n AVAILABLE items oldest-first.
	// Callers must check the returned length.
	SelectAvailableItems(ctx context.Context, code string, n int) ([]inventory.Item, error)
	// MarkItemsSold flips the items to SOLD and attributes them to buyer.
	MarkItemsSold(ctx context.Context, ids []string, buyer string) error
	// AddItems appends fresh AVAILABLE items for a product (restock).
	AddItems(ctx context.Context, code string, contents []string) ([]inventory.Item, error)
	// StockHistory lists recently updated items for a product, newest first.
	StockHistory(ctx context.Context, code string, limit int) ([]inventory.Item, error)
	GetWorldInfo(ctx context.Context) (inventory.WorldInfo, error)
	SetWorldInfo(ctx context.Context, info inventory.WorldInfo) (inventory.WorldInfo, error)
}

// TransactionStore persists the append-only audit trail.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	// ListTransactions returns a handle's transactions newest-first.
	ListTransactions(ctx context.Context, handle string, limit int) ([]ledger.Transaction, error)
}

// Ledger is the full durable store. RunInTransaction scopes one logical
// operation: every write made through the view is rolled back if fn returns
// an error. Views must not be retained after fn returns, and nesting
// transactions is not supported.
type Ledger interface {
	AccountStore
	InventoryStore
	TransactionStore
	RunInTransaction(ctx context.Context, fn func(view Ledger) error) error
}

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lockshop/storefront/internal/app/domain/account"
	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
//
// Operations outside a transaction hold the gate shared; RunInTransaction
// holds it exclusively for its whole snapshot/restore window. A rollback can
// therefore never erase a commit made by a concurrent caller — it undoes only
// the failing transaction's own writes.
type Store struct {
	gate         sync.RWMutex
	mu           sync.RWMutex
	identities   map[string]account.Account   // identity key -> binding
	balances     map[string]account.Balance   // handle -> balance
	products     map[string]inventory.Product // lowercase code -> product
	items        []inventory.Item             // insertion order, oldest first
	transactions []ledger.Transaction         // insertion order, oldest first
	world        inventory.WorldInfo
	worldSet     bool
}

var _ storage.Ledger = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		identities: make(map[string]account.Account),
		balances:   make(map[string]account.Balance),
		products:   make(map[string]inventory.Product),
	}
}

// AccountStore implementation -------------------------------------------------

func (s *Store) ResolveHandle(_ context.Context, identityKey string) (string, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.resolveHandle(identityKey)
}

func (s *Store) RegisterIdentity(_ context.Context, identityKey, handle string) (account.Account, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.registerIdentity(identityKey, handle)
}

func (s *Store) ReadBalance(_ context.Context, handle string) (account.Balance, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.readBalance(handle)
}

func (s *Store) WriteBalance(_ context.Context, handle string, wl, dl, bgl int64) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.writeBalance(handle, wl, dl, bgl)
}

func (s *Store) resolveHandle(identityKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.identities[identityKey]
	if !ok {
		return "", storage.ErrNotFound
	}
	return acct.Handle, nil
}

func (s *Store) registerIdentity(identityKey, handle string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for existing := range s.balances {
		if strings.EqualFold(existing, handle) && existing != handle {
			return account.Account{}, storage.ErrHandleConflict
		}
	}

	now := time.Now().UTC()
	if _, ok := s.balances[handle]; !ok {
		s.balances[handle] = account.Balance{UpdatedAt: now}
	}

	acct, ok := s.identities[identityKey]
	if !ok {
		acct = account.Account{IdentityKey: identityKey, CreatedAt: now}
	}
	acct.Handle = handle
	acct.UpdatedAt = now
	s.identities[identityKey] = acct
	return acct, nil
}

func (s *Store) readBalance(handle string) (account.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal, ok := s.balances[handle]
	if !ok {
		return account.Balance{}, storage.ErrNotFound
	}
	return bal, nil
}

func (s *Store) writeBalance(handle string, wl, dl, bgl int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.balances[handle]; !ok {
		return storage.ErrNotFound
	}
	s.balances[handle] = account.Balance{WL: wl, DL: dl, BGL: bgl, UpdatedAt: time.Now().UTC()}
	return nil
}

// InventoryStore implementation -----------------------------------------------

func (s *Store) GetProduct(_ context.Context, code string) (inventory.Product, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.getProduct(code)
}

func (s *Store) ListProducts(_ context.Context) ([]inventory.Product, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.listProducts()
}

func (s *Store) UpsertProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.upsertProduct(p)
}

func (s *Store) CountAvailable(_ context.Context, code string) (int, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.countAvailable(code)
}

func (s *Store) SelectAvailableItems(_ context.Context, code string, n int) ([]inventory.Item, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.selectAvailableItems(code, n)
}

func (s *Store) MarkItemsSold(_ context.Context, ids []string, buyer string) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.markItemsSold(ids, buyer)
}

func (s *Store) AddItems(_ context.Context, code string, contents []string) ([]inventory.Item, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.addItems(code, contents)
}

func (s *Store) StockHistory(_ context.Context, code string, limit int) ([]inventory.Item, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.stockHistory(code, limit)
}

func (s *Store) GetWorldInfo(_ context.Context) (inventory.WorldInfo, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.getWorldInfo()
}

func (s *Store) SetWorldInfo(_ context.Context, info inventory.WorldInfo) (inventory.WorldInfo, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.setWorldInfo(info)
}

func (s *Store) getProduct(code string) (inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[strings.ToLower(code)]
	if !ok {
		return inventory.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) listProducts() ([]inventory.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]inventory.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) upsertProduct(p inventory.Product) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := strings.ToLower(p.Code)
	if existing, ok := s.products[key]; ok {
		p.Code = existing.Code
		p.CreatedAt = existing.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[key] = p
	return p, nil
}

func (s *Store) countAvailable(code string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, it := range s.items {
		if strings.EqualFold(it.ProductCode, code) && it.Status == inventory.StatusAvailable {
			count++
		}
	}
	return count, nil
}

func (s *Store) selectAvailableItems(code string, n int) ([]inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]inventory.Item, 0, n)
	for _, it := range s.items {
		if len(out) == n {
			break
		}
		if strings.EqualFold(it.ProductCode, code) && it.Status == inventory.StatusAvailable {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *Store) markItemsSold(ids []string, buyer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, id := range ids {
		idx := -1
		for i := range s.items {
			if s.items[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 || s.items[idx].Status != inventory.StatusAvailable {
			return storage.ErrNotFound
		}
		s.items[idx].Status = inventory.StatusSold
		s.items[idx].BuyerHandle = buyer
		s.items[idx].UpdatedAt = now
	}
	return nil
}

func (s *Store) addItems(code string, contents []string) ([]inventory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[strings.ToLower(code)]
	if !ok {
		return nil, storage.ErrNotFound
	}

	now := time.Now().UTC()
	added := make([]inventory.Item, 0, len(contents))
	for _, content := range contents {
		it := inventory.Item{
			ID:          uuid.NewString(),
			ProductCode: p.Code,
			Content:     content,
			Status:      inventory.StatusAvailable,
			AddedAt:     now,
			UpdatedAt:   now,
		}
		s.items = append(s.items, it)
		added = append(added, it)
	}
	return added, nil
}

func (s *Store) stockHistory(code string, limit int) ([]inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]inventory.Item, 0, limit)
	for _, it := range s.items {
		if strings.EqualFold(it.ProductCode, code) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) getWorldInfo() (inventory.WorldInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.worldSet {
		return inventory.WorldInfo{}, storage.ErrNotFound
	}
	return s.world, nil
}

func (s *Store) setWorldInfo(info inventory.WorldInfo) (inventory.WorldInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info.UpdatedAt = time.Now().UTC()
	s.world = info
	s.worldSet = true
	return info, nil
}

// TransactionStore implementation ---------------------------------------------

func (s *Store) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.appendTransaction(tx)
}

func (s *Store) ListTransactions(_ context.Context, handle string, limit int) ([]ledger.Transaction, error) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.listTransactions(handle, limit)
}

func (s *Store) appendTransaction(tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) listTransactions(handle string, limit int) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ledger.Transaction, 0, limit)
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if s.transactions[i].Handle == handle {
			out = append(out, s.transactions[i])
		}
	}
	return out, nil
}

// RunInTransaction serializes logical transactions and rolls the whole store
// back to its pre-transaction snapshot if fn fails. Holding the gate
// exclusively keeps every other writer out of the snapshot/restore window, so
// only the failing transaction's own writes are undone. The postgres backend
// maps this onto real transactions.
func (s *Store) RunInTransaction(_ context.Context, fn func(view storage.Ledger) error) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	snap := s.snapshot()
	if err := fn(&txView{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// txView gives a transaction callback gate-free access to the store the
// transaction already holds exclusively.
type txView struct {
	s *Store
}

var _ storage.Ledger = (*txView)(nil)

func (v *txView) ResolveHandle(_ context.Context, identityKey string) (string, error) {
	return v.s.resolveHandle(identityKey)
}

func (v *txView) RegisterIdentity(_ context.Context, identityKey, handle string) (account.Account, error) {
	return v.s.registerIdentity(identityKey, handle)
}

func (v *txView) ReadBalance(_ context.Context, handle string) (account.Balance, error) {
	return v.s.readBalance(handle)
}

func (v *txView) WriteBalance(_ context.Context, handle string, wl, dl, bgl int64) error {
	return v.s.writeBalance(handle, wl, dl, bgl)
}

func (v *txView) GetProduct(_ context.Context, code string) (inventory.Product, error) {
	return v.s.getProduct(code)
}

func (v *txView) ListProducts(_ context.Context) ([]inventory.Product, error) {
	return v.s.listProducts()
}

func (v *txView) UpsertProduct(_ context.Context, p inventory.Product) (inventory.Product, error) {
	return v.s.upsertProduct(p)
}

func (v *txView) CountAvailable(_ context.Context, code string) (int, error) {
	return v.s.countAvailable(code)
}

func (v *txView) SelectAvailableItems(_ context.Context, code string, n int) ([]inventory.Item, error) {
	return v.s.selectAvailableItems(code, n)
}

func (v *txView) MarkItemsSold(_ context.Context, ids []string, buyer string) error {
	return v.s.markItemsSold(ids, buyer)
}

func (v *txView) AddItems(_ context.Context, code string, contents []string) ([]inventory.Item, error) {
	return v.s.addItems(code, contents)
}

func (v *txView) StockHistory(_ context.Context, code string, limit int) ([]inventory.Item, error) {
	return v.s.stockHistory(code, limit)
}

func (v *txView) GetWorldInfo(_ context.Context) (inventory.WorldInfo, error) {
	return v.s.getWorldInfo()
}

func (v *txView) SetWorldInfo(_ context.Context, info inventory.WorldInfo) (inventory.WorldInfo, error) {
	return v.s.setWorldInfo(info)
}

func (v *txView) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	return v.s.appendTransaction(tx)
}

func (v *txView) ListTransactions(_ context.Context, handle string, limit int) ([]ledger.Transaction, error) {
	return v.s.listTransactions(handle, limit)
}

// RunInTransaction on a view joins the transaction already in progress.
func (v *txView) RunInTransaction(_ context.Context, fn func(view storage.Ledger) error) error {
	return fn(v)
}

type snapshot struct {
	identities   map[string]account.Account
	balances     map[string]account.Balance
	products     map[string]inventory.Product
	items        []inventory.Item
	transactions []ledger.Transaction
	world        inventory.WorldInfo
	worldSet     bool
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		identities:   make(map[string]account.Account, len(s.identities)),
		balances:     make(map[string]account.Balance, len(s.balances)),
		products:     make(map[string]inventory.Product, len(s.products)),
		items:        append([]inventory.Item(nil), s.items...),
		transactions: append([]ledger.Transaction(nil), s.transactions...),
		world:        s.world,
		worldSet:     s.worldSet,
	}
	for k, v := range s.identities {
		snap.identities[k] = v
	}
	for k, v := range s.balances {
		snap.balances[k] = v
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities = snap.identities
	s.balances = snap.balances
	s.products = snap.products
	s.items = snap.items
	s.transactions = snap.transactions
	s.world = snap.world
	s.worldSet = snap.worldSet
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/storage"
)

func TestRegisterAndResolve(t *testing.T) {
	s := New()
	ctx := context.Background()

	acct, err := s.RegisterIdentity(ctx, "discord:1", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Handle != "Alice" {
		t.Fatalf("unexpected handle %q", acct.Handle)
	}

	handle, err := s.ResolveHandle(ctx, "discord:1")
	if err != nil || handle != "Alice" {
		t.Fatalf("resolve: %q %v", handle, err)
	}

	// Same pair again is idempotent.
	if _, err := s.RegisterIdentity(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("re-register same pair: %v", err)
	}

	// Same text, different case, is a conflict.
	if _, err := s.RegisterIdentity(ctx, "discord:2", "alice"); !errors.Is(err, storage.ErrHandleConflict) {
		t.Fatalf("expected ErrHandleConflict, got %v", err)
	}

	if _, err := s.ResolveHandle(ctx, "discord:99"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.ReadBalance(ctx, "Alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before registration, got %v", err)
	}

	if _, err := s.RegisterIdentity(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	bal, err := s.ReadBalance(ctx, "Alice")
	if err != nil || bal.TotalWL() != 0 {
		t.Fatalf("fresh balance: %+v %v", bal, err)
	}

	if err := s.WriteBalance(ctx, "Alice", 100, 2, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	bal, err = s.ReadBalance(ctx, "Alice")
	if err != nil || bal.WL != 100 || bal.DL != 2 {
		t.Fatalf("read back: %+v %v", bal, err)
	}

	if err := s.WriteBalance(ctx, "ghost", 1, 0, 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown handle, got %v", err)
	}
}

func TestInventoryFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.UpsertProduct(ctx, inventory.Product{Code: "dirt", Name: "Dirt", Price: 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	for _, content := range []string{"lot-1", "lot-2", "lot-3"} {
		if _, err := s.AddItems(ctx, "dirt", []string{content}); err != nil {
			t.Fatalf("add %s: %v", content, err)
		}
	}

	count, err := s.CountAvailable(ctx, "DIRT") // codes are case-insensitive
	if err != nil || count != 3 {
		t.Fatalf("count: %d %v", count, err)
	}

	items, err := s.SelectAvailableItems(ctx, "dirt", 2)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(items) != 2 || items[0].Content != "lot-1" || items[1].Content != "lot-2" {
		t.Fatalf("expected oldest-first selection, got %+v", items)
	}

	if err := s.MarkItemsSold(ctx, []string{items[0].ID, items[1].ID}, "Alice"); err != nil {
		t.Fatalf("mark sold: %v", err)
	}

	remaining, err := s.SelectAvailableItems(ctx, "dirt", 10)
	if err != nil || len(remaining) != 1 || remaining[0].Content != "lot-3" {
		t.Fatalf("expected only lot-3 available, got %+v %v", remaining, err)
	}

	// A sold item cannot be sold twice.
	if err := s.MarkItemsSold(ctx, []string{items[0].ID}, "Bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound reselling sold item, got %v", err)
	}
}

func TestTransactionsNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, details := range []string{"first", "second", "third"} {
		if _, err := s.AppendTransaction(ctx, ledger.Transaction{Handle: "Alice", Type: ledger.TypeDeposit, Details: details}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.AppendTransaction(ctx, ledger.Transaction{Handle: "Bob", Type: ledger.TypeDeposit}); err != nil {
		t.Fatalf("append bob: %v", err)
	}

	txs, err := s.ListTransactions(ctx, "Alice", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 || txs[0].Details != "third" || txs[1].Details != "second" {
		t.Fatalf("expected newest-first page, got %+v", txs)
	}
}

func TestRunInTransactionRollsBack(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.RegisterIdentity(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.WriteBalance(ctx, "Alice", 100, 0, 0); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	failure := errors.New("late failure")
	err := s.RunInTransaction(ctx, func(view storage.Ledger) error {
		if err := view.WriteBalance(ctx, "Alice", 0, 0, 0); err != nil {
			return err
		}
		if _, err := view.AppendTransaction(ctx, ledger.Transaction{Handle: "Alice", Type: ledger.TypeWithdrawal}); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}

	bal, err := s.ReadBalance(ctx, "Alice")
	if err != nil || bal.WL != 100 {
		t.Fatalf("write not rolled back: %+v %v", bal, err)
	}
	txs, _ := s.ListTransactions(ctx, "Alice", 10)
	if len(txs) != 0 {
		t.Fatalf("append not rolled back: %+v", txs)
	}
}

func TestRollbackSparesConcurrentWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.RegisterIdentity(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	inTx := make(chan struct{})
	registered := make(chan error, 1)
	go func() {
		<-inTx
		_, err := s.RegisterIdentity(ctx, "discord:2", "Bob")
		registered <- err
	}()

	failure := errors.New("stock gone")
	err := s.RunInTransaction(ctx, func(view storage.Ledger) error {
		close(inTx)
		// Let the concurrent registration reach the store while this
		// transaction's rollback window is open.
		time.Sleep(10 * time.Millisecond)
		if err := view.WriteBalance(ctx, "Alice", 100, 0, 0); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}
	if err := <-registered; err != nil {
		t.Fatalf("concurrent register: %v", err)
	}

	// The rollback undid the transaction's own write...
	bal, err := s.ReadBalance(ctx, "Alice")
	if err != nil || bal.WL != 0 {
		t.Fatalf("transaction write not rolled back: %+v %v", bal, err)
	}
	// ...but not the unrelated registration committed alongside it.
	handle, err := s.ResolveHandle(ctx, "discord:2")
	if err != nil || handle != "Bob" {
		t.Fatalf("concurrent registration lost to rollback: %q %v", handle, err)
	}
}

package balance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/app/storage/memory"
	"github.com/lockshop/storefront/internal/cache"
	"github.com/lockshop/storefront/internal/keymutex"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, cache.New(cache.Config{}, nil), keymutex.NewRegistry(5*time.Second), nil)
	return svc, store
}

func TestRegisterAndGetHandle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	acct, err := svc.Register(ctx, "discord:1", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if acct.Handle != "Alice" {
		t.Fatalf("unexpected handle %q", acct.Handle)
	}

	handle, err := svc.GetHandle(ctx, "discord:1")
	if err != nil || handle != "Alice" {
		t.Fatalf("get handle: %q %v", handle, err)
	}

	// Registration is idempotent for the same pair.
	if _, err := svc.Register(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	// A different-case duplicate is a conflict, not an overwrite.
	if _, err := svc.Register(ctx, "discord:2", "ALICE"); !errors.Is(err, storage.ErrHandleConflict) {
		t.Fatalf("expected ErrHandleConflict, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "Alice"); err == nil {
		t.Fatalf("expected error for empty identity key")
	}
	if _, err := svc.Register(ctx, "discord:1", ""); err == nil {
		t.Fatalf("expected error for empty handle")
	}
	if _, err := svc.Register(ctx, "discord:1", "has spaces"); err == nil {
		t.Fatalf("expected error for invalid handle")
	}
}

// The deposit-then-withdraw sequence must leave exact snapshots behind:
// "0 WL" -> "100 WL" for the deposit, "100 WL" -> "70 WL" for the withdrawal.
func TestUpdateBalanceRecordsSnapshots(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	bal, err := svc.UpdateBalance(ctx, "Alice", 100, 0, 0, ledger.TypeDeposit, "deposit")
	if err != nil || bal.WL != 100 {
		t.Fatalf("deposit: %+v %v", bal, err)
	}

	bal, err = svc.UpdateBalance(ctx, "Alice", -30, 0, 0, ledger.TypeWithdrawal, "withdrawal")
	if err != nil || bal.WL != 70 {
		t.Fatalf("withdraw: %+v %v", bal, err)
	}

	txs, err := svc.GetTransactionHistory(ctx, "Alice", 10)
	if err != nil || len(txs) != 2 {
		t.Fatalf("history: %d %v", len(txs), err)
	}
	// Newest first.
	if txs[0].OldBalance != "100 WL" || txs[0].NewBalance != "70 WL" {
		t.Fatalf("withdrawal snapshots: %q -> %q", txs[0].OldBalance, txs[0].NewBalance)
	}
	if txs[1].OldBalance != "0 WL" || txs[1].NewBalance != "100 WL" {
		t.Fatalf("deposit snapshots: %q -> %q", txs[1].OldBalance, txs[1].NewBalance)
	}
}

func TestUpdateBalanceRejectsOverdraw(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.UpdateBalance(ctx, "Alice", 30, 0, 0, ledger.TypeDeposit, ""); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := svc.UpdateBalance(ctx, "Alice", -50, 0, 0, ledger.TypeWithdrawal, ""); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// The rejected update left no trace: balance intact, no audit row.
	bal, err := svc.GetBalance(ctx, "Alice")
	if err != nil || bal.WL != 30 {
		t.Fatalf("balance after rejection: %+v %v", bal, err)
	}
	txs, _ := svc.GetTransactionHistory(ctx, "Alice", 10)
	if len(txs) != 1 {
		t.Fatalf("expected only the deposit in history, got %d rows", len(txs))
	}
}

func TestUpdateBalanceUnknownHandle(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.UpdateBalance(context.Background(), "ghost", 10, 0, 0, ledger.TypeDeposit, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Concurrent deposits must all land: the per-handle lock serializes the
// read-modify-write so no update is lost.
func TestConcurrentUpdatesConserveTotal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}

	const workers = 16
	const deposits = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < deposits; i++ {
				if _, err := svc.UpdateBalance(ctx, "Alice", 1, 0, 0, ledger.TypeDeposit, ""); err != nil {
					t.Errorf("deposit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	bal, err := svc.GetBalance(ctx, "Alice")
	if err != nil || bal.WL != workers*deposits {
		t.Fatalf("expected %d WL, got %+v %v", workers*deposits, bal, err)
	}
}

func TestGetBalanceUsesCache(t *testing.T) {
	store := memory.New()
	c := cache.New(cache.Config{}, nil)
	svc := New(store, c, keymutex.NewRegistry(time.Second), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "discord:1", "Alice"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.GetBalance(ctx, "Alice"); err != nil {
		t.Fatalf("first read: %v", err)
	}

	// A write behind the service's back is invisible while cached; the
	// cache is best-effort and mutating paths never trust it.
	if err := store.WriteBalance(ctx, "Alice", 999, 0, 0); err != nil {
		t.Fatalf("backdoor write: %v", err)
	}
	bal, err := svc.GetBalance(ctx, "Alice")
	if err != nil || bal.WL != 0 {
		t.Fatalf("expected cached 0 WL, got %+v %v", bal, err)
	}

	c.Invalidate("balance:Alice")
	bal, err = svc.GetBalance(ctx, "Alice")
	if err != nil || bal.WL != 999 {
		t.Fatalf("expected fresh read after invalidation, got %+v %v", bal, err)
	}
}

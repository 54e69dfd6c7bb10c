package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/storage"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock")), mock
}

func TestReadBalanceNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT handle, wl, dl, bgl, updated_at FROM shop_balances").
		WithArgs("Alice").
		WillReturnRows(sqlmock.NewRows([]string{"handle", "wl", "dl", "bgl", "updated_at"}))

	_, err := store.ReadBalance(context.Background(), "Alice")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteBalanceMissingHandle(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE shop_balances SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.WriteBalance(context.Background(), "ghost", 1, 0, 0)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterIdentityHandleConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT handle FROM shop_balances WHERE lower").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"handle"}).AddRow("Alice"))

	_, err := store.RegisterIdentity(context.Background(), "discord:1", "alice")
	if !errors.Is(err, storage.ErrHandleConflict) {
		t.Fatalf("expected ErrHandleConflict, got %v", err)
	}
}

func TestRegisterIdentityLostCaseRace(t *testing.T) {
	store, mock := newMockStore(t)
	// Pre-check sees no case variant, but a concurrent registration lands
	// first and the insert trips the case-insensitive unique index.
	mock.ExpectQuery("SELECT handle FROM shop_balances WHERE lower").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"handle"}))
	mock.ExpectExec("INSERT INTO shop_balances").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "shop_balances_handle_ci"})

	_, err := store.RegisterIdentity(context.Background(), "discord:1", "alice")
	if !errors.Is(err, storage.ErrHandleConflict) {
		t.Fatalf("expected ErrHandleConflict, got %v", err)
	}
}

func TestMarkItemsSoldPartialUpdate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE shop_items").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkItemsSold(context.Background(), []string{"a", "b"}, "Alice")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on partial update, got %v", err)
	}
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE shop_balances SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	failure := errors.New("debit refused")
	err := store.RunInTransaction(context.Background(), func(view storage.Ledger) error {
		if err := view.WriteBalance(context.Background(), "Alice", 70, 0, 0); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("expected wrapped failure, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	if _, err := store.UpsertProduct(ctx, inventory.Product{Code: "dirt", Name: "Dirt", Price: 1}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	if _, err := store.AddItems(ctx, "dirt", []string{"dirt-lot-1"}); err != nil {
		t.Fatalf("add items: %v", err)
	}
	count, err := store.CountAvailable(ctx, "dirt")
	if err != nil {
		t.Fatalf("count available: %v", err)
	}
	if count < 1 {
		t.Fatalf("expected at least one available item, got %d", count)
	}
}

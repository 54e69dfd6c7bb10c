package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/lockshop/storefront/internal/app/domain/account"
	"github.com/lockshop/storefront/internal/app/domain/inventory"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/storage"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx so every method works
// inside and outside a transaction.
type queryer interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
	q  queryer
	tx *sqlx.Tx
}

var _ storage.Ledger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, q: db}
}

type accountRow struct {
	IdentityKey string    `db:"identity_key"`
	Handle      string    `db:"handle"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type balanceRow struct {
	Handle    string    `db:"handle"`
	WL        int64     `db:"wl"`
	DL        int64     `db:"dl"`
	BGL       int64     `db:"bgl"`
	UpdatedAt time.Time `db:"updated_at"`
}

type productRow struct {
	Code      string    `db:"code"`
	Name      string    `db:"name"`
	Price     int64     `db:"price"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type itemRow struct {
	ID          string         `db:"id"`
	ProductCode string         `db:"product_code"`
	Content     string         `db:"content"`
	Status      string         `db:"status"`
	BuyerHandle sql.NullString `db:"buyer_handle"`
	AddedAt     time.Time      `db:"added_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

type worldRow struct {
	World     string    `db:"world"`
	Owner     string    `db:"owner"`
	Bot       string    `db:"bot"`
	Status    string    `db:"status"`
	UpdatedAt time.Time `db:"updated_at"`
}

type transactionRow struct {
	ID         string    `db:"id"`
	Handle     string    `db:"handle"`
	Type       string    `db:"type"`
	Details    string    `db:"details"`
	OldBalance string    `db:"old_balance"`
	NewBalance string    `db:"new_balance"`
	ItemCount  int       `db:"item_count"`
	TotalPrice int64     `db:"total_price"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r itemRow) toDomain() inventory.Item {
	return inventory.Item{
		ID:          r.ID,
		ProductCode: r.ProductCode,
		Content:     r.Content,
		Status:      inventory.ItemStatus(r.Status),
		BuyerHandle: r.BuyerHandle.String,
		AddedAt:     r.AddedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) ResolveHandle(ctx context.Context, identityKey string) (string, error) {
	var handle string
	err := sqlx.GetContext(ctx, s.q, &handle, `
		SELECT handle FROM shop_accounts WHERE identity_key = $1
	`, identityKey)
	if err != nil {
		return "", mapNotFound(err)
	}
	return handle, nil
}

func (s *Store) RegisterIdentity(ctx context.Context, identityKey, handle string) (account.Account, error) {
	var existing string
	err := sqlx.GetContext(ctx, s.q, &existing, `
		SELECT handle FROM shop_balances WHERE lower(handle) = lower($1)
	`, handle)
	switch {
	case err == nil && existing != handle:
		return account.Account{}, storage.ErrHandleConflict
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return account.Account{}, err
	}

	now := time.Now().UTC()
	if _, err := s.q.ExecContext(ctx, `
		INSERT INTO shop_balances (handle, wl, dl, bgl, updated_at)
		VALUES ($1, 0, 0, 0, $2)
		ON CONFLICT (handle) DO NOTHING
	`, handle, now); err != nil {
		// ON CONFLICT (handle) covers the exact-case row; a unique violation
		// here means a case-variant registration won the race past the
		// pre-check and tripped shop_balances_handle_ci.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return account.Account{}, storage.ErrHandleConflict
		}
		return account.Account{}, err
	}

	var row accountRow
	err = sqlx.GetContext(ctx, s.q, &row, `
		INSERT INTO shop_accounts (identity_key, handle, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (identity_key)
		DO UPDATE SET handle = EXCLUDED.handle, updated_at = EXCLUDED.updated_at
		RETURNING identity_key, handle, created_at, updated_at
	`, identityKey, handle, now)
	if err != nil {
		return account.Account{}, err
	}
	return account.Account(row), nil
}

func (s *Store) ReadBalance(ctx context.Context, handle string) (account.Balance, error) {
	var row balanceRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT handle, wl, dl, bgl, updated_at FROM shop_balances WHERE handle = $1
	`, handle)
	if err != nil {
		return account.Balance{}, mapNotFound(err)
	}
	return account.Balance{WL: row.WL, DL: row.DL, BGL: row.BGL, UpdatedAt: row.UpdatedAt}, nil
}

func (s *Store) WriteBalance(ctx context.Context, handle string, wl, dl, bgl int64) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE shop_balances SET wl = $2, dl = $3, bgl = $4, updated_at = $5
		WHERE handle = $1
	`, handle, wl, dl, bgl, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- InventoryStore ---------------------------------------------------------

func (s *Store) GetProduct(ctx context.Context, code string) (inventory.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT code, name, price, created_at, updated_at
		FROM shop_products WHERE lower(code) = lower($1)
	`, code)
	if err != nil {
		return inventory.Product{}, mapNotFound(err)
	}
	return inventory.Product(row), nil
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	var rows []productRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT code, name, price, created_at, updated_at
		FROM shop_products ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Product, 0, len(rows))
	for _, row := range rows {
		out = append(out, inventory.Product(row))
	}
	return out, nil
}

func (s *Store) UpsertProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	now := time.Now().UTC()
	var row productRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		INSERT INTO shop_products (code, name, price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (code)
		DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, updated_at = EXCLUDED.updated_at
		RETURNING code, name, price, created_at, updated_at
	`, p.Code, p.Name, p.Price, now)
	if err != nil {
		return inventory.Product{}, err
	}
	return inventory.Product(row), nil
}

func (s *Store) CountAvailable(ctx context.Context, code string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, s.q, &count, `
		SELECT COUNT(*) FROM shop_items
		WHERE lower(product_code) = lower($1) AND status = 'AVAILABLE'
	`, code)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SelectAvailableItems returns the oldest available items first. Inside a
// transaction the FOR UPDATE clause row-locks the selection so two concurrent
// purchases cannot pick the same items.
func (s *Store) SelectAvailableItems(ctx context.Context, code string, n int) ([]inventory.Item, error) {
	var rows []itemRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, product_code, content, status, buyer_handle, added_at, updated_at
		FROM shop_items
		WHERE lower(product_code) = lower($1) AND status = 'AVAILABLE'
		ORDER BY added_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, code, n)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) MarkItemsSold(ctx context.Context, ids []string, buyer string) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE shop_items
		SET status = 'SOLD', buyer_handle = $1, updated_at = $2
		WHERE id = ANY($3) AND status = 'AVAILABLE'
	`, buyer, time.Now().UTC(), pq.Array(ids))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows != int64(len(ids)) {
		return fmt.Errorf("mark items sold: %d of %d updated: %w", rows, len(ids), storage.ErrNotFound)
	}
	return nil
}

func (s *Store) AddItems(ctx context.Context, code string, contents []string) ([]inventory.Item, error) {
	p, err := s.GetProduct(ctx, code)
	if err != nil {
		return nil, err
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
		if _, err := s.q.ExecContext(ctx, `
			INSERT INTO shop_items (id, product_code, content, status, added_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
		`, it.ID, it.ProductCode, it.Content, string(it.Status), now); err != nil {
			return nil, err
		}
		added = append(added, it)
	}
	return added, nil
}

func (s *Store) StockHistory(ctx context.Context, code string, limit int) ([]inventory.Item, error) {
	var rows []itemRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, product_code, content, status, buyer_handle, added_at, updated_at
		FROM shop_items
		WHERE lower(product_code) = lower($1)
		ORDER BY updated_at DESC, id
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, err
	}
	out := make([]inventory.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (s *Store) GetWorldInfo(ctx context.Context) (inventory.WorldInfo, error) {
	var row worldRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT world, owner, bot, status, updated_at FROM shop_world_info WHERE id = 1
	`)
	if err != nil {
		return inventory.WorldInfo{}, mapNotFound(err)
	}
	return inventory.WorldInfo(row), nil
}

func (s *Store) SetWorldInfo(ctx context.Context, info inventory.WorldInfo) (inventory.WorldInfo, error) {
	info.UpdatedAt = time.Now().UTC()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO shop_world_info (id, world, owner, bot, status, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id)
		DO UPDATE SET world = EXCLUDED.world, owner = EXCLUDED.owner,
			bot = EXCLUDED.bot, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, info.World, info.Owner, info.Bot, info.Status, info.UpdatedAt)
	if err != nil {
		return inventory.WorldInfo{}, err
	}
	return info, nil
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO shop_transactions
			(id, handle, type, details, old_balance, new_balance, item_count, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, tx.ID, tx.Handle, tx.Type, tx.Details, tx.OldBalance, tx.NewBalance, tx.ItemCount, tx.TotalPrice, tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, handle string, limit int) ([]ledger.Transaction, error) {
	var rows []transactionRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, handle, type, details, old_balance, new_balance, item_count, total_price, created_at
		FROM shop_transactions
		WHERE handle = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, handle, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, ledger.Transaction(row))
	}
	return out, nil
}

// RunInTransaction runs fn against a transaction-bound view. Calls made on
// the view reuse one database transaction; any error rolls it back.
func (s *Store) RunInTransaction(ctx context.Context, fn func(view storage.Ledger) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	view := &Store{db: s.db, q: tx, tx: tx}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

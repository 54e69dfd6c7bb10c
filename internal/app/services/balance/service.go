package balance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lockshop/storefront/internal/app/domain/account"
	"github.com/lockshop/storefront/internal/app/domain/ledger"
	"github.com/lockshop/storefront/internal/app/storage"
	"github.com/lockshop/storefront/internal/cache"
	"github.com/lockshop/storefront/internal/keymutex"
	"github.com/lockshop/storefront/internal/retry"
	"github.com/lockshop/storefront/pkg/logger"
)

// ErrInsufficientFunds reports a requested decrease larger than the current
// value of a denomination. The check uses the raw requested decrease, never
// the clamped result.
var ErrInsufficientFunds = errors.New("balance: insufficient funds")

// ErrInvalidInput reports a malformed registration or update request.
var ErrInvalidInput = errors.New("invalid input")

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,18}$`)

// Service exposes atomic balance queries and updates over the ledger store,
// serialized per handle through the lock registry.
type Service struct {
	store        storage.Ledger
	cache        *cache.Cache
	locks        *keymutex.Registry
	retry        retry.Config
	historyLimit int
	log          *logger.Logger
}

// New constructs a balance service.
func New(store storage.Ledger, c *cache.Cache, locks *keymutex.Registry, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("balance")
	}
	return &Service{
		store:        store,
		cache:        c,
		locks:        locks,
		retry:        retry.DefaultConfig,
		historyLimit: 50,
		log:          log,
	}
}

// WithHistoryLimit overrides the default transaction history page size.
func (s *Service) WithHistoryLimit(limit int) *Service {
	if limit > 0 {
		s.historyLimit = limit
	}
	return s
}

// GetHandle resolves an identity key to its bound handle, cache first.
func (s *Service) GetHandle(ctx context.Context, identityKey string) (string, error) {
	v, err := s.cache.ReadThrough(ctx, "identity:"+identityKey, "identity", func(ctx context.Context) (interface{}, error) {
		return s.store.ResolveHandle(ctx, identityKey)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Register binds an identity key to a handle. Re-registering the same pair is
// idempotent; a handle held by someone else under different casing fails with
// storage.ErrHandleConflict. Registration never moves balances: relinking an
// identity to a new handle leaves the old handle's funds where they are.
func (s *Service) Register(ctx context.Context, identityKey, handle string) (account.Account, error) {
	identityKey = strings.TrimSpace(identityKey)
	handle = strings.TrimSpace(handle)
	if identityKey == "" {
		return account.Account{}, fmt.Errorf("%w: identity key is required", ErrInvalidInput)
	}
	if !handlePattern.MatchString(handle) {
		return account.Account{}, fmt.Errorf("%w: handle must be 1-18 letters, digits or underscores", ErrInvalidInput)
	}

	release, err := s.locks.Acquire(ctx, "register:"+identityKey)
	if err != nil {
		return account.Account{}, err
	}
	defer release()

	acct, err := s.store.RegisterIdentity(ctx, identityKey, handle)
	if err != nil {
		return account.Account{}, err
	}

	s.cache.Set("identity:"+identityKey, acct.Handle, "identity")
	s.cache.Invalidate("balance:" + acct.Handle)

	s.log.WithField("handle", acct.Handle).Info("identity registered")
	return acct, nil
}

// GetBalance returns a handle's balance, cache first.
func (s *Service) GetBalance(ctx context.Context, handle string) (account.Balance, error) {
	v, err := s.cache.ReadThrough(ctx, "balance:"+handle, "balance", func(ctx context.Context) (interface{}, error) {
		return s.store.ReadBalance(ctx, handle)
	})
	if err != nil {
		return account.Balance{}, err
	}
	return v.(account.Balance), nil
}

// UpdateBalance applies denomination deltas atomically under the handle's
// lock. The balance read, write and audit append run in one store
// transaction, retried as a unit on transient failure; business rejections
// are never retried. On success the cache holds the fresh balance.
func (s *Service) UpdateBalance(ctx context.Context, handle string, wl, dl, bgl int64, kind, details string) (account.Balance, error) {
	if handle == "" {
		return account.Balance{}, fmt.Errorf("%w: handle is required", ErrInvalidInput)
	}
	if kind == "" {
		kind = ledger.TypeAdminAdjust
	}

	release, err := s.locks.Acquire(ctx, "balance:"+handle)
	if err != nil {
		return account.Balance{}, err
	}
	defer release()

	var updated account.Balance
	err = retry.Do(ctx, s.retry, func(ctx context.Context) error {
		txErr := s.store.RunInTransaction(ctx, func(view storage.Ledger) error {
			current, err := view.ReadBalance(ctx, handle)
			if err != nil {
				return err
			}

			if (wl < 0 && -wl > current.WL) ||
				(dl < 0 && -dl > current.DL) ||
				(bgl < 0 && -bgl > current.BGL) {
				return ErrInsufficientFunds
			}

			next := current.Add(wl, dl, bgl)
			if err := view.WriteBalance(ctx, handle, next.WL, next.DL, next.BGL); err != nil {
				return err
			}

			if _, err := view.AppendTransaction(ctx, ledger.Transaction{
				Handle:     handle,
				Type:       kind,
				Details:    details,
				OldBalance: current.Format(),
				NewBalance: next.Format(),
			}); err != nil {
				return err
			}

			updated = next
			return nil
		})
		if errors.Is(txErr, ErrInsufficientFunds) || errors.Is(txErr, storage.ErrNotFound) {
			return retry.Permanent(txErr)
		}
		return txErr
	})
	if err != nil {
		return account.Balance{}, err
	}

	s.cache.Set("balance:"+handle, updated, "balance")

	s.log.WithField("handle", handle).
		WithField("kind", kind).
		WithField("new_balance", updated.Format()).
		Info("balance updated")
	return updated, nil
}

// GetTransactionHistory lists a handle's transactions newest-first. A
// non-positive limit falls back to the service default.
func (s *Service) GetTransactionHistory(ctx context.Context, handle string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.store.ListTransactions(ctx, handle, limit)
}

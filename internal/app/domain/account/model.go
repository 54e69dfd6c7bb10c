package account

import (
	"fmt"
	"strings"
	"time"
)

// Account binds an opaque chat-platform identity key to a human-chosen
// handle. One identity maps to at most one handle; a handle has one canonical
// owner. Handle comparison is exact-case everywhere.
type Account struct {
	IdentityKey string
	Handle      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Balance holds the three currency denominations owned by a handle. World
// locks are the base unit: 1 DL = 100 WL and 1 BGL = 100 DL.
type Balance struct {
	WL        int64
	DL        int64
	BGL       int64
	UpdatedAt time.Time
}

// Add returns the balance after applying deltas, clamping each denomination
// at zero. Validation of over-draws happens in the service layer before the
// clamp is ever relied upon.
func (b Balance) Add(wl, dl, bgl int64) Balance {
	next := Balance{
		WL:  b.WL + wl,
		DL:  b.DL + dl,
		BGL: b.BGL + bgl,
	}
	if next.WL < 0 {
		next.WL = 0
	}
	if next.DL < 0 {
		next.DL = 0
	}
	if next.BGL < 0 {
		next.BGL = 0
	}
	return next
}

// Debit removes amount world locks. When the WL pocket covers the amount the
// other denominations are untouched; otherwise larger locks are broken and
// the remainder is renormalized (100 WL to the DL, 100 DL to the BGL). The
// second return is false when the whole balance cannot cover the amount.
func (b Balance) Debit(amount int64) (Balance, bool) {
	if amount < 0 || b.TotalWL() < amount {
		return b, false
	}
	if b.WL >= amount {
		b.WL -= amount
		return b, true
	}
	total := b.TotalWL() - amount
	return Balance{
		WL:  total % 100,
		DL:  (total / 100) % 100,
		BGL: total / 10000,
	}, true
}

// TotalWL converts the whole balance into world locks.
func (b Balance) TotalWL() int64 {
	return b.WL + b.DL*100 + b.BGL*10000
}

// Format renders the balance for transaction snapshots: non-zero
// denominations joined by commas, or "0 WL" for an empty balance.
func (b Balance) Format() string {
	parts := make([]string, 0, 3)
	if b.WL != 0 {
		parts = append(parts, fmt.Sprintf("%d WL", b.WL))
	}
	if b.DL != 0 {
		parts = append(parts, fmt.Sprintf("%d DL", b.DL))
	}
	if b.BGL != 0 {
		parts = append(parts, fmt.Sprintf("%d BGL", b.BGL))
	}
	if len(parts) == 0 {
		return "0 WL"
	}
	return strings.Join(parts, ", ")
}

package ledger

import "time"

// Transaction types recorded in the audit trail.
const (
	TypePurchase    = "PURCHASE"
	TypeDeposit     = "DEPOSIT"
	TypeWithdrawal  = "WITHDRAWAL"
	TypeAdminAdjust = "ADMIN_ADJUST"
)

// Transaction is an immutable audit row. Old and new balances are formatted
// snapshots taken at commit time; the row is never updated after insert.
type Transaction struct {
	ID         string
	Handle     string
	Type       string
	Details    string
	OldBalance string
	NewBalance string
	ItemCount  int
	TotalPrice int64
	CreatedAt  time.Time
}

package inventory

import "time"

// ItemStatus tracks an inventory item's lifecycle. An item is sold exactly
// once and never returns to the pool.
type ItemStatus string

const (
	StatusAvailable ItemStatus = "AVAILABLE"
	StatusSold      ItemStatus = "SOLD"
)

// Product is a catalog entry users can purchase. Price is in world locks.
type Product struct {
	Code      string
	Name      string
	Price     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one sellable unit of a product. Content is the opaque fulfillment
// payload delivered to the buyer.
type Item struct {
	ID          string
	ProductCode string
	Content     string
	Status      ItemStatus
	BuyerHandle string
	AddedAt     time.Time
	UpdatedAt   time.Time
}

// WorldInfo describes the trading world advertised by the storefront.
type WorldInfo struct {
	World     string
	Owner     string
	Bot       string
	Status    string
	UpdatedAt time.Time
}

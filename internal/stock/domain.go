package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementPurchase adds received raw material.
	MovementPurchase MovementKind = "PURCHASE"
	// MovementUse subtracts material consumed by production or sale.
	MovementUse MovementKind = "USE"
	// MovementPurchaseReturn subtracts stock sent back to a supplier.
	MovementPurchaseReturn MovementKind = "PURCHASE_RETURN"
	// MovementSaleReturn adds stock a customer sent back.
	MovementSaleReturn MovementKind = "SALE_RETURN"
)

// Item models a tracked stock item. QuantityOnHand is never negative.
type Item struct {
	ID             int64
	Name           string
	CategoryID     int64
	BrandID        int64
	UnitID         int64
	QuantityOnHand decimal.Decimal
	UnitCost       decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Movement is the audit trail row written for every quantity change.
type Movement struct {
	ID           int64
	ItemID       int64
	Kind         MovementKind
	Quantity     decimal.Decimal
	BalanceAfter decimal.Decimal
	RefModule    string
	RefID        string
	Note         string
	PostedAt     time.Time
}

// MovementFilter filters trail queries.
type MovementFilter struct {
	ItemID int64
	From   time.Time
	To     time.Time
	Limit  int
}

var (
	// ErrInsufficientStock is returned when a movement would make the
	// on-hand quantity negative. The quantity is left unchanged.
	ErrInsufficientStock = errors.New("stock: insufficient quantity on hand")
	// ErrNonPositiveQuantity indicates a zero or negative movement quantity.
	ErrNonPositiveQuantity = errors.New("stock: quantity must be positive")
	// ErrItemNotFound indicates an unknown stock item.
	ErrItemNotFound = errors.New("stock: item not found")
	// ErrUnknownMovement indicates an unsupported movement kind.
	ErrUnknownMovement = errors.New("stock: unknown movement kind")
)

// NextQuantity returns the on-hand quantity after applying a movement, or an
// error when the movement is invalid. Comparison is exact decimal; there is
// no epsilon.
func NextQuantity(current decimal.Decimal, kind MovementKind, qty decimal.Decimal) (decimal.Decimal, error) {
	if qty.Sign() <= 0 {
		return decimal.Zero, ErrNonPositiveQuantity
	}
	switch kind {
	case MovementPurchase, MovementSaleReturn:
		return current.Add(qty), nil
	case MovementUse, MovementPurchaseReturn:
		if qty.GreaterThan(current) {
			return decimal.Zero, ErrInsufficientStock
		}
		return current.Sub(qty), nil
	default:
		return decimal.Zero, ErrUnknownMovement
	}
}

package parties

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PartyType distinguishes the direction of a party balance.
type PartyType string

const (
	// TypeCustomer owes the business for delivered goods.
	TypeCustomer PartyType = "CUSTOMER"
	// TypeSupplier is owed by the business for received goods.
	TypeSupplier PartyType = "SUPPLIER"
)

// Party models a customer or supplier master record. CurrentBalance is the
// stored amount owed and is the cross-check target for recomputed ledgers.
type Party struct {
	ID             int64
	Name           string
	Type           PartyType
	Phone          string
	Address        string
	CurrentBalance decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PartyInput describes a create request.
type PartyInput struct {
	Name    string
	Type    PartyType
	Phone   string
	Address string
}

// ErrPartyNotFound indicates an unknown party id.
var ErrPartyNotFound = errors.New("parties: not found")

// ErrInvalidPartyType indicates an unsupported type value.
var ErrInvalidPartyType = errors.New("parties: type must be CUSTOMER or SUPPLIER")

package invoicing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceKind enumerates invoice documents.
type InvoiceKind string

const (
	KindPurchase       InvoiceKind = "PURCHASE"
	KindSale           InvoiceKind = "SALE"
	KindPurchaseReturn InvoiceKind = "PURCHASE_RETURN"
	KindSaleReturn     InvoiceKind = "SALE_RETURN"
)

// InvoiceStatus tracks the posting workflow.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "DRAFT"
	StatusValidated InvoiceStatus = "VALIDATED"
	StatusPosted    InvoiceStatus = "POSTED"
	StatusFailed    InvoiceStatus = "FAILED"
)

// NumberPrefixFor maps an invoice kind to its number prefix.
func NumberPrefixFor(kind InvoiceKind) string {
	switch kind {
	case KindPurchase:
		return "PI-"
	case KindSale:
		return "SI-"
	case KindPurchaseReturn:
		return "RPI-"
	case KindSaleReturn:
		return "RSI-"
	}
	return "INV-"
}

// InvoiceNumber is a prefix-scoped sequential identifier. Uniqueness is
// enforced by the invoices table, not by the allocator.
type InvoiceNumber struct {
	Prefix   string
	Sequence int64
}

// String renders the number as prefix plus zero-padded sequence.
func (n InvoiceNumber) String() string {
	return fmt.Sprintf("%s%04d", n.Prefix, n.Sequence)
}

// Invoice is the posted document header.
type Invoice struct {
	ID            int64
	Number        string
	NumberPrefix  string
	Sequence      int64
	Kind          InvoiceKind
	PartyID       int64
	Date          time.Time
	GrossAmount   decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	Status        InvoiceStatus
	RefInvoiceID  *int64
	CreatedBy     int64
	CreatedAt     time.Time
}

// Line is an invoice line item. Original-invoice lines are immutable once
// posted; return lines reference them and never modify them.
type Line struct {
	ID          int64
	InvoiceID   int64
	StockItemID int64
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// InvoiceWithLines bundles a header with its lines.
type InvoiceWithLines struct {
	Invoice
	Lines []Line
}

// ReturnLineInput is one proposed return line.
type ReturnLineInput struct {
	StockItemID int64
	ReturnQty   decimal.Decimal
	UnitPrice   decimal.Decimal
}

// ValidatedReturn is the approved result of return validation, ready for
// posting.
type ValidatedReturn struct {
	OriginalInvoiceID int64
	PartyID           int64
	Kind              InvoiceKind
	Lines             []Line
	// ImpactAmount is the sum of returnQty times unitPrice across lines.
	ImpactAmount decimal.Decimal
	// BalanceDelta is the signed change to the party's owed balance; a
	// return always lowers what is owed.
	BalanceDelta decimal.Decimal

	// originalQty holds the original line quantity per stock item. Posting
	// re-checks the remaining-quantity bound against it inside the unit of
	// work, where a rival return can no longer slip in.
	originalQty map[int64]decimal.Decimal
}

// PostedReturn reports a committed return invoice.
type PostedReturn struct {
	InvoiceID int64
	Number    string
	Impact    decimal.Decimal
}

// QuantityExceededError reports a return quantity above the allowed bound.
type QuantityExceededError struct {
	StockItemID   int64
	Requested     decimal.Decimal
	MaxReturnable decimal.Decimal
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("invoicing: return qty %s exceeds max returnable %s for item %d",
		e.Requested.String(), e.MaxReturnable.String(), e.StockItemID)
}

var (
	// ErrLineNotFound indicates no matching original line for a proposed
	// return line.
	ErrLineNotFound = errors.New("invoicing: original invoice line not found")
	// ErrNonPositiveQuantity indicates a zero or negative return quantity.
	ErrNonPositiveQuantity = errors.New("invoicing: return quantity must be positive")
	// ErrInvoiceNotFound indicates an unknown invoice id.
	ErrInvoiceNotFound = errors.New("invoicing: invoice not found")
	// ErrDuplicateNumber surfaces the unique constraint on invoice numbers.
	// The posting workflow recovers from it exactly once.
	ErrDuplicateNumber = errors.New("invoicing: invoice number already used")
	// ErrInvoiceCreationFailed is terminal: the retry also collided.
	ErrInvoiceCreationFailed = errors.New("invoicing: invoice creation failed after retry")
	// ErrNotReturnable indicates the referenced original is not a posted
	// purchase or sale invoice.
	ErrNotReturnable = errors.New("invoicing: original invoice cannot be returned against")
)

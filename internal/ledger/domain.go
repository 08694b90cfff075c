package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxKind enumerates ledger transaction kinds.
type TxKind string

const (
	KindPurchase       TxKind = "PURCHASE"
	KindSale           TxKind = "SALE"
	KindPurchaseReturn TxKind = "PURCHASE_RETURN"
	KindSaleReturn     TxKind = "SALE_RETURN"
	KindPayment        TxKind = "PAYMENT"
	// KindUse records internal consumption. It moves stock only and has no
	// effect on a party balance.
	KindUse TxKind = "USE"
)

// Transaction is one ledger line as produced by the query layer. Never
// mutated after creation.
type Transaction struct {
	InvoiceNumber string
	Date          time.Time
	Kind          TxKind
	GrossAmount   decimal.Decimal
	Discount      decimal.Decimal
	PaidAmount    decimal.Decimal
	ReturnAmount  decimal.Decimal
}

// Entry is a Transaction with its running balance after applying it.
type Entry struct {
	Transaction
	RunningBalance decimal.Decimal
}

// Totals summarises a ledger. Balance is the final running balance, not a
// sum of balances.
type Totals struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Paid     decimal.Decimal
	Returned decimal.Decimal
	Balance  decimal.Decimal
}

// ZeroTotals returns totals with every field explicitly zero.
func ZeroTotals() Totals {
	return Totals{
		Gross:    decimal.Zero,
		Discount: decimal.Zero,
		Paid:     decimal.Zero,
		Returned: decimal.Zero,
		Balance:  decimal.Zero,
	}
}

// DataIntegrityError indicates a malformed transaction in the input stream.
// It aborts the whole aggregation; partial ledgers are never returned.
type DataIntegrityError struct {
	InvoiceNumber string
	Reason        string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("ledger: integrity violation on %q: %s", e.InvoiceNumber, e.Reason)
}

// DateRange bounds a ledger query. Zero values mean unbounded.
type DateRange struct {
	From time.Time
	To   time.Time
}

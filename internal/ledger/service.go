package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
)

// TransactionQuery abstracts the ledger row source. Rows must come back
// ordered by date ascending, invoice number ascending for ties; the fold
// does not re-sort.
type TransactionQuery interface {
	FetchPartyTransactions(ctx context.Context, partyID int64, rng DateRange) ([]Transaction, error)
}

// Service computes ledgers. It is a pure projection layer with no side
// effects and no logging; errors propagate to the caller.
type Service struct {
	repo TransactionQuery
}

// NewService builds Service.
func NewService(repo TransactionQuery) *Service {
	return &Service{repo: repo}
}

// ComputeLedger fetches a party's transactions and folds them into running
// balance entries and totals. For ranged queries the opening balance is the
// caller's responsibility; pass zero for a full-history ledger.
func (s *Service) ComputeLedger(ctx context.Context, partyID int64, partyType parties.PartyType, rng DateRange, opening decimal.Decimal) ([]Entry, Totals, error) {
	txs, err := s.repo.FetchPartyTransactions(ctx, partyID, rng)
	if err != nil {
		return nil, Totals{}, err
	}
	return BuildLedger(partyType, opening, txs)
}

// BuildLedger folds an ordered transaction sequence left to right.
// runningBalance[i] = runningBalance[i-1] + NetEffect(tx[i]). An empty
// sequence yields empty entries and zero totals.
func BuildLedger(partyType parties.PartyType, opening decimal.Decimal, txs []Transaction) ([]Entry, Totals, error) {
	totals := ZeroTotals()
	totals.Balance = opening
	if len(txs) == 0 {
		return []Entry{}, totals, nil
	}

	entries := make([]Entry, 0, len(txs))
	balance := opening
	for _, tx := range txs {
		if err := checkTransaction(partyType, tx); err != nil {
			return nil, Totals{}, err
		}
		balance = balance.Add(NetEffect(tx))
		entries = append(entries, Entry{Transaction: tx, RunningBalance: balance})
		totals.Gross = totals.Gross.Add(tx.GrossAmount)
		totals.Discount = totals.Discount.Add(tx.Discount)
		totals.Paid = totals.Paid.Add(tx.PaidAmount)
		totals.Returned = totals.Returned.Add(tx.ReturnAmount)
	}
	totals.Balance = balance
	return entries, totals, nil
}

// NetEffect returns the signed change a transaction applies to the amount
// owed. Charges raise the balance; payments and returns lower it. The
// balance is always expressed as "owed to the counterpart of the ledger":
// what the customer owes us, or what we owe the supplier.
func NetEffect(tx Transaction) decimal.Decimal {
	if tx.Kind == KindUse {
		return decimal.Zero
	}
	return tx.GrossAmount.Sub(tx.Discount).Sub(tx.PaidAmount).Sub(tx.ReturnAmount)
}

func checkTransaction(partyType parties.PartyType, tx Transaction) error {
	if tx.Date.IsZero() {
		return &DataIntegrityError{InvoiceNumber: tx.InvoiceNumber, Reason: "missing date"}
	}
	if tx.GrossAmount.Sign() < 0 {
		return &DataIntegrityError{InvoiceNumber: tx.InvoiceNumber, Reason: "negative gross amount"}
	}
	if tx.Discount.Sign() < 0 || tx.PaidAmount.Sign() < 0 || tx.ReturnAmount.Sign() < 0 {
		return &DataIntegrityError{InvoiceNumber: tx.InvoiceNumber, Reason: "negative amount component"}
	}
	switch tx.Kind {
	case KindPurchase, KindSale, KindPurchaseReturn, KindSaleReturn, KindPayment, KindUse:
	default:
		return &DataIntegrityError{InvoiceNumber: tx.InvoiceNumber, Reason: "unknown transaction kind"}
	}
	if partyType == parties.TypeCustomer && (tx.Kind == KindPurchase || tx.Kind == KindPurchaseReturn) {
		return &DataIntegrityError{InvoiceNumber: tx.InvoiceNumber, Reason: "purchase row in customer ledger"}
	}
	if partyType == parties.TypeSupplier && (tx.Kind == KindSale || tx.Kind == KindSaleReturn) {
		return &DataIntegrityError{InvoiceNumber: tx.InvoiceNumber, Reason: "sale row in supplier ledger"}
	}
	return nil
}

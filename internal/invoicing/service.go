package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/shared"
	"github.com/cableworks-erp/cableworks-erp/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoiceWithLines(ctx context.Context, id int64) (InvoiceWithLines, error)
	// SumReturnedQuantities returns, per stock item, the quantity already
	// returned against an original invoice.
	SumReturnedQuantities(ctx context.Context, originalInvoiceID int64) (map[int64]decimal.Decimal, error)
}

// TxRepository exposes the operations of one posting unit of work: invoice
// persistence, stock adjustment, party balance update and sequence reads all
// commit or roll back together.
type TxRepository interface {
	SequenceSource
	stock.TxRepository
	// InsertInvoice persists the header, returning ErrDuplicateNumber when
	// the number collides with a concurrent allocation.
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertLines(ctx context.Context, invoiceID int64, lines []Line) error
	// SumReturnedQuantities reads already-returned quantities within the
	// transaction, so the return bound can be re-checked at posting time.
	SumReturnedQuantities(ctx context.Context, originalInvoiceID int64) (map[int64]decimal.Decimal, error)
	GetPartyForUpdate(ctx context.Context, partyID int64) (parties.Party, error)
	UpdatePartyBalance(ctx context.Context, partyID int64, balance decimal.Decimal) error
}

// StockReader supplies current quantities for return validation.
type StockReader interface {
	CurrentQuantity(ctx context.Context, itemID int64) (decimal.Decimal, error)
	Invalidate(ctx context.Context, itemID int64)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// PostingObserver receives posting outcomes for metrics.
type PostingObserver interface {
	ObservePosting(kind, outcome string)
	ObserveNumberRetry()
}

// Service coordinates invoice posting.
type Service struct {
	repo        RepositoryPort
	stockReader StockReader
	alloc       SequenceAllocator
	idempotency *shared.IdempotencyStore
	audit       AuditPort
	observer    PostingObserver
}

// NewService builds Service. Allocator defaults to the legacy MaxAllocator.
func NewService(repo RepositoryPort, stockReader StockReader, alloc SequenceAllocator, idem *shared.IdempotencyStore, audit AuditPort, observer PostingObserver) *Service {
	if alloc == nil {
		alloc = MaxAllocator{}
	}
	return &Service{repo: repo, stockReader: stockReader, alloc: alloc, idempotency: idem, audit: audit, observer: observer}
}

// LineInput is one line of a purchase or sale invoice.
type LineInput struct {
	StockItemID int64
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// PostInvoiceInput describes a purchase or sale posting request.
type PostInvoiceInput struct {
	Kind      InvoiceKind
	PartyID   int64
	Date      time.Time
	Discount  decimal.Decimal
	Lines     []LineInput
	CreatedBy int64
	RequestID string
}

// PostReturnInput describes a return posting request.
type PostReturnInput struct {
	OriginalInvoiceID int64
	Date              time.Time
	Lines             []ReturnLineInput
	CreatedBy         int64
	RequestID         string
}

// GetInvoice returns an invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (InvoiceWithLines, error) {
	return s.repo.GetInvoiceWithLines(ctx, id)
}

// PostInvoice posts a purchase or sale invoice: header plus lines, stock
// adjusted per line, party balance raised by the total, all in one unit of
// work.
func (s *Service) PostInvoice(ctx context.Context, input PostInvoiceInput) (InvoiceWithLines, error) {
	if input.Kind != KindPurchase && input.Kind != KindSale {
		return InvoiceWithLines{}, fmt.Errorf("invoicing: kind %s cannot be posted directly", input.Kind)
	}
	if input.PartyID == 0 {
		return InvoiceWithLines{}, errors.New("invoicing: party required")
	}
	if len(input.Lines) == 0 {
		return InvoiceWithLines{}, errors.New("invoicing: at least one line is required")
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}
	if input.Discount.Sign() < 0 {
		return InvoiceWithLines{}, errors.New("invoicing: discount must not be negative")
	}

	gross := decimal.Zero
	lines := make([]Line, 0, len(input.Lines))
	for _, l := range input.Lines {
		if l.StockItemID == 0 {
			return InvoiceWithLines{}, errors.New("invoicing: line stock item required")
		}
		if l.Quantity.Sign() <= 0 {
			return InvoiceWithLines{}, ErrNonPositiveQuantity
		}
		if l.UnitPrice.Sign() < 0 {
			return InvoiceWithLines{}, errors.New("invoicing: unit price must not be negative")
		}
		lineTotal := l.Quantity.Mul(l.UnitPrice)
		gross = gross.Add(lineTotal)
		lines = append(lines, Line{StockItemID: l.StockItemID, Quantity: l.Quantity, UnitPrice: l.UnitPrice, LineTotal: lineTotal})
	}
	if input.Discount.GreaterThan(gross) {
		return InvoiceWithLines{}, errors.New("invoicing: discount exceeds gross amount")
	}
	total := gross.Sub(input.Discount)

	movementKind := stock.MovementPurchase
	expectedParty := parties.TypeSupplier
	if input.Kind == KindSale {
		movementKind = stock.MovementUse
		expectedParty = parties.TypeCustomer
	}

	release, err := s.claimRequest(ctx, input.RequestID)
	if err != nil {
		return InvoiceWithLines{}, err
	}

	var invoiceID int64
	var number InvoiceNumber
	err = s.postWithRetry(ctx, input.Kind, func(ctx context.Context, tx TxRepository, n InvoiceNumber) error {
		party, err := tx.GetPartyForUpdate(ctx, input.PartyID)
		if err != nil {
			return err
		}
		if party.Type != expectedParty {
			return fmt.Errorf("invoicing: %s invoice requires a %s party", input.Kind, expectedParty)
		}
		id, err := tx.InsertInvoice(ctx, Invoice{
			Number:       n.String(),
			NumberPrefix: n.Prefix,
			Sequence:     n.Sequence,
			Kind:         input.Kind,
			PartyID:      input.PartyID,
			Date:         input.Date,
			GrossAmount:  gross,
			Discount:     input.Discount,
			Total:        total,
			Status:       StatusPosted,
			CreatedBy:    input.CreatedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, id, lines); err != nil {
			return err
		}
		for _, l := range lines {
			if _, err := stock.ApplyTx(ctx, tx, movementKind, l.StockItemID, l.Quantity, "invoicing", n.String(), string(input.Kind)); err != nil {
				return err
			}
		}
		if err := tx.UpdatePartyBalance(ctx, input.PartyID, party.CurrentBalance.Add(total)); err != nil {
			return err
		}
		invoiceID = id
		number = n
		return nil
	})
	if err != nil {
		release(ctx)
		return InvoiceWithLines{}, err
	}

	s.invalidateStock(ctx, lines)
	s.recordAudit(ctx, input.CreatedBy, input.Kind, number.String(), invoiceID, total)
	return s.repo.GetInvoiceWithLines(ctx, invoiceID)
}

// ValidateReturn checks a proposed return against the original invoice and
// current stock. It has no side effects; calling it twice with unchanged
// state yields the same result.
func (s *Service) ValidateReturn(ctx context.Context, originalInvoiceID int64, proposed []ReturnLineInput) (ValidatedReturn, error) {
	if len(proposed) == 0 {
		return ValidatedReturn{}, errors.New("invoicing: at least one return line is required")
	}
	original, err := s.repo.GetInvoiceWithLines(ctx, originalInvoiceID)
	if err != nil {
		return ValidatedReturn{}, err
	}
	if original.Status != StatusPosted {
		return ValidatedReturn{}, ErrNotReturnable
	}
	var returnKind InvoiceKind
	switch original.Kind {
	case KindPurchase:
		returnKind = KindPurchaseReturn
	case KindSale:
		returnKind = KindSaleReturn
	default:
		return ValidatedReturn{}, ErrNotReturnable
	}

	returned, err := s.repo.SumReturnedQuantities(ctx, originalInvoiceID)
	if err != nil {
		return ValidatedReturn{}, err
	}

	byItem := make(map[int64]Line, len(original.Lines))
	originalQty := make(map[int64]decimal.Decimal, len(original.Lines))
	for _, l := range original.Lines {
		byItem[l.StockItemID] = l
		originalQty[l.StockItemID] = l.Quantity
	}

	impact := decimal.Zero
	lines := make([]Line, 0, len(proposed))
	for _, p := range proposed {
		origLine, ok := byItem[p.StockItemID]
		if !ok {
			return ValidatedReturn{}, fmt.Errorf("%w: item %d on invoice %d", ErrLineNotFound, p.StockItemID, originalInvoiceID)
		}
		if p.ReturnQty.Sign() <= 0 {
			return ValidatedReturn{}, ErrNonPositiveQuantity
		}
		remaining := origLine.Quantity.Sub(returned[p.StockItemID])
		maxReturnable := remaining
		if returnKind == KindPurchaseReturn {
			// Goods go back to the supplier, so the return is also bounded
			// by what is physically on hand.
			onHand, err := s.stockReader.CurrentQuantity(ctx, p.StockItemID)
			if err != nil {
				return ValidatedReturn{}, err
			}
			maxReturnable = decimal.Min(remaining, onHand)
		}
		if p.ReturnQty.GreaterThan(maxReturnable) {
			return ValidatedReturn{}, &QuantityExceededError{StockItemID: p.StockItemID, Requested: p.ReturnQty, MaxReturnable: maxReturnable}
		}
		unitPrice := p.UnitPrice
		if unitPrice.Sign() == 0 {
			unitPrice = origLine.UnitPrice
		}
		lineTotal := p.ReturnQty.Mul(unitPrice)
		impact = impact.Add(lineTotal)
		lines = append(lines, Line{StockItemID: p.StockItemID, Quantity: p.ReturnQty, UnitPrice: unitPrice, LineTotal: lineTotal})
	}

	return ValidatedReturn{
		OriginalInvoiceID: originalInvoiceID,
		PartyID:           original.PartyID,
		Kind:              returnKind,
		Lines:             lines,
		ImpactAmount:      impact,
		BalanceDelta:      impact.Neg(),
		originalQty:       originalQty,
	}, nil
}

// ValidateAndPostReturn validates the proposed return and commits it: return
// invoice plus lines, stock adjusted, party balance lowered by the impact
// amount. The party balance is read under lock inside the unit of work; the
// delta is applied to that value, never reconstructed by inverting the
// return arithmetic.
func (s *Service) ValidateAndPostReturn(ctx context.Context, input PostReturnInput) (PostedReturn, error) {
	vr, err := s.ValidateReturn(ctx, input.OriginalInvoiceID, input.Lines)
	if err != nil {
		return PostedReturn{}, err
	}
	if input.Date.IsZero() {
		input.Date = time.Now().UTC()
	}

	movementKind := stock.MovementPurchaseReturn
	if vr.Kind == KindSaleReturn {
		movementKind = stock.MovementSaleReturn
	}

	release, err := s.claimRequest(ctx, input.RequestID)
	if err != nil {
		return PostedReturn{}, err
	}

	var posted PostedReturn
	err = s.postWithRetry(ctx, vr.Kind, func(ctx context.Context, tx TxRepository, n InvoiceNumber) error {
		party, err := tx.GetPartyForUpdate(ctx, vr.PartyID)
		if err != nil {
			return err
		}
		// A rival return can commit between validation and this transaction.
		// Re-read the returned totals under the party lock and re-check the
		// remaining-quantity bound before writing anything.
		returned, err := tx.SumReturnedQuantities(ctx, vr.OriginalInvoiceID)
		if err != nil {
			return err
		}
		for _, l := range vr.Lines {
			remaining := vr.originalQty[l.StockItemID].Sub(returned[l.StockItemID])
			if remaining.Sign() < 0 {
				remaining = decimal.Zero
			}
			if l.Quantity.GreaterThan(remaining) {
				return &QuantityExceededError{StockItemID: l.StockItemID, Requested: l.Quantity, MaxReturnable: remaining}
			}
		}
		refID := vr.OriginalInvoiceID
		id, err := tx.InsertInvoice(ctx, Invoice{
			Number:       n.String(),
			NumberPrefix: n.Prefix,
			Sequence:     n.Sequence,
			Kind:         vr.Kind,
			PartyID:      vr.PartyID,
			Date:         input.Date,
			GrossAmount:  vr.ImpactAmount,
			Discount:     decimal.Zero,
			Total:        vr.ImpactAmount,
			Status:       StatusPosted,
			RefInvoiceID: &refID,
			CreatedBy:    input.CreatedBy,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, id, vr.Lines); err != nil {
			return err
		}
		for _, l := range vr.Lines {
			if _, err := stock.ApplyTx(ctx, tx, movementKind, l.StockItemID, l.Quantity, "invoicing", n.String(), string(vr.Kind)); err != nil {
				return err
			}
		}
		if err := tx.UpdatePartyBalance(ctx, vr.PartyID, party.CurrentBalance.Add(vr.BalanceDelta)); err != nil {
			return err
		}
		posted = PostedReturn{InvoiceID: id, Number: n.String(), Impact: vr.ImpactAmount}
		return nil
	})
	if err != nil {
		release(ctx)
		return PostedReturn{}, err
	}

	s.invalidateStock(ctx, vr.Lines)
	s.recordAudit(ctx, input.CreatedBy, vr.Kind, posted.Number, posted.InvoiceID, vr.ImpactAmount)
	return posted, nil
}

// postWithRetry runs one posting attempt and, on a number collision, retries
// exactly once with a freshly generated number. The second collision is
// terminal.
func (s *Service) postWithRetry(ctx context.Context, kind InvoiceKind, attempt func(context.Context, TxRepository, InvoiceNumber) error) error {
	prefix := NumberPrefixFor(kind)
	run := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			number, err := s.alloc.GenerateNext(ctx, tx, prefix)
			if err != nil {
				return err
			}
			return attempt(ctx, tx, number)
		})
	}

	err := run()
	if err == nil {
		s.observePosting(kind, "ok")
		return nil
	}
	if !errors.Is(err, ErrDuplicateNumber) {
		s.observePosting(kind, "error")
		return err
	}

	if s.observer != nil {
		s.observer.ObserveNumberRetry()
	}
	if err := run(); err != nil {
		s.observePosting(kind, "failed")
		if errors.Is(err, ErrDuplicateNumber) {
			return fmt.Errorf("duplicate number on retry: %w", ErrInvoiceCreationFailed)
		}
		return err
	}
	s.observePosting(kind, "ok")
	return nil
}

// claimRequest guards against double submission of the same posting request.
// The returned func releases the claim when the posting fails.
func (s *Service) claimRequest(ctx context.Context, requestID string) (func(context.Context), error) {
	if s.idempotency == nil || requestID == "" {
		return func(context.Context) {}, nil
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return nil, fmt.Errorf("invoicing: invalid request id: %w", err)
	}
	if err := s.idempotency.CheckAndInsert(ctx, requestID, "invoicing"); err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		_ = s.idempotency.Delete(ctx, requestID)
	}, nil
}

func (s *Service) invalidateStock(ctx context.Context, lines []Line) {
	if s.stockReader == nil {
		return
	}
	for _, l := range lines {
		s.stockReader.Invalidate(ctx, l.StockItemID)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, kind InvoiceKind, number string, invoiceID int64, amount decimal.Decimal) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   fmt.Sprintf("invoicing:%s", kind),
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta: map[string]any{
			"number": number,
			"amount": amount.String(),
		},
	})
}

func (s *Service) observePosting(kind InvoiceKind, outcome string) {
	if s.observer != nil {
		s.observer.ObservePosting(string(kind), outcome)
	}
}

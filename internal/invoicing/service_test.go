package invoicing

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/stock"
)

type memoryRepo struct {
	parties   map[int64]parties.Party
	items     map[int64]stock.Item
	movements []stock.Movement
	invoices  map[int64]Invoice
	lines     map[int64][]Line
	counters  map[string]int64

	nextInvoiceID  int64
	nextMovementID int64

	// failInserts makes InsertInvoice fail with ErrDuplicateNumber that many
	// times. Each failure also commits a rival invoice under the colliding
	// number, simulating the concurrent writer that won the race.
	failInserts int

	// beforeTx runs once at the start of the next unit of work, simulating
	// state committed by a concurrent writer after validation.
	beforeTx func()
}

func newRepo() *memoryRepo {
	return &memoryRepo{
		parties:  make(map[int64]parties.Party),
		items:    make(map[int64]stock.Item),
		invoices: make(map[int64]Invoice),
		lines:    make(map[int64][]Line),
		counters: make(map[string]int64),
	}
}

type memoryTx struct {
	repo *memoryRepo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.beforeTx != nil {
		hook := r.beforeTx
		r.beforeTx = nil
		hook()
	}
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetInvoiceWithLines(ctx context.Context, id int64) (InvoiceWithLines, error) {
	inv, ok := r.invoices[id]
	if !ok {
		return InvoiceWithLines{}, ErrInvoiceNotFound
	}
	lines := make([]Line, len(r.lines[id]))
	copy(lines, r.lines[id])
	return InvoiceWithLines{Invoice: inv, Lines: lines}, nil
}

func (r *memoryRepo) SumReturnedQuantities(ctx context.Context, originalInvoiceID int64) (map[int64]decimal.Decimal, error) {
	result := make(map[int64]decimal.Decimal)
	for id, inv := range r.invoices {
		if inv.RefInvoiceID == nil || *inv.RefInvoiceID != originalInvoiceID || inv.Status != StatusPosted {
			continue
		}
		if inv.Kind != KindPurchaseReturn && inv.Kind != KindSaleReturn {
			continue
		}
		for _, l := range r.lines[id] {
			result[l.StockItemID] = result[l.StockItemID].Add(l.Quantity)
		}
	}
	return result, nil
}

func (tx *memoryTx) SumReturnedQuantities(ctx context.Context, originalInvoiceID int64) (map[int64]decimal.Decimal, error) {
	return tx.repo.SumReturnedQuantities(ctx, originalInvoiceID)
}

func (tx *memoryTx) MaxSequenceForPrefix(ctx context.Context, prefix string) (int64, error) {
	var max int64
	for _, inv := range tx.repo.invoices {
		if inv.NumberPrefix == prefix && inv.Sequence > max {
			max = inv.Sequence
		}
	}
	return max, nil
}

func (tx *memoryTx) NextSequence(ctx context.Context, prefix string) (int64, error) {
	tx.repo.counters[prefix]++
	return tx.repo.counters[prefix], nil
}

func (tx *memoryTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	r := tx.repo
	if r.failInserts > 0 {
		r.failInserts--
		rival := inv
		r.nextInvoiceID++
		rival.ID = r.nextInvoiceID
		r.invoices[rival.ID] = rival
		return 0, ErrDuplicateNumber
	}
	for _, existing := range r.invoices {
		if existing.Number == inv.Number {
			return 0, ErrDuplicateNumber
		}
	}
	r.nextInvoiceID++
	inv.ID = r.nextInvoiceID
	r.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, invoiceID int64, lines []Line) error {
	for _, l := range lines {
		l.InvoiceID = invoiceID
		tx.repo.lines[invoiceID] = append(tx.repo.lines[invoiceID], l)
	}
	return nil
}

func (tx *memoryTx) GetPartyForUpdate(ctx context.Context, partyID int64) (parties.Party, error) {
	p, ok := tx.repo.parties[partyID]
	if !ok {
		return parties.Party{}, parties.ErrPartyNotFound
	}
	return p, nil
}

func (tx *memoryTx) UpdatePartyBalance(ctx context.Context, partyID int64, balance decimal.Decimal) error {
	p, ok := tx.repo.parties[partyID]
	if !ok {
		return parties.ErrPartyNotFound
	}
	p.CurrentBalance = balance
	tx.repo.parties[partyID] = p
	return nil
}

func (tx *memoryTx) GetItemForUpdate(ctx context.Context, id int64) (stock.Item, error) {
	item, ok := tx.repo.items[id]
	if !ok {
		return stock.Item{}, stock.ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) UpdateQuantity(ctx context.Context, id int64, qty decimal.Decimal) error {
	item, ok := tx.repo.items[id]
	if !ok {
		return stock.ErrItemNotFound
	}
	item.QuantityOnHand = qty
	tx.repo.items[id] = item
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	tx.repo.nextMovementID++
	m.ID = tx.repo.nextMovementID
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

type fakeStockReader struct {
	repo        *memoryRepo
	invalidated []int64
}

func (f *fakeStockReader) CurrentQuantity(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	item, ok := f.repo.items[itemID]
	if !ok {
		return decimal.Zero, stock.ErrItemNotFound
	}
	return item.QuantityOnHand, nil
}

func (f *fakeStockReader) Invalidate(ctx context.Context, itemID int64) {
	f.invalidated = append(f.invalidated, itemID)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(repo *memoryRepo) (*Service, *fakeStockReader) {
	reader := &fakeStockReader{repo: repo}
	return NewService(repo, reader, nil, nil, nil, nil), reader
}

// seedInvoice stores a posted invoice with one line and returns its id.
func seedInvoice(repo *memoryRepo, kind InvoiceKind, partyID, itemID int64, qty, price string) int64 {
	repo.nextInvoiceID++
	id := repo.nextInvoiceID
	quantity := dec(qty)
	unitPrice := dec(price)
	total := quantity.Mul(unitPrice)
	repo.counters[NumberPrefixFor(kind)]++
	seq := repo.counters[NumberPrefixFor(kind)]
	repo.invoices[id] = Invoice{
		ID:           id,
		Number:       InvoiceNumber{Prefix: NumberPrefixFor(kind), Sequence: seq}.String(),
		NumberPrefix: NumberPrefixFor(kind),
		Sequence:     seq,
		Kind:         kind,
		PartyID:      partyID,
		Date:         time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		GrossAmount:  total,
		Total:        total,
		Status:       StatusPosted,
	}
	repo.lines[id] = []Line{{ID: id, InvoiceID: id, StockItemID: itemID, Quantity: quantity, UnitPrice: unitPrice, LineTotal: total}}
	return id
}

func TestPostPurchaseInvoice(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier, CurrentBalance: decimal.Zero}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	svc, reader := newTestService(repo)
	ctx := context.Background()

	inv, err := svc.PostInvoice(ctx, PostInvoiceInput{
		Kind:     KindPurchase,
		PartyID:  1,
		Discount: dec("50"),
		Lines:    []LineInput{{StockItemID: 10, Quantity: dec("40"), UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	require.Equal(t, "PI-0001", inv.Number)
	require.Equal(t, StatusPosted, inv.Status)
	require.True(t, inv.GrossAmount.Equal(dec("400")))
	require.True(t, inv.Total.Equal(dec("350")))
	require.Len(t, inv.Lines, 1)

	require.True(t, repo.items[10].QuantityOnHand.Equal(dec("140")))
	require.True(t, repo.parties[1].CurrentBalance.Equal(dec("350")))
	require.Len(t, repo.movements, 1)
	require.Equal(t, stock.MovementPurchase, repo.movements[0].Kind)
	require.Equal(t, "PI-0001", repo.movements[0].RefID)
	require.Equal(t, []int64{10}, reader.invalidated)
}

func TestPostSaleInvoice(t *testing.T) {
	repo := newRepo()
	repo.parties[2] = parties.Party{ID: 2, Type: parties.TypeCustomer, CurrentBalance: dec("100")}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	inv, err := svc.PostInvoice(ctx, PostInvoiceInput{
		Kind:    KindSale,
		PartyID: 2,
		Lines:   []LineInput{{StockItemID: 10, Quantity: dec("30"), UnitPrice: dec("20")}},
	})
	require.NoError(t, err)
	require.Equal(t, "SI-0001", inv.Number)
	require.True(t, repo.items[10].QuantityOnHand.Equal(dec("70")))
	require.True(t, repo.parties[2].CurrentBalance.Equal(dec("700")))
}

func TestPostSaleInsufficientStockRollsBack(t *testing.T) {
	repo := newRepo()
	repo.parties[2] = parties.Party{ID: 2, Type: parties.TypeCustomer, CurrentBalance: decimal.Zero}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("5")}
	svc, _ := newTestService(repo)

	_, err := svc.PostInvoice(context.Background(), PostInvoiceInput{
		Kind:    KindSale,
		PartyID: 2,
		Lines:   []LineInput{{StockItemID: 10, Quantity: dec("30"), UnitPrice: dec("20")}},
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	require.True(t, repo.parties[2].CurrentBalance.IsZero())
	require.True(t, repo.items[10].QuantityOnHand.Equal(dec("5")))
}

func TestPostInvoicePartyTypeMismatch(t *testing.T) {
	repo := newRepo()
	repo.parties[2] = parties.Party{ID: 2, Type: parties.TypeCustomer}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	svc, _ := newTestService(repo)

	_, err := svc.PostInvoice(context.Background(), PostInvoiceInput{
		Kind:    KindPurchase,
		PartyID: 2,
		Lines:   []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "requires a SUPPLIER party")
}

func TestPostInvoiceValidation(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostInvoice(ctx, PostInvoiceInput{Kind: KindPurchase, PartyID: 1})
	require.Error(t, err)

	_, err = svc.PostInvoice(ctx, PostInvoiceInput{
		Kind: KindPurchase, PartyID: 1,
		Lines: []LineInput{{StockItemID: 10, Quantity: dec("0"), UnitPrice: dec("1")}},
	})
	require.ErrorIs(t, err, ErrNonPositiveQuantity)

	_, err = svc.PostInvoice(ctx, PostInvoiceInput{
		Kind: KindPurchase, PartyID: 1, Discount: dec("-1"),
		Lines: []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	require.Error(t, err)

	_, err = svc.PostInvoice(ctx, PostInvoiceInput{
		Kind: KindPurchase, PartyID: 1, Discount: dec("100"),
		Lines: []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("10")}},
	})
	require.Error(t, err)

	_, err = svc.PostInvoice(ctx, PostInvoiceInput{
		Kind: KindPurchaseReturn, PartyID: 1,
		Lines: []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("1")}},
	})
	require.Error(t, err, "returns go through the validation workflow")
}

func TestValidateReturnBoundedByRemainingQuantity(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	original := seedInvoice(repo, KindPurchase, 1, 10, "50", "10")
	svc, _ := newTestService(repo)
	ctx := context.Background()

	// 30 of the original 50 already went back.
	_, err := svc.ValidateAndPostReturn(ctx, PostReturnInput{
		OriginalInvoiceID: original,
		Lines:             []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("30")}},
	})
	require.NoError(t, err)

	_, err = svc.ValidateReturn(ctx, original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("30")}})
	var exceeded *QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	require.Equal(t, int64(10), exceeded.StockItemID)
	require.True(t, exceeded.Requested.Equal(dec("30")))
	require.True(t, exceeded.MaxReturnable.Equal(dec("20")))

	// The remaining 20 is still fine.
	vr, err := svc.ValidateReturn(ctx, original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("20")}})
	require.NoError(t, err)
	require.True(t, vr.ImpactAmount.Equal(dec("200")))
}

func TestValidatePurchaseReturnBoundedByStock(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("5")}
	original := seedInvoice(repo, KindPurchase, 1, 10, "10", "10")
	svc, _ := newTestService(repo)

	_, err := svc.ValidateReturn(context.Background(), original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("10")}})
	var exceeded *QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	require.True(t, exceeded.MaxReturnable.Equal(dec("5")))
}

func TestValidateSaleReturnIgnoresStockBound(t *testing.T) {
	repo := newRepo()
	repo.parties[2] = parties.Party{ID: 2, Type: parties.TypeCustomer}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: decimal.Zero}
	original := seedInvoice(repo, KindSale, 2, 10, "10", "25")
	svc, _ := newTestService(repo)

	// Sale returns add stock back, so an empty warehouse is no obstacle.
	vr, err := svc.ValidateReturn(context.Background(), original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("10")}})
	require.NoError(t, err)
	require.Equal(t, KindSaleReturn, vr.Kind)
	require.True(t, vr.ImpactAmount.Equal(dec("250")))
	require.True(t, vr.BalanceDelta.Equal(dec("-250")))
}

func TestValidateReturnIsRepeatable(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	original := seedInvoice(repo, KindPurchase, 1, 10, "50", "10")
	svc, _ := newTestService(repo)
	ctx := context.Background()

	lines := []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("15")}}
	first, err := svc.ValidateReturn(ctx, original, lines)
	require.NoError(t, err)
	second, err := svc.ValidateReturn(ctx, original, lines)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidateReturnErrors(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	original := seedInvoice(repo, KindPurchase, 1, 10, "50", "10")
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ValidateReturn(ctx, original, []ReturnLineInput{{StockItemID: 99, ReturnQty: dec("1")}})
	require.ErrorIs(t, err, ErrLineNotFound)

	_, err = svc.ValidateReturn(ctx, original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("0")}})
	require.ErrorIs(t, err, ErrNonPositiveQuantity)

	_, err = svc.ValidateReturn(ctx, 777, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("1")}})
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	// A return invoice cannot itself be returned against.
	ret := seedInvoice(repo, KindPurchaseReturn, 1, 10, "5", "10")
	_, err = svc.ValidateReturn(ctx, ret, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("1")}})
	require.ErrorIs(t, err, ErrNotReturnable)

	// Neither can a draft.
	draft := repo.invoices[original]
	draft.Status = StatusDraft
	repo.invoices[original] = draft
	_, err = svc.ValidateReturn(ctx, original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("1")}})
	require.ErrorIs(t, err, ErrNotReturnable)
}

func TestPostPurchaseReturn(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier, CurrentBalance: dec("500")}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	original := seedInvoice(repo, KindPurchase, 1, 10, "50", "10")
	svc, reader := newTestService(repo)

	posted, err := svc.ValidateAndPostReturn(context.Background(), PostReturnInput{
		OriginalInvoiceID: original,
		Lines:             []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("20")}},
	})
	require.NoError(t, err)
	require.Equal(t, "RPI-0001", posted.Number)
	require.True(t, posted.Impact.Equal(dec("200")))

	require.True(t, repo.items[10].QuantityOnHand.Equal(dec("80")))
	require.True(t, repo.parties[1].CurrentBalance.Equal(dec("300")))

	ret, err := svc.GetInvoice(context.Background(), posted.InvoiceID)
	require.NoError(t, err)
	require.Equal(t, KindPurchaseReturn, ret.Kind)
	require.NotNil(t, ret.RefInvoiceID)
	require.Equal(t, original, *ret.RefInvoiceID)
	// Return lines use the original unit price when none is given.
	require.True(t, ret.Lines[0].UnitPrice.Equal(dec("10")))

	require.Len(t, repo.movements, 1)
	require.Equal(t, stock.MovementPurchaseReturn, repo.movements[0].Kind)
	require.Equal(t, []int64{10}, reader.invalidated)
}

func TestPostSaleReturnAddsStock(t *testing.T) {
	repo := newRepo()
	repo.parties[2] = parties.Party{ID: 2, Type: parties.TypeCustomer, CurrentBalance: dec("600")}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("3")}
	original := seedInvoice(repo, KindSale, 2, 10, "10", "25")
	svc, _ := newTestService(repo)

	posted, err := svc.ValidateAndPostReturn(context.Background(), PostReturnInput{
		OriginalInvoiceID: original,
		Lines:             []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("4")}},
	})
	require.NoError(t, err)
	require.Equal(t, "RSI-0001", posted.Number)
	require.True(t, repo.items[10].QuantityOnHand.Equal(dec("7")))
	require.True(t, repo.parties[2].CurrentBalance.Equal(dec("500")))
}

func TestPostReturnOverrideUnitPrice(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier, CurrentBalance: dec("500")}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	original := seedInvoice(repo, KindPurchase, 1, 10, "50", "10")
	svc, _ := newTestService(repo)

	vr, err := svc.ValidateReturn(context.Background(), original, []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("5"), UnitPrice: dec("8")}})
	require.NoError(t, err)
	require.True(t, vr.ImpactAmount.Equal(dec("40")))
}

func TestReturnBoundProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(2))

	for run := 0; run < 100; run++ {
		originalQty := int64(1 + rng.Intn(100))
		alreadyReturned := rng.Int63n(originalQty + 1)
		onHand := int64(rng.Intn(150))
		requested := int64(1 + rng.Intn(150))

		repo := newRepo()
		repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier}
		repo.items[10] = stock.Item{ID: 10, QuantityOnHand: decimal.NewFromInt(onHand)}
		original := seedInvoice(repo, KindPurchase, 1, 10, decimal.NewFromInt(originalQty).String(), "10")
		if alreadyReturned > 0 {
			prior := seedInvoice(repo, KindPurchaseReturn, 1, 10, decimal.NewFromInt(alreadyReturned).String(), "10")
			inv := repo.invoices[prior]
			ref := original
			inv.RefInvoiceID = &ref
			repo.invoices[prior] = inv
		}
		svc, _ := newTestService(repo)

		bound := originalQty - alreadyReturned
		if onHand < bound {
			bound = onHand
		}
		_, err := svc.ValidateReturn(context.Background(), original, []ReturnLineInput{{StockItemID: 10, ReturnQty: decimal.NewFromInt(requested)}})
		if requested <= bound {
			require.NoError(t, err, "qty %d bound %d (orig %d returned %d onhand %d)", requested, bound, originalQty, alreadyReturned, onHand)
		} else {
			var exceeded *QuantityExceededError
			require.ErrorAs(t, err, &exceeded, "qty %d bound %d", requested, bound)
			require.True(t, exceeded.MaxReturnable.Equal(decimal.NewFromInt(bound)))
		}
	}
}

func TestPostReturnRechecksBoundInTransaction(t *testing.T) {
	repo := newRepo()
	repo.parties[2] = parties.Party{ID: 2, Type: parties.TypeCustomer, CurrentBalance: dec("400")}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: decimal.Zero}
	original := seedInvoice(repo, KindSale, 2, 10, "20", "10")

	// Validation approves a return of 10, then a rival return of 15 commits
	// before the unit of work runs. Posting must not push the returned total
	// past the original 20.
	repo.beforeTx = func() {
		rival := seedInvoice(repo, KindSaleReturn, 2, 10, "15", "10")
		inv := repo.invoices[rival]
		ref := original
		inv.RefInvoiceID = &ref
		repo.invoices[rival] = inv
	}
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.ValidateAndPostReturn(ctx, PostReturnInput{
		OriginalInvoiceID: original,
		Lines:             []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("10")}},
	})
	var exceeded *QuantityExceededError
	require.ErrorAs(t, err, &exceeded)
	require.True(t, exceeded.MaxReturnable.Equal(dec("5")), "got %s", exceeded.MaxReturnable)

	// Only the rival's 15 is on record; nothing was written for the loser.
	returned, err := repo.SumReturnedQuantities(ctx, original)
	require.NoError(t, err)
	require.True(t, returned[10].Equal(dec("15")))
	require.True(t, repo.parties[2].CurrentBalance.Equal(dec("400")))
	require.Empty(t, repo.movements)

	// The remaining 5 still posts.
	posted, err := svc.ValidateAndPostReturn(ctx, PostReturnInput{
		OriginalInvoiceID: original,
		Lines:             []ReturnLineInput{{StockItemID: 10, ReturnQty: dec("5")}},
	})
	require.NoError(t, err)
	require.True(t, posted.Impact.Equal(dec("50")))
	returned, err = repo.SumReturnedQuantities(ctx, original)
	require.NoError(t, err)
	require.True(t, returned[10].Equal(dec("20")))
}

func TestNumberCollisionRetriesOnce(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier, CurrentBalance: decimal.Zero}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	repo.failInserts = 1
	svc, _ := newTestService(repo)

	inv, err := svc.PostInvoice(context.Background(), PostInvoiceInput{
		Kind:    KindPurchase,
		PartyID: 1,
		Lines:   []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("10")}},
	})
	require.NoError(t, err)
	// The rival committed PI-0001; the retry regenerated past it.
	require.Equal(t, "PI-0002", inv.Number)
	require.Equal(t, int64(2), inv.Sequence)
}

func TestNumberCollisionTwiceIsTerminal(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier, CurrentBalance: decimal.Zero}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	repo.failInserts = 2
	svc, _ := newTestService(repo)

	_, err := svc.PostInvoice(context.Background(), PostInvoiceInput{
		Kind:    KindPurchase,
		PartyID: 1,
		Lines:   []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("10")}},
	})
	require.ErrorIs(t, err, ErrInvoiceCreationFailed)
}

func TestCounterAllocatorNeverCollides(t *testing.T) {
	repo := newRepo()
	repo.parties[1] = parties.Party{ID: 1, Type: parties.TypeSupplier, CurrentBalance: decimal.Zero}
	repo.items[10] = stock.Item{ID: 10, QuantityOnHand: dec("100")}
	reader := &fakeStockReader{repo: repo}
	svc := NewService(repo, reader, CounterAllocator{}, nil, nil, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		inv, err := svc.PostInvoice(ctx, PostInvoiceInput{
			Kind:    KindPurchase,
			PartyID: 1,
			Lines:   []LineInput{{StockItemID: 10, Quantity: dec("1"), UnitPrice: dec("10")}},
		})
		require.NoError(t, err)
		require.Equal(t, int64(i), inv.Sequence)
	}
}

package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// postInvoiceRequest is the JSON body for purchase/sale posting.
type postInvoiceRequest struct {
	Kind      string           `json:"kind" validate:"required,oneof=PURCHASE SALE"`
	PartyID   int64            `json:"party_id" validate:"required,gt=0"`
	Date      string           `json:"date"`
	Discount  string           `json:"discount"`
	Lines     []lineRequest    `json:"lines" validate:"required,min=1,dive"`
	CreatedBy int64            `json:"created_by"`
	RequestID string           `json:"request_id"`
}

type lineRequest struct {
	StockItemID int64  `json:"stock_item_id" validate:"required,gt=0"`
	Quantity    string `json:"quantity" validate:"required"`
	UnitPrice   string `json:"unit_price" validate:"required"`
}

// postReturnRequest is the JSON body for return posting and validation.
type postReturnRequest struct {
	OriginalInvoiceID int64               `json:"original_invoice_id" validate:"required,gt=0"`
	Date              string              `json:"date"`
	Lines             []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
	CreatedBy         int64               `json:"created_by"`
	RequestID         string              `json:"request_id"`
}

type returnLineRequest struct {
	StockItemID int64  `json:"stock_item_id" validate:"required,gt=0"`
	ReturnQty   string `json:"return_qty" validate:"required"`
	UnitPrice   string `json:"unit_price"`
}

func (r postInvoiceRequest) toInput() (PostInvoiceInput, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return PostInvoiceInput{}, err
	}
	discount, err := parseAmount(r.Discount)
	if err != nil {
		return PostInvoiceInput{}, fmt.Errorf("discount: %w", err)
	}
	input := PostInvoiceInput{
		Kind:      InvoiceKind(r.Kind),
		PartyID:   r.PartyID,
		Date:      date,
		Discount:  discount,
		CreatedBy: r.CreatedBy,
		RequestID: r.RequestID,
	}
	for i, l := range r.Lines {
		qty, err := parseAmount(l.Quantity)
		if err != nil {
			return PostInvoiceInput{}, fmt.Errorf("line %d quantity: %w", i+1, err)
		}
		price, err := parseAmount(l.UnitPrice)
		if err != nil {
			return PostInvoiceInput{}, fmt.Errorf("line %d unit price: %w", i+1, err)
		}
		input.Lines = append(input.Lines, LineInput{StockItemID: l.StockItemID, Quantity: qty, UnitPrice: price})
	}
	return input, nil
}

func (r postReturnRequest) toInput() (PostReturnInput, error) {
	date, err := parseDate(r.Date)
	if err != nil {
		return PostReturnInput{}, err
	}
	input := PostReturnInput{
		OriginalInvoiceID: r.OriginalInvoiceID,
		Date:              date,
		CreatedBy:         r.CreatedBy,
		RequestID:         r.RequestID,
	}
	for i, l := range r.Lines {
		qty, err := parseAmount(l.ReturnQty)
		if err != nil {
			return PostReturnInput{}, fmt.Errorf("line %d return qty: %w", i+1, err)
		}
		price, err := parseAmount(l.UnitPrice)
		if err != nil {
			return PostReturnInput{}, fmt.Errorf("line %d unit price: %w", i+1, err)
		}
		input.Lines = append(input.Lines, ReturnLineInput{StockItemID: l.StockItemID, ReturnQty: qty, UnitPrice: price})
	}
	return input, nil
}

// parseAmount treats a blank field as zero instead of an error; genuine
// garbage still fails.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

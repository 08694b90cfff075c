package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/platform/httpx"
)

// PartyReader resolves the party a ledger is computed for.
type PartyReader interface {
	GetParty(ctx context.Context, id int64) (parties.Party, error)
}

// Handler serves ledger reporting endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	parties PartyReader
	printer *message.Printer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, partyReader PartyReader) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
		parties: partyReader,
		printer: message.NewPrinter(language.English),
	}
}

// MountRoutes registers ledger routes, mounted under /parties.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/ledger", h.showLedger)
}

type entryResponse struct {
	InvoiceNumber  string          `json:"invoice_number"`
	Date           string          `json:"date"`
	Kind           TxKind          `json:"kind"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	Discount       decimal.Decimal `json:"discount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	ReturnAmount   decimal.Decimal `json:"return_amount"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

type ledgerResponse struct {
	PartyID        int64             `json:"party_id"`
	PartyType      parties.PartyType `json:"party_type"`
	Entries        []entryResponse   `json:"entries"`
	Totals         totalsResponse    `json:"totals"`
	StoredBalance  decimal.Decimal   `json:"stored_balance"`
	BalanceInSync  bool              `json:"balance_in_sync"`
	DisplayBalance string            `json:"display_balance"`
}

type totalsResponse struct {
	Gross    decimal.Decimal `json:"gross"`
	Discount decimal.Decimal `json:"discount"`
	Paid     decimal.Decimal `json:"paid"`
	Returned decimal.Decimal `json:"returned"`
	Balance  decimal.Decimal `json:"balance"`
}

// showLedger computes the ledger for one party with an optional date range.
func (h *Handler) showLedger(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid party id")
		return
	}

	rng, err := parseRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	party, err := h.parties.GetParty(r.Context(), id)
	if err != nil {
		if errors.Is(err, parties.ErrPartyNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "party not found")
			return
		}
		h.logger.Error("get party", slog.Any("error", err), slog.Int64("party_id", id))
		httpx.RespondError(w, err)
		return
	}

	entries, totals, err := h.service.ComputeLedger(r.Context(), id, party.Type, rng, decimal.Zero)
	if err != nil {
		var integrity *DataIntegrityError
		if errors.As(err, &integrity) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Data Integrity", integrity.Error())
			return
		}
		h.logger.Error("compute ledger", slog.Any("error", err), slog.Int64("party_id", id))
		httpx.RespondError(w, err)
		return
	}

	resp := ledgerResponse{
		PartyID:   id,
		PartyType: party.Type,
		Entries:   make([]entryResponse, 0, len(entries)),
		Totals: totalsResponse{
			Gross:    totals.Gross,
			Discount: totals.Discount,
			Paid:     totals.Paid,
			Returned: totals.Returned,
			Balance:  totals.Balance,
		},
		StoredBalance:  party.CurrentBalance,
		BalanceInSync:  rng.From.IsZero() && rng.To.IsZero() && totals.Balance.Equal(party.CurrentBalance),
		DisplayBalance: h.printer.Sprintf("%.2f", toFloat(totals.Balance)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryResponse{
			InvoiceNumber:  e.InvoiceNumber,
			Date:           e.Date.Format("2006-01-02"),
			Kind:           e.Kind,
			GrossAmount:    e.GrossAmount,
			Discount:       e.Discount,
			PaidAmount:     e.PaidAmount,
			ReturnAmount:   e.ReturnAmount,
			RunningBalance: e.RunningBalance,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func parseRange(from, to string) (DateRange, error) {
	var rng DateRange
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return DateRange{}, errors.New("invalid from date, expected YYYY-MM-DD")
		}
		rng.From = t
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return DateRange{}, errors.New("invalid to date, expected YYYY-MM-DD")
		}
		rng.To = t
	}
	if !rng.From.IsZero() && !rng.To.IsZero() && rng.To.Before(rng.From) {
		return DateRange{}, errors.New("date range is inverted")
	}
	return rng, nil
}

// toFloat narrows a decimal for display formatting only; arithmetic stays
// decimal throughout.
func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

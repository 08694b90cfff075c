package invoicing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/platform/httpx"
	"github.com/cableworks-erp/cableworks-erp/internal/shared"
	"github.com/cableworks-erp/cableworks-erp/internal/stock"
)

// Handler manages invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.postInvoice)
	r.Post("/returns", h.postReturn)
	r.Post("/returns/validate", h.validateReturn)
	r.Get("/{id}", h.showInvoice)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "invoice not found")
			return
		}
		h.logger.Error("get invoice", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) postInvoice(w http.ResponseWriter, r *http.Request) {
	var req postInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	inv, err := h.service.PostInvoice(r.Context(), input)
	if err != nil {
		h.respondPostingError(w, err, "post invoice")
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) postReturn(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeReturn(w, r)
	if !ok {
		return
	}
	posted, err := h.service.ValidateAndPostReturn(r.Context(), input)
	if err != nil {
		h.respondPostingError(w, err, "post return")
		return
	}
	httpx.JSON(w, http.StatusCreated, posted)
}

// validateReturn runs validation without posting, for preview screens.
func (h *Handler) validateReturn(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeReturn(w, r)
	if !ok {
		return
	}
	vr, err := h.service.ValidateReturn(r.Context(), input.OriginalInvoiceID, input.Lines)
	if err != nil {
		h.respondPostingError(w, err, "validate return")
		return
	}
	httpx.JSON(w, http.StatusOK, vr)
}

func (h *Handler) decodeReturn(w http.ResponseWriter, r *http.Request) (PostReturnInput, bool) {
	var req postReturnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return PostReturnInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return PostReturnInput{}, false
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return PostReturnInput{}, false
	}
	return input, true
}

func (h *Handler) respondPostingError(w http.ResponseWriter, err error, op string) {
	var exceeded *QuantityExceededError
	switch {
	case errors.As(err, &exceeded):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rule Violation", exceeded.Error())
	case errors.Is(err, ErrNonPositiveQuantity),
		errors.Is(err, ErrLineNotFound),
		errors.Is(err, ErrNotReturnable),
		errors.Is(err, stock.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rule Violation", err.Error())
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, parties.ErrPartyNotFound), errors.Is(err, stock.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvoiceCreationFailed):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusConflict, "Invoice Creation Failed", "invoice numbering collided twice, retry the posting")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

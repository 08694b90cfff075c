package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/cableworks-erp/cableworks-erp/internal/platform/httpx"
)

// Handler manages stock endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.showItem)
	r.Get("/{id}/movements", h.listMovements)
	r.Post("/{id}/use", h.applyUse)
}

type useRequest struct {
	Quantity string `json:"quantity" validate:"required"`
	Note     string `json:"note"`
	ActorID  int64  `json:"actor_id"`
}

func (h *Handler) showItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "stock item not found")
			return
		}
		h.logger.Error("get stock item", slog.Any("error", err), slog.Int64("item_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), MovementFilter{ItemID: id, Limit: limit})
	if err != nil {
		h.logger.Error("list stock movements", slog.Any("error", err), slog.Int64("item_id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, movements)
}

// applyUse issues material to production.
func (h *Handler) applyUse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	var req useRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	qty, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity is not a number")
		return
	}

	movement, err := h.service.ApplyUse(r.Context(), MovementInput{
		ItemID:    id,
		Quantity:  qty,
		RefModule: "stock",
		Note:      req.Note,
		ActorID:   req.ActorID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrNonPositiveQuantity):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Rule Violation", err.Error())
		case errors.Is(err, ErrItemNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", "stock item not found")
		default:
			h.logger.Error("apply use", slog.Any("error", err), slog.Int64("item_id", id))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, movement)
}

package parties

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/cableworks-erp/cableworks-erp/internal/platform/httpx"
)

// Handler manages party master data endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers party routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createParty)
	r.Get("/", h.listParties)
	r.Get("/{id}", h.showParty)
}

type createPartyRequest struct {
	Name    string `json:"name" validate:"required"`
	Type    string `json:"type" validate:"required,oneof=CUSTOMER SUPPLIER"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

func (h *Handler) createParty(w http.ResponseWriter, r *http.Request) {
	var req createPartyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	party, err := h.service.CreateParty(r.Context(), PartyInput{
		Name:    req.Name,
		Type:    PartyType(req.Type),
		Phone:   req.Phone,
		Address: req.Address,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidPartyType) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("create party", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, party)
}

func (h *Handler) listParties(w http.ResponseWriter, r *http.Request) {
	typ := PartyType(r.URL.Query().Get("type"))
	list, err := h.service.ListParties(r.Context(), typ)
	if err != nil {
		if errors.Is(err, ErrInvalidPartyType) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		h.logger.Error("list parties", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) showParty(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid party id")
		return
	}
	party, err := h.service.GetParty(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrPartyNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "party not found")
			return
		}
		h.logger.Error("get party", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, party)
}

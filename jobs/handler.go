package jobs

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/platform/httpx"
)

// TaskEnqueuer submits prepared tasks to the queue. *Client satisfies it.
type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handler exposes on-demand job triggers over HTTP.
type Handler struct {
	logger *slog.Logger
	queue  TaskEnqueuer
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, queue TaskEnqueuer) *Handler {
	return &Handler{logger: logger, queue: queue}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/integrity", h.triggerIntegrity)
}

// triggerIntegrity queues a ledger integrity run ahead of the nightly cron.
// Scope narrows the run to one party type; empty checks both.
func (h *Handler) triggerIntegrity(w http.ResponseWriter, r *http.Request) {
	scope := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("scope")))
	switch scope {
	case "", string(parties.TypeCustomer), string(parties.TypeSupplier):
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope must be CUSTOMER or SUPPLIER")
		return
	}

	task, err := NewLedgerIntegrityTask(scope)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	info, err := h.queue.Enqueue(r.Context(), task)
	if err != nil {
		h.logger.Error("enqueue ledger integrity", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "could not enqueue integrity run")
		return
	}

	h.logger.Info("ledger integrity run queued",
		slog.String("task_id", info.ID),
		slog.String("scope", scope))
	httpx.JSON(w, http.StatusAccepted, map[string]string{
		"task_id": info.ID,
		"state":   info.State.String(),
	})
}

package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cableworks-erp/cableworks-erp/internal/invoicing"
	"github.com/cableworks-erp/cableworks-erp/internal/ledger"
	"github.com/cableworks-erp/cableworks-erp/internal/observability"
	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/stock"
	"github.com/cableworks-erp/cableworks-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	PartiesHandler   *parties.Handler
	LedgerHandler    *ledger.Handler
	StockHandler     *stock.Handler
	InvoicingHandler *invoicing.Handler
	JobsHandler      *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/parties", func(r chi.Router) {
		params.PartiesHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
	})
	r.Route("/stock", params.StockHandler.MountRoutes)
	r.Route("/invoices", params.InvoicingHandler.MountRoutes)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

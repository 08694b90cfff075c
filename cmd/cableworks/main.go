package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cableworks-erp/cableworks-erp/internal/app"
	"github.com/cableworks-erp/cableworks-erp/internal/invoicing"
	"github.com/cableworks-erp/cableworks-erp/internal/ledger"
	"github.com/cableworks-erp/cableworks-erp/internal/observability"
	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/platform/cache"
	"github.com/cableworks-erp/cableworks-erp/internal/platform/db"
	"github.com/cableworks-erp/cableworks-erp/internal/shared"
	"github.com/cableworks-erp/cableworks-erp/internal/stock"
	"github.com/cableworks-erp/cableworks-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	partiesRepo := parties.NewRepository(pool)
	partiesService := parties.NewService(partiesRepo)
	partiesHandler := parties.NewHandler(logger, partiesService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, partiesService)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditLogger, redisClient)
	stockHandler := stock.NewHandler(logger, stockService)

	var alloc invoicing.SequenceAllocator = invoicing.MaxAllocator{}
	if cfg.NumberingStrategy == "counter" {
		alloc = invoicing.CounterAllocator{}
	}

	invoicingRepo := invoicing.NewRepository(pool)
	invoicingService := invoicing.NewService(invoicingRepo, stockService, alloc, idempotency, auditLogger, metrics)
	invoicingHandler := invoicing.NewHandler(logger, invoicingService)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(logger, jobsClient)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		PartiesHandler:   partiesHandler,
		LedgerHandler:    ledgerHandler,
		StockHandler:     stockHandler,
		InvoicingHandler: invoicingHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

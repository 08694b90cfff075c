package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cableworks-erp/cableworks-erp/internal/ledger"
	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/shared"
)

// BalanceSource lists stored party balances for the integrity sweep.
type BalanceSource interface {
	ListBalances(ctx context.Context) ([]parties.PartyBalance, error)
}

// BalanceIntegrityJob recomputes each party ledger from transaction history
// and reports drift against the stored balance. It never writes; a mismatch
// is a signal for operators, not something to auto-correct.
type BalanceIntegrityJob struct {
	ledger   *ledger.Service
	balances BalanceSource
	logger   *slog.Logger
}

// NewBalanceIntegrityJob constructs the job.
func NewBalanceIntegrityJob(ledgerSvc *ledger.Service, balances BalanceSource, logger *slog.Logger) *BalanceIntegrityJob {
	return &BalanceIntegrityJob{ledger: ledgerSvc, balances: balances, logger: logger}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *BalanceIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	list, err := j.balances.ListBalances(ctx)
	if err != nil {
		return err
	}

	var checked, drifted, corrupt atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, b := range list {
		b := b
		if payload.Scope != "" && string(b.Type) != payload.Scope {
			continue
		}
		g.Go(func() error {
			checked.Add(1)
			_, totals, err := j.ledger.ComputeLedger(ctx, b.PartyID, b.Type, ledger.DateRange{}, decimal.Zero)
			if err != nil {
				var integrity *ledger.DataIntegrityError
				if errors.As(err, &integrity) {
					corrupt.Add(1)
					j.logger.Warn("ledger rows failed integrity checks",
						slog.Int64("party_id", b.PartyID),
						slog.String("invoice", integrity.InvoiceNumber),
						slog.String("reason", integrity.Reason))
					return nil
				}
				return err
			}
			if !totals.Balance.Equal(b.Stored) {
				drifted.Add(1)
				j.logger.Warn("stored balance drifted from recomputed ledger",
					slog.Int64("party_id", b.PartyID),
					slog.String("stored", b.Stored.String()),
					slog.String("computed", totals.Balance.String()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	j.logger.Info("ledger integrity sweep finished",
		slog.Int64("checked", checked.Load()),
		slog.Int64("drifted", drifted.Load()),
		slog.Int64("corrupt", corrupt.Load()))
	return nil
}

// IdempotencySweepJob deletes idempotency keys older than the retention
// window so the table stays bounded.
type IdempotencySweepJob struct {
	store  *shared.IdempotencyStore
	logger *slog.Logger
}

// NewIdempotencySweepJob constructs the job.
func NewIdempotencySweepJob(store *shared.IdempotencyStore, logger *slog.Logger) *IdempotencySweepJob {
	return &IdempotencySweepJob{store: store, logger: logger}
}

// Handle processes TaskIdempotencySweep tasks.
func (j *IdempotencySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := time.Duration(payload.RetentionHours) * time.Hour
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	if err := j.store.Cleanup(ctx, retention); err != nil {
		return err
	}
	j.logger.Info("idempotency sweep finished", slog.Duration("retention", retention))
	return nil
}

package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity recomputes every party ledger and compares the
	// result against the stored balance.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskIdempotencySweep removes aged idempotency keys.
	TaskIdempotencySweep = "idempotency:sweep"
)

// LedgerIntegrityPayload configures a ledger integrity run.
type LedgerIntegrityPayload struct {
	// Scope restricts the run to CUSTOMER or SUPPLIER; empty checks both.
	Scope string `json:"scope"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(LedgerIntegrityPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// IdempotencySweepPayload configures the retention window in hours.
type IdempotencySweepPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencySweepTask constructs an Asynq task.
func NewIdempotencySweepTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencySweepPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencySweep, data), nil
}

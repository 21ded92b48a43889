package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity replays every item's adjustment history and compares
	// it against the stored running balance.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskCacheWarmup pre-populates the reporting cache after invalidation.
	TaskCacheWarmup = "ledger:cache-warmup"
)

// LedgerIntegrityPayload carries scheduling metadata for the integrity sweep.
type LedgerIntegrityPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity sweep.
func NewLedgerIntegrityTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// CacheWarmupPayload carries scheduling metadata for cache warmup.
type CacheWarmupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCacheWarmupTask constructs an Asynq task for cache warmup.
func NewCacheWarmupTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CacheWarmupPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, body, asynq.Queue(QueueDefault)), nil
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/atelier-erp/atelier-erp/internal/ledger"
)

// CacheWarmer fills the reporting cache with current balances so the first
// dashboard read after an invalidation does not pay the store round trip.
type CacheWarmer struct {
	ledger *ledger.Service
	reader *ledger.CachedReader
	logger *slog.Logger
}

// NewCacheWarmer builds the warmup job handler.
func NewCacheWarmer(svc *ledger.Service, reader *ledger.CachedReader, logger *slog.Logger) *CacheWarmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheWarmer{ledger: svc, reader: reader, logger: logger}
}

// Handle processes TaskCacheWarmup tasks.
func (w *CacheWarmer) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CacheWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	ids, err := w.ledger.ListItemIDs(ctx)
	if err != nil {
		return err
	}

	warmed := 0
	for _, itemID := range ids {
		if _, err := w.reader.ItemBalance(ctx, itemID); err != nil {
			w.logger.Warn("cache warmup read failed",
				slog.String("item", itemID),
				slog.Any("error", err))
			continue
		}
		warmed++
	}

	w.logger.Info("cache warmup finished",
		slog.Int("items", len(ids)),
		slog.Int("warmed", warmed))
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/hibiken/asynq"

	"github.com/atelier-erp/atelier-erp/internal/ledger"
)

// balanceTolerance absorbs float accumulation noise when comparing a replayed
// balance against the stored one. Real drift is orders of magnitude larger.
const balanceTolerance = 1e-6

// IntegrityChecker replays each item's full adjustment history and flags any
// item whose stored balance has drifted from the replayed result.
type IntegrityChecker struct {
	ledger *ledger.Service
	logger *slog.Logger
}

// NewIntegrityChecker builds the integrity job handler.
func NewIntegrityChecker(svc *ledger.Service, logger *slog.Logger) *IntegrityChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityChecker{ledger: svc, logger: logger}
}

// Handle processes TaskLedgerIntegrity tasks.
func (c *IntegrityChecker) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	ids, err := c.ledger.ListItemIDs(ctx)
	if err != nil {
		return err
	}

	mismatches := 0
	for _, itemID := range ids {
		replayed, err := c.ledger.ReplayItem(ctx, itemID)
		if err != nil {
			c.logger.Error("integrity replay failed",
				slog.String("item", itemID),
				slog.Any("error", err))
			mismatches++
			continue
		}
		snap, err := c.ledger.GetItemBalance(ctx, itemID)
		if err != nil {
			c.logger.Error("integrity balance read failed",
				slog.String("item", itemID),
				slog.Any("error", err))
			mismatches++
			continue
		}
		if math.Abs(replayed.Quantity-snap.Quantity) > balanceTolerance ||
			math.Abs(replayed.UnitCost-snap.UnitCost) > balanceTolerance {
			c.logger.Error("ledger balance drift detected",
				slog.String("item", itemID),
				slog.Float64("stored_quantity", snap.Quantity),
				slog.Float64("replayed_quantity", replayed.Quantity),
				slog.Float64("stored_unit_cost", snap.UnitCost),
				slog.Float64("replayed_unit_cost", replayed.UnitCost))
			mismatches++
		}
	}

	c.logger.Info("ledger integrity sweep finished",
		slog.Int("items", len(ids)),
		slog.Int("mismatches", mismatches))
	return nil
}

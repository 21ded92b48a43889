package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

// txState tracks a transaction through the coordinator. Committed and rejected
// are terminal.
type txState string

const (
	stateReceived  txState = "received"
	stateValidated txState = "validated"
	statePriced    txState = "priced"
	stateCommitted txState = "committed"
	stateRejected  txState = "rejected"
)

var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// maxCommitAttempts bounds optimistic retries on version conflicts.
const maxCommitAttempts = 3

// Service coordinates transaction recording against the ledger store.
type Service struct {
	store  Store
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the coordinator. cache may be nil; it is only bumped after
// commits so read-side reports drop stale entries.
func NewService(store Store, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// RecordInput is the envelope of a transaction to record.
type RecordInput struct {
	ID          string
	Date        time.Time
	Description string
	User        string
	Event       Event
}

// RecordOptions tweaks how a transaction is recorded.
type RecordOptions struct {
	// DryRun validates and prices the transaction, reporting the would-be
	// result without persisting anything.
	DryRun bool
}

// RecordTransaction validates, prices and atomically commits one transaction.
// Either every adjustment the event produces is persisted, or none are.
func (s *Service) RecordTransaction(ctx context.Context, input RecordInput, opts RecordOptions) (Transaction, error) {
	state := stateReceived

	if errs := s.validateEnvelope(input); len(errs) > 0 {
		s.logRejected(input.ID, state, errs)
		return Transaction{}, shared.NewValidationError(errs)
	}
	state = stateValidated

	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	description := input.Description
	if description == "" {
		description = "-none-"
	}
	user := input.User
	if user == "" {
		user = "-unknown-"
	}

	itemIDs := input.Event.ItemIDs()
	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		balances, err := s.snapshotBalances(ctx, itemIDs, date)
		if err != nil {
			return Transaction{}, err
		}

		adjustments, err := input.Event.CalculateAdjustments(date, balances)
		if err != nil {
			s.logger.Info("transaction rejected",
				slog.String("transaction", input.ID),
				slog.String("state", string(stateRejected)),
				slog.String("reason", shared.UserSafeMessage(err)))
			return Transaction{}, err
		}
		if err := checkAdjustmentInvariants(adjustments); err != nil {
			s.logger.Error("transaction produced invalid adjustments",
				slog.String("transaction", input.ID),
				slog.Any("error", err))
			return Transaction{}, shared.Internal("ledger: price transaction", err)
		}
		state = statePriced

		tx := Transaction{
			ID:          input.ID,
			Type:        input.Event.Type(),
			Date:        date,
			Description: description,
			User:        user,
			Adjustments: adjustments,
		}
		for i := range tx.Adjustments {
			tx.Adjustments[i].TransactionID = tx.ID
		}

		if opts.DryRun {
			return tx, nil
		}

		expected := make(map[string]int64, len(balances))
		for itemID, snap := range balances {
			expected[itemID] = snap.Version
		}
		err = s.store.AppendTransaction(ctx, tx, expected)
		if err == nil {
			state = stateCommitted
			s.bumpCache(ctx)
			s.logger.Info("transaction committed",
				slog.String("transaction", tx.ID),
				slog.String("type", string(tx.Type)),
				slog.String("state", string(state)),
				slog.Int("adjustments", len(tx.Adjustments)),
				slog.Int("attempt", attempt))
			return tx, nil
		}
		if errors.Is(err, ErrDuplicateTransaction) {
			return Transaction{}, &shared.ConflictError{Resource: "transaction", ID: tx.ID}
		}
		if errors.Is(err, ErrMissingBaseline) {
			return Transaction{}, shared.NewValidationError(shared.FieldErrors{
				"date": "transaction predates the item's opening balance",
			})
		}
		if errors.Is(err, ErrVersionConflict) {
			lastErr = err
			s.logger.Info("transaction commit raced, retrying with fresh reads",
				slog.String("transaction", tx.ID),
				slog.Int("attempt", attempt))
			continue
		}
		return Transaction{}, shared.Internal("ledger: append transaction", err)
	}

	return Transaction{}, &shared.ConflictError{
		Resource: "transaction",
		ID:       input.ID,
		Reason:   fmt.Sprintf("commit kept racing concurrent writers: %v", lastErr),
	}
}

// GetItemBalance returns an item's current derived balance. This read always
// goes to the store; reporting paths that tolerate staleness use CachedReader.
func (s *Service) GetItemBalance(ctx context.Context, itemID string) (BalanceSnapshot, error) {
	snap, err := s.store.GetBalance(ctx, itemID, time.Time{})
	if err != nil {
		return BalanceSnapshot{}, shared.Internal("ledger: get balance", err)
	}
	return snap, nil
}

// GetItemLedger returns the exportable ledger of an item for a date range.
func (s *Service) GetItemLedger(ctx context.Context, itemID string, from, to time.Time) (ItemLedger, error) {
	if itemID == "" {
		return ItemLedger{}, shared.NewValidationError(shared.FieldErrors{"item_id": "item id is required"})
	}
	if to.IsZero() {
		to = s.now()
	}
	adjustments, err := s.store.QueryLedger(ctx, itemID, from, to)
	if err != nil {
		return ItemLedger{}, shared.Internal("ledger: query ledger", err)
	}
	return BuildItemLedger(itemID, from, to, adjustments)
}

// GetTransaction loads a recorded transaction.
func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, shared.Internal("ledger: get transaction", err)
	}
	return tx, nil
}

// ReplayItem recomputes an item's balance from its full adjustment history,
// starting at the baseline. Used by the integrity job and by reconciliation.
func (s *Service) ReplayItem(ctx context.Context, itemID string) (Balance, error) {
	adjustments, err := s.store.QueryLedger(ctx, itemID, time.Time{}, time.Time{})
	if err != nil {
		return Balance{}, shared.Internal("ledger: query ledger", err)
	}
	return ReplayAdjustments(adjustments)
}

// SetTransactionAudited marks a transaction as reconciled (or not). Read-side
// caches are bumped because pending counts on balances change.
func (s *Service) SetTransactionAudited(ctx context.Context, id string, audited bool) error {
	if err := s.store.SetTransactionAudited(ctx, id, audited); err != nil {
		return shared.Internal("ledger: set transaction audited", err)
	}
	s.bumpCache(ctx)
	return nil
}

// ListItemIDs exposes the store's item enumeration for background jobs.
func (s *Service) ListItemIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListItemIDs(ctx)
	if err != nil {
		return nil, shared.Internal("ledger: list items", err)
	}
	return ids, nil
}

func (s *Service) validateEnvelope(input RecordInput) shared.FieldErrors {
	errs := shared.FieldErrors{}
	if input.ID == "" {
		errs["id"] = "transaction id is required"
	} else if !idPattern.MatchString(input.ID) {
		errs["id"] = "transaction id must match ^[a-z0-9-]+$"
	}
	if input.Event == nil {
		errs["type"] = "a transaction event is required"
		return errs
	}
	errs.Merge(input.Event.Validate())
	return errs
}

// snapshotBalances reads every touched item's balance concurrently. The
// version tokens carried by the snapshots make the reads consistent with the
// eventual commit: any movement in between fails the conditional write.
func (s *Service) snapshotBalances(ctx context.Context, itemIDs []string, asOf time.Time) (map[string]BalanceSnapshot, error) {
	balances := make(map[string]BalanceSnapshot, len(itemIDs))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, itemID := range itemIDs {
		g.Go(func() error {
			snap, err := s.store.GetBalance(ctx, itemID, asOf)
			if err != nil {
				return err
			}
			mu.Lock()
			balances[itemID] = snap
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, shared.Internal("ledger: snapshot balances", err)
	}
	return balances, nil
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) logRejected(id string, state txState, errs shared.FieldErrors) {
	s.logger.Info("transaction rejected",
		slog.String("transaction", id),
		slog.String("state", string(state)),
		slog.Int("field_errors", len(errs)))
}

// checkAdjustmentInvariants re-verifies type-level constraints on priced
// adjustments before anything is persisted.
func checkAdjustmentInvariants(adjustments []Adjustment) error {
	for _, adj := range adjustments {
		if !adj.Type.Valid() {
			return fmt.Errorf("unknown adjustment type %q for item %s", adj.Type, adj.ItemID)
		}
		if adj.UnitCost < 0 || adj.EndingUnitCost < 0 {
			return fmt.Errorf("negative unit cost on %s adjustment for item %s", adj.Type, adj.ItemID)
		}
		switch adj.Type {
		case AdjustmentPurchase, AdjustmentManufacture:
			if adj.Quantity <= 0 {
				return fmt.Errorf("%s adjustment for item %s must have positive quantity", adj.Type, adj.ItemID)
			}
		case AdjustmentSale, AdjustmentConsume:
			if adj.Quantity >= 0 {
				return fmt.Errorf("%s adjustment for item %s must have negative quantity", adj.Type, adj.ItemID)
			}
		}
	}
	return nil
}

package items

import (
	"context"
	"log/slog"
	"time"

	"github.com/atelier-erp/atelier-erp/internal/ledger"
	"github.com/atelier-erp/atelier-erp/internal/shared"
)

// Recorder is the ledger collaborator used to seed a new item's baseline.
type Recorder interface {
	RecordTransaction(ctx context.Context, input ledger.RecordInput, opts ledger.RecordOptions) (ledger.Transaction, error)
}

// Service coordinates item master operations.
type Service struct {
	repo      Repository
	recorder  Recorder
	logger    *slog.Logger
	startDate time.Time
}

// NewService builds the items service. startDate anchors the INITIAL
// adjustment recorded for every new item so baselines sort before any
// same-day business transaction.
func NewService(repo Repository, recorder Recorder, logger *slog.Logger, startDate time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, recorder: recorder, logger: logger, startDate: startDate}
}

// List returns items matching the filters together with the total count.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, shared.Internal("items: list", err)
	}
	return items, total, nil
}

// Get loads one item.
func (s *Service) Get(ctx context.Context, id string) (Item, error) {
	item, err := s.repo.Get(ctx, id)
	if err != nil {
		return Item{}, shared.Internal("items: get", err)
	}
	return item, nil
}

// Create inserts the item and records its baseline INITIAL transaction.
// The caller supplies the id; quantity and cost live only in the ledger.
func (s *Service) Create(ctx context.Context, item Item, initial *InitialStock) (Item, error) {
	applyDefaults(&item)
	if errs := validate(item); len(errs) > 0 {
		return Item{}, shared.NewValidationError(errs)
	}
	if initial != nil {
		if errs := validateInitial(*initial); len(errs) > 0 {
			return Item{}, shared.NewValidationError(errs)
		}
	}

	created, err := s.repo.Create(ctx, item)
	if err != nil {
		return Item{}, shared.Internal("items: create", err)
	}

	seed := InitialStock{}
	if initial != nil {
		seed = *initial
	}
	date := s.startDate
	if date.IsZero() {
		date = created.CreatedAt
	}
	_, err = s.recorder.RecordTransaction(ctx, ledger.RecordInput{
		ID:          created.ID + "-initial",
		Date:        date,
		Description: "Opening balance for " + created.Name,
		Event: &ledger.InitialEvent{Lines: []ledger.InitialLine{{
			ItemID:   created.ID,
			Quantity: seed.Quantity,
			UnitCost: seed.UnitCost,
		}}},
	}, ledger.RecordOptions{})
	if err != nil {
		s.logger.Error("failed to seed item baseline",
			slog.String("item", created.ID),
			slog.Any("error", err))
		// Remove the orphaned row so the id stays free for a retried create.
		if delErr := s.repo.Delete(ctx, created.ID); delErr != nil {
			s.logger.Error("failed to remove item after seeding failed",
				slog.String("item", created.ID),
				slog.Any("error", delErr))
		}
		return Item{}, err
	}
	return created, nil
}

// Patch applies metadata-only updates to an item.
func (s *Service) Patch(ctx context.Context, id string, patch Patch) (Item, error) {
	if errs := validatePatch(patch); len(errs) > 0 {
		return Item{}, shared.NewValidationError(errs)
	}
	item, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return Item{}, shared.Internal("items: patch", err)
	}
	return item, nil
}

func applyDefaults(item *Item) {
	if item.Unit == "" {
		item.Unit = "each"
	}
	if item.Account == "" {
		item.Account = "Raw Materials"
	}
}

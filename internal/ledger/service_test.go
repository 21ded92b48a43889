package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

var testDay = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	return NewService(store, nil, nil), store
}

func seedItem(t *testing.T, svc *Service, itemID string, quantity, unitCost float64) {
	t.Helper()
	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   itemID + "-initial",
		Date: testDay.Add(-24 * time.Hour),
		Event: &InitialEvent{Lines: []InitialLine{{
			ItemID: itemID, Quantity: quantity, UnitCost: unitCost,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)
}

func TestRecordTransactionWeightedAverage(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	tx, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-1001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 10, UnitCost: 4,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)
	require.Len(t, tx.Adjustments, 1)
	require.Equal(t, "po-1001", tx.Adjustments[0].TransactionID)

	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 20, snap.Quantity, 1e-9)
	require.InDelta(t, 3, snap.UnitCost, 1e-9)
	require.EqualValues(t, 2, snap.Version)
}

func TestRecordTransactionDefaultsAndValidation(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "walnut-slab", 5, 10)

	tx, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-1002",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "walnut-slab", Quantity: 1, UnitCost: 10,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)
	require.Equal(t, "-none-", tx.Description)
	require.Equal(t, "-unknown-", tx.User)

	_, err = svc.RecordTransaction(context.Background(), RecordInput{
		ID:    "Bad_ID",
		Event: &PurchaseEvent{Lines: []PurchaseLine{{ItemID: "walnut-slab", Quantity: 1, UnitCost: 1}}},
	}, RecordOptions{})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Contains(t, validation.Fields, "id")
}

func TestRecordTransactionRequiresBaseline(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-2001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "ghost-item", Quantity: 1, UnitCost: 1,
		}}},
	}, RecordOptions{})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestRecordTransactionDuplicateID(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "brass-hinge", 100, 0.5)

	input := RecordInput{
		ID:   "po-3001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "brass-hinge", Quantity: 50, UnitCost: 0.6,
		}}},
	}
	_, err := svc.RecordTransaction(context.Background(), input, RecordOptions{})
	require.NoError(t, err)

	_, err = svc.RecordTransaction(context.Background(), input, RecordOptions{})
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "po-3001", conflict.ID)
}

func TestRecordTransactionOversellRejected(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(t, svc, "oak-plank", 3, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "so-4001",
		Date: testDay,
		Event: &SaleEvent{Lines: []SaleLine{{
			ItemID: "oak-plank", Quantity: 5,
		}}},
	}, RecordOptions{})
	var insufficient *shared.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "oak-plank", insufficient.ItemID)
	require.InDelta(t, 5, insufficient.Requested, 1e-9)
	require.InDelta(t, 3, insufficient.Available, 1e-9)

	// Nothing was persisted.
	_, ok := store.transactions["so-4001"]
	require.False(t, ok)
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 3, snap.Quantity, 1e-9)
}

func TestRecordTransactionCountOverride(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	total := 21.0
	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "count-5001",
		Date: testDay,
		Event: &CountEvent{Lines: []CountLine{{
			ItemID: "oak-plank", Quantity: 7, TotalCost: &total,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 7, snap.Quantity, 1e-9)
	require.InDelta(t, 3, snap.UnitCost, 1e-9)
}

func TestRecordTransactionManufactureAtomicRejection(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)
	seedItem(t, svc, "brass-hinge", 1, 0.5)
	seedItem(t, svc, "cabinet", 0, 0)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "mo-6001",
		Date: testDay,
		Event: &ManufactureEvent{
			ProductID:       "cabinet",
			ProductQuantity: 1,
			Materials: []MaterialLine{
				{ItemID: "oak-plank", Quantity: 4},
				{ItemID: "brass-hinge", Quantity: 2},
			},
		},
	}, RecordOptions{})
	var insufficient *shared.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "brass-hinge", insufficient.ItemID)

	// No material was consumed despite oak-plank having enough stock.
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 10, snap.Quantity, 1e-9)
	_, ok := store.transactions["mo-6001"]
	require.False(t, ok)
}

func TestRecordTransactionManufactureCosting(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)
	seedItem(t, svc, "brass-hinge", 10, 0.5)
	seedItem(t, svc, "cabinet", 0, 0)

	tx, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "mo-6002",
		Date: testDay,
		Event: &ManufactureEvent{
			ProductID:       "cabinet",
			ProductQuantity: 2,
			Materials: []MaterialLine{
				{ItemID: "oak-plank", Quantity: 4},
				{ItemID: "brass-hinge", Quantity: 4},
			},
			AdditionalCosts: []AdditionalCost{{Label: "labour", Amount: 10}},
		},
	}, RecordOptions{})
	require.NoError(t, err)
	require.Len(t, tx.Adjustments, 3)

	// Materials: 4*2 + 4*0.5 = 10, plus 10 labour, over 2 units.
	snap, err := svc.GetItemBalance(context.Background(), "cabinet")
	require.NoError(t, err)
	require.InDelta(t, 2, snap.Quantity, 1e-9)
	require.InDelta(t, 10, snap.UnitCost, 1e-9)

	snap, err = svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 6, snap.Quantity, 1e-9)
	require.InDelta(t, 2, snap.UnitCost, 1e-9)
}

func TestRecordTransactionDryRun(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	tx, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-7001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 10, UnitCost: 4,
		}}},
	}, RecordOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, tx.Adjustments, 1)
	require.InDelta(t, 3, tx.Adjustments[0].EndingUnitCost, 1e-9)

	_, ok := store.transactions["po-7001"]
	require.False(t, ok)
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.EqualValues(t, 1, snap.Version)
	require.InDelta(t, 10, snap.Quantity, 1e-9)
}

func TestRecordTransactionRetriesOnVersionConflict(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	// A concurrent purchase of 5 @ $2 lands between this writer's snapshot
	// read and its commit.
	store.beforeAppend = func(s *memoryStore) {
		s.apply(Transaction{
			ID:   "po-8000",
			Type: TransactionPurchase,
			Date: testDay,
			Adjustments: []Adjustment{{
				ID: "racer", TransactionID: "po-8000", ItemID: "oak-plank",
				Date: testDay, Type: AdjustmentPurchase,
				Quantity: 5, UnitCost: 2,
				EndingQuantity: 15, EndingUnitCost: 2,
			}},
		})
	}

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-8001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 3, UnitCost: 4,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	// Both purchases are reflected: 15 + 3 = 18 units, repriced from the
	// refreshed snapshot.
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 18, snap.Quantity, 1e-9)
	require.InDelta(t, RoundCents((15*2+3*4)/18.0), snap.UnitCost, 1e-9)
	require.EqualValues(t, 3, snap.Version)
}

func TestRecordBackdatedTransactionRederivesTail(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-c001",
		Date: testDay.Add(48 * time.Hour),
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 10, UnitCost: 4,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	tx, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "so-c002",
		Date: testDay,
		Event: &SaleEvent{Lines: []SaleLine{{
			ItemID: "oak-plank", Quantity: 8,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	// COGS is priced against the balance as of the sale date, not today's.
	require.InDelta(t, 2, tx.Adjustments[0].UnitCost, 1e-9)
	require.InDelta(t, 2, tx.Adjustments[0].EndingQuantity, 1e-9)

	// The later purchase now folds into a balance of 2 @ $2:
	// 12 units at (2*2 + 10*4) / 12 = $3.67.
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 12, snap.Quantity, 1e-9)
	require.InDelta(t, 3.67, snap.UnitCost, 1e-9)
	require.EqualValues(t, 3, snap.Version)

	// Stored endings agree with a full replay in ledger order.
	replayed, err := svc.ReplayItem(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, snap.Quantity, replayed.Quantity, 1e-9)
	require.InDelta(t, snap.UnitCost, replayed.UnitCost, 1e-9)

	// The purchase's stored endings were rewritten with it.
	stored, err := svc.GetTransaction(context.Background(), "po-c001")
	require.NoError(t, err)
	require.InDelta(t, 12, stored.Adjustments[0].EndingQuantity, 1e-9)
	require.InDelta(t, 3.67, stored.Adjustments[0].EndingUnitCost, 1e-9)
}

func TestRecordTransactionPredatingBaselineRejected(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-c003",
		Date: testDay.Add(-72 * time.Hour),
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 1, UnitCost: 1,
		}}},
	}, RecordOptions{})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Contains(t, validation.Fields, "date")

	_, ok := store.transactions["po-c003"]
	require.False(t, ok)
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, 10, snap.Quantity, 1e-9)
	require.EqualValues(t, 1, snap.Version)
}

func TestGetBalanceAsOfPricesPointInTime(t *testing.T) {
	svc, store := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-c004",
		Date: testDay.Add(48 * time.Hour),
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 10, UnitCost: 4,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	// Between the baseline and the purchase: the baseline's endings, with the
	// current version token.
	snap, err := store.GetBalance(context.Background(), "oak-plank", testDay)
	require.NoError(t, err)
	require.InDelta(t, 10, snap.Quantity, 1e-9)
	require.InDelta(t, 2, snap.UnitCost, 1e-9)
	require.EqualValues(t, 2, snap.Version)

	// Before any history: empty balance, same version token.
	snap, err = store.GetBalance(context.Background(), "oak-plank", testDay.Add(-48*time.Hour))
	require.NoError(t, err)
	require.InDelta(t, 0, snap.Quantity, 1e-9)
	require.InDelta(t, 0, snap.UnitCost, 1e-9)
	require.EqualValues(t, 2, snap.Version)

	// Zero asOf means now.
	snap, err = store.GetBalance(context.Background(), "oak-plank", time.Time{})
	require.NoError(t, err)
	require.InDelta(t, 20, snap.Quantity, 1e-9)
	require.InDelta(t, 3, snap.UnitCost, 1e-9)
}

func TestSetTransactionAuditedAdjustsPending(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-9001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 1, UnitCost: 2,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.Equal(t, 2, snap.Pending)

	require.NoError(t, svc.SetTransactionAudited(context.Background(), "po-9001", true))
	snap, err = svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.Equal(t, 1, snap.Pending)

	tx, err := svc.GetTransaction(context.Background(), "po-9001")
	require.NoError(t, err)
	require.True(t, tx.Audited)
}

func TestReplayItemMatchesStoredBalance(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "po-a001",
		Date: testDay,
		Event: &PurchaseEvent{Lines: []PurchaseLine{{
			ItemID: "oak-plank", Quantity: 10, UnitCost: 4,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)
	_, err = svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "so-a002",
		Date: testDay.Add(time.Hour),
		Event: &SaleEvent{Lines: []SaleLine{{
			ItemID: "oak-plank", Quantity: 8,
		}}},
	}, RecordOptions{})
	require.NoError(t, err)

	replayed, err := svc.ReplayItem(context.Background(), "oak-plank")
	require.NoError(t, err)
	snap, err := svc.GetItemBalance(context.Background(), "oak-plank")
	require.NoError(t, err)
	require.InDelta(t, snap.Quantity, replayed.Quantity, 1e-9)
	require.InDelta(t, snap.UnitCost, replayed.UnitCost, 1e-9)
}

func TestInitialEventRejectedOnExistingHistory(t *testing.T) {
	svc, _ := newTestService(t)
	seedItem(t, svc, "oak-plank", 10, 2)

	_, err := svc.RecordTransaction(context.Background(), RecordInput{
		ID:   "init-b001",
		Date: testDay,
		Event: &InitialEvent{Lines: []InitialLine{{
			ItemID: "oak-plank", Quantity: 5, UnitCost: 1,
		}}},
	}, RecordOptions{})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
}

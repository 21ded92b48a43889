package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundCents(t *testing.T) {
	require.InDelta(t, 2.01, RoundCents(2.005), 1e-9)
	require.InDelta(t, 2.68, RoundCents(2.675), 1e-9)
	require.InDelta(t, -1.13, RoundCents(-1.125), 1e-9)
	require.InDelta(t, 3, RoundCents(3), 1e-9)
}

func TestRecalculatePurchaseWeightedAverage(t *testing.T) {
	ending, err := Recalculate(Balance{Quantity: 10, UnitCost: 2}, Adjustment{
		Type: AdjustmentPurchase, Quantity: 10, UnitCost: 4,
	})
	require.NoError(t, err)
	require.InDelta(t, 20, ending.Quantity, 1e-9)
	require.InDelta(t, 3, ending.UnitCost, 1e-9)
}

func TestRecalculatePurchaseIntoNegativeBalance(t *testing.T) {
	// The first 5 units repay the oversold balance; only the remaining 5
	// establish a cost basis.
	ending, err := Recalculate(Balance{Quantity: -5, UnitCost: 0}, Adjustment{
		Type: AdjustmentPurchase, Quantity: 10, UnitCost: 4,
	})
	require.NoError(t, err)
	require.InDelta(t, 5, ending.Quantity, 1e-9)
	require.InDelta(t, 2, ending.UnitCost, 1e-9)

	// The purchase does not even cover the deficit.
	ending, err = Recalculate(Balance{Quantity: -10, UnitCost: 0}, Adjustment{
		Type: AdjustmentPurchase, Quantity: 4, UnitCost: 4,
	})
	require.NoError(t, err)
	require.InDelta(t, -6, ending.Quantity, 1e-9)
	require.InDelta(t, 0, ending.UnitCost, 1e-9)
}

func TestRecalculateSaleKeepsCostBasis(t *testing.T) {
	ending, err := Recalculate(Balance{Quantity: 20, UnitCost: 3}, Adjustment{
		Type: AdjustmentSale, Quantity: -8, UnitCost: 3,
	})
	require.NoError(t, err)
	require.InDelta(t, 12, ending.Quantity, 1e-9)
	require.InDelta(t, 3, ending.UnitCost, 1e-9)
}

func TestRecalculateAuditOverrides(t *testing.T) {
	ending, err := Recalculate(Balance{Quantity: 20, UnitCost: 3}, Adjustment{
		Type: AdjustmentAudit, Quantity: 7, UnitCost: 2.5,
	})
	require.NoError(t, err)
	require.InDelta(t, 7, ending.Quantity, 1e-9)
	require.InDelta(t, 2.5, ending.UnitCost, 1e-9)
}

func TestRecalculateRejectsInvalidInputs(t *testing.T) {
	_, err := Recalculate(Balance{}, Adjustment{Type: AdjustmentInitial, Quantity: 1})
	require.ErrorIs(t, err, ErrInitialNotFirst)

	_, err = Recalculate(Balance{}, Adjustment{Type: AdjustmentManual, Quantity: 1})
	require.ErrorIs(t, err, ErrUnsupportedAdjustment)

	_, err = Recalculate(Balance{}, Adjustment{Type: AdjustmentPurchase, Quantity: -1, UnitCost: 1})
	require.Error(t, err)

	_, err = Recalculate(Balance{}, Adjustment{Type: AdjustmentSale, Quantity: 1})
	require.Error(t, err)

	_, err = Recalculate(Balance{}, Adjustment{Type: AdjustmentType("BOGUS"), Quantity: 1})
	require.Error(t, err)
}

func TestReplayAdjustments(t *testing.T) {
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	adjustments := []Adjustment{
		{Type: AdjustmentInitial, Date: day, Quantity: 10, UnitCost: 2},
		{Type: AdjustmentPurchase, Date: day.AddDate(0, 0, 1), Quantity: 10, UnitCost: 4},
		{Type: AdjustmentSale, Date: day.AddDate(0, 0, 2), Quantity: -8, UnitCost: 3},
	}
	balance, err := ReplayAdjustments(adjustments)
	require.NoError(t, err)
	require.InDelta(t, 12, balance.Quantity, 1e-9)
	require.InDelta(t, 3, balance.UnitCost, 1e-9)
}

func TestRederiveEndingsRecomputesTail(t *testing.T) {
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	// A sale inserted between the baseline and a purchase: both downstream
	// entries carry endings derived from the old sequence.
	adjustments := []Adjustment{
		{ID: "a", Type: AdjustmentInitial, Date: day, Quantity: 10, UnitCost: 2, EndingQuantity: 10, EndingUnitCost: 2},
		{ID: "b", Type: AdjustmentSale, Date: day.AddDate(0, 0, 1), Quantity: -8, UnitCost: 3, EndingQuantity: 12, EndingUnitCost: 3},
		{ID: "c", Type: AdjustmentPurchase, Date: day.AddDate(0, 0, 2), Quantity: 10, UnitCost: 4, EndingQuantity: 20, EndingUnitCost: 3},
	}
	changed, final, err := RederiveEndings(adjustments)
	require.NoError(t, err)
	require.InDelta(t, 12, final.Quantity, 1e-9)
	require.InDelta(t, 3.67, final.UnitCost, 1e-9)
	require.Len(t, changed, 2)

	// The sale's cost basis is refreshed from its new predecessor.
	require.InDelta(t, 2, adjustments[1].UnitCost, 1e-9)
	require.InDelta(t, 2, adjustments[1].EndingQuantity, 1e-9)
	require.InDelta(t, 2, adjustments[1].EndingUnitCost, 1e-9)
	require.InDelta(t, 12, adjustments[2].EndingQuantity, 1e-9)
	require.InDelta(t, 3.67, adjustments[2].EndingUnitCost, 1e-9)
}

func TestRederiveEndingsStableSequenceUnchanged(t *testing.T) {
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	adjustments := []Adjustment{
		{ID: "a", Type: AdjustmentInitial, Date: day, Quantity: 10, UnitCost: 2, EndingQuantity: 10, EndingUnitCost: 2},
		{ID: "b", Type: AdjustmentPurchase, Date: day.AddDate(0, 0, 1), Quantity: 10, UnitCost: 4, EndingQuantity: 20, EndingUnitCost: 3},
	}
	changed, final, err := RederiveEndings(adjustments)
	require.NoError(t, err)
	require.Empty(t, changed)
	require.InDelta(t, 20, final.Quantity, 1e-9)
	require.InDelta(t, 3, final.UnitCost, 1e-9)
}

func TestRederiveEndingsRequiresBaseline(t *testing.T) {
	_, _, err := RederiveEndings(nil)
	require.ErrorIs(t, err, ErrMissingBaseline)

	_, _, err = RederiveEndings([]Adjustment{
		{Type: AdjustmentPurchase, Quantity: 5, UnitCost: 1},
	})
	require.ErrorIs(t, err, ErrMissingBaseline)
}

func TestReplayAdjustmentsRequiresBaseline(t *testing.T) {
	_, err := ReplayAdjustments(nil)
	require.ErrorIs(t, err, ErrMissingBaseline)

	_, err = ReplayAdjustments([]Adjustment{
		{Type: AdjustmentPurchase, Quantity: 5, UnitCost: 1},
	})
	require.ErrorIs(t, err, ErrMissingBaseline)
}

package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedAdjustment rejects types the recalculation rule does not cover.
var ErrUnsupportedAdjustment = errors.New("ledger: recalculation does not support this adjustment type")

// ErrInitialNotFirst rejects an INITIAL adjustment chained after history.
var ErrInitialNotFirst = errors.New("ledger: nothing can precede an initial adjustment")

// ErrMissingBaseline indicates a ledger whose first adjustment is not a
// baseline; recalculating from such a starting point is invalid.
var ErrMissingBaseline = errors.New("ledger: missing baseline adjustment")

// RoundCents rounds a currency amount half-up to two decimal places.
// Intermediate arithmetic keeps full float precision; this is the single
// rounding step applied to currency outputs.
func RoundCents(v float64) float64 {
	rounded, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return rounded
}

// Recalculate derives the ending balance of one pending adjustment from the
// balance left by the adjustment immediately preceding it. It never looks
// further back than that.
func Recalculate(existing Balance, adj Adjustment) (Balance, error) {
	switch adj.Type {
	case AdjustmentInitial:
		return Balance{}, ErrInitialNotFirst

	case AdjustmentAudit:
		// Counted values replace the running balance outright.
		return Balance{Quantity: adj.Quantity, UnitCost: RoundCents(adj.UnitCost)}, nil

	case AdjustmentPurchase, AdjustmentManufacture:
		if adj.Quantity <= 0 {
			return Balance{}, fmt.Errorf("ledger: %s adjustments must have positive quantity", adj.Type)
		}
		if adj.UnitCost < 0 {
			return Balance{}, errors.New("ledger: unit cost cannot be negative")
		}
		ending := Balance{Quantity: existing.Quantity + adj.Quantity}
		if existing.Quantity >= 0 {
			ending.UnitCost = RoundCents((existing.TotalCost() + adj.Quantity*adj.UnitCost) / ending.Quantity)
			return ending, nil
		}
		// Oversold stock: the purchase first repays the negative balance and
		// only the remainder establishes a cost basis.
		remaining := existing.Quantity + adj.Quantity
		if remaining <= 0 {
			ending.UnitCost = 0
			return ending, nil
		}
		ending.UnitCost = RoundCents(remaining * adj.UnitCost / adj.Quantity)
		return ending, nil

	case AdjustmentSale, AdjustmentConsume:
		if adj.Quantity >= 0 {
			return Balance{}, fmt.Errorf("ledger: %s adjustments must have negative quantity", adj.Type)
		}
		// Outbound movements never change the weighted-average cost basis.
		return Balance{Quantity: existing.Quantity + adj.Quantity, UnitCost: existing.UnitCost}, nil

	case AdjustmentManual:
		return Balance{}, ErrUnsupportedAdjustment

	default:
		return Balance{}, fmt.Errorf("ledger: invalid adjustment type %q", adj.Type)
	}
}

// RederiveEndings walks an item's full adjustment sequence in ledger order and
// recomputes every ending value from its immediate predecessor. Outbound
// adjustments also take their cost basis from the balance they now follow, so
// an entry inserted earlier in the sequence propagates through everything
// after it. The sequence must start with a baseline adjustment. It mutates the
// slice in place and returns the adjustments whose stored values changed,
// together with the final balance.
func RederiveEndings(adjustments []Adjustment) ([]Adjustment, Balance, error) {
	if len(adjustments) == 0 || !adjustments[0].Type.IsBaseline() {
		return nil, Balance{}, ErrMissingBaseline
	}
	var changed []Adjustment
	balance := Balance{Quantity: adjustments[0].Quantity, UnitCost: RoundCents(adjustments[0].UnitCost)}
	if adjustments[0].EndingQuantity != balance.Quantity || adjustments[0].EndingUnitCost != balance.UnitCost {
		adjustments[0].EndingQuantity = balance.Quantity
		adjustments[0].EndingUnitCost = balance.UnitCost
		changed = append(changed, adjustments[0])
	}
	for i := 1; i < len(adjustments); i++ {
		adj := &adjustments[i]
		before := *adj
		if adj.Type == AdjustmentSale || adj.Type == AdjustmentConsume {
			adj.UnitCost = balance.UnitCost
		}
		next, err := Recalculate(balance, *adj)
		if err != nil {
			return nil, Balance{}, err
		}
		adj.EndingQuantity = next.Quantity
		adj.EndingUnitCost = next.UnitCost
		if *adj != before {
			changed = append(changed, *adj)
		}
		balance = next
	}
	return changed, balance, nil
}

// ReplayAdjustments folds an item's full adjustment sequence into its ending
// balance. The sequence must already be in ledger order and must start with a
// baseline adjustment.
func ReplayAdjustments(adjustments []Adjustment) (Balance, error) {
	if len(adjustments) == 0 {
		return Balance{}, ErrMissingBaseline
	}
	first := adjustments[0]
	if !first.Type.IsBaseline() {
		return Balance{}, ErrMissingBaseline
	}
	balance := Balance{Quantity: first.Quantity, UnitCost: RoundCents(first.UnitCost)}
	for _, adj := range adjustments[1:] {
		next, err := Recalculate(balance, adj)
		if err != nil {
			return Balance{}, err
		}
		balance = next
	}
	return balance, nil
}

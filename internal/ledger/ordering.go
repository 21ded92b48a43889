package ledger

import (
	"fmt"
	"sort"
)

// CompareAdjustments orders two adjustments into the sequence they appear in a
// ledger: date ascending, then type rank, then quantity as a deterministic
// fallback. An unknown type means corrupted data, never user input, so it is
// returned as an error for the caller to treat as fatal.
func CompareAdjustments(a, b Adjustment) (int, error) {
	rankA, okA := typeRanks[a.Type]
	rankB, okB := typeRanks[b.Type]
	if !okA || !okB {
		return 0, fmt.Errorf("ledger: cannot order unknown adjustment types %q and %q", a.Type, b.Type)
	}
	if !a.Date.Equal(b.Date) {
		if a.Date.Before(b.Date) {
			return -1, nil
		}
		return 1, nil
	}
	if rankA != rankB {
		if rankA < rankB {
			return -1, nil
		}
		return 1, nil
	}
	switch {
	case a.Quantity < b.Quantity:
		return -1, nil
	case a.Quantity > b.Quantity:
		return 1, nil
	default:
		return 0, nil
	}
}

// SortAdjustments sorts adjustments in place into ledger order. It fails when
// any adjustment carries an unrecognised type.
func SortAdjustments(adjustments []Adjustment) error {
	for _, adj := range adjustments {
		if !adj.Type.Valid() {
			return fmt.Errorf("ledger: cannot order unknown adjustment type %q", adj.Type)
		}
	}
	sort.SliceStable(adjustments, func(i, j int) bool {
		cmp, _ := CompareAdjustments(adjustments[i], adjustments[j])
		return cmp < 0
	})
	return nil
}

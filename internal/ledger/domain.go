package ledger

import (
	"time"
)

// AdjustmentType enumerates supported ledger adjustments. The declaration
// order below is also the tie-break order for same-date adjustments.
type AdjustmentType string

const (
	// AdjustmentInitial seeds an item's very first balance.
	AdjustmentInitial AdjustmentType = "INITIAL"
	// AdjustmentAudit overrides the running balance with counted values.
	AdjustmentAudit AdjustmentType = "AUDIT"
	// AdjustmentManual is reserved for hand-entered corrections.
	AdjustmentManual AdjustmentType = "MANUAL"
	// AdjustmentPurchase records stock bought in.
	AdjustmentPurchase AdjustmentType = "PURCHASE"
	// AdjustmentManufacture records stock produced in-house.
	AdjustmentManufacture AdjustmentType = "MANUFACTURE"
	// AdjustmentConsume records material used by manufacturing.
	AdjustmentConsume AdjustmentType = "CONSUME"
	// AdjustmentSale records stock sold.
	AdjustmentSale AdjustmentType = "SALE"
)

// typeRanks fixes the order in which same-date adjustments sort.
var typeRanks = map[AdjustmentType]int{
	AdjustmentInitial:     0,
	AdjustmentAudit:       1,
	AdjustmentManual:      2,
	AdjustmentPurchase:    3,
	AdjustmentManufacture: 4,
	AdjustmentConsume:     5,
	AdjustmentSale:        6,
}

// Valid reports whether t is a known adjustment type.
func (t AdjustmentType) Valid() bool {
	_, ok := typeRanks[t]
	return ok
}

// IsBaseline reports whether the type overrides the running balance outright.
// Every recalculation must start from a baseline adjustment.
func (t AdjustmentType) IsBaseline() bool {
	return t == AdjustmentInitial || t == AdjustmentAudit
}

// Adjustment is one immutable entry in an item's append-only ledger.
// For baseline types Quantity and UnitCost carry the override target; for all
// other types Quantity is the signed delta and UnitCost prices that delta.
type Adjustment struct {
	ID             string         `json:"id"`
	TransactionID  string         `json:"transaction_id"`
	ItemID         string         `json:"item_id"`
	Date           time.Time      `json:"date"`
	Type           AdjustmentType `json:"type"`
	Quantity       float64        `json:"quantity"`
	UnitCost       float64        `json:"unit_cost"`
	EndingQuantity float64        `json:"ending_quantity"`
	EndingUnitCost float64        `json:"ending_unit_cost"`
	Audited        bool           `json:"audited"`
}

// Balance is the derived quantity and weighted-average unit cost of an item.
type Balance struct {
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unit_cost"`
}

// TotalCost returns the total cost basis of the balance.
func (b Balance) TotalCost() float64 {
	return b.Quantity * b.UnitCost
}

// BalanceSnapshot is a point-in-time balance read carrying the optimistic
// concurrency token of the item's ledger. Version zero means the item has no
// ledger history yet. Pending counts transactions awaiting reconciliation.
type BalanceSnapshot struct {
	Balance
	Version int64 `json:"version"`
	Pending int   `json:"pending"`
}

// TransactionType enumerates the business events a transaction can carry.
type TransactionType string

const (
	TransactionInitial     TransactionType = "Initial"
	TransactionCount       TransactionType = "Count"
	TransactionPurchase    TransactionType = "Purchase"
	TransactionSale        TransactionType = "Sale"
	TransactionManufacture TransactionType = "Manufacture"
)

// Transaction is the append-only record of one business event together with
// every adjustment it produced. It is created exactly once; only the audited
// flag may be flipped later by reconciliation.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	User        string          `json:"user"`
	Audited     bool            `json:"audited"`
	Adjustments []Adjustment    `json:"adjustments"`
}

package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
)

// LedgerRow is one exportable ledger line: the adjustment's delta together
// with the running totals it left behind.
type LedgerRow struct {
	Date            time.Time      `json:"date"`
	TransactionID   string         `json:"transaction_id"`
	Type            AdjustmentType `json:"type"`
	Quantity        float64        `json:"quantity"`
	Cost            float64        `json:"cost"`
	UnitCost        float64        `json:"unit_cost"`
	RunningQuantity float64        `json:"running_quantity"`
	RunningCost     float64        `json:"running_cost"`
	RunningUnitCost float64        `json:"running_unit_cost"`
	Audited         bool           `json:"audited"`
}

// ItemLedger is the ordered, exportable ledger of one item over a date range.
type ItemLedger struct {
	ItemID    string      `json:"item_id"`
	StartDate time.Time   `json:"start_date"`
	EndDate   time.Time   `json:"end_date"`
	Rows      []LedgerRow `json:"rows"`
}

var csvHeader = []string{
	"Date", "Transaction", "Type", "Qty", "Cost", "Unit Cost",
	"Total Qty", "Total Cost", "Total Unit Cost", "Audited",
}

// BuildItemLedger turns an ordered adjustment sequence into exportable rows.
// Baseline adjustments are displayed as the delta they effected, derived from
// the running values on either side.
func BuildItemLedger(itemID string, from, to time.Time, adjustments []Adjustment) (ItemLedger, error) {
	out := ItemLedger{ItemID: itemID, StartDate: from, EndDate: to, Rows: make([]LedgerRow, 0, len(adjustments))}
	var previous Balance
	for i, adj := range adjustments {
		if !adj.Type.Valid() {
			return ItemLedger{}, fmt.Errorf("ledger: unknown adjustment type %q in ledger for item %s", adj.Type, itemID)
		}
		ending := Balance{Quantity: adj.EndingQuantity, UnitCost: adj.EndingUnitCost}
		row := LedgerRow{
			Date:            adj.Date,
			TransactionID:   adj.TransactionID,
			Type:            adj.Type,
			UnitCost:        adj.UnitCost,
			RunningQuantity: ending.Quantity,
			RunningCost:     RoundCents(ending.TotalCost()),
			RunningUnitCost: ending.UnitCost,
			Audited:         adj.Audited,
		}
		if adj.Type.IsBaseline() && i > 0 {
			row.Quantity = ending.Quantity - previous.Quantity
			row.Cost = RoundCents(ending.TotalCost() - previous.TotalCost())
		} else {
			row.Quantity = adj.Quantity
			row.Cost = RoundCents(adj.Quantity * adj.UnitCost)
		}
		out.Rows = append(out.Rows, row)
		previous = ending
	}
	return out, nil
}

// FileHeader labels a ledger export with its item and date range.
func (l ItemLedger) FileHeader() string {
	start := "Beginning"
	if !l.StartDate.IsZero() {
		start = l.StartDate.Format(time.RFC3339)
	}
	return fmt.Sprintf("Item: %s\nDates: %s - %s\n", l.ItemID, start, l.EndDate.Format(time.RFC3339))
}

// ToCSV renders the ledger as CSV with formatted currency columns.
func (l ItemLedger) ToCSV() string {
	lines := make([]string, 0, len(l.Rows)+2)
	lines = append(lines, l.FileHeader())
	lines = append(lines, strings.Join(csvHeader, ","))
	for _, row := range l.Rows {
		lines = append(lines, strings.Join([]string{
			row.Date.Format(time.RFC3339),
			row.TransactionID,
			string(row.Type),
			formatQuantity(row.Quantity),
			FormatCost(row.Cost),
			FormatCost(row.UnitCost),
			formatQuantity(row.RunningQuantity),
			FormatCost(row.RunningCost),
			FormatCost(row.RunningUnitCost),
			fmt.Sprintf("%t", row.Audited),
		}, ","))
	}
	return strings.Join(lines, "\n")
}

// FormatCost renders a currency amount for exports, e.g. "$1234.50".
func FormatCost(v float64) string {
	amount := money.New(int64(RoundCents(v)*100+copysignHalf(v)), money.USD)
	display := amount.Display()
	// Exports must stay comma-free inside a single CSV cell.
	return strings.ReplaceAll(display, ",", "")
}

func formatQuantity(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}

// copysignHalf nudges the float before truncation so cents round toward the
// value instead of toward zero.
func copysignHalf(v float64) float64 {
	if v < 0 {
		return -0.5
	}
	return 0.5
}

package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

// Event is one concrete business event variant. The set of variants is closed:
// every type is resolved through the factory table below, and each must be able
// to validate its own payload and price its own adjustments.
type Event interface {
	Type() TransactionType
	// ItemIDs returns every item the event touches, without duplicates.
	ItemIDs() []string
	// Validate reports field-level payload problems. An empty map means the
	// payload is well formed.
	Validate() shared.FieldErrors
	// CalculateAdjustments prices the event against one consistent snapshot of
	// the balances for every item in ItemIDs, as of the transaction date.
	CalculateAdjustments(asOf time.Time, balances map[string]BalanceSnapshot) ([]Adjustment, error)
}

var eventFactories = map[TransactionType]func() Event{
	TransactionInitial:     func() Event { return &InitialEvent{} },
	TransactionCount:       func() Event { return &CountEvent{} },
	TransactionPurchase:    func() Event { return &PurchaseEvent{} },
	TransactionSale:        func() Event { return &SaleEvent{} },
	TransactionManufacture: func() Event { return &ManufactureEvent{} },
}

// NewEvent returns an empty event of the given transaction type, ready to be
// decoded from a request payload.
func NewEvent(t TransactionType) (Event, error) {
	factory, ok := eventFactories[t]
	if !ok {
		return nil, &shared.ValidationError{Fields: shared.FieldErrors{
			"type": fmt.Sprintf("unknown transaction type %q", t),
		}}
	}
	return factory(), nil
}

// EventTypes lists every registered transaction type.
func EventTypes() []TransactionType {
	types := make([]TransactionType, 0, len(eventFactories))
	for t := range eventFactories {
		types = append(types, t)
	}
	return types
}

func newAdjustment(itemID string, date time.Time, typ AdjustmentType, quantity, unitCost float64, ending Balance) Adjustment {
	return Adjustment{
		ID:             uuid.NewString(),
		ItemID:         itemID,
		Date:           date,
		Type:           typ,
		Quantity:       quantity,
		UnitCost:       unitCost,
		EndingQuantity: ending.Quantity,
		EndingUnitCost: ending.UnitCost,
	}
}

func snapshotFor(balances map[string]BalanceSnapshot, itemID string) (BalanceSnapshot, error) {
	snap, ok := balances[itemID]
	if !ok {
		return BalanceSnapshot{}, fmt.Errorf("ledger: no balance snapshot for item %s", itemID)
	}
	return snap, nil
}

func requireBaseline(snap BalanceSnapshot, itemID string) error {
	if snap.Version == 0 {
		return &shared.ValidationError{Fields: shared.FieldErrors{
			"items": fmt.Sprintf("item %s has no baseline adjustment", itemID),
		}}
	}
	return nil
}

func checkUnique(ids []string, errs shared.FieldErrors, prefix string) {
	seen := make(map[string]int, len(ids))
	for i, id := range ids {
		if first, ok := seen[id]; ok {
			errs[fmt.Sprintf("%s[%d].id", prefix, i)] = fmt.Sprintf("duplicate item %s (also at index %d)", id, first)
			continue
		}
		seen[id] = i
	}
}

// InitialLine seeds one item with its opening quantity and unit cost.
type InitialLine struct {
	ItemID   string  `json:"id"`
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unit_cost"`
}

// InitialEvent establishes opening balances. It is only permitted for items
// with no existing adjustments.
type InitialEvent struct {
	Lines []InitialLine `json:"items"`
}

func (e *InitialEvent) Type() TransactionType { return TransactionInitial }

func (e *InitialEvent) ItemIDs() []string {
	ids := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		ids[i] = line.ItemID
	}
	return ids
}

func (e *InitialEvent) Validate() shared.FieldErrors {
	errs := shared.FieldErrors{}
	if len(e.Lines) == 0 {
		errs["items"] = "at least one item is required"
		return errs
	}
	checkUnique(e.ItemIDs(), errs, "items")
	for i, line := range e.Lines {
		if line.ItemID == "" {
			errs[fmt.Sprintf("items[%d].id", i)] = "item id is required"
		}
		if line.Quantity < 0 {
			errs[fmt.Sprintf("items[%d].quantity", i)] = "quantity cannot be negative"
		}
		if line.UnitCost < 0 {
			errs[fmt.Sprintf("items[%d].unit_cost", i)] = "unit cost cannot be negative"
		}
	}
	return errs
}

func (e *InitialEvent) CalculateAdjustments(asOf time.Time, balances map[string]BalanceSnapshot) ([]Adjustment, error) {
	adjustments := make([]Adjustment, 0, len(e.Lines))
	for _, line := range e.Lines {
		snap, err := snapshotFor(balances, line.ItemID)
		if err != nil {
			return nil, err
		}
		if snap.Version != 0 {
			return nil, &shared.ValidationError{Fields: shared.FieldErrors{
				"items": fmt.Sprintf("item %s already has ledger history", line.ItemID),
			}}
		}
		ending := Balance{Quantity: line.Quantity, UnitCost: RoundCents(line.UnitCost)}
		adjustments = append(adjustments, newAdjustment(line.ItemID, asOf, AdjustmentInitial, line.Quantity, ending.UnitCost, ending))
	}
	return adjustments, nil
}

// CountLine sets one item's counted quantity, with an optional counted total
// cost. When the total cost is omitted the count keeps the item's current unit
// cost for the quantity delta.
type CountLine struct {
	ItemID    string   `json:"id"`
	Quantity  float64  `json:"quantity"`
	TotalCost *float64 `json:"total_cost,omitempty"`
}

// CountEvent reconciles items against a physical count, producing AUDIT
// adjustments that override the running balances.
type CountEvent struct {
	Lines []CountLine `json:"items"`
}

func (e *CountEvent) Type() TransactionType { return TransactionCount }

func (e *CountEvent) ItemIDs() []string {
	ids := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		ids[i] = line.ItemID
	}
	return ids
}

func (e *CountEvent) Validate() shared.FieldErrors {
	errs := shared.FieldErrors{}
	if len(e.Lines) == 0 {
		errs["items"] = "at least one item is required"
		return errs
	}
	checkUnique(e.ItemIDs(), errs, "items")
	for i, line := range e.Lines {
		if line.ItemID == "" {
			errs[fmt.Sprintf("items[%d].id", i)] = "item id is required"
		}
		if line.Quantity < 0 {
			errs[fmt.Sprintf("items[%d].quantity", i)] = "counted quantity cannot be negative"
		}
		if line.TotalCost != nil && *line.TotalCost < 0 {
			errs[fmt.Sprintf("items[%d].total_cost", i)] = "counted cost cannot be negative"
		}
	}
	return errs
}

func (e *CountEvent) CalculateAdjustments(asOf time.Time, balances map[string]BalanceSnapshot) ([]Adjustment, error) {
	adjustments := make([]Adjustment, 0, len(e.Lines))
	for _, line := range e.Lines {
		snap, err := snapshotFor(balances, line.ItemID)
		if err != nil {
			return nil, err
		}
		current := snap.Balance
		deltaQuantity := line.Quantity - current.Quantity
		var costDelta float64
		if line.TotalCost != nil {
			costDelta = *line.TotalCost - current.TotalCost()
		} else {
			costDelta = deltaQuantity * current.UnitCost
		}
		// The count may write off cost, but never below a zero total.
		if current.TotalCost()+costDelta < 0 {
			costDelta = -current.TotalCost()
		}
		endingTotal := current.TotalCost() + costDelta
		var endingUnit float64
		if line.Quantity > 0 {
			endingUnit = RoundCents(endingTotal / line.Quantity)
		}
		ending := Balance{Quantity: line.Quantity, UnitCost: endingUnit}
		adjustments = append(adjustments, newAdjustment(line.ItemID, asOf, AdjustmentAudit, line.Quantity, endingUnit, ending))
	}
	return adjustments, nil
}

// PurchaseLine brings in stock at a declared unit cost.
type PurchaseLine struct {
	ItemID   string  `json:"id"`
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unit_cost"`
}

// PurchaseEvent records bought stock, folding it into the weighted-average
// cost basis of each item.
type PurchaseEvent struct {
	Lines []PurchaseLine `json:"items"`
}

func (e *PurchaseEvent) Type() TransactionType { return TransactionPurchase }

func (e *PurchaseEvent) ItemIDs() []string {
	ids := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		ids[i] = line.ItemID
	}
	return ids
}

func (e *PurchaseEvent) Validate() shared.FieldErrors {
	errs := shared.FieldErrors{}
	if len(e.Lines) == 0 {
		errs["items"] = "at least one item is required"
		return errs
	}
	checkUnique(e.ItemIDs(), errs, "items")
	for i, line := range e.Lines {
		if line.ItemID == "" {
			errs[fmt.Sprintf("items[%d].id", i)] = "item id is required"
		}
		if line.Quantity <= 0 {
			errs[fmt.Sprintf("items[%d].quantity", i)] = "quantity must be positive"
		}
		if line.UnitCost <= 0 {
			errs[fmt.Sprintf("items[%d].unit_cost", i)] = "unit cost must be positive"
		}
	}
	return errs
}

func (e *PurchaseEvent) CalculateAdjustments(asOf time.Time, balances map[string]BalanceSnapshot) ([]Adjustment, error) {
	adjustments := make([]Adjustment, 0, len(e.Lines))
	for _, line := range e.Lines {
		snap, err := snapshotFor(balances, line.ItemID)
		if err != nil {
			return nil, err
		}
		if err := requireBaseline(snap, line.ItemID); err != nil {
			return nil, err
		}
		adj := newAdjustment(line.ItemID, asOf, AdjustmentPurchase, line.Quantity, line.UnitCost, Balance{})
		ending, err := Recalculate(snap.Balance, adj)
		if err != nil {
			return nil, err
		}
		adj.EndingQuantity = ending.Quantity
		adj.EndingUnitCost = ending.UnitCost
		adjustments = append(adjustments, adj)
	}
	return adjustments, nil
}

// SaleLine sells a quantity of one item. Cost is derived from the item's
// current weighted-average unit cost and must not be supplied by the caller.
type SaleLine struct {
	ItemID   string   `json:"id"`
	Quantity float64  `json:"quantity"`
	Cost     *float64 `json:"cost,omitempty"`
}

// SaleEvent records sold stock. The whole transaction is rejected when any
// item lacks sufficient on-hand quantity.
type SaleEvent struct {
	Lines []SaleLine `json:"items"`
}

func (e *SaleEvent) Type() TransactionType { return TransactionSale }

func (e *SaleEvent) ItemIDs() []string {
	ids := make([]string, len(e.Lines))
	for i, line := range e.Lines {
		ids[i] = line.ItemID
	}
	return ids
}

func (e *SaleEvent) Validate() shared.FieldErrors {
	errs := shared.FieldErrors{}
	if len(e.Lines) == 0 {
		errs["items"] = "at least one item is required"
		return errs
	}
	checkUnique(e.ItemIDs(), errs, "items")
	for i, line := range e.Lines {
		if line.ItemID == "" {
			errs[fmt.Sprintf("items[%d].id", i)] = "item id is required"
		}
		if line.Quantity <= 0 {
			errs[fmt.Sprintf("items[%d].quantity", i)] = "quantity must be positive"
		}
		if line.Cost != nil {
			errs[fmt.Sprintf("items[%d].cost", i)] = "cost is derived from inventory and cannot be supplied"
		}
	}
	return errs
}

func (e *SaleEvent) CalculateAdjustments(asOf time.Time, balances map[string]BalanceSnapshot) ([]Adjustment, error) {
	adjustments := make([]Adjustment, 0, len(e.Lines))
	for _, line := range e.Lines {
		snap, err := snapshotFor(balances, line.ItemID)
		if err != nil {
			return nil, err
		}
		if err := requireBaseline(snap, line.ItemID); err != nil {
			return nil, err
		}
		if snap.Quantity < line.Quantity {
			return nil, &shared.InsufficientInventoryError{
				ItemID:    line.ItemID,
				Requested: line.Quantity,
				Available: snap.Quantity,
			}
		}
		adj := newAdjustment(line.ItemID, asOf, AdjustmentSale, -line.Quantity, snap.UnitCost, Balance{})
		ending, err := Recalculate(snap.Balance, adj)
		if err != nil {
			return nil, err
		}
		adj.EndingQuantity = ending.Quantity
		adj.EndingUnitCost = ending.UnitCost
		adjustments = append(adjustments, adj)
	}
	return adjustments, nil
}

// MaterialLine consumes a quantity of one material item.
type MaterialLine struct {
	ItemID   string  `json:"id"`
	Quantity float64 `json:"quantity"`
}

// AdditionalCost folds a labelled amount, such as freight or labour, into the
// produced item's cost basis.
type AdditionalCost struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// ManufactureEvent consumes materials at their current weighted-average cost
// and produces one output item costed at the sum of everything consumed.
type ManufactureEvent struct {
	ProductID       string           `json:"product_id"`
	ProductQuantity float64          `json:"product_quantity"`
	Materials       []MaterialLine   `json:"materials"`
	AdditionalCosts []AdditionalCost `json:"additional_costs,omitempty"`
}

func (e *ManufactureEvent) Type() TransactionType { return TransactionManufacture }

func (e *ManufactureEvent) ItemIDs() []string {
	ids := make([]string, 0, len(e.Materials)+1)
	for _, material := range e.Materials {
		ids = append(ids, material.ItemID)
	}
	ids = append(ids, e.ProductID)
	return ids
}

func (e *ManufactureEvent) Validate() shared.FieldErrors {
	errs := shared.FieldErrors{}
	if e.ProductID == "" {
		errs["product_id"] = "product id is required"
	}
	if e.ProductQuantity <= 0 {
		errs["product_quantity"] = "product quantity must be positive"
	}
	if len(e.Materials) == 0 {
		errs["materials"] = "at least one material is required"
		return errs
	}
	materialIDs := make([]string, len(e.Materials))
	for i, material := range e.Materials {
		materialIDs[i] = material.ItemID
	}
	checkUnique(materialIDs, errs, "materials")
	for i, material := range e.Materials {
		if material.ItemID == "" {
			errs[fmt.Sprintf("materials[%d].id", i)] = "item id is required"
		}
		if material.ItemID != "" && material.ItemID == e.ProductID {
			errs[fmt.Sprintf("materials[%d].id", i)] = "a product cannot consume itself"
		}
		if material.Quantity <= 0 {
			errs[fmt.Sprintf("materials[%d].quantity", i)] = "quantity must be positive"
		}
	}
	for i, cost := range e.AdditionalCosts {
		if cost.Label == "" {
			errs[fmt.Sprintf("additional_costs[%d].label", i)] = "label is required"
		}
		if cost.Amount < 0 {
			errs[fmt.Sprintf("additional_costs[%d].amount", i)] = "amount cannot be negative"
		}
	}
	return errs
}

func (e *ManufactureEvent) CalculateAdjustments(asOf time.Time, balances map[string]BalanceSnapshot) ([]Adjustment, error) {
	adjustments := make([]Adjustment, 0, len(e.Materials)+1)
	var totalCost float64
	for _, material := range e.Materials {
		snap, err := snapshotFor(balances, material.ItemID)
		if err != nil {
			return nil, err
		}
		if err := requireBaseline(snap, material.ItemID); err != nil {
			return nil, err
		}
		if snap.Quantity < material.Quantity {
			return nil, &shared.InsufficientInventoryError{
				ItemID:    material.ItemID,
				Requested: material.Quantity,
				Available: snap.Quantity,
			}
		}
		adj := newAdjustment(material.ItemID, asOf, AdjustmentConsume, -material.Quantity, snap.UnitCost, Balance{})
		ending, err := Recalculate(snap.Balance, adj)
		if err != nil {
			return nil, err
		}
		adj.EndingQuantity = ending.Quantity
		adj.EndingUnitCost = ending.UnitCost
		adjustments = append(adjustments, adj)
		totalCost += RoundCents(material.Quantity * snap.UnitCost)
	}
	for _, cost := range e.AdditionalCosts {
		totalCost += cost.Amount
	}

	productSnap, err := snapshotFor(balances, e.ProductID)
	if err != nil {
		return nil, err
	}
	if err := requireBaseline(productSnap, e.ProductID); err != nil {
		return nil, err
	}
	productUnitCost := RoundCents(totalCost / e.ProductQuantity)
	adj := newAdjustment(e.ProductID, asOf, AdjustmentManufacture, e.ProductQuantity, productUnitCost, Balance{})
	ending, err := Recalculate(productSnap.Balance, adj)
	if err != nil {
		return nil, err
	}
	adj.EndingQuantity = ending.Quantity
	adj.EndingUnitCost = ending.UnitCost
	adjustments = append(adjustments, adj)
	return adjustments, nil
}

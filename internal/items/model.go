package items

import (
	"time"
)

// Item is the master record of a tracked stock item. Quantity and cost are
// never stored here; they are derived from the item's ledger.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku,omitempty"`
	Unit      string    `json:"unit"`
	Account   string    `json:"account"`
	Hidden    bool      `json:"hidden"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitialStock optionally seeds a newly created item's ledger.
type InitialStock struct {
	Quantity float64 `json:"quantity"`
	UnitCost float64 `json:"unit_cost"`
}

// Patch carries metadata-only updates. Nil fields are left unchanged;
// quantity and cost cannot be patched because they are derived.
type Patch struct {
	Name    *string `json:"name,omitempty"`
	SKU     *string `json:"sku,omitempty"`
	Unit    *string `json:"unit,omitempty"`
	Account *string `json:"account,omitempty"`
	Hidden  *bool   `json:"hidden,omitempty"`
}

// ListFilters narrows item listings.
type ListFilters struct {
	Search        string
	IncludeHidden bool
	Page          int
	Limit         int
}

package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

func errNotFound(id string) error {
	return &shared.NotFoundError{Resource: "transaction", ID: id}
}

// memoryStore is an in-memory Store with the same atomicity and version
// semantics as the SQL repository.
type memoryStore struct {
	mu           sync.Mutex
	transactions map[string]Transaction
	adjustments  map[string][]Adjustment
	balances     map[string]BalanceSnapshot

	// beforeAppend, when set, runs inside AppendTransaction before the version
	// check. Tests use it to interleave concurrent writers.
	beforeAppend func(s *memoryStore)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transactions: make(map[string]Transaction),
		adjustments:  make(map[string][]Adjustment),
		balances:     make(map[string]BalanceSnapshot),
	}
}

func (s *memoryStore) GetBalance(ctx context.Context, itemID string, asOf time.Time) (BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.balances[itemID]
	if asOf.IsZero() {
		return snap, nil
	}
	var eligible []Adjustment
	for _, adj := range s.adjustments[itemID] {
		if !adj.Date.After(asOf) {
			eligible = append(eligible, adj)
		}
	}
	if err := SortAdjustments(eligible); err != nil {
		return BalanceSnapshot{}, err
	}
	if len(eligible) == 0 {
		snap.Quantity = 0
		snap.UnitCost = 0
		return snap, nil
	}
	last := eligible[len(eligible)-1]
	snap.Quantity = last.EndingQuantity
	snap.UnitCost = last.EndingUnitCost
	return snap, nil
}

func (s *memoryStore) AppendTransaction(ctx context.Context, tx Transaction, expectedVersions map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeAppend != nil {
		hook := s.beforeAppend
		s.beforeAppend = nil
		hook(s)
	}

	if _, ok := s.transactions[tx.ID]; ok {
		return ErrDuplicateTransaction
	}
	for itemID, expected := range expectedVersions {
		if s.balances[itemID].Version != expected {
			return ErrVersionConflict
		}
	}

	// Stage every touched item's sequence with the new adjustment merged in
	// ledger order and its tail re-derived, so a failure persists nothing.
	staged := make(map[string][]Adjustment, len(tx.Adjustments))
	finals := make(map[string]Balance, len(tx.Adjustments))
	var rewritten []Adjustment
	for _, adj := range tx.Adjustments {
		adj.Audited = tx.Audited
		seq := append(append([]Adjustment{}, s.adjustments[adj.ItemID]...), adj)
		if err := SortAdjustments(seq); err != nil {
			return err
		}
		changed, final, err := RederiveEndings(seq)
		if err != nil {
			return err
		}
		staged[adj.ItemID] = seq
		finals[adj.ItemID] = final
		rewritten = append(rewritten, changed...)
	}

	s.transactions[tx.ID] = tx
	for _, adj := range tx.Adjustments {
		s.adjustments[adj.ItemID] = staged[adj.ItemID]
		snap := s.balances[adj.ItemID]
		snap.Quantity = finals[adj.ItemID].Quantity
		snap.UnitCost = finals[adj.ItemID].UnitCost
		snap.Version++
		if !tx.Audited {
			snap.Pending++
		}
		s.balances[adj.ItemID] = snap
	}
	for _, c := range rewritten {
		other, ok := s.transactions[c.TransactionID]
		if !ok || c.TransactionID == tx.ID {
			continue
		}
		for i := range other.Adjustments {
			if other.Adjustments[i].ID == c.ID {
				c.Audited = other.Audited
				other.Adjustments[i] = c
			}
		}
		s.transactions[c.TransactionID] = other
	}
	return nil
}

// apply commits a transaction directly, bypassing the version check. Used by
// the beforeAppend hook to simulate a racing writer.
func (s *memoryStore) apply(tx Transaction) {
	s.transactions[tx.ID] = tx
	for _, adj := range tx.Adjustments {
		s.adjustments[adj.ItemID] = append(s.adjustments[adj.ItemID], adj)
		snap := s.balances[adj.ItemID]
		snap.Quantity = adj.EndingQuantity
		snap.UnitCost = adj.EndingUnitCost
		snap.Version++
		if !tx.Audited {
			snap.Pending++
		}
		s.balances[adj.ItemID] = snap
	}
}

func (s *memoryStore) QueryLedger(ctx context.Context, itemID string, from, to time.Time) ([]Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Adjustment
	for _, adj := range s.adjustments[itemID] {
		if !from.IsZero() && adj.Date.Before(from) {
			continue
		}
		if !to.IsZero() && adj.Date.After(to) {
			continue
		}
		out = append(out, adj)
	}
	return out, nil
}

func (s *memoryStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return Transaction{}, errNotFound(id)
	}
	return tx, nil
}

func (s *memoryStore) ListItemIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.adjustments))
	for id := range s.adjustments {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memoryStore) SetTransactionAudited(ctx context.Context, id string, audited bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return errNotFound(id)
	}
	if tx.Audited == audited {
		return nil
	}
	tx.Audited = audited
	s.transactions[id] = tx
	delta := 1
	if audited {
		delta = -1
	}
	touched := make(map[string]bool)
	for _, adj := range tx.Adjustments {
		touched[adj.ItemID] = true
	}
	for itemID := range touched {
		snap := s.balances[itemID]
		snap.Pending += delta
		s.balances[itemID] = snap
	}
	return nil
}

package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrVersionConflict signals that a touched item's version token moved between
// the snapshot read and the commit. The caller retries with fresh reads.
var ErrVersionConflict = errors.New("ledger: balance version conflict")

// ErrDuplicateTransaction signals a transaction id that is already recorded.
var ErrDuplicateTransaction = errors.New("ledger: transaction already recorded")

// Store is the persistence collaborator for the ledger. The data store is the
// single source of truth and the sole synchronization point: balances read
// through GetBalance carry the version token that AppendTransaction conditions
// its atomic write on.
type Store interface {
	// GetBalance returns the point-in-time aggregate of all adjustments for an
	// item up to asOf. A zero asOf means "now". The snapshot's Version is zero
	// when the item has no ledger history yet.
	GetBalance(ctx context.Context, itemID string, asOf time.Time) (BalanceSnapshot, error)

	// AppendTransaction writes the transaction and all its adjustments as a
	// single atomic unit, conditioned on the transaction id being new and on
	// every touched item's version matching expectedVersions. It returns
	// ErrDuplicateTransaction or ErrVersionConflict accordingly; on any error
	// nothing is persisted. When an adjustment lands earlier than existing
	// entries in ledger order, the ending values of everything after it are
	// re-derived in the same atomic write; an adjustment that would sort
	// before the item's baseline fails with ErrMissingBaseline.
	AppendTransaction(ctx context.Context, tx Transaction, expectedVersions map[string]int64) error

	// QueryLedger returns an item's adjustments within the date range in
	// ledger order. Zero bounds are open-ended.
	QueryLedger(ctx context.Context, itemID string, from, to time.Time) ([]Adjustment, error)

	// GetTransaction loads one recorded transaction with its adjustments.
	GetTransaction(ctx context.Context, id string) (Transaction, error)

	// ListItemIDs returns the ids of every item with ledger history.
	ListItemIDs(ctx context.Context) ([]string, error)

	// SetTransactionAudited flips a transaction's audited flag and adjusts the
	// pending-reconciliation counts of every item it touched. The flag is the
	// only mutable part of a recorded transaction.
	SetTransactionAudited(ctx context.Context, id string, audited bool) error
}

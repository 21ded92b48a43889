package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier-erp/internal/platform/db"
	"github.com/atelier-erp/atelier-erp/internal/shared"
)

// Repository persists the ledger in PostgreSQL. It implements Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// The ORDER BY clauses below mirror CompareAdjustments for SQL-side ordering.
const (
	adjustmentOrderSQL = `adj_date ASC, CASE adj_type
WHEN 'INITIAL' THEN 0 WHEN 'AUDIT' THEN 1 WHEN 'MANUAL' THEN 2
WHEN 'PURCHASE' THEN 3 WHEN 'MANUFACTURE' THEN 4 WHEN 'CONSUME' THEN 5
WHEN 'SALE' THEN 6 ELSE 7 END ASC, qty ASC`

	adjustmentOrderDescSQL = `adj_date DESC, CASE adj_type
WHEN 'INITIAL' THEN 0 WHEN 'AUDIT' THEN 1 WHEN 'MANUAL' THEN 2
WHEN 'PURCHASE' THEN 3 WHEN 'MANUFACTURE' THEN 4 WHEN 'CONSUME' THEN 5
WHEN 'SALE' THEN 6 ELSE 7 END DESC, qty DESC`

	adjustmentOrderAliasedSQL = `a.adj_date ASC, CASE a.adj_type
WHEN 'INITIAL' THEN 0 WHEN 'AUDIT' THEN 1 WHEN 'MANUAL' THEN 2
WHEN 'PURCHASE' THEN 3 WHEN 'MANUFACTURE' THEN 4 WHEN 'CONSUME' THEN 5
WHEN 'SALE' THEN 6 ELSE 7 END ASC, a.qty ASC`
)

func (r *Repository) GetBalance(ctx context.Context, itemID string, asOf time.Time) (BalanceSnapshot, error) {
	if r == nil {
		return BalanceSnapshot{}, errors.New("ledger repository not initialised")
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id=$1)`, itemID).Scan(&exists); err != nil {
		return BalanceSnapshot{}, err
	}
	if !exists {
		return BalanceSnapshot{}, &shared.NotFoundError{Resource: "item", ID: itemID}
	}

	var snap BalanceSnapshot
	err := r.pool.QueryRow(ctx, `SELECT qty, unit_cost, version, pending FROM ledger_balances WHERE item_id=$1`, itemID).
		Scan(&snap.Quantity, &snap.UnitCost, &snap.Version, &snap.Pending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BalanceSnapshot{}, nil
		}
		return BalanceSnapshot{}, err
	}
	if asOf.IsZero() {
		return snap, nil
	}

	// Point-in-time read: the ending values of the latest adjustment at or
	// before asOf, still guarded by the current version token.
	err = r.pool.QueryRow(ctx, `SELECT ending_qty, ending_unit_cost FROM ledger_adjustments
WHERE item_id=$1 AND adj_date <= $2
ORDER BY `+adjustmentOrderDescSQL+` LIMIT 1`, itemID, asOf).
		Scan(&snap.Quantity, &snap.UnitCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			snap.Quantity = 0
			snap.UnitCost = 0
			return snap, nil
		}
		return BalanceSnapshot{}, err
	}
	return snap, nil
}

func (r *Repository) AppendTransaction(ctx context.Context, txDoc Transaction, expectedVersions map[string]int64) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO ledger_transactions (id, tx_type, tx_date, description, username, audited, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
			txDoc.ID, string(txDoc.Type), txDoc.Date, txDoc.Description, txDoc.User, txDoc.Audited)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrDuplicateTransaction
			}
			return err
		}

		for _, adj := range txDoc.Adjustments {
			_, err = tx.Exec(ctx, `INSERT INTO ledger_adjustments (id, tx_id, item_id, adj_date, adj_type, qty, unit_cost, ending_qty, ending_unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				adj.ID, txDoc.ID, adj.ItemID, adj.Date, string(adj.Type), adj.Quantity, adj.UnitCost, adj.EndingQuantity, adj.EndingUnitCost)
			if err != nil {
				return err
			}
		}

		pendingDelta := 0
		if !txDoc.Audited {
			pendingDelta = 1
		}
		for _, adj := range txDoc.Adjustments {
			ending := Balance{Quantity: adj.EndingQuantity, UnitCost: adj.EndingUnitCost}

			// When the new adjustment does not land last in ledger order,
			// every ending downstream of it must be re-derived before the
			// balance row is written.
			var lastID string
			if err := tx.QueryRow(ctx, `SELECT id FROM ledger_adjustments WHERE item_id=$1
ORDER BY `+adjustmentOrderDescSQL+` LIMIT 1`, adj.ItemID).Scan(&lastID); err != nil {
				return err
			}
			if lastID != adj.ID {
				history, err := itemAdjustments(ctx, tx, adj.ItemID)
				if err != nil {
					return err
				}
				changed, final, err := RederiveEndings(history)
				if err != nil {
					return err
				}
				for _, c := range changed {
					if _, err := tx.Exec(ctx, `UPDATE ledger_adjustments SET unit_cost=$1, ending_qty=$2, ending_unit_cost=$3 WHERE id=$4`,
						c.UnitCost, c.EndingQuantity, c.EndingUnitCost, c.ID); err != nil {
						return err
					}
				}
				ending = final
			}

			expected := expectedVersions[adj.ItemID]
			if expected == 0 {
				tag, err := tx.Exec(ctx, `INSERT INTO ledger_balances (item_id, qty, unit_cost, version, pending, updated_at)
VALUES ($1,$2,$3,1,$4,NOW()) ON CONFLICT (item_id) DO NOTHING`,
					adj.ItemID, ending.Quantity, ending.UnitCost, pendingDelta)
				if err != nil {
					return err
				}
				if tag.RowsAffected() == 0 {
					return ErrVersionConflict
				}
				continue
			}
			tag, err := tx.Exec(ctx, `UPDATE ledger_balances
SET qty=$1, unit_cost=$2, version=version+1, pending=pending+$3, updated_at=NOW()
WHERE item_id=$4 AND version=$5`,
				ending.Quantity, ending.UnitCost, pendingDelta, adj.ItemID, expected)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return ErrVersionConflict
			}
		}
		return nil
	})
}

func (r *Repository) QueryLedger(ctx context.Context, itemID string, from, to time.Time) ([]Adjustment, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.tx_id, a.item_id, a.adj_date, a.adj_type, a.qty, a.unit_cost, a.ending_qty, a.ending_unit_cost, t.audited
FROM ledger_adjustments a
JOIN ledger_transactions t ON t.id = a.tx_id
WHERE a.item_id=$1 AND a.adj_date BETWEEN COALESCE($2, '-infinity') AND COALESCE($3, 'infinity')
ORDER BY `+adjustmentOrderAliasedSQL,
		itemID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	adjustments := []Adjustment{}
	for rows.Next() {
		var adj Adjustment
		var typ string
		if err := rows.Scan(&adj.ID, &adj.TransactionID, &adj.ItemID, &adj.Date, &typ, &adj.Quantity, &adj.UnitCost, &adj.EndingQuantity, &adj.EndingUnitCost, &adj.Audited); err != nil {
			return nil, err
		}
		adj.Type = AdjustmentType(typ)
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	if r == nil {
		return Transaction{}, errors.New("ledger repository not initialised")
	}
	var txDoc Transaction
	var typ string
	err := r.pool.QueryRow(ctx, `SELECT id, tx_type, tx_date, description, username, audited FROM ledger_transactions WHERE id=$1`, id).
		Scan(&txDoc.ID, &typ, &txDoc.Date, &txDoc.Description, &txDoc.User, &txDoc.Audited)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, &shared.NotFoundError{Resource: "transaction", ID: id}
		}
		return Transaction{}, err
	}
	txDoc.Type = TransactionType(typ)

	rows, err := r.pool.Query(ctx, `SELECT id, tx_id, item_id, adj_date, adj_type, qty, unit_cost, ending_qty, ending_unit_cost
FROM ledger_adjustments WHERE tx_id=$1 ORDER BY `+adjustmentOrderSQL, id)
	if err != nil {
		return Transaction{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var adj Adjustment
		var adjType string
		if err := rows.Scan(&adj.ID, &adj.TransactionID, &adj.ItemID, &adj.Date, &adjType, &adj.Quantity, &adj.UnitCost, &adj.EndingQuantity, &adj.EndingUnitCost); err != nil {
			return Transaction{}, err
		}
		adj.Type = AdjustmentType(adjType)
		adj.Audited = txDoc.Audited
		txDoc.Adjustments = append(txDoc.Adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return Transaction{}, err
	}
	return txDoc, nil
}

func (r *Repository) ListItemIDs(ctx context.Context) ([]string, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id FROM ledger_balances ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) SetTransactionAudited(ctx context.Context, id string, audited bool) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var was bool
		err := tx.QueryRow(ctx, `SELECT audited FROM ledger_transactions WHERE id=$1 FOR UPDATE`, id).Scan(&was)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &shared.NotFoundError{Resource: "transaction", ID: id}
			}
			return err
		}
		if was == audited {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_transactions SET audited=$1 WHERE id=$2`, audited, id); err != nil {
			return err
		}
		delta := 1
		if audited {
			delta = -1
		}
		if _, err := tx.Exec(ctx, `UPDATE ledger_balances SET pending=pending+$1
WHERE item_id IN (SELECT DISTINCT item_id FROM ledger_adjustments WHERE tx_id=$2)`, delta, id); err != nil {
			return err
		}
		return nil
	})
}

// itemAdjustments loads an item's full adjustment history in ledger order
// within the current transaction.
func itemAdjustments(ctx context.Context, tx pgx.Tx, itemID string) ([]Adjustment, error) {
	rows, err := tx.Query(ctx, `SELECT id, tx_id, item_id, adj_date, adj_type, qty, unit_cost, ending_qty, ending_unit_cost
FROM ledger_adjustments WHERE item_id=$1 ORDER BY `+adjustmentOrderSQL, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	adjustments := []Adjustment{}
	for rows.Next() {
		var adj Adjustment
		var typ string
		if err := rows.Scan(&adj.ID, &adj.TransactionID, &adj.ItemID, &adj.Date, &typ, &adj.Quantity, &adj.UnitCost, &adj.EndingQuantity, &adj.EndingUnitCost); err != nil {
			return nil, err
		}
		adj.Type = AdjustmentType(typ)
		adjustments = append(adjustments, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return adjustments, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

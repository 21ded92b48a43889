package items

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier-erp/internal/shared"
)

// Repository abstracts item persistence.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Item, int, error)
	Get(ctx context.Context, id string) (Item, error)
	Create(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, id string, patch Patch) (Item, error)
	Delete(ctx context.Context, id string) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Item, int, error) {
	query := `SELECT id, name, sku, unit, account, hidden, created_at, updated_at FROM items WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM items WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	clause := ""
	if !filters.IncludeHidden {
		clause += ` AND hidden = FALSE`
	}
	if filters.Search != "" {
		argCount++
		clause += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR id ILIKE $` + strconv.Itoa(argCount) + ` OR sku ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, countQuery+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += clause + ` ORDER BY id ASC`
	if filters.Limit > 0 {
		argCount++
		query += ` LIMIT $` + strconv.Itoa(argCount)
		args = append(args, filters.Limit)

		argCount++
		query += ` OFFSET $` + strconv.Itoa(argCount)
		offset := (filters.Page - 1) * filters.Limit
		if offset < 0 {
			offset = 0
		}
		args = append(args, offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.Name, &item.SKU, &item.Unit, &item.Account, &item.Hidden, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id string) (Item, error) {
	var item Item
	err := r.db.QueryRow(ctx, `SELECT id, name, sku, unit, account, hidden, created_at, updated_at FROM items WHERE id = $1`, id).
		Scan(&item.ID, &item.Name, &item.SKU, &item.Unit, &item.Account, &item.Hidden, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, &shared.NotFoundError{Resource: "item", ID: id}
		}
		return Item{}, err
	}
	return item, nil
}

func (r *repository) Create(ctx context.Context, item Item) (Item, error) {
	now := time.Now().UTC()
	_, err := r.db.Exec(ctx, `INSERT INTO items (id, name, sku, unit, account, hidden, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.Name, item.SKU, item.Unit, item.Account, item.Hidden, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Item{}, &shared.ConflictError{Resource: "item", ID: item.ID}
		}
		return Item{}, err
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *repository) Update(ctx context.Context, id string, patch Patch) (Item, error) {
	tag, err := r.db.Exec(ctx, `UPDATE items SET
name = COALESCE($1, name),
sku = COALESCE($2, sku),
unit = COALESCE($3, unit),
account = COALESCE($4, account),
hidden = COALESCE($5, hidden),
updated_at = $6
WHERE id = $7`,
		patch.Name, patch.SKU, patch.Unit, patch.Account, patch.Hidden, time.Now().UTC(), id)
	if err != nil {
		return Item{}, err
	}
	if tag.RowsAffected() == 0 {
		return Item{}, &shared.NotFoundError{Resource: "item", ID: id}
	}
	return r.Get(ctx, id)
}

func (r *repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Resource: "item", ID: id}
	}
	return nil
}

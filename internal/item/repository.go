package item

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coaltech18/hybits-crm/internal/platform/db"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Repository persists the item master and outlets in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateItem inserts a new draft item.
func (r *Repository) CreateItem(ctx context.Context, it Item) (Item, error) {
	if r == nil {
		return Item{}, errors.New("item repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO items (code, name, category, unit, outlet_id, status, opening_balance, opening_balance_confirmed, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,false,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		it.Code, it.Name, it.Category, it.Unit, it.OutletID, string(it.Status), it.OpeningBalance).
		Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return Item{}, shared.ClassifyPgError(err)
	}
	return it, nil
}

// GetItem loads one item.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	if r == nil {
		return Item{}, errors.New("item repository not initialised")
	}
	var it Item
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, category, unit, outlet_id, status, opening_balance, opening_balance_confirmed, created_at, updated_at
FROM items WHERE id=$1`, id).
		Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Unit, &it.OutletID, &status,
			&it.OpeningBalance, &it.OpeningBalanceConfirmed, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, id)
		}
		return Item{}, err
	}
	it.Status = Status(status)
	return it, nil
}

// ListFilter scopes item listings.
type ListFilter struct {
	OutletID int64
	Status   Status
	Category string
}

// ListItems returns items ordered by code.
func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	if r == nil {
		return nil, errors.New("item repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, category, unit, outlet_id, status, opening_balance, opening_balance_confirmed, created_at, updated_at
FROM items
WHERE ($1 = 0 OR outlet_id = $1)
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR category = $3)
ORDER BY outlet_id, code`, filter.OutletID, string(filter.Status), filter.Category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var it Item
		var status string
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Unit, &it.OutletID, &status,
			&it.OpeningBalance, &it.OpeningBalanceConfirmed, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		it.Status = Status(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateStatus flips the lifecycle state with a guarded update: the write
// only lands when the stored status still matches the expected one, so a
// concurrent transition loses cleanly instead of overwriting.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, from, to Status) error {
	if r == nil {
		return errors.New("item repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `UPDATE items SET status=$3, updated_at=NOW() WHERE id=$1 AND status=$2`,
		id, string(from), string(to))
	if err != nil {
		return shared.ClassifyPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: item %d is no longer %s", shared.ErrInvalidTransition, id, from)
	}
	return nil
}

// ConfirmOpeningBalance flips the one-way latch and folds the opening
// quantity into the summary projection in the same transaction. A second
// confirmation finds the latch already set and changes nothing.
func (r *Repository) ConfirmOpeningBalance(ctx context.Context, id int64) (Item, error) {
	if r == nil {
		return Item{}, errors.New("item repository not initialised")
	}
	var it Item
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `UPDATE items SET opening_balance_confirmed=true, updated_at=NOW()
WHERE id=$1 AND opening_balance_confirmed=false
RETURNING id, code, name, category, unit, outlet_id, status, opening_balance, opening_balance_confirmed, created_at, updated_at`, id).
			Scan(&it.ID, &it.Code, &it.Name, &it.Category, &it.Unit, &it.OutletID, &status,
				&it.OpeningBalance, &it.OpeningBalanceConfirmed, &it.CreatedAt, &it.UpdatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: opening balance already confirmed or item %d missing", shared.ErrInvalidTransition, id)
			}
			return err
		}
		it.Status = Status(status)
		_, err = tx.Exec(ctx, `INSERT INTO stock_summaries (item_id, outlet_id, available, allocated, damaged, lost, in_repair, updated_at)
VALUES ($1,$2,$3,0,0,0,0,NOW())
ON CONFLICT (item_id, outlet_id) DO UPDATE
SET available = stock_summaries.available + EXCLUDED.available, updated_at=NOW()`,
			it.ID, it.OutletID, it.OpeningBalance)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// CreateOutlet registers an outlet. The code doubles as the middle segment
// of every document code issued for that outlet.
func (r *Repository) CreateOutlet(ctx context.Context, o Outlet) (Outlet, error) {
	if r == nil {
		return Outlet{}, errors.New("item repository not initialised")
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO outlets (code, name, city, created_at) VALUES ($1,$2,$3,NOW())
RETURNING id, created_at`, o.Code, o.Name, o.City).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return Outlet{}, shared.ClassifyPgError(err)
	}
	return o, nil
}

// ListOutlets returns all outlets ordered by code.
func (r *Repository) ListOutlets(ctx context.Context) ([]Outlet, error) {
	if r == nil {
		return nil, errors.New("item repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, COALESCE(city,''), created_at FROM outlets ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	outlets := []Outlet{}
	for rows.Next() {
		var o Outlet
		if err := rows.Scan(&o.ID, &o.Code, &o.Name, &o.City, &o.CreatedAt); err != nil {
			return nil, err
		}
		outlets = append(outlets, o)
	}
	return outlets, rows.Err()
}

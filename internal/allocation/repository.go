package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/platform/db"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// TxRepository exposes the transactional allocation operations together
// with a ledger TxStore over the same transaction, so the allocation row
// and its movement commit or fail as one.
type TxRepository interface {
	InsertAllocation(ctx context.Context, a Allocation) (int64, error)
	LinkOutflowMovement(ctx context.Context, allocationID, movementID int64) error
	GetAllocationForUpdate(ctx context.Context, id int64) (Allocation, error)
	SumResolved(ctx context.Context, allocationID int64) (int64, error)
	CloseAllocation(ctx context.Context, id int64) error
	Ledger() ledger.TxStore
}

// Repository persists allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("allocation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Ledger() ledger.TxStore {
	return ledger.NewTxStore(t.tx)
}

func (t *txRepo) InsertAllocation(ctx context.Context, a Allocation) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO allocations (code, item_id, outlet_id, reference_type, reference_id, quantity, is_active, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,true,$7,NOW()) RETURNING id`,
		a.Code, a.ItemID, a.OutletID, string(a.ReferenceType), a.ReferenceID, a.Quantity, a.CreatedBy).Scan(&id)
	if err != nil {
		return 0, shared.ClassifyPgError(err)
	}
	return id, nil
}

// LinkOutflowMovement completes the two-way reference once the outflow
// movement exists: the movement already points at the allocation, this
// stores the movement id back on the allocation row.
func (t *txRepo) LinkOutflowMovement(ctx context.Context, allocationID, movementID int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE allocations SET outflow_movement_id=$2 WHERE id=$1`, allocationID, movementID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: allocation %d", shared.ErrNotFound, allocationID)
	}
	return nil
}

// GetAllocationForUpdate locks the allocation row so concurrent resolvers
// serialize on it before recomputing outstanding.
func (t *txRepo) GetAllocationForUpdate(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(t.tx.QueryRow(ctx, `SELECT id, code, item_id, outlet_id, reference_type, reference_id, quantity, COALESCE(outflow_movement_id,0), is_active, created_by, created_at, closed_at
FROM allocations WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Allocation{}, fmt.Errorf("%w: allocation %d", shared.ErrNotFound, id)
		}
		return Allocation{}, err
	}
	return a, nil
}

// SumResolved totals return, damage, and loss movements referencing the
// allocation. Outstanding is quantity minus this sum, never a stored field.
func (t *txRepo) SumResolved(ctx context.Context, allocationID int64) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity),0) FROM stock_movements
WHERE reference_type=$1 AND reference_id=$2 AND category IN ($3,$4,$5)`,
		string(ledger.ReferenceAllocation), fmt.Sprintf("%d", allocationID),
		string(ledger.CategoryReturn), string(ledger.CategoryDamage), string(ledger.CategoryLoss)).Scan(&total)
	return total, err
}

func (t *txRepo) CloseAllocation(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE allocations SET is_active=false, closed_at=NOW() WHERE id=$1 AND is_active`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: allocation %d already closed", shared.ErrInvalidTransition, id)
	}
	return nil
}

// ListFilter scopes allocation listings.
type ListFilter struct {
	ReferenceType ledger.ReferenceType
	ReferenceID   string
	ItemID        int64
	OutletID      int64
	ActiveOnly    bool
}

// List returns allocations with live-derived resolved/outstanding totals.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]View, error) {
	if r == nil {
		return nil, errors.New("allocation repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.item_id, a.outlet_id, a.reference_type, a.reference_id, a.quantity, COALESCE(a.outflow_movement_id,0), a.is_active, a.created_by, a.created_at, a.closed_at,
COALESCE((SELECT SUM(m.quantity) FROM stock_movements m
          WHERE m.reference_type=$1 AND m.reference_id=a.id::text AND m.category IN ($2,$3,$4)),0) AS resolved
FROM allocations a
WHERE ($5 = '' OR a.reference_type = $5)
  AND ($6 = '' OR a.reference_id = $6)
  AND ($7 = 0 OR a.item_id = $7)
  AND ($8 = 0 OR a.outlet_id = $8)
  AND (NOT $9 OR a.is_active)
ORDER BY a.created_at ASC, a.id ASC`,
		string(ledger.ReferenceAllocation),
		string(ledger.CategoryReturn), string(ledger.CategoryDamage), string(ledger.CategoryLoss),
		string(filter.ReferenceType), filter.ReferenceID, filter.ItemID, filter.OutletID, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	views := []View{}
	for rows.Next() {
		var v View
		var refType string
		var closedAt *time.Time
		if err := rows.Scan(&v.ID, &v.Code, &v.ItemID, &v.OutletID, &refType, &v.ReferenceID,
			&v.Quantity, &v.OutflowMovementID, &v.IsActive, &v.CreatedBy, &v.CreatedAt, &closedAt, &v.Resolved); err != nil {
			return nil, err
		}
		v.ReferenceType = ledger.ReferenceType(refType)
		v.ClosedAt = closedAt
		v.Outstanding = v.Quantity - v.Resolved
		views = append(views, v)
	}
	return views, rows.Err()
}

// Get loads one allocation with its derived totals.
func (r *Repository) Get(ctx context.Context, id int64) (View, error) {
	if r == nil {
		return View{}, errors.New("allocation repository not initialised")
	}
	var v View
	var refType string
	var closedAt *time.Time
	err := r.pool.QueryRow(ctx, `SELECT a.id, a.code, a.item_id, a.outlet_id, a.reference_type, a.reference_id, a.quantity, COALESCE(a.outflow_movement_id,0), a.is_active, a.created_by, a.created_at, a.closed_at,
COALESCE((SELECT SUM(m.quantity) FROM stock_movements m
          WHERE m.reference_type=$2 AND m.reference_id=a.id::text AND m.category IN ($3,$4,$5)),0)
FROM allocations a WHERE a.id=$1`, id,
		string(ledger.ReferenceAllocation),
		string(ledger.CategoryReturn), string(ledger.CategoryDamage), string(ledger.CategoryLoss)).
		Scan(&v.ID, &v.Code, &v.ItemID, &v.OutletID, &refType, &v.ReferenceID,
			&v.Quantity, &v.OutflowMovementID, &v.IsActive, &v.CreatedBy, &v.CreatedAt, &closedAt, &v.Resolved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return View{}, fmt.Errorf("%w: allocation %d", shared.ErrNotFound, id)
		}
		return View{}, err
	}
	v.ReferenceType = ledger.ReferenceType(refType)
	v.ClosedAt = closedAt
	v.Outstanding = v.Quantity - v.Resolved
	return v, nil
}

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	var refType string
	var closedAt *time.Time
	if err := row.Scan(&a.ID, &a.Code, &a.ItemID, &a.OutletID, &refType, &a.ReferenceID,
		&a.Quantity, &a.OutflowMovementID, &a.IsActive, &a.CreatedBy, &a.CreatedAt, &closedAt); err != nil {
		return Allocation{}, err
	}
	a.ReferenceType = ledger.ReferenceType(refType)
	a.ClosedAt = closedAt
	return a, nil
}

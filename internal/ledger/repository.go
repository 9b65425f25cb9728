package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coaltech18/hybits-crm/internal/platform/db"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// TxStore exposes the transactional ledger operations. The allocation and
// stock-audit repositories compose a TxStore over their own transaction so
// their writes and the ledger append commit or fail together.
type TxStore interface {
	GetItem(ctx context.Context, itemID int64) (ItemInfo, error)
	GetSummaryForUpdate(ctx context.Context, itemID, outletID int64) (Summary, error)
	UpsertSummary(ctx context.Context, s Summary) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// NewTxStore wraps an open transaction in the ledger's transactional API.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetItem(ctx context.Context, itemID int64) (ItemInfo, error) {
	var info ItemInfo
	err := s.tx.QueryRow(ctx, `SELECT id, outlet_id, status, opening_balance, opening_balance_confirmed
FROM items WHERE id=$1`, itemID).
		Scan(&info.ID, &info.OutletID, &info.Status, &info.OpeningBalance, &info.OpeningBalanceConfirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ItemInfo{}, fmt.Errorf("%w: item %d", shared.ErrNotFound, itemID)
		}
		return ItemInfo{}, err
	}
	return info, nil
}

// GetSummaryForUpdate locks the summary row for the duration of the
// transaction. This lock is the serialization point for every balance
// check: allocate, resolve, and adjustment emission all take it first.
func (s *txStore) GetSummaryForUpdate(ctx context.Context, itemID, outletID int64) (Summary, error) {
	var sum Summary
	err := s.tx.QueryRow(ctx, `SELECT item_id, outlet_id, available, allocated, damaged, lost, in_repair, updated_at
FROM stock_summaries WHERE item_id=$1 AND outlet_id=$2 FOR UPDATE`, itemID, outletID).
		Scan(&sum.ItemID, &sum.OutletID, &sum.Available, &sum.Allocated, &sum.Damaged, &sum.Lost, &sum.InRepair, &sum.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{ItemID: itemID, OutletID: outletID}, ErrSummaryNotFound
		}
		return Summary{}, err
	}
	return sum, nil
}

func (s *txStore) UpsertSummary(ctx context.Context, sum Summary) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_summaries (item_id, outlet_id, available, allocated, damaged, lost, in_repair, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
ON CONFLICT (item_id, outlet_id) DO UPDATE
SET available=EXCLUDED.available, allocated=EXCLUDED.allocated, damaged=EXCLUDED.damaged,
    lost=EXCLUDED.lost, in_repair=EXCLUDED.in_repair, updated_at=NOW()`,
		sum.ItemID, sum.OutletID, sum.Available, sum.Allocated, sum.Damaged, sum.Lost, sum.InRepair)
	return err
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (code, item_id, outlet_id, category, quantity, reference_type, reference_id, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		m.Code, m.ItemID, m.OutletID, string(m.Category), m.Quantity,
		string(m.ReferenceType), nullString(m.ReferenceID), m.Notes, m.CreatedBy).Scan(&id)
	return id, err
}

// BalanceFilter scopes balance listings.
type BalanceFilter struct {
	OutletID        int64
	ItemID          int64
	IncludeInactive bool
}

// BalanceRow is one line of the stock summary projection.
type BalanceRow struct {
	ItemID   int64  `json:"item_id"`
	ItemCode string `json:"item_code"`
	ItemName string `json:"item_name"`
	OutletID int64  `json:"outlet_id"`
	Status   string `json:"status"`
	Balances
	// AvailableForAllocation zeroes out discontinued and archived stock,
	// which stays tracked but cannot back new allocations.
	AvailableForAllocation int64 `json:"available_for_allocation"`
}

// GetBalances lists summary rows, outlet-scoped or global.
func (r *Repository) GetBalances(ctx context.Context, filter BalanceFilter) ([]BalanceRow, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.code, i.name, i.outlet_id, i.status,
COALESCE(s.available,0), COALESCE(s.allocated,0), COALESCE(s.damaged,0), COALESCE(s.lost,0), COALESCE(s.in_repair,0)
FROM items i
LEFT JOIN stock_summaries s ON s.item_id = i.id AND s.outlet_id = i.outlet_id
WHERE ($1 = 0 OR i.outlet_id = $1)
  AND ($2 = 0 OR i.id = $2)
  AND ($3 OR i.status NOT IN ('draft','archived'))
ORDER BY i.outlet_id, i.code`, filter.OutletID, filter.ItemID, filter.IncludeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []BalanceRow{}
	for rows.Next() {
		var row BalanceRow
		if err := rows.Scan(&row.ItemID, &row.ItemCode, &row.ItemName, &row.OutletID, &row.Status,
			&row.Available, &row.Allocated, &row.Damaged, &row.Lost, &row.InRepair); err != nil {
			return nil, err
		}
		row.Total = row.Available + row.Allocated + row.InRepair
		if row.Status == ItemStatusActive {
			row.AvailableForAllocation = row.Available
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// GetSummary reads the cached summary without locking.
func (r *Repository) GetSummary(ctx context.Context, itemID, outletID int64) (Summary, error) {
	if r == nil {
		return Summary{}, errors.New("ledger repository not initialised")
	}
	var sum Summary
	err := r.pool.QueryRow(ctx, `SELECT item_id, outlet_id, available, allocated, damaged, lost, in_repair, updated_at
FROM stock_summaries WHERE item_id=$1 AND outlet_id=$2`, itemID, outletID).
		Scan(&sum.ItemID, &sum.OutletID, &sum.Available, &sum.Allocated, &sum.Damaged, &sum.Lost, &sum.InRepair, &sum.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{ItemID: itemID, OutletID: outletID}, ErrSummaryNotFound
		}
		return Summary{}, err
	}
	return sum, nil
}

// MovementFilter scopes movement history listings.
type MovementFilter struct {
	ItemID        int64
	OutletID      int64
	Category      Category
	ReferenceType ReferenceType
	ReferenceID   string
	From          time.Time
	To            time.Time
	Limit         int
}

// ListMovements returns ledger history, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, code, item_id, outlet_id, category, quantity, reference_type, COALESCE(reference_id,''), notes, created_by, created_at
FROM stock_movements
WHERE ($1 = 0 OR item_id = $1)
  AND ($2 = 0 OR outlet_id = $2)
  AND ($3 = '' OR category = $3)
  AND ($4 = '' OR reference_type = $4)
  AND ($5 = '' OR reference_id = $5)
  AND created_at BETWEEN COALESCE($6, '-infinity') AND COALESCE($7, 'infinity')
ORDER BY created_at ASC, id ASC
LIMIT $8`, filter.ItemID, filter.OutletID, string(filter.Category), string(filter.ReferenceType),
		filter.ReferenceID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var category, refType string
		if err := rows.Scan(&m.ID, &m.Code, &m.ItemID, &m.OutletID, &category, &m.Quantity, &refType, &m.ReferenceID, &m.Notes, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Category = Category(category)
		m.ReferenceType = ReferenceType(refType)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// AggregateBalances recomputes balances from scratch: confirmed opening
// balance plus a full replay of the movement log. Divergence from the
// stored summary is a bug, not an approximation.
func (r *Repository) AggregateBalances(ctx context.Context, itemID, outletID int64) (Balances, error) {
	if r == nil {
		return Balances{}, errors.New("ledger repository not initialised")
	}
	var opening int64
	var confirmed bool
	err := r.pool.QueryRow(ctx, `SELECT opening_balance, opening_balance_confirmed FROM items WHERE id=$1 AND outlet_id=$2`, itemID, outletID).
		Scan(&opening, &confirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balances{}, fmt.Errorf("%w: item %d at outlet %d", shared.ErrNotFound, itemID, outletID)
		}
		return Balances{}, err
	}
	if !confirmed {
		opening = 0
	}
	movements, err := r.ListMovements(ctx, MovementFilter{ItemID: itemID, OutletID: outletID, Limit: 1_000_000})
	if err != nil {
		return Balances{}, err
	}
	return ComputeBalances(opening, movements)
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

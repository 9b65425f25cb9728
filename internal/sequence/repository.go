package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Repository persists counters in the entity_sequences table. Outlet id
// zero marks global entities so the (entity, outlet_id) key stays unique.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Next atomically reserves the next value for the key. The upsert is the
// increment-if-exists and insert-with-initial-value in one statement; a
// concurrent first-insert race surfaces as a unique violation which the
// generator's retry loop absorbs.
func (r *Repository) Next(ctx context.Context, entity string, outletID int64) (int64, error) {
	if r == nil {
		return 0, errors.New("sequence repository not initialised")
	}
	var seq int64
	err := r.pool.QueryRow(ctx, `INSERT INTO entity_sequences (entity, outlet_id, last_seq)
VALUES ($1, $2, 1)
ON CONFLICT (entity, outlet_id)
DO UPDATE SET last_seq = entity_sequences.last_seq + 1
RETURNING last_seq`, entity, outletID).Scan(&seq)
	if err != nil {
		return 0, shared.ClassifyPgError(err)
	}
	return seq, nil
}

// OutletCode resolves the human-readable outlet code used in document codes.
func (r *Repository) OutletCode(ctx context.Context, outletID int64) (string, error) {
	if r == nil {
		return "", errors.New("sequence repository not initialised")
	}
	var code string
	err := r.pool.QueryRow(ctx, `SELECT code FROM outlets WHERE id=$1`, outletID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: outlet %d", shared.ErrNotFound, outletID)
		}
		return "", err
	}
	return code, nil
}

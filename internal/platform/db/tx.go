package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// WithTx executes fn within a RepeatableRead transaction. A failed fn rolls
// everything back, so a failed operation has written nothing. Commit-time
// serialization failures are classified as transient conflicts so callers
// can retry the whole operation.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return shared.ClassifyPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return shared.ClassifyPgError(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

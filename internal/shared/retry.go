package shared

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// RetryBudget bounds automatic retries of transient conflicts.
const RetryBudget = 3

// RetryBaseDelay is the base backoff between attempts; actual delay is jittered.
const RetryBaseDelay = 10 * time.Millisecond

// Retry runs fn up to attempts times, sleeping a jittered backoff between
// tries. Only errors classified as ErrTransientConflict are retried; all
// other errors return immediately. The last conflict is returned once the
// budget is exhausted.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = RetryBudget
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := RetryBaseDelay + time.Duration(rand.Int63n(int64(RetryBaseDelay)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// ClassifyPgError maps storage-level contention onto the shared taxonomy.
// Serialization failures (40001), deadlocks (40P01), and unique violations
// raced by a concurrent first-writer (23505) become ErrTransientConflict;
// timeouts surface as retryable rather than as silent partial writes.
func ClassifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505", "55P03":
			return errors.Join(ErrTransientConflict, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTransientConflict, err)
	}
	return err
}

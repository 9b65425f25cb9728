// Package sequence issues collision-free, human-readable document codes
// per entity type and outlet. Every other module asks here whenever a new
// item, movement, or audit code is needed.
package sequence

import (
	"context"
	"fmt"
	"strings"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Store persists monotonically increasing counters per (entity, outlet)
// key. Next must be atomic: no two callers may observe the same value.
type Store interface {
	Next(ctx context.Context, entity string, outletID int64) (int64, error)
	OutletCode(ctx context.Context, outletID int64) (string, error)
}

// Generator hands out sequence numbers and formatted codes.
type Generator struct {
	store      Store
	onConflict func()
}

// NewGenerator constructs a Generator. onConflict, when non-nil, is invoked
// once per retried contention event (metrics hook).
func NewGenerator(store Store, onConflict func()) *Generator {
	return &Generator{store: store, onConflict: onConflict}
}

// NextSeq returns the next value for the key, retrying concurrent
// first-insert races within the shared bounded budget. Values may have
// gaps when a surrounding transaction aborts after reserving one, but are
// strictly increasing and never reused.
func (g *Generator) NextSeq(ctx context.Context, entity string, outletID int64) (int64, error) {
	if strings.TrimSpace(entity) == "" {
		return 0, fmt.Errorf("%w: sequence entity required", shared.ErrValidation)
	}
	var seq int64
	attempt := 0
	err := shared.Retry(ctx, shared.RetryBudget, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && g.onConflict != nil {
			g.onConflict()
		}
		next, err := g.store.Next(ctx, entity, outletID)
		if err != nil {
			return err
		}
		seq = next
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sequence: next %s/%d: %w", entity, outletID, err)
	}
	return seq, nil
}

// GenerateCode formats PREFIX-OUTLETCODE-NNN, zero-padded to three digits
// and growing naturally past 999. The outlet segment is omitted for global
// entities (outletID zero).
func (g *Generator) GenerateCode(ctx context.Context, entity, prefix string, outletID int64) (string, error) {
	if strings.TrimSpace(prefix) == "" {
		return "", fmt.Errorf("%w: sequence prefix required", shared.ErrValidation)
	}
	seq, err := g.NextSeq(ctx, entity, outletID)
	if err != nil {
		return "", err
	}
	if outletID == 0 {
		return fmt.Sprintf("%s-%03d", prefix, seq), nil
	}
	outletCode, err := g.store.OutletCode(ctx, outletID)
	if err != nil {
		return "", fmt.Errorf("sequence: outlet code %d: %w", outletID, err)
	}
	return fmt.Sprintf("%s-%s-%03d", prefix, outletCode, seq), nil
}

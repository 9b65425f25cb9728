// Package ledger is the append-only stock movement log and the single
// source of truth for every quantity change. Balances are derived from
// movements plus each item's confirmed opening balance; the stored summary
// row is only a cache of that aggregation, refreshed in the same
// transaction that appends a movement.
package ledger

import (
	"fmt"
	"time"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Category enumerates supported stock movements. Quantity is always
// positive; direction is carried by the category.
type Category string

const (
	// CategoryInflow represents purchased or received stock.
	CategoryInflow Category = "INFLOW"
	// CategoryOutflow represents stock issued against an allocation.
	CategoryOutflow Category = "OUTFLOW"
	// CategoryReturn represents allocated stock coming back.
	CategoryReturn Category = "RETURN"
	// CategoryDamage closes allocated stock as damaged.
	CategoryDamage Category = "DAMAGE"
	// CategoryLoss closes allocated stock as lost.
	CategoryLoss Category = "LOSS"
	// CategoryAdjustIn reconciles an audit surplus into the ledger.
	CategoryAdjustIn Category = "ADJUST_IN"
	// CategoryAdjustOut reconciles an audit shortage out of the ledger.
	CategoryAdjustOut Category = "ADJUST_OUT"
	// CategoryRepairOut sends stock to repair.
	CategoryRepairOut Category = "REPAIR_OUT"
	// CategoryRepairIn brings repaired stock back.
	CategoryRepairIn Category = "REPAIR_IN"
)

// Valid reports whether the category is known.
func (c Category) Valid() bool {
	switch c {
	case CategoryInflow, CategoryOutflow, CategoryReturn, CategoryDamage,
		CategoryLoss, CategoryAdjustIn, CategoryAdjustOut,
		CategoryRepairOut, CategoryRepairIn:
		return true
	}
	return false
}

// ReferenceType links a movement back to the business document that caused it.
type ReferenceType string

const (
	ReferenceSubscription ReferenceType = "SUBSCRIPTION"
	ReferenceEvent        ReferenceType = "EVENT"
	ReferenceAllocation   ReferenceType = "ALLOCATION"
	ReferenceAudit        ReferenceType = "AUDIT"
	ReferenceManual       ReferenceType = "MANUAL"
)

// Movement is an immutable ledger fact. Rows are never updated or deleted;
// corrections are new, offsetting movements.
type Movement struct {
	ID            int64
	Code          string
	ItemID        int64
	OutletID      int64
	Category      Category
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   string
	Notes         string
	CreatedBy     int64
	CreatedAt     time.Time
}

// Summary caches the ledger aggregation for one item at one outlet.
// Available already includes the confirmed opening balance.
type Summary struct {
	ItemID    int64
	OutletID  int64
	Available int64
	Allocated int64
	Damaged   int64
	Lost      int64
	InRepair  int64
	UpdatedAt time.Time
}

// Balances is the read model exposed to callers.
type Balances struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Allocated int64 `json:"allocated"`
	Damaged   int64 `json:"damaged"`
	InRepair  int64 `json:"in_repair"`
	Lost      int64 `json:"lost"`
}

// BalancesOf derives the read model from a summary. Total counts goods the
// outlet still owns: on hand, out on allocation, or in repair. Damaged and
// lost are cumulative write-offs.
func BalancesOf(s Summary) Balances {
	return Balances{
		Total:     s.Available + s.Allocated + s.InRepair,
		Available: s.Available,
		Allocated: s.Allocated,
		Damaged:   s.Damaged,
		Lost:      s.Lost,
		InRepair:  s.InRepair,
	}
}

// Apply folds one movement into a summary, enforcing the non-negative
// guards. It is the only place delta rules live; the repository and the
// integrity job both go through it.
func Apply(s Summary, category Category, qty int64) (Summary, error) {
	if qty <= 0 {
		return s, fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	}
	switch category {
	case CategoryInflow:
		s.Available += qty
	case CategoryOutflow:
		if s.Available < qty {
			return s, fmt.Errorf("%w: available %d < requested %d", shared.ErrInsufficientStock, s.Available, qty)
		}
		s.Available -= qty
		s.Allocated += qty
	case CategoryReturn:
		if s.Allocated < qty {
			return s, fmt.Errorf("%w: allocated %d < returned %d", shared.ErrInsufficientOutstanding, s.Allocated, qty)
		}
		s.Allocated -= qty
		s.Available += qty
	case CategoryDamage:
		if s.Allocated < qty {
			return s, fmt.Errorf("%w: allocated %d < damaged %d", shared.ErrInsufficientOutstanding, s.Allocated, qty)
		}
		s.Allocated -= qty
		s.Damaged += qty
	case CategoryLoss:
		if s.Allocated < qty {
			return s, fmt.Errorf("%w: allocated %d < lost %d", shared.ErrInsufficientOutstanding, s.Allocated, qty)
		}
		s.Allocated -= qty
		s.Lost += qty
	case CategoryAdjustIn:
		s.Available += qty
	case CategoryAdjustOut:
		if s.Available < qty {
			return s, fmt.Errorf("%w: available %d < adjustment %d", shared.ErrInsufficientStock, s.Available, qty)
		}
		s.Available -= qty
	case CategoryRepairOut:
		if s.Available < qty {
			return s, fmt.Errorf("%w: available %d < repair %d", shared.ErrInsufficientStock, s.Available, qty)
		}
		s.Available -= qty
		s.InRepair += qty
	case CategoryRepairIn:
		if s.InRepair < qty {
			return s, fmt.Errorf("%w: in repair %d < returned %d", shared.ErrValidation, s.InRepair, qty)
		}
		s.InRepair -= qty
		s.Available += qty
	default:
		return s, fmt.Errorf("%w: unknown category %q", shared.ErrValidation, category)
	}
	return s, nil
}

// ComputeBalances replays movements over a confirmed opening balance. The
// stored summary is correct exactly when it equals this aggregation.
func ComputeBalances(opening int64, movements []Movement) (Balances, error) {
	s := Summary{Available: opening}
	for _, m := range movements {
		next, err := Apply(s, m.Category, m.Quantity)
		if err != nil {
			return Balances{}, fmt.Errorf("ledger: replay movement %d: %w", m.ID, err)
		}
		s = next
	}
	return BalancesOf(s), nil
}

// ItemInfo is the slice of the item master the ledger needs for
// validation: ownership, lifecycle, and the opening-balance latch.
type ItemInfo struct {
	ID                      int64
	OutletID                int64
	Status                  string
	OpeningBalance          int64
	OpeningBalanceConfirmed bool
}

// ItemStatusActive is the only lifecycle status eligible for new
// allocations; discontinued stock is still tracked.
const ItemStatusActive = "active"

// ErrSummaryNotFound indicates no summary row exists yet for the key.
var ErrSummaryNotFound = fmt.Errorf("ledger: summary %w", shared.ErrNotFound)

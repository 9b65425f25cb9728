// Package allocation tracks stock issued against subscriptions and
// events until every unit is accounted for: returned, damaged, or lost.
// Outstanding quantity is always derived from the movement log, never
// stored.
package allocation

import (
	"fmt"
	"time"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Allocation is one issue of stock against a business document. The
// allocation and its outflow movement reference each other: the movement
// via reference_id, the allocation via OutflowMovementID.
type Allocation struct {
	ID                int64                `json:"id"`
	Code              string               `json:"code"`
	ItemID            int64                `json:"item_id"`
	OutletID          int64                `json:"outlet_id"`
	ReferenceType     ledger.ReferenceType `json:"reference_type"`
	ReferenceID       string               `json:"reference_id"`
	Quantity          int64                `json:"quantity"`
	OutflowMovementID int64                `json:"outflow_movement_id,omitempty"`
	IsActive          bool                 `json:"is_active"`
	CreatedBy         int64                `json:"created_by"`
	CreatedAt         time.Time            `json:"created_at"`
	ClosedAt          *time.Time           `json:"closed_at,omitempty"`
}

// View is an allocation with its live-derived outstanding quantity.
type View struct {
	Allocation
	Resolved    int64 `json:"resolved"`
	Outstanding int64 `json:"outstanding"`
}

// ResolutionKind says how outstanding units came back to rest.
type ResolutionKind string

const (
	ResolveReturn ResolutionKind = "return"
	ResolveDamage ResolutionKind = "damage"
	ResolveLoss   ResolutionKind = "loss"
)

// Category maps the resolution onto its ledger movement.
func (k ResolutionKind) Category() (ledger.Category, error) {
	switch k {
	case ResolveReturn:
		return ledger.CategoryReturn, nil
	case ResolveDamage:
		return ledger.CategoryDamage, nil
	case ResolveLoss:
		return ledger.CategoryLoss, nil
	}
	return "", fmt.Errorf("%w: unknown resolution kind %q", shared.ErrValidation, k)
}

// allocatableReferences are the documents stock can be issued against.
var allocatableReferences = map[ledger.ReferenceType]bool{
	ledger.ReferenceSubscription: true,
	ledger.ReferenceEvent:        true,
	ledger.ReferenceManual:       true,
}

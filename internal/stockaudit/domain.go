// Package stockaudit runs the physical-count reconciliation workflow:
// snapshot system quantities, collect counts, explain variances, and turn
// an approved audit into ledger adjustments exactly once.
package stockaudit

import (
	"time"

	"github.com/google/uuid"

	"github.com/coaltech18/hybits-crm/internal/shared"
)

// Status is the audit workflow state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusCounting        Status = "counting"
	StatusReview          Status = "review"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Countable reports whether counts and variance reasons may still change.
func (s Status) Countable() bool {
	return s == StatusCounting || s == StatusReview
}

// Cancellable reports whether the audit may still be abandoned. Once
// submitted for approval the decision belongs to an admin.
func (s Status) Cancellable() bool {
	switch s {
	case StatusDraft, StatusCounting, StatusReview:
		return true
	}
	return false
}

// Audit is one reconciliation cycle for an outlet and period.
type Audit struct {
	ID        int64         `json:"id"`
	PublicID  uuid.UUID     `json:"public_id"`
	Code      string        `json:"code"`
	OutletID  int64         `json:"outlet_id"`
	Period    shared.Period `json:"-"`
	Status    Status        `json:"status"`
	CreatedBy int64         `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// LineItem is the per-item snapshot and count. SystemQuantity is frozen at
// creation; recounting never refreshes it.
type LineItem struct {
	ID               int64      `json:"id"`
	AuditID          int64      `json:"audit_id"`
	ItemID           int64      `json:"item_id"`
	ItemCode         string     `json:"item_code"`
	SystemQuantity   int64      `json:"system_quantity"`
	PhysicalQuantity *int64     `json:"physical_quantity"`
	VarianceReason   string     `json:"variance_reason,omitempty"`
	VarianceNotes    string     `json:"variance_notes,omitempty"`
	CountedBy        int64      `json:"counted_by,omitempty"`
	CountedAt        *time.Time `json:"counted_at,omitempty"`
}

// Counted reports whether a physical quantity has been entered.
func (l LineItem) Counted() bool {
	return l.PhysicalQuantity != nil
}

// Variance is physical minus system; zero until counted.
func (l LineItem) Variance() int64 {
	if l.PhysicalQuantity == nil {
		return 0
	}
	return *l.PhysicalQuantity - l.SystemQuantity
}

// NeedsReason reports whether the line blocks submission without a
// variance reason.
func (l LineItem) NeedsReason() bool {
	return l.Counted() && l.Variance() != 0 && l.VarianceReason == ""
}

// View is an audit with its line items.
type View struct {
	Audit
	PeriodLabel string     `json:"period"`
	Lines       []LineItem `json:"lines,omitempty"`
}

// VarianceReasonCodes are the accepted explanations for a count mismatch.
var VarianceReasonCodes = map[string]bool{
	"breakage":          true,
	"theft":             true,
	"miscount":          true,
	"damage_not_logged": true,
	"unrecorded_in":     true,
	"unrecorded_out":    true,
	"other":             true,
}

package stockaudit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAudit(ctx context.Context, id int64) (View, error)
	ListAudits(ctx context.Context, filter ListFilter) ([]View, error)
	GetLine(ctx context.Context, lineID int64) (LineItem, Audit, error)
}

// CodeGenerator issues audit and movement codes.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, entity, prefix string, outletID int64) (string, error)
}

// ApprovalPort records the submit/approve/reject history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// ActivityPort abstracts the who-did-what trail.
type ActivityPort interface {
	Record(ctx context.Context, log shared.ActivityLog) error
}

// Service coordinates the audit workflow.
type Service struct {
	repo       RepositoryPort
	codes      CodeGenerator
	approvals  ApprovalPort
	activity   ActivityPort
	policy     shared.Policy
	now        func() time.Time
	onApproved func()
}

// NewService constructs Service. onApproved, when non-nil, fires once per
// audit reaching the approved state (metrics hook).
func NewService(repo RepositoryPort, codes CodeGenerator, approvals ApprovalPort, activity ActivityPort, onApproved func()) *Service {
	return &Service{repo: repo, codes: codes, approvals: approvals, activity: activity, now: time.Now, onApproved: onApproved}
}

// WithNow overrides the clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateInput describes a new audit cycle.
type CreateInput struct {
	OutletID int64
	Period   shared.Period
	Actor    shared.Actor
}

// CreateAudit opens a reconciliation cycle: one open audit per outlet and
// period, never for a future month. The snapshot and the move to counting
// happen in the creation transaction, so an audit is never observable
// half-snapshotted.
func (s *Service) CreateAudit(ctx context.Context, input CreateInput) (View, error) {
	if input.OutletID == 0 {
		return View{}, fmt.Errorf("%w: outlet required", shared.ErrValidation)
	}
	if input.Period.IsZero() {
		return View{}, fmt.Errorf("%w: period required", shared.ErrValidation)
	}
	if input.Period.After(s.now()) {
		return View{}, fmt.Errorf("%w: cannot audit future period %s", shared.ErrValidation, input.Period)
	}
	if err := s.policy.CanCreateAudit(input.Actor, input.OutletID); err != nil {
		return View{}, err
	}

	code, err := s.codes.GenerateCode(ctx, "stock_audit", "AUD", input.OutletID)
	if err != nil {
		return View{}, err
	}

	audit := Audit{
		PublicID:  uuid.New(),
		Code:      code,
		OutletID:  input.OutletID,
		Period:    input.Period,
		Status:    StatusDraft,
		CreatedBy: input.Actor.ID,
	}
	// The existence check is the friendly gate; the partial unique index on
	// (outlet_id, period) is the authoritative one. A racing creator loses
	// the insert as a transient conflict, and the retry re-reads the winner.
	err = shared.Retry(ctx, shared.RetryBudget, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			open, err := tx.ExistsOpenForPeriod(ctx, input.OutletID, input.Period)
			if err != nil {
				return err
			}
			if open {
				return fmt.Errorf("%w: an audit for %s at outlet %d is already open or approved", shared.ErrValidation, input.Period, input.OutletID)
			}
			audit, err = tx.InsertAudit(ctx, audit)
			if err != nil {
				return err
			}
			count, err := tx.SnapshotLines(ctx, audit.ID, input.OutletID)
			if err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: outlet %d has no items to count", shared.ErrValidation, input.OutletID)
			}
			ok, err := tx.TransitionStatus(ctx, audit.ID, StatusDraft, StatusCounting)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: audit %d left draft unexpectedly", shared.ErrInvalidTransition, audit.ID)
			}
			audit.Status = StatusCounting
			return nil
		})
	})
	if err != nil {
		return View{}, err
	}

	s.record(ctx, input.Actor, "audit:create", audit.Code, map[string]any{"audit_id": audit.ID, "period": audit.Period.String()})
	return s.repo.GetAudit(ctx, audit.ID)
}

// UpdateCount records a physical count for one line. The write happens
// under the audit row lock: an in-flight submit holds the same lock, so
// the status re-check runs after it commits and a late edit can never
// slip into an audit whose adjustments are already decided.
func (s *Service) UpdateCount(ctx context.Context, actor shared.Actor, lineID, qty int64) (LineItem, error) {
	if qty < 0 {
		return LineItem{}, fmt.Errorf("%w: physical quantity cannot be negative", shared.ErrValidation)
	}
	line, audit, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return LineItem{}, err
	}
	if err := s.policy.CanCountAudit(actor, audit.OutletID); err != nil {
		return LineItem{}, err
	}
	if !audit.Status.Countable() {
		return LineItem{}, fmt.Errorf("%w: audit %s is %s", shared.ErrInvalidTransition, audit.Code, audit.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetAuditForUpdate(ctx, audit.ID)
		if err != nil {
			return err
		}
		if !locked.Status.Countable() {
			return fmt.Errorf("%w: audit %s is %s", shared.ErrInvalidTransition, locked.Code, locked.Status)
		}
		return tx.UpdateCount(ctx, lineID, qty, actor.ID)
	})
	if err != nil {
		return LineItem{}, err
	}
	line.PhysicalQuantity = &qty
	line.CountedBy = actor.ID
	return line, nil
}

// UpdateVarianceReason explains a non-zero variance with a coded reason.
// Same locking discipline as UpdateCount.
func (s *Service) UpdateVarianceReason(ctx context.Context, actor shared.Actor, lineID int64, reason, notes string) (LineItem, error) {
	if !VarianceReasonCodes[reason] {
		return LineItem{}, fmt.Errorf("%w: unknown variance reason %q", shared.ErrValidation, reason)
	}
	line, audit, err := s.repo.GetLine(ctx, lineID)
	if err != nil {
		return LineItem{}, err
	}
	if err := s.policy.CanCountAudit(actor, audit.OutletID); err != nil {
		return LineItem{}, err
	}
	if !audit.Status.Countable() {
		return LineItem{}, fmt.Errorf("%w: audit %s is %s", shared.ErrInvalidTransition, audit.Code, audit.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetAuditForUpdate(ctx, audit.ID)
		if err != nil {
			return err
		}
		if !locked.Status.Countable() {
			return fmt.Errorf("%w: audit %s is %s", shared.ErrInvalidTransition, locked.Code, locked.Status)
		}
		return tx.UpdateVarianceReason(ctx, lineID, reason, notes)
	})
	if err != nil {
		return LineItem{}, err
	}
	line.VarianceReason = reason
	line.VarianceNotes = notes
	return line, nil
}

// MarkReview moves a fully-counted audit to the review state for a second
// pair of eyes before submission. Optional: SubmitAudit accepts both.
func (s *Service) MarkReview(ctx context.Context, actor shared.Actor, id int64) (View, error) {
	view, err := s.repo.GetAudit(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.policy.CanCountAudit(actor, view.OutletID); err != nil {
		return View{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.TransitionStatus(ctx, id, StatusCounting, StatusReview)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: audit %d is not in counting", shared.ErrInvalidTransition, id)
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return s.repo.GetAudit(ctx, id)
}

// SubmitAudit closes the counting phase. Every line must be counted and
// every non-zero variance explained, or the audit stays untouched. With no
// negative variance anywhere the audit auto-approves and its adjustments
// land in the same transaction; any shortage parks it in pending_approval
// with zero ledger effect.
func (s *Service) SubmitAudit(ctx context.Context, actor shared.Actor, id int64) (View, error) {
	current, err := s.repo.GetAudit(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.policy.CanCountAudit(actor, current.OutletID); err != nil {
		return View{}, err
	}

	autoApproved := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := tx.GetAuditForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !audit.Status.Countable() {
			return fmt.Errorf("%w: audit %s is %s", shared.ErrInvalidTransition, audit.Code, audit.Status)
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		uncounted, unexplained, negative := 0, 0, false
		for _, line := range lines {
			if !line.Counted() {
				uncounted++
				continue
			}
			if line.NeedsReason() {
				unexplained++
			}
			if line.Variance() < 0 {
				negative = true
			}
		}
		if uncounted > 0 || unexplained > 0 {
			return fmt.Errorf("%w: %d uncounted lines, %d unexplained variances", shared.ErrIncompleteAudit, uncounted, unexplained)
		}

		target := StatusPendingApproval
		if !negative {
			target = StatusApproved
		}
		ok, err := tx.TransitionStatus(ctx, id, audit.Status, target)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: audit %d changed state during submit", shared.ErrInvalidTransition, id)
		}
		if !negative {
			if err := s.emitAdjustments(ctx, tx, audit, lines, actor); err != nil {
				return err
			}
			autoApproved = true
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.recordApproval(ctx, current.PublicID, actor, shared.ApprovalSubmit, "")
	if autoApproved {
		s.recordApproval(ctx, current.PublicID, actor, shared.ApprovalApprove, "auto-approved: no negative variance")
		if s.onApproved != nil {
			s.onApproved()
		}
	}
	s.record(ctx, actor, "audit:submit", current.Code, map[string]any{"audit_id": id, "auto_approved": autoApproved})
	return s.repo.GetAudit(ctx, id)
}

// ApproveAudit decides a pending audit. The guarded pending_approval ->
// approved flip makes the decision exactly-once: of two racing approvers
// only the one whose update lands emits adjustment movements.
func (s *Service) ApproveAudit(ctx context.Context, actor shared.Actor, id int64, approved bool, reason string) (View, error) {
	if err := s.policy.CanApproveAudit(actor); err != nil {
		return View{}, err
	}
	if !approved && reason == "" {
		return View{}, fmt.Errorf("%w: rejection requires a reason", shared.ErrValidation)
	}

	current, err := s.repo.GetAudit(ctx, id)
	if err != nil {
		return View{}, err
	}
	target := StatusRejected
	if approved {
		target = StatusApproved
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := tx.GetAuditForUpdate(ctx, id)
		if err != nil {
			return err
		}
		ok, err := tx.TransitionStatus(ctx, id, StatusPendingApproval, target)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: audit %s is %s, not pending approval", shared.ErrInvalidTransition, audit.Code, audit.Status)
		}
		if approved {
			lines, err := tx.GetLines(ctx, id)
			if err != nil {
				return err
			}
			return s.emitAdjustments(ctx, tx, audit, lines, actor)
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	action := shared.ApprovalReject
	if approved {
		action = shared.ApprovalApprove
		if s.onApproved != nil {
			s.onApproved()
		}
	}
	s.recordApproval(ctx, current.PublicID, actor, action, reason)
	s.record(ctx, actor, fmt.Sprintf("audit:%s", target), current.Code, map[string]any{"audit_id": id, "reason": reason})
	return s.repo.GetAudit(ctx, id)
}

// CancelAudit abandons a cycle before it reaches approval. No ledger
// effect, ever.
func (s *Service) CancelAudit(ctx context.Context, actor shared.Actor, id int64) (View, error) {
	current, err := s.repo.GetAudit(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.policy.CanCancelAudit(actor, current.OutletID); err != nil {
		return View{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := tx.GetAuditForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !audit.Status.Cancellable() {
			return fmt.Errorf("%w: audit %s is %s", shared.ErrInvalidTransition, audit.Code, audit.Status)
		}
		ok, err := tx.TransitionStatus(ctx, id, audit.Status, StatusCancelled)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: audit %d changed state during cancel", shared.ErrInvalidTransition, id)
		}
		return nil
	})
	if err != nil {
		return View{}, err
	}

	s.recordApproval(ctx, current.PublicID, actor, shared.ApprovalCancel, "")
	s.record(ctx, actor, "audit:cancel", current.Code, map[string]any{"audit_id": id})
	return s.repo.GetAudit(ctx, id)
}

// GetAudit loads one audit with lines.
func (s *Service) GetAudit(ctx context.Context, actor shared.Actor, id int64) (View, error) {
	view, err := s.repo.GetAudit(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.policy.CanViewInventory(actor, view.OutletID); err != nil {
		return View{}, err
	}
	return view, nil
}

// ListAudits lists audits, outlet-scoped for non-admins.
func (s *Service) ListAudits(ctx context.Context, actor shared.Actor, filter ListFilter) ([]View, error) {
	if err := s.policy.CanViewInventory(actor, filter.OutletID); err != nil {
		return nil, err
	}
	if actor.Role != shared.RoleAdmin && filter.OutletID == 0 {
		filter.OutletID = actor.OutletID
	}
	return s.repo.ListAudits(ctx, filter)
}

// emitAdjustments turns counted variances into ledger movements: surplus
// becomes an inbound adjustment, shortage an outbound one, quantity always
// the absolute variance, reference always the audit.
func (s *Service) emitAdjustments(ctx context.Context, tx TxRepository, audit Audit, lines []LineItem, actor shared.Actor) error {
	for _, line := range lines {
		variance := line.Variance()
		if variance == 0 {
			continue
		}
		category := ledger.CategoryAdjustIn
		qty := variance
		if variance < 0 {
			category = ledger.CategoryAdjustOut
			qty = -variance
		}
		code, err := s.codes.GenerateCode(ctx, "movement", "MOV", audit.OutletID)
		if err != nil {
			return err
		}
		_, err = ledger.Append(ctx, tx.Ledger(), ledger.Movement{
			Code:          code,
			ItemID:        line.ItemID,
			OutletID:      audit.OutletID,
			Category:      category,
			Quantity:      qty,
			ReferenceType: ledger.ReferenceAudit,
			ReferenceID:   strconv.FormatInt(audit.ID, 10),
			Notes:         fmt.Sprintf("audit %s: %s", audit.Code, line.VarianceReason),
			CreatedBy:     actor.ID,
		})
		if err != nil {
			return fmt.Errorf("stockaudit: adjust item %d: %w", line.ItemID, err)
		}
	}
	return nil
}

func (s *Service) recordApproval(ctx context.Context, ref uuid.UUID, actor shared.Actor, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "stock_audit",
		RefID:   ref,
		ActorID: actor.ID,
		Action:  action,
		Note:    note,
	})
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action, entityID string, meta map[string]any) {
	if s.activity == nil {
		return
	}
	_ = s.activity.Record(ctx, shared.ActivityLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "stock_audit",
		EntityID: entityID,
		Meta:     meta,
	})
}

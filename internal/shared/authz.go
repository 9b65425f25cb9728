package shared

import "fmt"

// Policy gathers the authorization rules consulted by every inventory
// operation. Keeping the rules here, rather than as row-level database
// shortcuts, lets them be unit tested in isolation.
type Policy struct{}

// CanViewInventory allows any recognised role to read balances and history.
func (Policy) CanViewInventory(actor Actor, outletID int64) error {
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	return outletScope(actor, outletID)
}

// CanRecordMovement gates direct ledger writes (stock-in, repairs).
func (Policy) CanRecordMovement(actor Actor, outletID int64) error {
	if actor.Role == RoleAccountant {
		return fmt.Errorf("%w: accountants are read-only on stock", ErrForbidden)
	}
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	return outletScope(actor, outletID)
}

// CanAllocate gates issuing stock against subscriptions and events.
func (p Policy) CanAllocate(actor Actor, outletID int64) error {
	return p.CanRecordMovement(actor, outletID)
}

// CanCreateAudit gates starting a physical-count cycle.
func (p Policy) CanCreateAudit(actor Actor, outletID int64) error {
	if actor.Role == RoleAccountant {
		return fmt.Errorf("%w: accountants cannot create audits", ErrForbidden)
	}
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	return outletScope(actor, outletID)
}

// CanCountAudit gates entering physical counts and variance reasons.
func (Policy) CanCountAudit(actor Actor, outletID int64) error {
	if actor.Role == RoleAccountant {
		return fmt.Errorf("%w: accountants cannot edit counts", ErrForbidden)
	}
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, actor.Role)
	}
	return outletScope(actor, outletID)
}

// CanApproveAudit restricts approval and rejection to admins.
func (Policy) CanApproveAudit(actor Actor) error {
	if actor.Role != RoleAdmin {
		return fmt.Errorf("%w: audit approval requires admin", ErrForbidden)
	}
	return nil
}

// CanCancelAudit gates cancelling a non-terminal audit.
func (p Policy) CanCancelAudit(actor Actor, outletID int64) error {
	return p.CanCreateAudit(actor, outletID)
}

// outletScope confines non-admin actors to their own outlet. The admin
// bypass is expressed here explicitly instead of as an ambient rule.
func outletScope(actor Actor, outletID int64) error {
	if actor.Role == RoleAdmin {
		return nil
	}
	if outletID != 0 && actor.OutletID != outletID {
		return fmt.Errorf("%w: outlet %d is outside actor scope", ErrForbidden, outletID)
	}
	return nil
}

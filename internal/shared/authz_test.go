package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	policyAdmin      = Actor{ID: 1, Role: RoleAdmin}
	policyManager    = Actor{ID: 2, Role: RoleManager, OutletID: 1}
	policyAccountant = Actor{ID: 3, Role: RoleAccountant, OutletID: 1}
	policyUnknown    = Actor{ID: 4, Role: Role("intern"), OutletID: 1}
)

func TestCanViewInventory(t *testing.T) {
	var p Policy

	require.NoError(t, p.CanViewInventory(policyAdmin, 2))
	require.NoError(t, p.CanViewInventory(policyManager, 1))
	require.NoError(t, p.CanViewInventory(policyAccountant, 1))

	require.ErrorIs(t, p.CanViewInventory(policyManager, 2), ErrForbidden)
	require.ErrorIs(t, p.CanViewInventory(policyUnknown, 1), ErrForbidden)
}

func TestCanRecordMovement(t *testing.T) {
	var p Policy

	require.NoError(t, p.CanRecordMovement(policyAdmin, 2))
	require.NoError(t, p.CanRecordMovement(policyManager, 1))

	require.ErrorIs(t, p.CanRecordMovement(policyAccountant, 1), ErrForbidden)
	require.ErrorIs(t, p.CanRecordMovement(policyManager, 2), ErrForbidden)
	require.ErrorIs(t, p.CanRecordMovement(Actor{}, 1), ErrForbidden)
}

func TestAuditPolicies(t *testing.T) {
	var p Policy

	require.NoError(t, p.CanCreateAudit(policyManager, 1))
	require.NoError(t, p.CanCountAudit(policyManager, 1))
	require.NoError(t, p.CanCancelAudit(policyManager, 1))
	require.ErrorIs(t, p.CanCreateAudit(policyAccountant, 1), ErrForbidden)
	require.ErrorIs(t, p.CanCountAudit(policyAccountant, 1), ErrForbidden)
	require.ErrorIs(t, p.CanCreateAudit(policyManager, 2), ErrForbidden)

	require.NoError(t, p.CanApproveAudit(policyAdmin))
	require.ErrorIs(t, p.CanApproveAudit(policyManager), ErrForbidden)
	require.ErrorIs(t, p.CanApproveAudit(policyAccountant), ErrForbidden)
}

func TestOutletScopeZeroMeansUnscoped(t *testing.T) {
	var p Policy

	// Listing without an outlet filter is allowed; services narrow the
	// filter to the actor's own outlet before querying.
	require.NoError(t, p.CanViewInventory(policyManager, 0))
}

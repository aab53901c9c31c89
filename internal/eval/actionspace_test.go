package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionSpaceEnabledAction(t *testing.T) {
	contract := loanContract()
	states := InitEntityStates(contract)

	space, err := ComputeActionSpace(contract, map[string]any{"loan_amount": float64(5000)}, states, "underwriter")
	require.NoError(t, err)

	require.Len(t, space.Actions, 1)
	action := space.Actions[0]
	assert.Equal(t, "approval_flow", action.FlowID)
	assert.Equal(t, "approve_loan", action.EntryOperationID)
	assert.Equal(t, "underwriter", action.PersonaID)
	assert.Equal(t, []string{DefaultInstanceID}, action.InstanceBindings["loan"])

	require.Len(t, action.EnablingVerdicts, 1)
	assert.Equal(t, "loan_approved", action.EnablingVerdicts[0].VerdictType)
	assert.Equal(t, "approve_small_loans", action.EnablingVerdicts[0].ProducingRule)

	require.Len(t, action.AffectedEntities, 1)
	assert.Equal(t, "loan", action.AffectedEntities[0].EntityID)
	assert.Equal(t, "pending", action.AffectedEntities[0].CurrentState)

	assert.Len(t, space.CurrentVerdicts, 2)
	assert.Empty(t, space.BlockedActions)
}

func TestActionSpacePersonaNotAuthorized(t *testing.T) {
	contract := loanContract()
	states := InitEntityStates(contract)

	space, err := ComputeActionSpace(contract, map[string]any{"loan_amount": float64(5000)}, states, "applicant")
	require.NoError(t, err)

	assert.Empty(t, space.Actions)
	require.Len(t, space.BlockedActions, 1)
	assert.Equal(t, BlockedPersonaNotAuthorized, space.BlockedActions[0].Reason.Type)
}

func TestActionSpaceAuthorizationUsesAllowedPersonas(t *testing.T) {
	// The step's declared persona routes the flow; authorization comes
	// from the operation's allowed_personas list alone.
	contract := loanContract()
	entry := contract.Flows["approval_flow"].Steps[0].(*OperationStep)
	entry.Persona = "manager"
	states := InitEntityStates(contract)
	facts := map[string]any{"loan_amount": float64(5000)}

	space, err := ComputeActionSpace(contract, facts, states, "underwriter")
	require.NoError(t, err)
	require.Len(t, space.Actions, 1)
	assert.Equal(t, "approve_loan", space.Actions[0].EntryOperationID)
	assert.Equal(t, "underwriter", space.Actions[0].PersonaID)
	assert.Empty(t, space.BlockedActions)

	space, err = ComputeActionSpace(contract, facts, states, "manager")
	require.NoError(t, err)
	assert.Empty(t, space.Actions)
	require.Len(t, space.BlockedActions, 1)
	assert.Equal(t, BlockedPersonaNotAuthorized, space.BlockedActions[0].Reason.Type)
}

func TestActionSpacePreconditionNotMet(t *testing.T) {
	contract := loanContract()
	states := InitEntityStates(contract)

	// Loan too large: no loan_approved verdict derives.
	space, err := ComputeActionSpace(contract, map[string]any{"loan_amount": float64(500000)}, states, "underwriter")
	require.NoError(t, err)

	assert.Empty(t, space.Actions)
	require.Len(t, space.BlockedActions, 1)
	reason := space.BlockedActions[0].Reason
	assert.Equal(t, BlockedPreconditionNotMet, reason.Type)
	assert.Equal(t, []string{"loan_approved"}, reason.MissingVerdicts)
}

func TestActionSpaceEntityNotInSourceState(t *testing.T) {
	contract := loanContract()
	states := InitEntityStates(contract)
	states[InstanceKey{EntityID: "loan", InstanceID: DefaultInstanceID}] = "disbursed"

	space, err := ComputeActionSpace(contract, map[string]any{"loan_amount": float64(5000)}, states, "underwriter")
	require.NoError(t, err)

	require.Len(t, space.BlockedActions, 1)
	reason := space.BlockedActions[0].Reason
	assert.Equal(t, BlockedEntityNotInSourceState, reason.Type)
	assert.Equal(t, "loan", reason.EntityID)
	assert.Equal(t, "disbursed", reason.CurrentState)
	assert.Equal(t, "pending", reason.RequiredState)
}

func TestActionSpaceUnknownEntityInstance(t *testing.T) {
	contract := loanContract()

	space, err := ComputeActionSpace(contract, map[string]any{"loan_amount": float64(5000)}, EntityStateMap{}, "underwriter")
	require.NoError(t, err)

	require.Len(t, space.BlockedActions, 1)
	reason := space.BlockedActions[0].Reason
	assert.Equal(t, BlockedEntityNotInSourceState, reason.Type)
	assert.Equal(t, "(unknown)", reason.CurrentState)
}

func TestActionSpaceMissingFacts(t *testing.T) {
	contract := loanContract()
	states := InitEntityStates(contract)

	space, err := ComputeActionSpace(contract, map[string]any{}, states, "underwriter")
	require.NoError(t, err)

	assert.Empty(t, space.Actions)
	require.Len(t, space.BlockedActions, 1)
	reason := space.BlockedActions[0].Reason
	assert.Equal(t, BlockedMissingFacts, reason.Type)
	assert.Equal(t, []string{"loan_amount"}, reason.FactIDs)
}

func TestActionSpaceMultipleInstances(t *testing.T) {
	contract := loanContract()
	states := EntityStateMap{
		{EntityID: "loan", InstanceID: "loan-1"}: "pending",
		{EntityID: "loan", InstanceID: "loan-2"}: "disbursed",
		{EntityID: "loan", InstanceID: "loan-3"}: "pending",
	}

	space, err := ComputeActionSpace(contract, map[string]any{"loan_amount": float64(5000)}, states, "underwriter")
	require.NoError(t, err)

	require.Len(t, space.Actions, 1)
	assert.Equal(t, []string{"loan-1", "loan-3"}, space.Actions[0].InstanceBindings["loan"])
}

func TestExtractVerdictRefsDeduplicates(t *testing.T) {
	p := AndPred{
		Left: VerdictPresentPred{VerdictType: "a"},
		Right: OrPred{
			Left:  VerdictPresentPred{VerdictType: "b"},
			Right: NotPred{Operand: VerdictPresentPred{VerdictType: "a"}},
		},
	}
	assert.Equal(t, []string{"a", "b"}, extractVerdictRefs(p))
}

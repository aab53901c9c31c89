package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptySnapshot() *Snapshot {
	return &Snapshot{Facts: NewFactSet(), Verdicts: NewVerdictSet()}
}

// orderContract models a small fulfilment pipeline used by the flow
// engine tests. Operations always pass their preconditions; failures are
// induced through entity source states.
func orderContract() *Contract {
	alwaysTrue := LiteralPred{Value: BoolValue(true)}
	return &Contract{
		ID: "fulfilment",
		Entities: map[string]*Entity{
			"order":   {ID: "order", States: []string{"new", "packed", "shipped", "cancelled"}, Initial: "new"},
			"invoice": {ID: "invoice", States: []string{"draft", "issued", "voided"}, Initial: "draft"},
		},
		Operations: map[string]*Operation{
			"pack_order": {
				ID: "pack_order", AllowedPersonas: []string{"ops"}, Precondition: alwaysTrue,
				Effects: []Effect{{EntityID: "order", From: "new", To: "packed"}},
			},
			"ship_order": {
				ID: "ship_order", AllowedPersonas: []string{"ops"}, Precondition: alwaysTrue,
				Effects: []Effect{{EntityID: "order", From: "packed", To: "shipped"}},
			},
			"cancel_order": {
				ID: "cancel_order", AllowedPersonas: []string{"ops"}, Precondition: alwaysTrue,
				Effects: []Effect{{EntityID: "order", From: "packed", To: "cancelled"}},
			},
			"issue_invoice": {
				ID: "issue_invoice", AllowedPersonas: []string{"billing"}, Precondition: alwaysTrue,
				Effects: []Effect{{EntityID: "invoice", From: "draft", To: "issued"}},
			},
		},
		Flows:    map[string]*Flow{},
		Facts:    map[string]*FactDecl{},
		Personas: map[string]bool{"ops": true, "billing": true},
	}
}

func orderStates() EntityStateMap {
	return EntityStateMap{
		{EntityID: "order", InstanceID: DefaultInstanceID}:   "new",
		{EntityID: "invoice", InstanceID: DefaultInstanceID}: "draft",
	}
}

func TestExecuteFlowLinear(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "pack",
		Steps: []FlowStep{
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Step: "ship"}}},
			&OperationStep{ID: "ship", Op: "ship_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Outcome: "fulfilled", Terminal: true}}},
		},
	}
	states := orderStates()

	result, err := ExecuteFlow(contract, flow, emptySnapshot(), states, nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fulfilled", result.Outcome)
	require.Len(t, result.StepsExecuted, 2)
	assert.Equal(t, "pack", result.StepsExecuted[0].StepID)
	assert.Equal(t, "operation", result.StepsExecuted[0].StepType)
	assert.Equal(t, "success", result.StepsExecuted[0].Result)
	require.Len(t, result.EntityStateChanges, 2)
	require.NotNil(t, result.InitiatingPersona)
	assert.Equal(t, "ops", *result.InitiatingPersona)

	// The caller's state map is untouched; changes live in the result.
	assert.Equal(t, "new", states[InstanceKey{EntityID: "order", InstanceID: DefaultInstanceID}])
}

func TestExecuteFlowUnhandledOutcome(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "pack",
		Steps: []FlowStep{
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"packed": {Outcome: "done", Terminal: true}}},
		},
	}
	_, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.Error(t, err)
	assert.EqualError(t, err, "flow error in 'fulfil': operation outcome 'success' not handled in step 'pack'")
}

func TestExecuteFlowTerminateHandler(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "ship",
		Steps: []FlowStep{
			// Shipping a new (not yet packed) order fails.
			&OperationStep{ID: "ship", Op: "ship_order", Persona: "ops",
				Outcomes:  map[string]StepTarget{"success": {Outcome: "fulfilled", Terminal: true}},
				OnFailure: &FailureHandler{Kind: "Terminate", Outcome: "aborted"}},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "aborted", result.Outcome)
	require.Len(t, result.StepsExecuted, 1)
	assert.Contains(t, result.StepsExecuted[0].Result, "error: entity 'order' instance '_default' in state 'new', expected 'packed'")
}

func TestExecuteFlowFailureWithoutHandler(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "ship",
		Steps: []FlowStep{
			&OperationStep{ID: "ship", Op: "ship_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Outcome: "fulfilled", Terminal: true}}},
		},
	}
	_, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.Error(t, err)
	var evalErr *Error
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, CodeFlowError, evalErr.Code)
}

func TestExecuteFlowCompensateHandler(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "pack",
		Steps: []FlowStep{
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Step: "bill"}}},
			// Billing with the wrong persona fails, triggering the
			// compensation path that cancels the packed order.
			&OperationStep{ID: "bill", Op: "issue_invoice", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Outcome: "fulfilled", Terminal: true}},
				OnFailure: &FailureHandler{
					Kind: "Compensate",
					Steps: []CompStep{{
						Op: "cancel_order", Persona: "ops",
						OnFailure: StepTarget{Outcome: "compensation_failed", Terminal: true},
					}},
					Then: StepTarget{Outcome: "rolled_back", Terminal: true},
				}},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "rolled_back", result.Outcome)

	require.Len(t, result.StepsExecuted, 3)
	assert.Equal(t, "comp:cancel_order", result.StepsExecuted[2].StepID)
	assert.Equal(t, "compensation", result.StepsExecuted[2].StepType)
	assert.Equal(t, "success", result.StepsExecuted[2].Result)

	// pack then cancel: both transitions are reported.
	require.Len(t, result.EntityStateChanges, 2)
	assert.Equal(t, "cancelled", result.EntityStateChanges[1].ToState)
}

func TestExecuteFlowEscalateHandler(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "ship",
		Steps: []FlowStep{
			&OperationStep{ID: "ship", Op: "ship_order", Persona: "ops",
				Outcomes:  map[string]StepTarget{"success": {Outcome: "fulfilled", Terminal: true}},
				OnFailure: &FailureHandler{Kind: "Escalate", ToPersona: "supervisor", Next: "pack"}},
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Outcome: "repacked", Terminal: true}}},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "repacked", result.Outcome)

	var types []string
	for _, rec := range result.StepsExecuted {
		types = append(types, rec.StepType)
	}
	assert.Equal(t, []string{"operation", "escalation", "operation"}, types)
	assert.Equal(t, "escalated to supervisor", result.StepsExecuted[1].Result)
}

func TestExecuteFlowBranch(t *testing.T) {
	contract := orderContract()
	facts := NewFactSet()
	facts.Set("express", BoolValue(true))
	snapshot := &Snapshot{Facts: facts, Verdicts: NewVerdictSet()}

	flow := &Flow{
		ID:    "routing",
		Entry: "decide",
		Steps: []FlowStep{
			&BranchStep{
				ID: "decide", Persona: "ops",
				Condition: FactRefPred{FactID: "express"},
				IfTrue:    StepTarget{Step: "pack"},
				IfFalse:   StepTarget{Outcome: "queued", Terminal: true},
			},
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Outcome: "expedited", Terminal: true}}},
		},
	}
	result, err := ExecuteFlow(contract, flow, snapshot, orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "expedited", result.Outcome)
	assert.Equal(t, "true", result.StepsExecuted[0].Result)

	facts.Set("express", BoolValue(false))
	result, err = ExecuteFlow(contract, flow, snapshot, orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "queued", result.Outcome)
}

func TestExecuteFlowHandoff(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "to_billing",
		Steps: []FlowStep{
			&HandoffStep{ID: "to_billing", FromPersona: "ops", ToPersona: "billing", Next: "bill"},
			&OperationStep{ID: "bill", Op: "issue_invoice", Persona: "billing",
				Outcomes: map[string]StepTarget{"success": {Outcome: "billed", Terminal: true}}},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "billed", result.Outcome)
	assert.Equal(t, "handoff", result.StepsExecuted[0].StepType)
	assert.Equal(t, "handoff", result.StepsExecuted[0].Result)
}

func TestExecuteFlowSubFlow(t *testing.T) {
	contract := orderContract()
	contract.Flows["billing"] = &Flow{
		ID:    "billing",
		Entry: "bill",
		Steps: []FlowStep{
			&OperationStep{ID: "bill", Op: "issue_invoice", Persona: "billing",
				Outcomes: map[string]StepTarget{"success": {Outcome: "billed", Terminal: true}}},
		},
	}
	flow := &Flow{
		ID:    "fulfil",
		Entry: "pack",
		Steps: []FlowStep{
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Step: "billing_sub"}}},
			&SubFlowStep{ID: "billing_sub", Flow: "billing", Persona: "billing",
				OnSuccess: StepTarget{Outcome: "completed", Terminal: true}},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Outcome)

	// Sub-flow record carries the sub-flow's outcome, followed by its
	// inner step records.
	require.Len(t, result.StepsExecuted, 3)
	assert.Equal(t, "billing_sub", result.StepsExecuted[1].StepID)
	assert.Equal(t, "sub_flow", result.StepsExecuted[1].StepType)
	assert.Equal(t, "billed", result.StepsExecuted[1].Result)
	assert.Equal(t, "bill", result.StepsExecuted[2].StepID)
	assert.Len(t, result.EntityStateChanges, 2)
}

func TestExecuteFlowSubFlowNotFound(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "missing_sub",
		Steps: []FlowStep{
			&SubFlowStep{ID: "missing_sub", Flow: "nowhere", Persona: "ops",
				OnSuccess: StepTarget{Outcome: "ok", Terminal: true}},
		},
	}
	_, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.Error(t, err)
	assert.EqualError(t, err, "deserialization error: sub-flow 'nowhere' not found in contract")
}

func TestExecuteFlowParallelAllSuccess(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "fanout",
		Steps: []FlowStep{
			&ParallelStep{
				ID: "fanout",
				Branches: []ParallelBranch{
					{ID: "packing", Entry: "pack", Steps: []FlowStep{
						&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
							Outcomes: map[string]StepTarget{"success": {Outcome: "packed", Terminal: true}}},
					}},
					{ID: "billing", Entry: "bill", Steps: []FlowStep{
						&OperationStep{ID: "bill", Op: "issue_invoice", Persona: "billing",
							Outcomes: map[string]StepTarget{"success": {Outcome: "billed", Terminal: true}}},
					}},
				},
				Join: JoinPolicy{OnAllSuccess: &StepTarget{Outcome: "fanned_out", Terminal: true}},
			},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fanned_out", result.Outcome)
	assert.Equal(t, "packing:packed, billing:billed", result.StepsExecuted[0].Result)
	// Both branches' state changes merge into the result.
	assert.Len(t, result.EntityStateChanges, 2)
}

func TestExecuteFlowParallelAnyFailure(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "fulfil",
		Entry: "fanout",
		Steps: []FlowStep{
			&ParallelStep{
				ID: "fanout",
				Branches: []ParallelBranch{
					{ID: "packing", Entry: "pack", Steps: []FlowStep{
						&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
							Outcomes: map[string]StepTarget{"success": {Outcome: "packed", Terminal: true}}},
					}},
					{ID: "shipping", Entry: "ship", Steps: []FlowStep{
						// Fails: the order is not packed in this branch's
						// own state copy.
						&OperationStep{ID: "ship", Op: "ship_order", Persona: "ops",
							Outcomes: map[string]StepTarget{"success": {Outcome: "shipped", Terminal: true}}},
					}},
				},
				Join: JoinPolicy{
					OnAllSuccess: &StepTarget{Outcome: "fanned_out", Terminal: true},
					OnAnyFailure: &FailureHandler{Kind: "Terminate", Outcome: "partial_failure"},
				},
			},
		},
	}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "partial_failure", result.Outcome)
	assert.Equal(t, "packing:packed, shipping:error:flow error in 'fulfil:shipping': entity 'order' instance '_default' in state 'new', expected 'packed'", result.StepsExecuted[0].Result)
	// Only the successful branch's changes merge.
	assert.Len(t, result.EntityStateChanges, 1)
}

func TestExecuteFlowMaxStepCount(t *testing.T) {
	contract := orderContract()
	flow := &Flow{
		ID:    "spin",
		Entry: "a",
		Steps: []FlowStep{
			&HandoffStep{ID: "a", FromPersona: "ops", ToPersona: "ops", Next: "b"},
			&HandoffStep{ID: "b", FromPersona: "ops", ToPersona: "ops", Next: "a"},
		},
	}
	_, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{MaxSteps: 10})
	require.Error(t, err)
	assert.EqualError(t, err, "flow error in 'spin': exceeded maximum step count (10)")
}

func TestExecuteFlowUnknownStep(t *testing.T) {
	contract := orderContract()
	flow := &Flow{ID: "broken", Entry: "nowhere", Steps: []FlowStep{}}
	_, err := ExecuteFlow(contract, flow, emptySnapshot(), orderStates(), nil, "ops", FlowOptions{})
	require.Error(t, err)
	assert.EqualError(t, err, "deserialization error: flow step 'nowhere' not found in flow 'broken'")
}

func TestExecuteFlowStepBindingOverride(t *testing.T) {
	contract := orderContract()
	states := EntityStateMap{
		{EntityID: "order", InstanceID: "ord-7"}:             "new",
		{EntityID: "order", InstanceID: DefaultInstanceID}:   "shipped",
		{EntityID: "invoice", InstanceID: DefaultInstanceID}: "draft",
	}
	flow := &Flow{
		ID:    "fulfil",
		Entry: "pack",
		Steps: []FlowStep{
			&OperationStep{ID: "pack", Op: "pack_order", Persona: "ops",
				Outcomes: map[string]StepTarget{"success": {Outcome: "packed", Terminal: true}}},
		},
	}
	opts := FlowOptions{StepBindings: map[string]InstanceBindingMap{
		"pack": {"order": "ord-7"},
	}}
	result, err := ExecuteFlow(contract, flow, emptySnapshot(), states, nil, "ops", opts)
	require.NoError(t, err)
	assert.Equal(t, "packed", result.Outcome)
	assert.Equal(t, "ord-7", result.EntityStateChanges[0].InstanceID)
	assert.Equal(t, map[string]string{"order": "ord-7"}, result.StepsExecuted[0].InstanceBindings)
}

func TestEvaluateFlowEndToEnd(t *testing.T) {
	contract := loanContract()
	states := InitEntityStates(contract)

	result, err := EvaluateFlow(contract, "approval_flow", map[string]any{"loan_amount": float64(5000)}, states, nil, "underwriter", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Outcome)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.EntityStateChanges, 2)
	assert.Equal(t, "approved", result.EntityStateChanges[0].ToState)
	assert.Equal(t, "disbursed", result.EntityStateChanges[1].ToState)
}

func TestEvaluateFlowNotFound(t *testing.T) {
	contract := loanContract()
	_, err := EvaluateFlow(contract, "missing", map[string]any{"loan_amount": float64(1)}, InitEntityStates(contract), nil, "underwriter", FlowOptions{})
	require.Error(t, err)
	assert.EqualError(t, err, "deserialization error: flow 'missing' not found in contract")
}

func TestEvaluateDeterministic(t *testing.T) {
	contract := loanContract()
	first, err := Evaluate(contract, map[string]any{"loan_amount": float64(5000)})
	require.NoError(t, err)
	second, err := Evaluate(contract, map[string]any{"loan_amount": float64(5000)})
	require.NoError(t, err)

	assert.Equal(t, first.Verdicts.All()[0].Type, second.Verdicts.All()[0].Type)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.NotEmpty(t, first.RunID)
}

// Package eval executes elaborated contract bundles: it assembles typed
// facts, derives verdicts through stratified rules, computes persona
// action spaces, and runs operations and flows against entity state.
// Evaluation is deterministic; the same bundle, facts, and states always
// produce the same result.
package eval

import (
	"github.com/google/uuid"

	"tenor/internal/interchange"
)

// EvaluationResult is the outcome of a rule evaluation run.
type EvaluationResult struct {
	RunID    string
	Facts    *FactSet
	Verdicts *VerdictSet
}

// ToJSON renders the result for output, verdicts with full provenance.
func (r *EvaluationResult) ToJSON() map[string]any {
	out := r.Verdicts.ToJSON()
	out["run_id"] = r.RunID
	return out
}

// LoadContract decodes interchange JSON and builds the contract model.
func LoadContract(data []byte) (*Contract, error) {
	bundle, err := interchange.Decode(data)
	if err != nil {
		return nil, errDeserialize("%v", err)
	}
	return ContractFromBundle(bundle)
}

// Evaluate assembles facts and runs every rule stratum.
func Evaluate(contract *Contract, factsJSON any) (*EvaluationResult, error) {
	facts, err := AssembleFacts(contract, factsJSON)
	if err != nil {
		return nil, err
	}
	verdicts, err := EvalStrata(contract, facts)
	if err != nil {
		return nil, err
	}
	return &EvaluationResult{
		RunID:    uuid.NewString(),
		Facts:    facts,
		Verdicts: verdicts,
	}, nil
}

// EvaluateFlow assembles facts, derives verdicts, freezes them as the
// flow snapshot, and runs the named flow. The persona is recorded on the
// result; step-level authorization happens per operation.
func EvaluateFlow(contract *Contract, flowID string, factsJSON any, states EntityStateMap, bindings InstanceBindingMap, persona string, opts FlowOptions) (*FlowResult, error) {
	flow, ok := contract.Flows[flowID]
	if !ok {
		return nil, errDeserialize("flow '%s' not found in contract", flowID)
	}
	facts, err := AssembleFacts(contract, factsJSON)
	if err != nil {
		return nil, err
	}
	verdicts, err := EvalStrata(contract, facts)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{Facts: facts, Verdicts: verdicts}
	result, err := ExecuteFlow(contract, flow, snapshot, states, bindings, persona, opts)
	if err != nil {
		return nil, err
	}
	result.RunID = uuid.NewString()
	return result, nil
}

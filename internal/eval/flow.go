package eval

import (
	"fmt"
	"strings"
)

const (
	// DefaultMaxFlowSteps bounds the number of steps a single flow run
	// may execute, counting sub-flow and compensation steps.
	DefaultMaxFlowSteps = 1000
	// DefaultMaxSubFlowDepth bounds sub-flow recursion.
	DefaultMaxSubFlowDepth = 32
)

// Snapshot is the fact and verdict state a flow runs against. It is
// frozen at flow start: every step sees the same facts and verdicts.
type Snapshot struct {
	Facts    *FactSet
	Verdicts *VerdictSet
}

// StepRecord is one executed step in a flow trace.
type StepRecord struct {
	StepID           string            `json:"step_id"`
	StepType         string            `json:"step_type"`
	Result           string            `json:"result"`
	InstanceBindings map[string]string `json:"instance_bindings,omitempty"`
}

// FlowResult is the outcome of a flow run.
type FlowResult struct {
	RunID              string         `json:"run_id,omitempty"`
	Outcome            string         `json:"outcome"`
	StepsExecuted      []StepRecord   `json:"steps_executed"`
	EntityStateChanges []EffectRecord `json:"entity_state_changes"`
	InitiatingPersona  *string        `json:"initiating_persona"`
}

// FlowOptions tunes a flow run. Zero values select the defaults.
type FlowOptions struct {
	MaxSteps        int
	MaxSubFlowDepth int
	// StepBindings overrides the flow-level instance bindings for
	// individual steps, keyed by step id.
	StepBindings map[string]InstanceBindingMap
}

func (o FlowOptions) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxFlowSteps
}

func (o FlowOptions) maxDepth() int {
	if o.MaxSubFlowDepth > 0 {
		return o.MaxSubFlowDepth
	}
	return DefaultMaxSubFlowDepth
}

type flowRun struct {
	contract *Contract
	snapshot *Snapshot
	states   EntityStateMap
	bindings InstanceBindingMap
	opts     FlowOptions
	steps    int
}

// ExecuteFlow runs a flow against a frozen snapshot. The caller's state
// map is cloned: flow execution is a simulation whose state changes are
// reported in the result, never written back.
func ExecuteFlow(contract *Contract, flow *Flow, snapshot *Snapshot, states EntityStateMap, bindings InstanceBindingMap, persona string, opts FlowOptions) (*FlowResult, error) {
	run := &flowRun{
		contract: contract,
		snapshot: snapshot,
		states:   cloneStates(states),
		bindings: bindings,
		opts:     opts,
	}
	result, err := run.execute(flow, 0)
	if err != nil {
		return nil, err
	}
	if persona != "" {
		result.InitiatingPersona = &persona
	}
	return result, nil
}

func cloneStates(states EntityStateMap) EntityStateMap {
	clone := make(EntityStateMap, len(states))
	for k, v := range states {
		clone[k] = v
	}
	return clone
}

func (r *flowRun) execute(flow *Flow, depth int) (*FlowResult, error) {
	if depth > r.opts.maxDepth() {
		return nil, errFlow(flow.ID, "sub-flow depth exceeds maximum (%d)", r.opts.maxDepth())
	}
	stepIndex := make(map[string]FlowStep, len(flow.Steps))
	for _, s := range flow.Steps {
		stepIndex[s.StepID()] = s
	}

	result := &FlowResult{
		StepsExecuted:      []StepRecord{},
		EntityStateChanges: []EffectRecord{},
	}
	current := flow.Entry
	for {
		r.steps++
		if r.steps > r.opts.maxSteps() {
			return nil, errFlow(flow.ID, "exceeded maximum step count (%d)", r.opts.maxSteps())
		}
		step, ok := stepIndex[current]
		if !ok {
			return nil, errDeserialize("flow step '%s' not found in flow '%s'", current, flow.ID)
		}

		switch s := step.(type) {
		case *OperationStep:
			next, done, err := r.runOperationStep(flow, s, depth, result)
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
			current = next

		case *BranchStep:
			cond, err := evalPred(s.Condition, r.snapshot.Facts, r.snapshot.Verdicts, newProvenanceCollector(), newEvalContext())
			if err != nil {
				return nil, errFlow(flow.ID, "%s", err)
			}
			b, err := cond.AsBool()
			if err != nil {
				return nil, errFlow(flow.ID, "%s", err)
			}
			target := s.IfFalse
			recordResult := "false"
			if b {
				target = s.IfTrue
				recordResult = "true"
			}
			result.StepsExecuted = append(result.StepsExecuted, StepRecord{
				StepID: s.ID, StepType: "branch", Result: recordResult,
			})
			if target.Terminal {
				result.Outcome = target.Outcome
				return result, nil
			}
			current = target.Step

		case *HandoffStep:
			result.StepsExecuted = append(result.StepsExecuted, StepRecord{
				StepID:   s.ID,
				StepType: "handoff",
				Result:   "handoff",
			})
			current = s.Next

		case *SubFlowStep:
			next, done, err := r.runSubFlowStep(flow, s, depth, result)
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
			current = next

		case *ParallelStep:
			next, done, err := r.runParallelStep(flow, s, depth, result)
			if err != nil {
				return nil, err
			}
			if done {
				return result, nil
			}
			current = next

		default:
			return nil, errFlow(flow.ID, "unsupported step '%s'", current)
		}
	}
}

// stepBindings resolves the instance bindings in effect for a step,
// applying any per-step override on top of the flow-level bindings.
func (r *flowRun) stepBindings(stepID string) InstanceBindingMap {
	override, ok := r.opts.StepBindings[stepID]
	if !ok {
		return r.bindings
	}
	merged := make(InstanceBindingMap, len(r.bindings)+len(override))
	for k, v := range r.bindings {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

func (r *flowRun) runOperationStep(flow *Flow, s *OperationStep, depth int, result *FlowResult) (next string, done bool, err error) {
	op, ok := r.contract.Operations[s.Op]
	if !ok {
		return "", false, errDeserialize("operation '%s' not found in contract", s.Op)
	}
	bindings := r.stepBindings(s.ID)
	resolved := make(map[string]string, len(op.Effects))
	for _, effect := range op.Effects {
		resolved[effect.EntityID] = bindings.ResolveInstance(effect.EntityID)
	}

	opResult, opErr := ExecuteOperation(op, s.Persona, r.snapshot.Facts, r.snapshot.Verdicts, r.states, bindings)
	if opErr != nil {
		result.StepsExecuted = append(result.StepsExecuted, StepRecord{
			StepID:           s.ID,
			StepType:         "operation",
			Result:           fmt.Sprintf("error: %s", opErr.Message),
			InstanceBindings: resolved,
		})
		return r.handleFailure(flow, s.OnFailure, opErr, result)
	}

	result.StepsExecuted = append(result.StepsExecuted, StepRecord{
		StepID:           s.ID,
		StepType:         "operation",
		Result:           opResult.Outcome,
		InstanceBindings: resolved,
	})
	result.EntityStateChanges = append(result.EntityStateChanges, opResult.Effects...)

	target, ok := s.Outcomes[opResult.Outcome]
	if !ok {
		return "", false, errFlow(flow.ID, "operation outcome '%s' not handled in step '%s'", opResult.Outcome, s.ID)
	}
	if target.Terminal {
		result.Outcome = target.Outcome
		return "", true, nil
	}
	return target.Step, false, nil
}

func (r *flowRun) handleFailure(flow *Flow, handler *FailureHandler, opErr *OperationError, result *FlowResult) (next string, done bool, err error) {
	if handler == nil {
		return "", false, errFlow(flow.ID, "%s", opErr.Message)
	}
	switch handler.Kind {
	case "Terminate":
		result.Outcome = handler.Outcome
		return "", true, nil

	case "Compensate":
		for _, cs := range handler.Steps {
			compOp, ok := r.contract.Operations[cs.Op]
			if !ok {
				return "", false, errDeserialize("compensation operation '%s' not found in contract", cs.Op)
			}
			bindings := r.stepBindings("comp:" + cs.Op)
			compResult, compErr := ExecuteOperation(compOp, cs.Persona, r.snapshot.Facts, r.snapshot.Verdicts, r.states, bindings)
			if compErr != nil {
				result.StepsExecuted = append(result.StepsExecuted, StepRecord{
					StepID:   "comp:" + cs.Op,
					StepType: "compensation",
					Result:   fmt.Sprintf("error: %s", compErr.Message),
				})
				if cs.OnFailure.Terminal {
					result.Outcome = cs.OnFailure.Outcome
					return "", true, nil
				}
				return cs.OnFailure.Step, false, nil
			}
			result.StepsExecuted = append(result.StepsExecuted, StepRecord{
				StepID:   "comp:" + cs.Op,
				StepType: "compensation",
				Result:   compResult.Outcome,
			})
			result.EntityStateChanges = append(result.EntityStateChanges, compResult.Effects...)
		}
		if handler.Then.Terminal {
			result.Outcome = handler.Then.Outcome
			return "", true, nil
		}
		return handler.Then.Step, false, nil

	case "Escalate":
		result.StepsExecuted = append(result.StepsExecuted, StepRecord{
			StepID:   handler.Next,
			StepType: "escalation",
			Result:   fmt.Sprintf("escalated to %s", handler.ToPersona),
		})
		return handler.Next, false, nil
	}
	return "", false, errFlow(flow.ID, "unknown failure handler kind: %s", handler.Kind)
}

func (r *flowRun) runSubFlowStep(flow *Flow, s *SubFlowStep, depth int, result *FlowResult) (next string, done bool, err error) {
	sub, ok := r.contract.Flows[s.Flow]
	if !ok {
		return "", false, errDeserialize("sub-flow '%s' not found in contract", s.Flow)
	}
	subResult, subErr := r.execute(sub, depth+1)
	if subErr != nil {
		result.StepsExecuted = append(result.StepsExecuted, StepRecord{
			StepID:   s.ID,
			StepType: "sub_flow",
			Result:   fmt.Sprintf("error: %s", subErr),
		})
		return r.handleFailure(flow, s.OnFailure, &OperationError{Code: OpEvaluation, Message: subErr.Error()}, result)
	}
	result.StepsExecuted = append(result.StepsExecuted, StepRecord{
		StepID:   s.ID,
		StepType: "sub_flow",
		Result:   subResult.Outcome,
	})
	result.StepsExecuted = append(result.StepsExecuted, subResult.StepsExecuted...)
	result.EntityStateChanges = append(result.EntityStateChanges, subResult.EntityStateChanges...)
	if s.OnSuccess.Terminal {
		result.Outcome = s.OnSuccess.Outcome
		return "", true, nil
	}
	return s.OnSuccess.Step, false, nil
}

func (r *flowRun) runParallelStep(flow *Flow, s *ParallelStep, depth int, result *FlowResult) (next string, done bool, err error) {
	type branchOutcome struct {
		id      string
		success bool
		summary string
		result  *FlowResult
	}
	outcomes := make([]branchOutcome, 0, len(s.Branches))

	// Branches run in declaration order, each against its own copy of
	// the entity states. Successful branches merge back afterwards.
	parentStates := r.states
	for _, branch := range s.Branches {
		branchFlow := &Flow{
			ID:    fmt.Sprintf("%s:%s", flow.ID, branch.ID),
			Entry: branch.Entry,
			Steps: branch.Steps,
		}
		branchRun := &flowRun{
			contract: r.contract,
			snapshot: r.snapshot,
			states:   cloneStates(parentStates),
			bindings: r.bindings,
			opts:     r.opts,
			steps:    r.steps,
		}
		branchResult, branchErr := branchRun.execute(branchFlow, depth+1)
		r.steps = branchRun.steps
		if branchErr != nil {
			outcomes = append(outcomes, branchOutcome{
				id:      branch.ID,
				summary: fmt.Sprintf("%s:error:%s", branch.ID, branchErr.Error()),
			})
			continue
		}
		outcomes = append(outcomes, branchOutcome{
			id:      branch.ID,
			success: true,
			summary: fmt.Sprintf("%s:%s", branch.ID, branchResult.Outcome),
			result:  branchResult,
		})
	}

	summaries := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		summaries = append(summaries, o.summary)
	}
	result.StepsExecuted = append(result.StepsExecuted, StepRecord{
		StepID:   s.ID,
		StepType: "parallel",
		Result:   strings.Join(summaries, ", "),
	})

	allSuccess := true
	anyFailure := false
	for _, o := range outcomes {
		if o.success {
			result.StepsExecuted = append(result.StepsExecuted, o.result.StepsExecuted...)
			for _, change := range o.result.EntityStateChanges {
				key := InstanceKey{EntityID: change.EntityID, InstanceID: change.InstanceID}
				r.states[key] = change.ToState
			}
			result.EntityStateChanges = append(result.EntityStateChanges, o.result.EntityStateChanges...)
		} else {
			allSuccess = false
			anyFailure = true
		}
	}

	join := s.Join
	switch {
	case allSuccess && join.OnAllSuccess != nil:
		if join.OnAllSuccess.Terminal {
			result.Outcome = join.OnAllSuccess.Outcome
			return "", true, nil
		}
		return join.OnAllSuccess.Step, false, nil
	case anyFailure && join.OnAnyFailure != nil:
		opErr := &OperationError{Code: OpEvaluation, Message: "parallel branch failed"}
		return r.handleFailure(flow, join.OnAnyFailure, opErr, result)
	case join.OnAllComplete != nil:
		if join.OnAllComplete.Terminal {
			result.Outcome = join.OnAllComplete.Outcome
			return "", true, nil
		}
		return join.OnAllComplete.Step, false, nil
	}
	return "", false, errFlow(flow.ID, "parallel step '%s' completed but no join policy matched", s.ID)
}

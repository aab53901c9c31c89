package eval

import (
	"fmt"
	"sort"
)

// ActionSpace is everything a persona can do right now: the enabled
// actions with their justification, the verdicts currently in force, and
// the actions blocked with a reason.
type ActionSpace struct {
	PersonaID       string           `json:"persona_id"`
	Actions         []Action         `json:"actions"`
	CurrentVerdicts []VerdictSummary `json:"current_verdicts"`
	BlockedActions  []BlockedAction  `json:"blocked_actions"`
}

// Action is an executable flow entry for the persona.
type Action struct {
	FlowID           string              `json:"flow_id"`
	PersonaID        string              `json:"persona_id"`
	EntryOperationID string              `json:"entry_operation_id"`
	EnablingVerdicts []VerdictSummary    `json:"enabling_verdicts"`
	AffectedEntities []EntitySummary     `json:"affected_entities"`
	Description      string              `json:"description"`
	InstanceBindings map[string][]string `json:"instance_bindings"`
}

type VerdictSummary struct {
	VerdictType   string `json:"verdict_type"`
	Payload       any    `json:"payload"`
	ProducingRule string `json:"producing_rule"`
	Stratum       int64  `json:"stratum"`
}

type EntitySummary struct {
	EntityID            string   `json:"entity_id"`
	CurrentState        string   `json:"current_state"`
	PossibleTransitions []string `json:"possible_transitions"`
}

// BlockedAction pairs a flow the persona cannot start with the reason.
type BlockedAction struct {
	FlowID           string        `json:"flow_id"`
	EntryOperationID string        `json:"entry_operation_id"`
	Reason           BlockedReason `json:"reason"`
}

// BlockedReason is a tagged union over the ways an action can be blocked.
type BlockedReason struct {
	Type            string   `json:"type"`
	MissingVerdicts []string `json:"missing_verdicts,omitempty"`
	EntityID        string   `json:"entity_id,omitempty"`
	CurrentState    string   `json:"current_state,omitempty"`
	RequiredState   string   `json:"required_state,omitempty"`
	FactIDs         []string `json:"fact_ids,omitempty"`
}

const (
	BlockedPersonaNotAuthorized   = "PersonaNotAuthorized"
	BlockedPreconditionNotMet     = "PreconditionNotMet"
	BlockedEntityNotInSourceState = "EntityNotInSourceState"
	BlockedMissingFacts           = "MissingFacts"
)

// ComputeActionSpace derives the action space for one persona from input
// facts and the current entity states. When facts cannot be assembled
// because required inputs are missing, every flow is reported blocked on
// those facts instead of failing the whole call.
func ComputeActionSpace(contract *Contract, factsJSON any, states EntityStateMap, persona string) (*ActionSpace, error) {
	space := &ActionSpace{
		PersonaID:       persona,
		Actions:         []Action{},
		CurrentVerdicts: []VerdictSummary{},
		BlockedActions:  []BlockedAction{},
	}

	facts, err := AssembleFacts(contract, factsJSON)
	if err != nil {
		evalErr, ok := err.(*Error)
		if !ok || evalErr.Code != CodeMissingFact {
			return nil, err
		}
		missing := missingFactIDs(contract, factsJSON)
		for _, flowID := range sortedFlowIDs(contract.Flows) {
			flow := contract.Flows[flowID]
			entry, ok := entryOperationStep(flow)
			if !ok {
				continue
			}
			space.BlockedActions = append(space.BlockedActions, BlockedAction{
				FlowID:           flowID,
				EntryOperationID: entry.Op,
				Reason:           BlockedReason{Type: BlockedMissingFacts, FactIDs: missing},
			})
		}
		return space, nil
	}

	verdicts, err := EvalStrata(contract, facts)
	if err != nil {
		return nil, err
	}
	for _, v := range verdicts.All() {
		space.CurrentVerdicts = append(space.CurrentVerdicts, VerdictSummary{
			VerdictType:   v.Type,
			Payload:       v.Payload.ToJSON(),
			ProducingRule: v.Provenance.Rule,
			Stratum:       v.Provenance.Stratum,
		})
	}

	for _, flowID := range sortedFlowIDs(contract.Flows) {
		flow := contract.Flows[flowID]
		entry, ok := entryOperationStep(flow)
		if !ok {
			// Flows whose entry is not an operation have no direct action.
			continue
		}
		op, found := contract.Operations[entry.Op]
		if !found {
			continue
		}

		if !personaAllowed(op, persona) {
			space.BlockedActions = append(space.BlockedActions, BlockedAction{
				FlowID:           flowID,
				EntryOperationID: entry.Op,
				Reason:           BlockedReason{Type: BlockedPersonaNotAuthorized},
			})
			continue
		}

		if missing := missingVerdicts(op.Precondition, verdicts); len(missing) > 0 {
			space.BlockedActions = append(space.BlockedActions, BlockedAction{
				FlowID:           flowID,
				EntryOperationID: entry.Op,
				Reason:           BlockedReason{Type: BlockedPreconditionNotMet, MissingVerdicts: missing},
			})
			continue
		}

		action, blocked := buildAction(contract, flow, entry, op, verdicts, states, persona)
		if blocked != nil {
			space.BlockedActions = append(space.BlockedActions, *blocked)
			continue
		}
		space.Actions = append(space.Actions, *action)
	}
	return space, nil
}

// personaAllowed checks the operation's allowed_personas list; the
// step's declared persona is a flow routing concern, not authorization.
func personaAllowed(op *Operation, persona string) bool {
	for _, p := range op.AllowedPersonas {
		if p == persona {
			return true
		}
	}
	return false
}

// entryOperationStep finds the flow's entry step if it is an operation.
func entryOperationStep(flow *Flow) (*OperationStep, bool) {
	for _, step := range flow.Steps {
		if step.StepID() == flow.Entry {
			op, ok := step.(*OperationStep)
			return op, ok
		}
	}
	return nil, false
}

// buildAction scans entity instances for each effect. Every effect needs
// at least one instance in its source state; otherwise the action is
// blocked on that entity.
func buildAction(contract *Contract, flow *Flow, entry *OperationStep, op *Operation, verdicts *VerdictSet, states EntityStateMap, persona string) (*Action, *BlockedAction) {
	instanceBindings := make(map[string][]string)
	var affected []EntitySummary
	for _, effect := range op.Effects {
		valid, firstWrongState, seen := scanInstances(states, effect)
		if !seen {
			return nil, &BlockedAction{
				FlowID:           flow.ID,
				EntryOperationID: entry.Op,
				Reason: BlockedReason{
					Type:          BlockedEntityNotInSourceState,
					EntityID:      effect.EntityID,
					CurrentState:  "(unknown)",
					RequiredState: effect.From,
				},
			}
		}
		if len(valid) == 0 {
			return nil, &BlockedAction{
				FlowID:           flow.ID,
				EntryOperationID: entry.Op,
				Reason: BlockedReason{
					Type:          BlockedEntityNotInSourceState,
					EntityID:      effect.EntityID,
					CurrentState:  firstWrongState,
					RequiredState: effect.From,
				},
			}
		}
		instanceBindings[effect.EntityID] = valid
		affected = append(affected, EntitySummary{
			EntityID:            effect.EntityID,
			CurrentState:        effect.From,
			PossibleTransitions: []string{fmt.Sprintf("%s -> %s", effect.From, effect.To)},
		})
	}

	enabling := enablingVerdicts(op.Precondition, verdicts)
	return &Action{
		FlowID:           flow.ID,
		PersonaID:        persona,
		EntryOperationID: entry.Op,
		EnablingVerdicts: enabling,
		AffectedEntities: affected,
		Description:      actionDescription(flow.ID, op),
		InstanceBindings: instanceBindings,
	}, nil
}

// scanInstances returns the instances of an entity currently in the
// effect's source state, plus the first mismatched state seen.
func scanInstances(states EntityStateMap, effect Effect) (valid []string, firstWrongState string, seen bool) {
	keys := make([]InstanceKey, 0)
	for key := range states {
		if key.EntityID == effect.EntityID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].InstanceID < keys[j].InstanceID })
	for _, key := range keys {
		seen = true
		if states[key] == effect.From {
			valid = append(valid, key.InstanceID)
		} else if firstWrongState == "" {
			firstWrongState = states[key]
		}
	}
	return valid, firstWrongState, seen
}

func actionDescription(flowID string, op *Operation) string {
	if len(op.Effects) > 0 {
		e := op.Effects[0]
		return fmt.Sprintf("Execute %s: %s transitions %s", flowID, op.ID,
			fmt.Sprintf("%s from %s to %s", e.EntityID, e.From, e.To))
	}
	return fmt.Sprintf("Execute %s: %s", flowID, op.ID)
}

// missingVerdicts lists verdicts the precondition references that are not
// currently derived.
func missingVerdicts(p Predicate, verdicts *VerdictSet) []string {
	var missing []string
	for _, ref := range extractVerdictRefs(p) {
		if !verdicts.HasVerdict(ref) {
			missing = append(missing, ref)
		}
	}
	return missing
}

func enablingVerdicts(p Predicate, verdicts *VerdictSet) []VerdictSummary {
	out := []VerdictSummary{}
	for _, ref := range extractVerdictRefs(p) {
		if v, ok := verdicts.GetVerdict(ref); ok {
			out = append(out, VerdictSummary{
				VerdictType:   v.Type,
				Payload:       v.Payload.ToJSON(),
				ProducingRule: v.Provenance.Rule,
				Stratum:       v.Provenance.Stratum,
			})
		}
	}
	return out
}

// extractVerdictRefs walks the whole predicate tree and returns each
// referenced verdict type once, in first-appearance order.
func extractVerdictRefs(p Predicate) []string {
	var refs []string
	seen := make(map[string]bool)
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch n := p.(type) {
		case VerdictPresentPred:
			if !seen[n.VerdictType] {
				seen[n.VerdictType] = true
				refs = append(refs, n.VerdictType)
			}
		case ComparePred:
			walk(n.Left)
			walk(n.Right)
		case AndPred:
			walk(n.Left)
			walk(n.Right)
		case OrPred:
			walk(n.Left)
			walk(n.Right)
		case NotPred:
			walk(n.Operand)
		case ForallPred:
			walk(n.Domain)
			walk(n.Body)
		case ExistsPred:
			walk(n.Domain)
			walk(n.Body)
		case MulPred:
			walk(n.Left)
		}
	}
	walk(p)
	return refs
}

// missingFactIDs lists declared facts absent from the input with no
// default to fall back on.
func missingFactIDs(contract *Contract, factsJSON any) []string {
	input, _ := factsJSON.(map[string]any)
	var missing []string
	for _, id := range sortedFactIDs(contract.Facts) {
		decl := contract.Facts[id]
		if _, present := input[id]; !present && decl.Default == nil {
			missing = append(missing, id)
		}
	}
	return missing
}

func sortedFlowIDs(flows map[string]*Flow) []string {
	ids := make([]string, 0, len(flows))
	for id := range flows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

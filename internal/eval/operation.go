package eval

import "fmt"

// DefaultInstanceID is the implicit instance used when a caller does not
// bind an entity to a specific instance.
const DefaultInstanceID = "_default"

// InstanceKey addresses one instance of one entity in the state map.
type InstanceKey struct {
	EntityID   string
	InstanceID string
}

// EntityStateMap tracks the current state of every known entity instance.
type EntityStateMap map[InstanceKey]string

// InstanceBindingMap chooses which instance an operation's effects apply
// to, per entity. Unbound entities resolve to the default instance.
type InstanceBindingMap map[string]string

// ResolveInstance returns the bound instance id for an entity, falling
// back to the default instance.
func (m InstanceBindingMap) ResolveInstance(entityID string) string {
	if m == nil {
		return DefaultInstanceID
	}
	if id, ok := m[entityID]; ok {
		return id
	}
	return DefaultInstanceID
}

// InitEntityStates seeds the default instance of every entity at its
// declared initial state.
func InitEntityStates(contract *Contract) EntityStateMap {
	states := make(EntityStateMap, len(contract.Entities))
	for id, e := range contract.Entities {
		states[InstanceKey{EntityID: id, InstanceID: DefaultInstanceID}] = e.Initial
	}
	return states
}

// OperationErrorCode classifies operation failures.
type OperationErrorCode string

const (
	OpPersonaRejected          OperationErrorCode = "persona_rejected"
	OpPreconditionFailed       OperationErrorCode = "precondition_failed"
	OpTransitionSourceMismatch OperationErrorCode = "transition_source_mismatch"
	OpEntityNotFound           OperationErrorCode = "entity_not_found"
	OpEvaluation               OperationErrorCode = "evaluation"
)

type OperationError struct {
	Code    OperationErrorCode
	Message string
}

func (e *OperationError) Error() string { return e.Message }

func opErrPersonaRejected(persona, opID string) *OperationError {
	return &OperationError{
		Code:    OpPersonaRejected,
		Message: fmt.Sprintf("persona '%s' not authorized for operation '%s'", persona, opID),
	}
}

func opErrPreconditionFailed(opID, reason string) *OperationError {
	return &OperationError{
		Code:    OpPreconditionFailed,
		Message: fmt.Sprintf("precondition failed for operation '%s': %s", opID, reason),
	}
}

func opErrTransitionSourceMismatch(entityID, instanceID, actual, expected string) *OperationError {
	return &OperationError{
		Code:    OpTransitionSourceMismatch,
		Message: fmt.Sprintf("entity '%s' instance '%s' in state '%s', expected '%s'", entityID, instanceID, actual, expected),
	}
}

func opErrEntityNotFound(entityID, instanceID string) *OperationError {
	return &OperationError{
		Code:    OpEntityNotFound,
		Message: fmt.Sprintf("entity '%s' instance '%s' not found in state map", entityID, instanceID),
	}
}

func opErrEvaluation(err error) *OperationError {
	return &OperationError{
		Code:    OpEvaluation,
		Message: fmt.Sprintf("evaluation error: %s", err),
	}
}

// EffectRecord is one applied state transition.
type EffectRecord struct {
	EntityID   string `json:"entity_id"`
	InstanceID string `json:"instance_id"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
}

// OperationResult reports a successful operation execution.
type OperationResult struct {
	OperationID string
	Outcome     string
	Effects     []EffectRecord
}

// ExecuteOperation runs one operation: persona authorization, then the
// precondition against the supplied facts and verdicts, then the state
// effects. Effects are atomic: every transition is validated against the
// incoming state map before any is applied, so a mismatch partway through
// leaves the map untouched.
func ExecuteOperation(op *Operation, persona string, facts *FactSet, verdicts *VerdictSet, states EntityStateMap, bindings InstanceBindingMap) (*OperationResult, *OperationError) {
	allowed := false
	for _, p := range op.AllowedPersonas {
		if p == persona {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, opErrPersonaRejected(persona, op.ID)
	}

	collector := newProvenanceCollector()
	result, err := evalPred(op.Precondition, facts, verdicts, collector, newEvalContext())
	if err != nil {
		return nil, opErrEvaluation(err)
	}
	ok, err := result.AsBool()
	if err != nil {
		return nil, opErrEvaluation(err)
	}
	if !ok {
		return nil, opErrPreconditionFailed(op.ID, "precondition evaluated to false")
	}

	// Validate all transitions against the incoming states first.
	type pending struct {
		key    InstanceKey
		effect Effect
	}
	plan := make([]pending, 0, len(op.Effects))
	for _, effect := range op.Effects {
		key := InstanceKey{
			EntityID:   effect.EntityID,
			InstanceID: bindings.ResolveInstance(effect.EntityID),
		}
		current, found := states[key]
		if !found {
			return nil, opErrEntityNotFound(key.EntityID, key.InstanceID)
		}
		if current != effect.From {
			return nil, opErrTransitionSourceMismatch(key.EntityID, key.InstanceID, current, effect.From)
		}
		plan = append(plan, pending{key: key, effect: effect})
	}

	res := &OperationResult{OperationID: op.ID}
	var effectOutcome string
	for _, p := range plan {
		states[p.key] = p.effect.To
		res.Effects = append(res.Effects, EffectRecord{
			EntityID:   p.key.EntityID,
			InstanceID: p.key.InstanceID,
			FromState:  p.effect.From,
			ToState:    p.effect.To,
		})
		if p.effect.Outcome != "" {
			effectOutcome = p.effect.Outcome
		}
	}

	outcome, opErr := determineOutcome(op, effectOutcome)
	if opErr != nil {
		return nil, opErr
	}
	res.Outcome = outcome
	return res, nil
}

func determineOutcome(op *Operation, effectOutcome string) (string, *OperationError) {
	if effectOutcome != "" {
		return effectOutcome, nil
	}
	switch len(op.Outcomes) {
	case 0:
		return "success", nil
	case 1:
		return op.Outcomes[0], nil
	default:
		return "", opErrPreconditionFailed(op.ID, "multi-outcome operation has no effect-to-outcome mapping")
	}
}

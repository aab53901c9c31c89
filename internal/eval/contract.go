package eval

import (
	"tenor/internal/interchange"
)

// Contract is the evaluator's view of an elaborated bundle: typed fact
// declarations, entities, stratified rules, operations, and flows.
type Contract struct {
	ID         string
	Facts      map[string]*FactDecl
	Entities   map[string]*Entity
	Rules      []*Rule
	Operations map[string]*Operation
	Flows      map[string]*Flow
	Personas   map[string]bool
}

type FactDecl struct {
	ID      string
	Type    *TypeSpec
	Default *Value
}

type Entity struct {
	ID          string
	States      []string
	Initial     string
	Transitions []Transition
}

type Transition struct {
	From string
	To   string
}

type Rule struct {
	ID      string
	Stratum int64
	When    Predicate
	Produce Produce
}

// Produce describes a rule's verdict: its type tag and payload. The
// payload is either a literal or a fact-times-literal product.
type Produce struct {
	VerdictType string
	PayloadType *TypeSpec
	Literal     *Value
	Mul         *MulExpr
}

type MulExpr struct {
	FactID     string
	Literal    int64
	ResultType *TypeSpec
}

type Operation struct {
	ID              string
	AllowedPersonas []string
	Precondition    Predicate
	Effects         []Effect
	Outcomes        []string
}

type Effect struct {
	EntityID string
	From     string
	To       string
	Outcome  string
}

type Flow struct {
	ID    string
	Entry string
	Steps []FlowStep
}

// FlowStep is one node in a flow graph.
type FlowStep interface {
	StepID() string
}

type OperationStep struct {
	ID        string
	Op        string
	Persona   string
	Outcomes  map[string]StepTarget
	OnFailure *FailureHandler
}

type BranchStep struct {
	ID        string
	Persona   string
	Condition Predicate
	IfTrue    StepTarget
	IfFalse   StepTarget
}

type HandoffStep struct {
	ID          string
	FromPersona string
	ToPersona   string
	Next        string
}

type SubFlowStep struct {
	ID        string
	Flow      string
	Persona   string
	OnSuccess StepTarget
	OnFailure *FailureHandler
}

type ParallelStep struct {
	ID       string
	Branches []ParallelBranch
	Join     JoinPolicy
}

type ParallelBranch struct {
	ID    string
	Entry string
	Steps []FlowStep
}

type JoinPolicy struct {
	OnAllSuccess  *StepTarget
	OnAnyFailure  *FailureHandler
	OnAllComplete *StepTarget
}

func (s *OperationStep) StepID() string { return s.ID }
func (s *BranchStep) StepID() string    { return s.ID }
func (s *HandoffStep) StepID() string   { return s.ID }
func (s *SubFlowStep) StepID() string   { return s.ID }
func (s *ParallelStep) StepID() string  { return s.ID }

// StepTarget is either a reference to another step or a terminal outcome.
type StepTarget struct {
	Step     string
	Outcome  string
	Terminal bool
}

// FailureHandler tells a flow what to do when a step's operation fails.
type FailureHandler struct {
	Kind      string // "Terminate", "Compensate", "Escalate"
	Outcome   string // Terminate
	Steps     []CompStep
	Then      StepTarget // Compensate
	ToPersona string     // Escalate
	Next      string
}

type CompStep struct {
	Op        string
	Persona   string
	OnFailure StepTarget
}

// ContractFromBundle builds the evaluator's contract model from a decoded
// interchange bundle.
func ContractFromBundle(b *interchange.Bundle) (*Contract, error) {
	c := &Contract{
		ID:         b.ID,
		Facts:      make(map[string]*FactDecl),
		Entities:   make(map[string]*Entity),
		Operations: make(map[string]*Operation),
		Flows:      make(map[string]*Flow),
		Personas:   make(map[string]bool),
	}
	for _, construct := range b.Constructs {
		switch v := construct.(type) {
		case *interchange.Fact:
			decl, err := parseFactDecl(v)
			if err != nil {
				return nil, err
			}
			c.Facts[decl.ID] = decl
		case *interchange.Entity:
			transitions := make([]Transition, 0, len(v.Transitions))
			for _, tr := range v.Transitions {
				transitions = append(transitions, Transition{From: tr.From, To: tr.To})
			}
			c.Entities[v.ID] = &Entity{
				ID:          v.ID,
				States:      v.States,
				Initial:     v.Initial,
				Transitions: transitions,
			}
		case *interchange.Rule:
			rule, err := parseRule(v)
			if err != nil {
				return nil, err
			}
			c.Rules = append(c.Rules, rule)
		case *interchange.Operation:
			op, err := parseOperation(v)
			if err != nil {
				return nil, err
			}
			c.Operations[op.ID] = op
		case *interchange.Flow:
			flow, err := parseFlow(v)
			if err != nil {
				return nil, err
			}
			c.Flows[flow.ID] = flow
		case *interchange.Persona:
			c.Personas[v.ID] = true
		}
		// Source, System, and TypeDecl constructs carry no runtime
		// behavior.
	}
	return c, nil
}

func parseFactDecl(f *interchange.Fact) (*FactDecl, error) {
	spec, err := typeSpecFromJSON(f.Type)
	if err != nil {
		return nil, err
	}
	decl := &FactDecl{ID: f.ID, Type: spec}
	if f.Default != nil {
		def, err := parseDefaultValue(f.Default, spec)
		if err != nil {
			return nil, err
		}
		decl.Default = &def
	}
	return decl, nil
}

func parseRule(r *interchange.Rule) (*Rule, error) {
	whenJSON := r.When()
	if whenJSON == nil {
		return nil, errDeserialize("Rule '%s' body missing 'when'", r.ID)
	}
	produceJSON := r.Produce()
	if produceJSON == nil {
		return nil, errDeserialize("Rule '%s' body missing 'produce'", r.ID)
	}
	when, err := parsePredicate(whenJSON)
	if err != nil {
		return nil, err
	}
	produce, err := parseProduce(produceJSON)
	if err != nil {
		return nil, err
	}
	return &Rule{ID: r.ID, Stratum: r.Stratum, When: when, Produce: produce}, nil
}

func parseProduce(v any) (Produce, error) {
	verdictType, err := jsonString(v, "verdict_type")
	if err != nil {
		return Produce{}, err
	}
	payload, ok := jsonField(v, "payload")
	if !ok {
		return Produce{}, errDeserialize("produce missing 'payload'")
	}
	typeJSON, ok := jsonField(payload, "type")
	if !ok {
		return Produce{}, errDeserialize("payload missing 'type'")
	}
	spec, err := typeSpecFromJSON(typeJSON)
	if err != nil {
		return Produce{}, err
	}
	p := Produce{VerdictType: verdictType, PayloadType: spec}

	valueJSON, _ := jsonField(payload, "value")
	if op, ok := jsonField(valueJSON, "op"); ok && op == "*" {
		left, ok := jsonField(valueJSON, "left")
		if !ok {
			return Produce{}, errDeserialize("multiplication payload missing 'left'")
		}
		factID, err := jsonString(left, "fact_ref")
		if err != nil {
			return Produce{}, errDeserialize("multiplication payload left operand must be a fact reference")
		}
		litRaw, _ := jsonField(valueJSON, "literal")
		lit := jsonInt64(litRaw)
		if lit == nil {
			return Produce{}, errDeserialize("multiplication payload missing integer 'literal'")
		}
		mul := &MulExpr{FactID: factID, Literal: *lit}
		if rt, ok := jsonField(valueJSON, "result_type"); ok {
			resultSpec, err := typeSpecFromJSON(rt)
			if err != nil {
				return Produce{}, err
			}
			mul.ResultType = resultSpec
		}
		p.Mul = mul
		return p, nil
	}

	value, err := parseLiteralValue(valueJSON, spec)
	if err != nil {
		return Produce{}, err
	}
	p.Literal = &value
	return p, nil
}

func parseOperation(o *interchange.Operation) (*Operation, error) {
	op := &Operation{
		ID:              o.ID,
		AllowedPersonas: o.AllowedPersonas,
		Outcomes:        o.Outcomes,
	}
	if o.Precondition == nil {
		// A missing precondition is always satisfied.
		op.Precondition = LiteralPred{Value: BoolValue(true)}
	} else {
		pred, err := parsePredicate(o.Precondition)
		if err != nil {
			return nil, err
		}
		op.Precondition = pred
	}
	for _, e := range o.Effects {
		op.Effects = append(op.Effects, Effect{
			EntityID: e.EntityID,
			From:     e.From,
			To:       e.To,
			Outcome:  e.Outcome,
		})
	}
	return op, nil
}

func parseFlow(f *interchange.Flow) (*Flow, error) {
	flow := &Flow{ID: f.ID, Entry: f.Entry}
	for _, raw := range f.Steps {
		step, err := parseFlowStep(raw)
		if err != nil {
			return nil, err
		}
		flow.Steps = append(flow.Steps, step)
	}
	return flow, nil
}

func parseFlowStep(v any) (FlowStep, error) {
	kind, err := jsonString(v, "kind")
	if err != nil {
		return nil, err
	}
	id, err := jsonString(v, "id")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "OperationStep":
		op, err := jsonString(v, "op")
		if err != nil {
			return nil, err
		}
		persona, err := jsonString(v, "persona")
		if err != nil {
			return nil, err
		}
		step := &OperationStep{ID: id, Op: op, Persona: persona, Outcomes: make(map[string]StepTarget)}
		if outcomes, ok := jsonField(v, "outcomes"); ok {
			m, ok := outcomes.(map[string]any)
			if !ok {
				return nil, errDeserialize("step '%s' outcomes must be an object", id)
			}
			for label, target := range m {
				t, err := parseStepTarget(target)
				if err != nil {
					return nil, err
				}
				step.Outcomes[label] = t
			}
		}
		if fh, ok := jsonField(v, "on_failure"); ok && fh != nil {
			handler, err := parseFailureHandler(fh)
			if err != nil {
				return nil, err
			}
			step.OnFailure = handler
		}
		return step, nil

	case "BranchStep":
		persona, err := jsonString(v, "persona")
		if err != nil {
			return nil, err
		}
		condJSON, ok := jsonField(v, "condition")
		if !ok {
			return nil, errDeserialize("branch step '%s' missing 'condition'", id)
		}
		cond, err := parsePredicate(condJSON)
		if err != nil {
			return nil, err
		}
		trueTarget, ok := jsonField(v, "if_true")
		if !ok {
			return nil, errDeserialize("branch step '%s' missing 'if_true'", id)
		}
		ifTrue, err := parseStepTarget(trueTarget)
		if err != nil {
			return nil, err
		}
		falseTarget, ok := jsonField(v, "if_false")
		if !ok {
			return nil, errDeserialize("branch step '%s' missing 'if_false'", id)
		}
		ifFalse, err := parseStepTarget(falseTarget)
		if err != nil {
			return nil, err
		}
		return &BranchStep{ID: id, Persona: persona, Condition: cond, IfTrue: ifTrue, IfFalse: ifFalse}, nil

	case "HandoffStep":
		from, err := jsonString(v, "from_persona")
		if err != nil {
			return nil, err
		}
		to, err := jsonString(v, "to_persona")
		if err != nil {
			return nil, err
		}
		next, err := jsonString(v, "next")
		if err != nil {
			return nil, err
		}
		return &HandoffStep{ID: id, FromPersona: from, ToPersona: to, Next: next}, nil

	case "SubFlowStep":
		flowID, err := jsonString(v, "flow")
		if err != nil {
			return nil, err
		}
		persona, err := jsonString(v, "persona")
		if err != nil {
			return nil, err
		}
		successTarget, ok := jsonField(v, "on_success")
		if !ok {
			return nil, errDeserialize("sub-flow step '%s' missing 'on_success'", id)
		}
		onSuccess, err := parseStepTarget(successTarget)
		if err != nil {
			return nil, err
		}
		step := &SubFlowStep{ID: id, Flow: flowID, Persona: persona, OnSuccess: onSuccess}
		if fh, ok := jsonField(v, "on_failure"); ok && fh != nil {
			handler, err := parseFailureHandler(fh)
			if err != nil {
				return nil, err
			}
			step.OnFailure = handler
		}
		return step, nil

	case "ParallelStep":
		step := &ParallelStep{ID: id}
		branchesJSON, ok := jsonField(v, "branches")
		if !ok {
			return nil, errDeserialize("parallel step '%s' missing 'branches'", id)
		}
		arr, ok := branchesJSON.([]any)
		if !ok {
			return nil, errDeserialize("parallel step '%s' branches must be an array", id)
		}
		for _, b := range arr {
			branchID, err := jsonString(b, "id")
			if err != nil {
				return nil, err
			}
			entry, err := jsonString(b, "entry")
			if err != nil {
				return nil, err
			}
			branch := ParallelBranch{ID: branchID, Entry: entry}
			if stepsJSON, ok := jsonField(b, "steps"); ok {
				steps, ok := stepsJSON.([]any)
				if !ok {
					return nil, errDeserialize("parallel branch '%s' steps must be an array", branchID)
				}
				for _, raw := range steps {
					inner, err := parseFlowStep(raw)
					if err != nil {
						return nil, err
					}
					branch.Steps = append(branch.Steps, inner)
				}
			}
			step.Branches = append(step.Branches, branch)
		}
		if joinJSON, ok := jsonField(v, "join"); ok {
			if t, ok := jsonField(joinJSON, "on_all_success"); ok {
				target, err := parseStepTarget(t)
				if err != nil {
					return nil, err
				}
				step.Join.OnAllSuccess = &target
			}
			if fh, ok := jsonField(joinJSON, "on_any_failure"); ok {
				handler, err := parseFailureHandler(fh)
				if err != nil {
					return nil, err
				}
				step.Join.OnAnyFailure = handler
			}
			if t, ok := jsonField(joinJSON, "on_all_complete"); ok {
				target, err := parseStepTarget(t)
				if err != nil {
					return nil, err
				}
				step.Join.OnAllComplete = &target
			}
		}
		return step, nil
	}
	return nil, errDeserialize("unknown step kind: %s", kind)
}

func parseStepTarget(v any) (StepTarget, error) {
	if s, ok := v.(string); ok {
		return StepTarget{Step: s}, nil
	}
	if _, ok := v.(map[string]any); ok {
		outcome, err := jsonString(v, "outcome")
		if err != nil {
			return StepTarget{}, err
		}
		return StepTarget{Outcome: outcome, Terminal: true}, nil
	}
	return StepTarget{}, errDeserialize("invalid step target")
}

func parseFailureHandler(v any) (*FailureHandler, error) {
	kind, err := jsonString(v, "kind")
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Terminate":
		outcome, err := jsonString(v, "outcome")
		if err != nil {
			return nil, err
		}
		return &FailureHandler{Kind: "Terminate", Outcome: outcome}, nil
	case "Compensate":
		handler := &FailureHandler{Kind: "Compensate"}
		stepsJSON, ok := jsonField(v, "steps")
		if !ok {
			return nil, errDeserialize("compensate handler missing 'steps'")
		}
		arr, ok := stepsJSON.([]any)
		if !ok {
			return nil, errDeserialize("compensate handler steps must be an array")
		}
		for _, s := range arr {
			op, err := jsonString(s, "op")
			if err != nil {
				return nil, err
			}
			persona, err := jsonString(s, "persona")
			if err != nil {
				return nil, err
			}
			cs := CompStep{Op: op, Persona: persona}
			if fh, ok := jsonField(s, "on_failure"); ok {
				target, err := parseStepTarget(fh)
				if err != nil {
					return nil, err
				}
				cs.OnFailure = target
			}
			handler.Steps = append(handler.Steps, cs)
		}
		thenJSON, ok := jsonField(v, "then")
		if !ok {
			return nil, errDeserialize("compensate handler missing 'then'")
		}
		then, err := parseStepTarget(thenJSON)
		if err != nil {
			return nil, err
		}
		handler.Then = then
		return handler, nil
	case "Escalate":
		to, err := jsonString(v, "to_persona")
		if err != nil {
			return nil, err
		}
		next, err := jsonString(v, "next")
		if err != nil {
			return nil, err
		}
		return &FailureHandler{Kind: "Escalate", ToPersona: to, Next: next}, nil
	}
	return nil, errDeserialize("unknown failure handler kind: %s", kind)
}

package eval

import "github.com/shopspring/decimal"

// Predicate is a node in a rule condition or operation precondition.
type Predicate interface {
	isPredicate()
}

type FactRefPred struct {
	FactID string
}

type FieldRefPred struct {
	Var   string
	Field string
}

type LiteralPred struct {
	Value Value
}

type VerdictPresentPred struct {
	VerdictType string
}

type ComparePred struct {
	Left           Predicate
	Op             string
	Right          Predicate
	ComparisonType *TypeSpec
}

type AndPred struct {
	Left  Predicate
	Right Predicate
}

type OrPred struct {
	Left  Predicate
	Right Predicate
}

type NotPred struct {
	Operand Predicate
}

type ForallPred struct {
	Variable     string
	VariableType *TypeSpec
	Domain       Predicate
	Body         Predicate
}

type ExistsPred struct {
	Variable     string
	VariableType *TypeSpec
	Domain       Predicate
	Body         Predicate
}

type MulPred struct {
	Left       Predicate
	Literal    int64
	ResultType *TypeSpec
}

func (FactRefPred) isPredicate()        {}
func (FieldRefPred) isPredicate()       {}
func (LiteralPred) isPredicate()        {}
func (VerdictPresentPred) isPredicate() {}
func (ComparePred) isPredicate()        {}
func (AndPred) isPredicate()            {}
func (OrPred) isPredicate()             {}
func (NotPred) isPredicate()            {}
func (ForallPred) isPredicate()         {}
func (ExistsPred) isPredicate()         {}
func (MulPred) isPredicate()            {}

// evalContext carries quantifier variable bindings.
type evalContext struct {
	bindings map[string]Value
}

func newEvalContext() *evalContext {
	return &evalContext{bindings: make(map[string]Value)}
}

func (c *evalContext) withBinding(name string, v Value) *evalContext {
	child := &evalContext{bindings: make(map[string]Value, len(c.bindings)+1)}
	for k, bv := range c.bindings {
		child.bindings[k] = bv
	}
	child.bindings[name] = v
	return child
}

// evalPred evaluates a predicate against facts and verdicts, recording
// every fact and verdict it touches. Short-circuited branches are not
// recorded.
func evalPred(p Predicate, facts *FactSet, verdicts *VerdictSet, collector *provenanceCollector, ctx *evalContext) (Value, error) {
	switch n := p.(type) {
	case FactRefPred:
		collector.recordFact(n.FactID)
		v, ok := facts.Get(n.FactID)
		if !ok {
			return Value{}, errUnknownFact(n.FactID)
		}
		return v, nil

	case FieldRefPred:
		base, bound := ctx.bindings[n.Var]
		if !bound {
			collector.recordFact(n.Var)
			v, ok := facts.Get(n.Var)
			if !ok {
				return Value{}, errUnboundVariable(n.Var)
			}
			base = v
		}
		if base.Kind != KindRecord {
			return Value{}, errNotARecord("variable '%s' is not a Record, got %s", n.Var, base.TypeName())
		}
		fv, ok := base.Fields[n.Field]
		if !ok {
			return Value{}, errType("field '%s' not found in record variable '%s'", n.Field, n.Var)
		}
		return fv, nil

	case LiteralPred:
		return n.Value, nil

	case VerdictPresentPred:
		collector.recordVerdict(n.VerdictType)
		return BoolValue(verdicts.HasVerdict(n.VerdictType)), nil

	case ComparePred:
		left, err := evalPred(n.Left, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		right, err := evalPred(n.Right, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		result, err := compareValues(left, right, n.Op, n.ComparisonType)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(result), nil

	case AndPred:
		left, err := evalPred(n.Left, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		lb, err := left.AsBool()
		if err != nil {
			return Value{}, err
		}
		if !lb {
			return BoolValue(false), nil
		}
		right, err := evalPred(n.Right, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		rb, err := right.AsBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(rb), nil

	case OrPred:
		left, err := evalPred(n.Left, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		lb, err := left.AsBool()
		if err != nil {
			return Value{}, err
		}
		if lb {
			return BoolValue(true), nil
		}
		right, err := evalPred(n.Right, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		rb, err := right.AsBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(rb), nil

	case NotPred:
		inner, err := evalPred(n.Operand, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		b, err := inner.AsBool()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(!b), nil

	case ForallPred:
		domain, err := evalPred(n.Domain, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		if domain.Kind != KindList {
			return Value{}, errType("forall domain must be a List, got %s", domain.TypeName())
		}
		for _, elem := range domain.Elems {
			child := ctx.withBinding(n.Variable, elem)
			body, err := evalPred(n.Body, facts, verdicts, collector, child)
			if err != nil {
				return Value{}, err
			}
			b, err := body.AsBool()
			if err != nil {
				return Value{}, err
			}
			if !b {
				return BoolValue(false), nil
			}
		}
		return BoolValue(true), nil

	case ExistsPred:
		domain, err := evalPred(n.Domain, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		if domain.Kind != KindList {
			return Value{}, errType("exists domain must be a List, got %s", domain.TypeName())
		}
		for _, elem := range domain.Elems {
			child := ctx.withBinding(n.Variable, elem)
			body, err := evalPred(n.Body, facts, verdicts, collector, child)
			if err != nil {
				return Value{}, err
			}
			b, err := body.AsBool()
			if err != nil {
				return Value{}, err
			}
			if b {
				return BoolValue(true), nil
			}
		}
		return BoolValue(false), nil

	case MulPred:
		left, err := evalPred(n.Left, facts, verdicts, collector, ctx)
		if err != nil {
			return Value{}, err
		}
		switch left.Kind {
		case KindInt:
			var min, max *int64
			if n.ResultType != nil {
				min = n.ResultType.Min
				max = n.ResultType.Max
			}
			result, err := evalIntMul(left.Int, n.Literal, min, max)
			if err != nil {
				return Value{}, err
			}
			return IntValue(result), nil
		case KindDecimal:
			precision, scale := int64(28), int64(0)
			if n.ResultType != nil {
				if n.ResultType.Precision != nil {
					precision = *n.ResultType.Precision
				}
				if n.ResultType.Scale != nil {
					scale = *n.ResultType.Scale
				}
			}
			result, err := evalDecimalMul(left.Dec, decimal.NewFromInt(n.Literal), precision, scale)
			if err != nil {
				return Value{}, err
			}
			return DecimalValue(result), nil
		default:
			return Value{}, errType("multiplication requires numeric operand, got %s", left.TypeName())
		}
	}
	return Value{}, errType("unsupported predicate node")
}

// parsePredicate decodes a predicate from its interchange form. The
// operator check runs before the literal check because multiplication
// nodes carry both an "op" and a "literal" key.
func parsePredicate(v any) (Predicate, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errDeserialize("unrecognized predicate expression: %v", v)
	}

	if vt, ok := obj["verdict_present"]; ok {
		s, ok := vt.(string)
		if !ok {
			return nil, errDeserialize("verdict_present must be a string")
		}
		return VerdictPresentPred{VerdictType: s}, nil
	}

	if fr, ok := obj["fact_ref"]; ok {
		s, ok := fr.(string)
		if !ok {
			return nil, errDeserialize("fact_ref must be a string")
		}
		return FactRefPred{FactID: s}, nil
	}

	if fieldRef, ok := obj["field_ref"]; ok {
		varName, err := jsonString(fieldRef, "var")
		if err != nil {
			return nil, err
		}
		field, err := jsonString(fieldRef, "field")
		if err != nil {
			return nil, err
		}
		return FieldRefPred{Var: varName, Field: field}, nil
	}

	if opVal, ok := obj["op"]; ok {
		op, ok := opVal.(string)
		if !ok {
			return nil, errDeserialize("'op' must be a string")
		}
		switch op {
		case "and", "or":
			left, err := parsePredicate(obj["left"])
			if err != nil {
				return nil, err
			}
			right, err := parsePredicate(obj["right"])
			if err != nil {
				return nil, err
			}
			if op == "and" {
				return AndPred{Left: left, Right: right}, nil
			}
			return OrPred{Left: left, Right: right}, nil
		case "not":
			operand, err := parsePredicate(obj["operand"])
			if err != nil {
				return nil, err
			}
			return NotPred{Operand: operand}, nil
		case "*":
			left, err := parsePredicate(obj["left"])
			if err != nil {
				return nil, err
			}
			lit := jsonInt64(obj["literal"])
			if lit == nil {
				return nil, errDeserialize("multiplication node missing integer 'literal'")
			}
			var resultType *TypeSpec
			if rt, ok := obj["result_type"]; ok {
				spec, err := typeSpecFromJSON(rt)
				if err != nil {
					return nil, err
				}
				resultType = spec
			}
			return MulPred{Left: left, Literal: *lit, ResultType: resultType}, nil
		case "=", "!=", "<", "<=", ">", ">=":
			left, err := parsePredicate(obj["left"])
			if err != nil {
				return nil, err
			}
			right, err := parsePredicate(obj["right"])
			if err != nil {
				return nil, err
			}
			var comparisonType *TypeSpec
			if ct, ok := obj["comparison_type"]; ok {
				spec, err := typeSpecFromJSON(ct)
				if err != nil {
					return nil, err
				}
				comparisonType = spec
			}
			return ComparePred{Left: left, Op: op, Right: right, ComparisonType: comparisonType}, nil
		default:
			return nil, errDeserialize("unknown operator: %s", op)
		}
	}

	if lit, ok := obj["literal"]; ok {
		if typeVal, ok := obj["type"]; ok {
			spec, err := typeSpecFromJSON(typeVal)
			if err != nil {
				return nil, err
			}
			value, err := parseLiteralValue(lit, spec)
			if err != nil {
				return nil, err
			}
			return LiteralPred{Value: value}, nil
		}
		value, _, err := inferLiteral(lit)
		if err != nil {
			return nil, err
		}
		return LiteralPred{Value: value}, nil
	}

	if q, ok := obj["quantifier"]; ok {
		quantifier, ok := q.(string)
		if !ok {
			return nil, errDeserialize("'quantifier' must be a string")
		}
		variable, err := jsonString(obj, "variable")
		if err != nil {
			return nil, err
		}
		var variableType *TypeSpec
		if vt, ok := obj["variable_type"]; ok {
			spec, err := typeSpecFromJSON(vt)
			if err != nil {
				return nil, err
			}
			variableType = spec
		}
		domain, err := parsePredicate(obj["domain"])
		if err != nil {
			return nil, err
		}
		body, err := parsePredicate(obj["body"])
		if err != nil {
			return nil, err
		}
		switch quantifier {
		case "forall":
			return ForallPred{Variable: variable, VariableType: variableType, Domain: domain, Body: body}, nil
		case "exists":
			return ExistsPred{Variable: variable, VariableType: variableType, Domain: domain, Body: body}, nil
		default:
			return nil, errDeserialize("unknown quantifier: %s", quantifier)
		}
	}

	return nil, errDeserialize("unrecognized predicate expression: %v", v)
}

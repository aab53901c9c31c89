package elab

import (
	"fmt"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// ResolveTypes runs Pass 4a: substitute resolved TypeDecl shapes into Fact
// types and Rule payload types.
func ResolveTypes(constructs []ast.Construct, env TypeEnv) *diag.Diagnostic {
	for _, c := range constructs {
		switch v := c.(type) {
		case *ast.Fact:
			rt, d := substituteRefs(v.Type, env, "Fact", v.ID, v.Provenance)
			if d != nil {
				return d
			}
			v.Type = rt
		case *ast.Rule:
			rt, d := substituteRefs(v.PayloadType, env, "Rule", v.ID, v.Provenance)
			if d != nil {
				return d
			}
			v.PayloadType = rt
		}
	}
	return nil
}

func substituteRefs(t *ast.Type, env TypeEnv, kind, id string, prov ast.Provenance) (*ast.Type, *diag.Diagnostic) {
	if t == nil {
		return nil, nil
	}
	switch t.Kind {
	case ast.KindRef:
		resolved, ok := env[t.Ref]
		if !ok {
			return nil, diag.New(4, kind, id, "type", prov.File, prov.Line,
				"unknown type reference '%s'", t.Ref)
		}
		return resolved, nil
	case ast.KindList:
		elem, d := substituteRefs(t.Elem, env, kind, id, prov)
		if d != nil {
			return nil, d
		}
		cp := *t
		cp.Elem = elem
		return &cp, nil
	case ast.KindRecord, ast.KindTaggedUnion:
		fields := make(map[string]*ast.Type, len(t.Fields))
		for name, ft := range t.Fields {
			rt, d := substituteRefs(ft, env, kind, id, prov)
			if d != nil {
				return nil, d
			}
			fields[name] = rt
		}
		cp := *t
		cp.Fields = fields
		return &cp, nil
	default:
		return t, nil
	}
}

// TypeCheckRules runs Pass 4b over every rule body and produce clause.
func TypeCheckRules(constructs []ast.Construct) *diag.Diagnostic {
	factTypes := make(map[string]*ast.Type)
	for _, c := range constructs {
		if f, ok := c.(*ast.Fact); ok {
			factTypes[f.ID] = f.Type
		}
	}

	for _, c := range constructs {
		rule, ok := c.(*ast.Rule)
		if !ok {
			continue
		}
		ck := &ruleChecker{rule: rule, facts: factTypes, vars: make(map[string]*ast.Type)}
		if d := ck.checkExpr(rule.When); d != nil {
			return d
		}
		if d := ck.checkProduce(); d != nil {
			return d
		}
	}
	return nil
}

type ruleChecker struct {
	rule  *ast.Rule
	facts map[string]*ast.Type
	// vars maps quantifier variables in scope to the element type of their
	// domain, when known.
	vars map[string]*ast.Type
}

func (ck *ruleChecker) errf(field string, line int, format string, args ...any) *diag.Diagnostic {
	return diag.New(4, "Rule", ck.rule.ID, field, ck.rule.Provenance.File, line, format, args...)
}

func (ck *ruleChecker) checkExpr(e ast.Expr) *diag.Diagnostic {
	switch v := e.(type) {
	case *ast.Compare:
		return ck.checkCompare(v)
	case *ast.And:
		if d := ck.checkExpr(v.Left); d != nil {
			return d
		}
		return ck.checkExpr(v.Right)
	case *ast.Or:
		if d := ck.checkExpr(v.Left); d != nil {
			return d
		}
		return ck.checkExpr(v.Right)
	case *ast.Not:
		return ck.checkExpr(v.Operand)
	case *ast.Forall:
		return ck.checkQuantifier(v.Var, v.Domain, v.Body, v.Line)
	case *ast.Exists:
		return ck.checkQuantifier(v.Var, v.Domain, v.Body, v.Line)
	case *ast.VerdictPresent:
		return nil
	}
	return nil
}

func (ck *ruleChecker) checkQuantifier(variable, domain string, body ast.Expr, line int) *diag.Diagnostic {
	domType, ok := ck.facts[domain]
	if !ok {
		return ck.errf("body.when", line,
			"unresolved fact reference: '%s' is not declared in this contract", domain)
	}
	if domType.Kind != ast.KindList {
		return ck.errf("body.when", line,
			"type error: quantifier domain '%s' has type %s; domain must be List-typed",
			domain, typeName(domType))
	}
	prev, had := ck.vars[variable]
	ck.vars[variable] = domType.Elem
	d := ck.checkExpr(body)
	if had {
		ck.vars[variable] = prev
	} else {
		delete(ck.vars, variable)
	}
	return d
}

func (ck *ruleChecker) checkCompare(cmp *ast.Compare) *diag.Diagnostic {
	lt, d := ck.termType(cmp.Left, cmp.Line)
	if d != nil {
		return d
	}
	rt, d := ck.termType(cmp.Right, cmp.Line)
	if d != nil {
		return d
	}

	if boolOperand(lt) || boolOperand(rt) {
		if cmp.Op != "=" && cmp.Op != "!=" {
			return ck.errf("body.when", cmp.Line,
				"type error: operator '%s' not defined for Bool; Bool supports only = and ≠", cmp.Op)
		}
	}

	if lt != nil && rt != nil && lt.Kind == ast.KindMoney && rt.Kind == ast.KindMoney {
		if lt.Currency != rt.Currency {
			return ck.errf("body.when", cmp.Line,
				"type error: cannot compare Money(currency: %s) with Money(currency: %s); Money comparisons require identical currency codes",
				lt.Currency, rt.Currency)
		}
	}
	return nil
}

// termType resolves the static type of a term where one is knowable, and
// performs the per-term checks along the way.
func (ck *ruleChecker) termType(t ast.Term, line int) (*ast.Type, *diag.Diagnostic) {
	switch v := t.(type) {
	case *ast.FactRef:
		ft, ok := ck.facts[v.ID]
		if !ok {
			if _, isVar := ck.vars[v.ID]; isVar {
				return ck.vars[v.ID], nil
			}
			return nil, ck.errf("body.when", line,
				"unresolved fact reference: '%s' is not declared in this contract", v.ID)
		}
		return ft, nil
	case *ast.FieldRef:
		base, ok := ck.vars[v.Var]
		if !ok || base == nil {
			return nil, nil
		}
		if base.Kind == ast.KindRecord {
			return base.Fields[v.Field], nil
		}
		return nil, nil
	case *ast.Lit:
		return literalType(&v.Value), nil
	case *ast.Mul:
		if isVariableTerm(v.Left) && isVariableTerm(v.Right) {
			return nil, ck.errf("body.when", line,
				"type error: variable × variable multiplication is not permitted in PredicateExpression; only variable × literal_numeric is allowed")
		}
		lt, d := ck.termType(v.Left, line)
		if d != nil {
			return nil, d
		}
		if _, d := ck.termType(v.Right, line); d != nil {
			return nil, d
		}
		return lt, nil
	}
	return nil, nil
}

func (ck *ruleChecker) checkProduce() *diag.Diagnostic {
	mul, ok := ck.rule.PayloadValue.(*ast.Mul)
	if !ok {
		return nil
	}
	if ck.rule.PayloadType == nil || ck.rule.PayloadType.Kind != ast.KindInt {
		return nil
	}
	factRef, ok := mul.Left.(*ast.FactRef)
	if !ok {
		return nil
	}
	lit, ok := mul.Right.(*ast.Lit)
	if !ok || lit.Value.Kind != ast.LitInt {
		return nil
	}
	factType, ok := ck.facts[factRef.ID]
	if !ok || factType.Kind != ast.KindInt {
		return nil
	}

	k := lit.Value.Int
	lo, hi := factType.Min*k, factType.Max*k
	if lo > hi {
		lo, hi = hi, lo
	}
	decl := ck.rule.PayloadType
	if lo < decl.Min || hi > decl.Max {
		return ck.errf("body.produce.payload", ck.rule.ProduceLine,
			"type error: product range Int(min: %d, max: %d) is not contained in declared verdict payload type Int(min: %d, max: %d)",
			lo, hi, decl.Min, decl.Max)
	}
	return nil
}

func boolOperand(t *ast.Type) bool {
	return t != nil && t.Kind == ast.KindBool
}

func isVariableTerm(t ast.Term) bool {
	switch t.(type) {
	case *ast.FactRef, *ast.FieldRef:
		return true
	}
	return false
}

func literalType(l *ast.Literal) *ast.Type {
	switch l.Kind {
	case ast.LitBool:
		return &ast.Type{Kind: ast.KindBool}
	case ast.LitInt:
		return &ast.Type{Kind: ast.KindInt, Min: l.Int, Max: l.Int}
	case ast.LitString:
		return &ast.Type{Kind: ast.KindText}
	case ast.LitDecimal:
		prec, scale := decimalPrecisionScale(l.Text)
		return &ast.Type{Kind: ast.KindDecimal, Precision: prec, Scale: scale}
	case ast.LitMoney:
		return &ast.Type{Kind: ast.KindMoney, Currency: l.Currency}
	}
	return nil
}

// typeName renders the short diagnostic form of a type.
func typeName(t *ast.Type) string {
	if t == nil {
		return "unknown"
	}
	switch t.Kind {
	case ast.KindInt:
		return fmt.Sprintf("Int(min: %d, max: %d)", t.Min, t.Max)
	case ast.KindMoney:
		return fmt.Sprintf("Money(currency: %s)", t.Currency)
	default:
		return t.Name()
	}
}

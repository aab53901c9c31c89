package elab

import (
	"math"
	"sort"
	"strings"

	"tenor/internal/ast"
)

// Interchange bundle version tags.
const (
	TenorVersion       = "1.0"
	TenorBundleVersion = "1.1.0"
)

// Serialize runs Pass 6: render the validated construct list as the
// canonical interchange bundle. The result is a plain map tree; marshaling
// it with encoding/json yields lexicographically sorted keys.
func Serialize(constructs []ast.Construct, bundleID string) map[string]any {
	factTypes := make(map[string]*ast.Type)
	for _, c := range constructs {
		if f, ok := c.(*ast.Fact); ok {
			factTypes[f.ID] = f.Type
		}
	}

	var facts, entities, operations, flows, personas, systems, sources []ast.Construct
	rulesByStratum := make(map[int64][]*ast.Rule)
	for _, c := range constructs {
		switch v := c.(type) {
		case *ast.Fact:
			facts = append(facts, c)
		case *ast.Entity:
			entities = append(entities, c)
		case *ast.Rule:
			rulesByStratum[v.Stratum] = append(rulesByStratum[v.Stratum], v)
		case *ast.Operation:
			operations = append(operations, c)
		case *ast.Flow:
			flows = append(flows, c)
		case *ast.Persona:
			personas = append(personas, c)
		case *ast.System:
			systems = append(systems, c)
		case *ast.Source:
			sources = append(sources, c)
		}
	}

	byID := func(group []ast.Construct) {
		sort.Slice(group, func(i, j int) bool { return group[i].CID() < group[j].CID() })
	}
	byID(facts)
	byID(entities)
	byID(operations)
	byID(flows)
	byID(personas)
	byID(systems)
	byID(sources)

	strata := make([]int64, 0, len(rulesByStratum))
	for s := range rulesByStratum {
		strata = append(strata, s)
	}
	sort.Slice(strata, func(i, j int) bool { return strata[i] < strata[j] })

	var result []any
	emit := func(group []ast.Construct) {
		for _, c := range group {
			result = append(result, serializeConstruct(c, factTypes))
		}
	}
	emit(personas)
	emit(sources)
	emit(facts)
	emit(entities)
	for _, s := range strata {
		rules := rulesByStratum[s]
		sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
		for _, r := range rules {
			result = append(result, serializeConstruct(r, factTypes))
		}
	}
	emit(operations)
	emit(flows)
	emit(systems)

	if result == nil {
		result = []any{}
	}
	return map[string]any{
		"constructs":    result,
		"id":            bundleID,
		"kind":          "Bundle",
		"tenor":         TenorVersion,
		"tenor_version": TenorBundleVersion,
	}
}

func serializeConstruct(c ast.Construct, factTypes map[string]*ast.Type) map[string]any {
	switch v := c.(type) {
	case *ast.Fact:
		return serializeFact(v)
	case *ast.Entity:
		return serializeEntity(v)
	case *ast.Rule:
		return serializeRule(v, factTypes)
	case *ast.Operation:
		return serializeOperation(v, factTypes)
	case *ast.Flow:
		m := map[string]any{
			"entry":      v.Entry,
			"id":         v.ID,
			"kind":       "Flow",
			"provenance": serializeProv(v.Provenance),
			"snapshot":   v.Snapshot,
			"steps":      serializeSteps(v.Steps, v.Entry, factTypes),
			"tenor":      TenorVersion,
		}
		return m
	case *ast.Persona:
		return map[string]any{
			"id":         v.ID,
			"kind":       "Persona",
			"provenance": serializeProv(v.Provenance),
			"tenor":      TenorVersion,
		}
	case *ast.Source:
		return serializeSourceDecl(v)
	case *ast.System:
		return serializeSystem(v)
	}
	return nil
}

func serializeProv(p ast.Provenance) map[string]any {
	return map[string]any{"file": p.File, "line": p.Line}
}

func serializeFact(f *ast.Fact) map[string]any {
	m := map[string]any{
		"id":         f.ID,
		"kind":       "Fact",
		"provenance": serializeProv(f.Provenance),
		"source":     serializeFactSourceRef(f.Source),
		"tenor":      TenorVersion,
		"type":       serializeType(f.Type),
	}
	if f.Default != nil {
		m["default"] = serializeFactDefault(f.Type, f.Default)
	}
	return m
}

// serializeFactDefault renders typed default values. Decimal defaults round
// to the declared scale with banker's rounding; Money amounts use the fixed
// monetary precision.
func serializeFactDefault(t *ast.Type, d *ast.Literal) any {
	switch {
	case t.Kind == ast.KindDecimal && (d.Kind == ast.LitString || d.Kind == ast.LitDecimal):
		return map[string]any{
			"kind":      "decimal_value",
			"precision": t.Precision,
			"scale":     t.Scale,
			"value":     roundDecimalToScale(d.Text, t.Scale),
		}
	case t.Kind == ast.KindMoney && d.Kind == ast.LitMoney:
		p, sc := moneyDecimalPrecisionScale(d.Amount)
		return map[string]any{
			"amount": map[string]any{
				"kind":      "decimal_value",
				"precision": p,
				"scale":     sc,
				"value":     roundDecimalToScale(d.Amount, sc),
			},
			"currency": d.Currency,
			"kind":     "money_value",
		}
	}
	return serializeLiteral(d)
}

func serializeFactSourceRef(s *ast.SourceRef) any {
	if s == nil {
		return ""
	}
	if s.SourceID != "" {
		return map[string]any{"path": s.Path, "source_id": s.SourceID}
	}
	// Legacy freetext: split on the first dot into system and field.
	if dot := strings.IndexByte(s.Freetext, '.'); dot >= 0 {
		return map[string]any{
			"field":  s.Freetext[dot+1:],
			"system": s.Freetext[:dot],
		}
	}
	return s.Freetext
}

func serializeEntity(e *ast.Entity) map[string]any {
	transitions := make([]any, 0, len(e.Transitions))
	for _, tr := range e.Transitions {
		transitions = append(transitions, map[string]any{"from": tr.From, "to": tr.To})
	}
	m := map[string]any{
		"id":          e.ID,
		"initial":     e.Initial,
		"kind":        "Entity",
		"provenance":  serializeProv(e.Provenance),
		"states":      stringsToAny(e.States),
		"tenor":       TenorVersion,
		"transitions": transitions,
	}
	if e.Parent != "" {
		m["parent"] = e.Parent
	}
	return m
}

func serializeRule(r *ast.Rule, factTypes map[string]*ast.Type) map[string]any {
	return map[string]any{
		"body": map[string]any{
			"produce": map[string]any{
				"payload":      serializePayload(r.PayloadType, r.PayloadValue, factTypes),
				"verdict_type": r.VerdictType,
			},
			"when": serializeExpr(r.When, factTypes),
		},
		"id":         r.ID,
		"kind":       "Rule",
		"provenance": serializeProv(r.Provenance),
		"stratum":    r.Stratum,
		"tenor":      TenorVersion,
	}
}

func serializeOperation(op *ast.Operation, factTypes map[string]*ast.Type) map[string]any {
	effects := make([]any, 0, len(op.Effects))
	for _, e := range op.Effects {
		em := map[string]any{"entity_id": e.Entity, "from": e.From, "to": e.To}
		if e.Outcome != "" {
			em["outcome"] = e.Outcome
		}
		effects = append(effects, em)
	}
	m := map[string]any{
		"allowed_personas": stringsToAny(op.AllowedPersonas),
		"effects":          effects,
		"error_contract":   stringsToAny(op.ErrorContract),
		"id":               op.ID,
		"kind":             "Operation",
		"precondition":     serializeExpr(op.Precondition, factTypes),
		"provenance":       serializeProv(op.Provenance),
		"tenor":            TenorVersion,
	}
	if len(op.Outcomes) > 0 {
		m["outcomes"] = stringsToAny(op.Outcomes)
	}
	return m
}

func serializeType(t *ast.Type) map[string]any {
	switch t.Kind {
	case ast.KindBool, ast.KindDate, ast.KindDateTime:
		return map[string]any{"base": t.Kind}
	case ast.KindInt:
		return map[string]any{"base": "Int", "max": t.Max, "min": t.Min}
	case ast.KindDecimal:
		return map[string]any{"base": "Decimal", "precision": t.Precision, "scale": t.Scale}
	case ast.KindText:
		return map[string]any{"base": "Text", "max_length": t.MaxLength}
	case ast.KindEnum:
		return map[string]any{"base": "Enum", "values": stringsToAny(t.Values)}
	case ast.KindMoney:
		return map[string]any{"base": "Money", "currency": t.Currency}
	case ast.KindDuration:
		return map[string]any{"base": "Duration", "max": t.Max, "min": t.Min, "unit": t.Unit}
	case ast.KindRecord:
		fields := make(map[string]any, len(t.Fields))
		for name, ft := range t.Fields {
			fields[name] = serializeType(ft)
		}
		return map[string]any{"base": "Record", "fields": fields}
	case ast.KindList:
		return map[string]any{"base": "List", "element_type": serializeType(t.Elem), "max": t.ListMax}
	case ast.KindTaggedUnion:
		variants := make(map[string]any, len(t.Fields))
		for tag, vt := range t.Fields {
			variants[tag] = serializeType(vt)
		}
		return map[string]any{"base": "TaggedUnion", "variants": variants}
	case ast.KindRef:
		return map[string]any{"base": "TypeRef", "id": t.Ref}
	}
	return map[string]any{"base": t.Kind}
}

func serializeLiteral(l *ast.Literal) any {
	switch l.Kind {
	case ast.LitBool:
		return map[string]any{"kind": "bool_literal", "value": l.Bool}
	case ast.LitInt:
		return map[string]any{"kind": "int_literal", "value": l.Int}
	case ast.LitDecimal:
		p, sc := decimalPrecisionScale(l.Text)
		return map[string]any{
			"kind":      "decimal_value",
			"precision": p,
			"scale":     sc,
			"value":     l.Text,
		}
	case ast.LitString:
		return l.Text
	case ast.LitMoney:
		p, sc := moneyDecimalPrecisionScale(l.Amount)
		return map[string]any{
			"amount": map[string]any{
				"kind":      "decimal_value",
				"precision": p,
				"scale":     sc,
				"value":     l.Amount,
			},
			"currency": l.Currency,
			"kind":     "money_value",
		}
	}
	return nil
}

// Money amounts serialize with a fixed monetary precision.
func moneyDecimalPrecisionScale(string) (int, int) { return 10, 2 }

// decimalPrecisionScale derives (precision, scale) from a decimal string.
func decimalPrecisionScale(s string) (int, int) {
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		intPart := strings.TrimPrefix(s[:dot], "-")
		scale := len(s) - dot - 1
		precision := len(intPart) + scale
		if precision < 1 {
			precision = 1
		}
		return precision, scale
	}
	digits := len(strings.TrimPrefix(s, "-"))
	if digits < 1 {
		digits = 1
	}
	return digits, 0
}

// roundDecimalToScale rounds a decimal string to the target scale using
// round-half-to-even.
func roundDecimalToScale(s string, targetScale int) string {
	neg := strings.HasPrefix(s, "-")
	abs := strings.TrimPrefix(s, "-")
	intPart, fracPart := abs, ""
	if dot := strings.IndexByte(abs, '.'); dot >= 0 {
		intPart, fracPart = abs[:dot], abs[dot+1:]
	}

	if len(fracPart) <= targetScale {
		padded := intPart
		if targetScale > 0 {
			padded = intPart + "." + fracPart + strings.Repeat("0", targetScale-len(fracPart))
		}
		if neg {
			return "-" + padded
		}
		return padded
	}

	kept := fracPart[:targetScale]
	rest := fracPart[targetScale:]
	firstRemoved := rest[0] - '0'

	var roundUp bool
	switch {
	case firstRemoved < 5:
		roundUp = false
	case firstRemoved > 5:
		roundUp = true
	default:
		hasTrailing := strings.ContainsFunc(rest[1:], func(r rune) bool { return r != '0' })
		if hasTrailing {
			roundUp = true
		} else {
			// Tie: round so the last kept digit is even.
			var lastKept byte
			if targetScale > 0 {
				lastKept = kept[targetScale-1] - '0'
			} else if len(intPart) > 0 {
				lastKept = intPart[len(intPart)-1] - '0'
			}
			roundUp = lastKept%2 != 0
		}
	}

	if !roundUp {
		result := intPart
		if targetScale > 0 {
			result = intPart + "." + kept
		}
		if neg {
			return "-" + result
		}
		return result
	}

	digits := make([]byte, 0, len(intPart)+len(kept))
	for i := 0; i < len(intPart); i++ {
		digits = append(digits, intPart[i]-'0')
	}
	for i := 0; i < len(kept); i++ {
		digits = append(digits, kept[i]-'0')
	}
	carry := byte(1)
	for i := len(digits) - 1; i >= 0 && carry > 0; i-- {
		sum := digits[i] + carry
		digits[i] = sum % 10
		carry = sum / 10
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if carry > 0 {
		b.WriteByte('1')
	}
	for _, d := range digits[:len(intPart)] {
		b.WriteByte('0' + d)
	}
	if targetScale > 0 {
		b.WriteByte('.')
		for _, d := range digits[len(intPart):] {
			b.WriteByte('0' + d)
		}
	}
	return b.String()
}

// serializePayload renders a rule payload with its effective type. An
// unsized Text payload with a string literal value narrows to the literal's
// length.
func serializePayload(t *ast.Type, value ast.Term, factTypes map[string]*ast.Type) map[string]any {
	effective := t
	if lit, ok := value.(*ast.Lit); ok && t != nil &&
		t.Kind == ast.KindText && t.MaxLength == 0 && lit.Value.Kind == ast.LitString {
		effective = &ast.Type{Kind: ast.KindText, MaxLength: len(lit.Value.Text)}
	}

	m := map[string]any{"type": serializeType(effective)}
	switch v := value.(type) {
	case *ast.Lit:
		switch v.Value.Kind {
		case ast.LitBool:
			m["value"] = v.Value.Bool
		case ast.LitInt:
			m["value"] = v.Value.Int
		case ast.LitString:
			m["value"] = v.Value.Text
		default:
			m["value"] = serializeLiteral(&v.Value)
		}
	case *ast.Mul:
		m["value"] = serializeMulTerm(v.Left, v.Right, factTypes)
	default:
		m["value"] = nil
	}
	return m
}

// serializeMulTerm renders fact-times-literal products with a computed
// result range; anything else falls back to the generic binary form.
func serializeMulTerm(left, right ast.Term, factTypes map[string]*ast.Type) map[string]any {
	var factTerm *ast.FactRef
	var litN int64
	if fr, ok := left.(*ast.FactRef); ok {
		if lit, ok := right.(*ast.Lit); ok && lit.Value.Kind == ast.LitInt {
			factTerm, litN = fr, lit.Value.Int
		}
	}
	if factTerm == nil {
		if fr, ok := right.(*ast.FactRef); ok {
			if lit, ok := left.(*ast.Lit); ok && lit.Value.Kind == ast.LitInt {
				factTerm, litN = fr, lit.Value.Int
			}
		}
	}
	if factTerm == nil {
		return map[string]any{
			"left":  serializeTerm(left),
			"op":    "*",
			"right": serializeTerm(right),
		}
	}

	m := map[string]any{
		"left":    serializeTerm(factTerm),
		"literal": litN,
		"op":      "*",
	}
	if ft, ok := factTypes[factTerm.ID]; ok && ft.Kind == ast.KindInt {
		m["result_type"] = serializeType(scaledIntRange(ft, litN))
	}
	return m
}

func scaledIntRange(t *ast.Type, k int64) *ast.Type {
	lo, hi := t.Min*k, t.Max*k
	if k < 0 {
		lo, hi = t.Max*k, t.Min*k
	}
	return &ast.Type{Kind: ast.KindInt, Min: lo, Max: hi}
}

func intToDecimalPrecision(min, max int64) int {
	absOf := func(n int64) uint64 {
		if n < 0 {
			return uint64(-(n + 1)) + 1
		}
		return uint64(n)
	}
	abs := absOf(min)
	if a := absOf(max); a > abs {
		abs = a
	}
	if abs == 0 {
		return 1
	}
	return int(math.Ceil(math.Log10(float64(abs)))) + 1
}

// termNumericType resolves the numeric type a term contributes to a
// comparison, including fact-times-literal product ranges.
func termNumericType(t ast.Term, factTypes map[string]*ast.Type) *ast.Type {
	switch v := t.(type) {
	case *ast.FactRef:
		return factTypes[v.ID]
	case *ast.Lit:
		if v.Value.Kind == ast.LitInt {
			return &ast.Type{Kind: ast.KindInt, Min: v.Value.Int, Max: v.Value.Int}
		}
	case *ast.Mul:
		if fr, ok := v.Left.(*ast.FactRef); ok {
			if lit, ok := v.Right.(*ast.Lit); ok && lit.Value.Kind == ast.LitInt {
				if ft, ok := factTypes[fr.ID]; ok && ft.Kind == ast.KindInt {
					return scaledIntRange(ft, lit.Value.Int)
				}
			}
		}
		if fr, ok := v.Right.(*ast.FactRef); ok {
			if lit, ok := v.Left.(*ast.Lit); ok && lit.Value.Kind == ast.LitInt {
				if ft, ok := factTypes[fr.ID]; ok && ft.Kind == ast.KindInt {
					return scaledIntRange(ft, lit.Value.Int)
				}
			}
		}
	}
	return nil
}

// comparisonType computes the widened type a comparison evaluates under.
func comparisonType(left, right ast.Term, factTypes map[string]*ast.Type) *ast.Type {
	lt := termNumericType(left, factTypes)
	rt := termNumericType(right, factTypes)

	if lt != nil && lt.Kind == ast.KindMoney {
		return lt
	}
	if rt != nil && rt.Kind == ast.KindMoney {
		return rt
	}
	if lt == nil || rt == nil {
		return nil
	}

	widen := func(dec, intT *ast.Type) *ast.Type {
		intPrec := intToDecimalPrecision(intT.Min, intT.Max)
		p := dec.Precision
		if intPrec > p {
			p = intPrec
		}
		return &ast.Type{Kind: ast.KindDecimal, Precision: p + 1, Scale: dec.Scale}
	}
	switch {
	case lt.Kind == ast.KindInt && rt.Kind == ast.KindDecimal:
		return widen(rt, lt)
	case lt.Kind == ast.KindDecimal && rt.Kind == ast.KindInt:
		return widen(lt, rt)
	case lt.Kind == ast.KindInt && rt.Kind == ast.KindInt:
		if _, isMul := left.(*ast.Mul); isMul {
			lo, hi := lt.Min, lt.Max
			if rt.Min < lo {
				lo = rt.Min
			}
			if rt.Max > hi {
				hi = rt.Max
			}
			return &ast.Type{Kind: ast.KindInt, Min: lo, Max: hi}
		}
	}
	return nil
}

func serializeTermCtx(t ast.Term, factTypes map[string]*ast.Type) any {
	if m, ok := t.(*ast.Mul); ok {
		return serializeMulTerm(m.Left, m.Right, factTypes)
	}
	return serializeTerm(t)
}

func serializeExpr(e ast.Expr, factTypes map[string]*ast.Type) any {
	switch v := e.(type) {
	case *ast.Compare:
		m := map[string]any{
			"left": serializeTermCtx(v.Left, factTypes),
			"op":   v.Op,
		}
		if ct := comparisonType(v.Left, v.Right, factTypes); ct != nil {
			m["comparison_type"] = serializeType(ct)
		}
		// A string literal compared against an Enum-typed fact picks up
		// the enum type.
		m["right"] = serializeTermCtx(v.Right, factTypes)
		if lit, ok := v.Right.(*ast.Lit); ok && lit.Value.Kind == ast.LitString {
			if fr, ok := v.Left.(*ast.FactRef); ok {
				if ft, ok := factTypes[fr.ID]; ok && ft.Kind == ast.KindEnum {
					m["right"] = map[string]any{
						"literal": lit.Value.Text,
						"type":    serializeType(ft),
					}
				}
			}
		}
		return m
	case *ast.VerdictPresent:
		return map[string]any{"verdict_present": v.ID}
	case *ast.And:
		return map[string]any{
			"left":  serializeExpr(v.Left, factTypes),
			"op":    "and",
			"right": serializeExpr(v.Right, factTypes),
		}
	case *ast.Or:
		return map[string]any{
			"left":  serializeExpr(v.Left, factTypes),
			"op":    "or",
			"right": serializeExpr(v.Right, factTypes),
		}
	case *ast.Not:
		return map[string]any{"op": "not", "operand": serializeExpr(v.Operand, factTypes)}
	case *ast.Forall:
		return serializeQuantifier("forall", v.Var, v.Domain, v.Body, factTypes)
	case *ast.Exists:
		return serializeQuantifier("exists", v.Var, v.Domain, v.Body, factTypes)
	}
	return nil
}

func serializeQuantifier(kind, variable, domain string, body ast.Expr, factTypes map[string]*ast.Type) map[string]any {
	m := map[string]any{
		"body":       serializeExpr(body, factTypes),
		"domain":     map[string]any{"fact_ref": domain},
		"quantifier": kind,
		"variable":   variable,
	}
	if dt, ok := factTypes[domain]; ok && dt.Kind == ast.KindList && dt.Elem != nil {
		m["variable_type"] = serializeType(dt.Elem)
	}
	return m
}

func serializeTerm(t ast.Term) any {
	switch v := t.(type) {
	case *ast.FactRef:
		return map[string]any{"fact_ref": v.ID}
	case *ast.FieldRef:
		return map[string]any{"field_ref": map[string]any{"field": v.Field, "var": v.Var}}
	case *ast.Lit:
		switch v.Value.Kind {
		case ast.LitBool:
			return map[string]any{"literal": v.Value.Bool, "type": map[string]any{"base": "Bool"}}
		case ast.LitInt:
			return map[string]any{
				"literal": v.Value.Int,
				"type":    map[string]any{"base": "Int", "max": v.Value.Int, "min": v.Value.Int},
			}
		case ast.LitString:
			return map[string]any{"literal": v.Value.Text}
		case ast.LitDecimal:
			p, sc := decimalPrecisionScale(v.Value.Text)
			return map[string]any{
				"literal": v.Value.Text,
				"type":    map[string]any{"base": "Decimal", "precision": p, "scale": sc},
			}
		case ast.LitMoney:
			p, sc := moneyDecimalPrecisionScale(v.Value.Amount)
			return map[string]any{
				"literal": map[string]any{
					"amount": map[string]any{
						"kind":      "decimal_value",
						"precision": p,
						"scale":     sc,
						"value":     v.Value.Amount,
					},
					"currency": v.Value.Currency,
				},
				"type": map[string]any{"base": "Money", "currency": v.Value.Currency},
			}
		}
	case *ast.Mul:
		return map[string]any{
			"left":  serializeTerm(v.Left),
			"op":    "*",
			"right": serializeTerm(v.Right),
		}
	}
	return nil
}

// serializeSteps renders the step map as an array in breadth-first order
// from the entry step; steps unreachable along success paths follow in
// sorted order.
func serializeSteps(steps map[string]ast.Step, entry string, factTypes map[string]*ast.Type) []any {
	order := topologicalOrder(steps, entry)
	arr := make([]any, 0, len(order))
	for _, id := range order {
		if s, ok := steps[id]; ok {
			arr = append(arr, serializeStep(id, s, factTypes))
		}
	}
	return arr
}

func topologicalOrder(steps map[string]ast.Step, entry string) []string {
	neighbors := func(s ast.Step) []string {
		var out []string
		add := func(t ast.StepTarget) {
			if !t.IsTerminal() {
				out = append(out, t.Step)
			}
		}
		switch v := s.(type) {
		case *ast.OperationStep:
			for _, label := range sortedOutcomeLabels(v.Outcomes) {
				add(v.Outcomes[label])
			}
		case *ast.BranchStep:
			add(v.IfTrue)
			add(v.IfFalse)
		case *ast.HandoffStep:
			out = append(out, v.Next)
		case *ast.SubFlowStep:
			add(v.OnSuccess)
		}
		return out
	}

	var order []string
	seen := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		step, ok := steps[id]
		if !ok {
			continue
		}
		for _, n := range neighbors(step) {
			if _, declared := steps[n]; declared && !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	for _, id := range sortedStepIDs(steps) {
		if !seen[id] {
			order = append(order, id)
		}
	}
	return order
}

func sortedOutcomeLabels(outcomes map[string]ast.StepTarget) []string {
	labels := make([]string, 0, len(outcomes))
	for label := range outcomes {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

func serializeStep(id string, s ast.Step, factTypes map[string]*ast.Type) map[string]any {
	switch v := s.(type) {
	case *ast.OperationStep:
		outcomes := make(map[string]any, len(v.Outcomes))
		for label, target := range v.Outcomes {
			outcomes[label] = serializeStepTarget(target)
		}
		m := map[string]any{
			"id":       id,
			"kind":     "OperationStep",
			"op":       v.Op,
			"outcomes": outcomes,
			"persona":  v.Persona,
		}
		if v.OnFailure != nil {
			m["on_failure"] = serializeFailureHandler(v.OnFailure)
		}
		return m
	case *ast.BranchStep:
		return map[string]any{
			"condition": serializeExpr(v.Condition, factTypes),
			"id":        id,
			"if_false":  serializeStepTarget(v.IfFalse),
			"if_true":   serializeStepTarget(v.IfTrue),
			"kind":      "BranchStep",
			"persona":   v.Persona,
		}
	case *ast.HandoffStep:
		return map[string]any{
			"from_persona": v.FromPersona,
			"id":           id,
			"kind":         "HandoffStep",
			"next":         v.Next,
			"to_persona":   v.ToPersona,
		}
	case *ast.SubFlowStep:
		return map[string]any{
			"flow":       v.Flow,
			"id":         id,
			"kind":       "SubFlowStep",
			"on_failure": serializeFailureHandler(v.OnFailure),
			"on_success": serializeStepTarget(v.OnSuccess),
			"persona":    v.Persona,
		}
	case *ast.ParallelStep:
		branches := make([]any, 0, len(v.Branches))
		for _, br := range v.Branches {
			branches = append(branches, map[string]any{
				"entry": br.Entry,
				"id":    br.ID,
				"steps": serializeSteps(br.Steps, br.Entry, factTypes),
			})
		}
		join := map[string]any{}
		if v.Join.OnAllSuccess != nil {
			join["on_all_success"] = serializeStepTarget(*v.Join.OnAllSuccess)
		}
		if v.Join.OnAnyFailure != nil {
			join["on_any_failure"] = serializeFailureHandler(v.Join.OnAnyFailure)
		}
		if v.Join.OnAllComplete != nil {
			join["on_all_complete"] = serializeStepTarget(*v.Join.OnAllComplete)
		}
		return map[string]any{
			"branches": branches,
			"id":       id,
			"join":     join,
			"kind":     "ParallelStep",
		}
	}
	return nil
}

func serializeStepTarget(t ast.StepTarget) any {
	if t.IsTerminal() {
		return map[string]any{"kind": "Terminal", "outcome": t.Outcome}
	}
	return t.Step
}

func serializeFailureHandler(h *ast.FailureHandler) any {
	if h == nil {
		return nil
	}
	switch h.Kind {
	case ast.HandlerTerminate:
		return map[string]any{"kind": "Terminate", "outcome": h.Outcome}
	case ast.HandlerCompensate:
		steps := make([]any, 0, len(h.Steps))
		for _, cs := range h.Steps {
			steps = append(steps, map[string]any{
				"on_failure": map[string]any{"kind": "Terminal", "outcome": cs.OnFailure},
				"op":         cs.Op,
				"persona":    cs.Persona,
			})
		}
		return map[string]any{
			"kind":  "Compensate",
			"steps": steps,
			"then":  map[string]any{"kind": "Terminal", "outcome": h.Then},
		}
	case ast.HandlerEscalate:
		return map[string]any{"kind": "Escalate", "next": h.Next, "to_persona": h.ToPersona}
	}
	return nil
}

func serializeSourceDecl(s *ast.Source) map[string]any {
	fields := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	m := map[string]any{
		"fields":     fields,
		"id":         s.ID,
		"kind":       "Source",
		"protocol":   s.Protocol,
		"provenance": serializeProv(s.Provenance),
		"tenor":      TenorVersion,
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	return m
}

func serializeSystem(s *ast.System) map[string]any {
	members := append([]ast.SystemMember(nil), s.Members...)
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	membersArr := make([]any, 0, len(members))
	for _, m := range members {
		membersArr = append(membersArr, map[string]any{"id": m.ID, "path": m.Path})
	}

	bindings := func(in []ast.SharedBinding, key string) []any {
		sorted := append([]ast.SharedBinding(nil), in...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
		arr := make([]any, 0, len(sorted))
		for _, b := range sorted {
			contracts := append([]string(nil), b.Contracts...)
			sort.Strings(contracts)
			arr = append(arr, map[string]any{"contracts": stringsToAny(contracts), key: b.ID})
		}
		return arr
	}

	triggers := append([]ast.Trigger(nil), s.Triggers...)
	sort.Slice(triggers, func(i, j int) bool {
		a, b := triggers[i], triggers[j]
		if a.SourceContract != b.SourceContract {
			return a.SourceContract < b.SourceContract
		}
		if a.SourceFlow != b.SourceFlow {
			return a.SourceFlow < b.SourceFlow
		}
		if a.TargetContract != b.TargetContract {
			return a.TargetContract < b.TargetContract
		}
		return a.TargetFlow < b.TargetFlow
	})
	triggersArr := make([]any, 0, len(triggers))
	for _, t := range triggers {
		triggersArr = append(triggersArr, map[string]any{
			"on":              t.On,
			"persona":         t.Persona,
			"source_contract": t.SourceContract,
			"source_flow":     t.SourceFlow,
			"target_contract": t.TargetContract,
			"target_flow":     t.TargetFlow,
		})
	}

	return map[string]any{
		"id":              s.ID,
		"kind":            "System",
		"members":         membersArr,
		"provenance":      serializeProv(s.Provenance),
		"shared_entities": bindings(s.SharedEntities, "entity"),
		"shared_personas": bindings(s.SharedPersonas, "persona"),
		"tenor":           TenorVersion,
		"triggers":        triggersArr,
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

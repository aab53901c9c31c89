package elab

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
)

func validateRule(r *ast.Rule, idx *Index) *diag.Diagnostic {
	if r.Stratum < 0 {
		return diag.New(5, "Rule", r.ID, "stratum",
			r.Provenance.File, r.StratumLine,
			"stratum must be a non-negative integer; got %d", r.Stratum)
	}

	for _, ref := range verdictRefs(r.When) {
		producer, ok := idx.VerdictStrata[ref.ID]
		if !ok {
			return diag.New(5, "Rule", r.ID, "when",
				r.Provenance.File, ref.Line,
				"unresolved VerdictType reference: '%s' is not produced by any rule in this contract", ref.ID)
		}
		if producer.Stratum >= r.Stratum {
			return diag.New(5, "Rule", r.ID, "when",
				r.Provenance.File, ref.Line,
				"stratum violation: rule '%s' at stratum %d references verdict '%s' produced by rule '%s' at stratum %d; verdict_refs must reference strata strictly less than the referencing rule's stratum",
				r.ID, r.Stratum, ref.ID, producer.RuleID, producer.Stratum)
		}
	}
	return nil
}

// verdictRefs collects verdict_present references from a predicate body.
// Quantifier bodies are scoped over element variables and are not walked.
func verdictRefs(e ast.Expr) []*ast.VerdictPresent {
	switch v := e.(type) {
	case *ast.VerdictPresent:
		return []*ast.VerdictPresent{v}
	case *ast.And:
		return append(verdictRefs(v.Left), verdictRefs(v.Right)...)
	case *ast.Or:
		return append(verdictRefs(v.Left), verdictRefs(v.Right)...)
	case *ast.Not:
		return verdictRefs(v.Operand)
	}
	return nil
}

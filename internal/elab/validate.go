package elab

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
)

// Validate runs Pass 5: structural and semantic checks over the indexed
// bundle. Checks run in a fixed order so a contract with several problems
// always reports the same one first.
func Validate(constructs []ast.Construct, idx *Index) *diag.Diagnostic {
	if d := checkVerdictUniqueness(constructs); d != nil {
		return d
	}

	for _, c := range constructs {
		switch v := c.(type) {
		case *ast.Entity:
			if d := validateEntity(v); d != nil {
				return d
			}
		case *ast.Rule:
			if d := validateRule(v, idx); d != nil {
				return d
			}
		case *ast.Operation:
			if d := validateOperation(v, idx); d != nil {
				return d
			}
		case *ast.Fact:
			if d := validateFactSource(v, idx); d != nil {
				return d
			}
		case *ast.Source:
			if d := validateSource(v); d != nil {
				return d
			}
		case *ast.Flow:
			if d := validateFlow(v); d != nil {
				return d
			}
		case *ast.System:
			if d := validateSystem(v, constructs); d != nil {
				return d
			}
		}
	}

	if d := checkEntityHierarchy(constructs); d != nil {
		return d
	}
	if d := checkFlowReferences(constructs); d != nil {
		return d
	}
	if d := checkParallelConflicts(constructs); d != nil {
		return d
	}
	return nil
}

// checkVerdictUniqueness enforces that each verdict type has exactly one
// producing rule.
func checkVerdictUniqueness(constructs []ast.Construct) *diag.Diagnostic {
	seen := make(map[string]string)
	for _, c := range constructs {
		rule, ok := c.(*ast.Rule)
		if !ok {
			continue
		}
		if first, dup := seen[rule.VerdictType]; dup {
			return diag.New(5, "Rule", rule.ID, "produce",
				rule.Provenance.File, rule.ProduceLine,
				"VerdictType '%s' is already produced by rule '%s'. Each VerdictType may be produced by at most one rule (S8).",
				rule.VerdictType, first)
		}
		seen[rule.VerdictType] = rule.ID
	}
	return nil
}

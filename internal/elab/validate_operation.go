package elab

import (
	"fmt"
	"sort"
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

func validateOperation(op *ast.Operation, idx *Index) *diag.Diagnostic {
	seen := make(map[string]bool, len(op.Outcomes))
	for _, outcome := range op.Outcomes {
		if seen[outcome] {
			return diag.New(5, "Operation", op.ID, "outcomes",
				op.Provenance.File, op.Provenance.Line,
				"duplicate outcome '%s'", outcome)
		}
		seen[outcome] = true
	}

	if len(op.AllowedPersonas) == 0 {
		return diag.New(5, "Operation", op.ID, "allowed_personas",
			op.Provenance.File, op.AllowedPersonasLine,
			"allowed_personas must be non-empty; an Operation with no allowed personas can never be invoked")
	}

	// Persona declarations are optional in a contract; when at least one is
	// present, every allowed persona must resolve.
	if len(idx.Personas) > 0 {
		for _, p := range op.AllowedPersonas {
			if _, ok := idx.Personas[p]; !ok {
				return diag.New(5, "Operation", op.ID, "allowed_personas",
					op.Provenance.File, op.AllowedPersonasLine,
					"allowed persona '%s' is not a declared Persona", p)
			}
		}
	}

	multiOutcome := len(op.Outcomes) >= 2
	for _, eff := range op.Effects {
		if _, ok := idx.Entities[eff.Entity]; !ok {
			return diag.New(5, "Operation", op.ID, "effects",
				op.Provenance.File, eff.Line,
				"effect references undeclared entity '%s'", eff.Entity)
		}
		if multiOutcome && eff.Outcome == "" {
			return diag.New(5, "Operation", op.ID, "effects",
				op.Provenance.File, eff.Line,
				"effect (%s, %s, %s) is missing an outcome label; multi-outcome operations require every effect to specify which outcome it belongs to",
				eff.Entity, eff.From, eff.To)
		}
		if eff.Outcome != "" && !seen[eff.Outcome] {
			return diag.New(5, "Operation", op.ID, "effects",
				op.Provenance.File, eff.Line,
				"effect (%s, %s, %s) references undeclared outcome '%s'; declared outcomes are: [%s]",
				eff.Entity, eff.From, eff.To, eff.Outcome, strings.Join(op.Outcomes, ", "))
		}
	}

	for _, ec := range op.ErrorContract {
		if seen[ec] {
			return diag.New(5, "Operation", op.ID, "outcomes",
				op.Provenance.File, op.Provenance.Line,
				"outcome '%s' conflicts with error_contract; outcomes and error_contract must be disjoint", ec)
		}
	}
	return nil
}

func validateFactSource(f *ast.Fact, idx *Index) *diag.Diagnostic {
	if f.Source == nil || f.Source.SourceID == "" {
		return nil
	}
	if _, ok := idx.Sources[f.Source.SourceID]; !ok {
		return diag.New(5, "Fact", f.ID, "source",
			f.Provenance.File, f.Provenance.Line,
			"fact '%s' references undeclared source '%s'", f.ID, f.Source.SourceID)
	}
	return nil
}

// ValidateOperationTransitions checks every operation effect against the
// declared transition set of its entity. It runs as a separate pass so that
// entity-shape errors surface before effect-level ones.
func ValidateOperationTransitions(constructs []ast.Construct) *diag.Diagnostic {
	entities := make(map[string]*ast.Entity)
	for _, c := range constructs {
		if e, ok := c.(*ast.Entity); ok {
			entities[e.ID] = e
		}
	}

	for _, c := range constructs {
		op, ok := c.(*ast.Operation)
		if !ok {
			continue
		}
		for _, eff := range op.Effects {
			ent, ok := entities[eff.Entity]
			if !ok {
				continue
			}
			if entityHasTransition(ent, eff.From, eff.To) {
				continue
			}
			return diag.New(5, "Operation", op.ID, "effects",
				op.Provenance.File, eff.Line,
				"effect (%s, %s, %s) is not a declared transition in entity %s; declared transitions are: [%s]",
				eff.Entity, eff.From, eff.To, eff.Entity, renderTransitions(ent.Transitions))
		}
	}
	return nil
}

func entityHasTransition(e *ast.Entity, from, to string) bool {
	for _, tr := range e.Transitions {
		if tr.From == from && tr.To == to {
			return true
		}
	}
	return false
}

func renderTransitions(trs []ast.Transition) string {
	parts := make([]string, 0, len(trs))
	for _, tr := range trs {
		parts = append(parts, fmt.Sprintf("(%s, %s)", tr.From, tr.To))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

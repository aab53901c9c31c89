package elab

import (
	"fmt"
	"sort"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// branchEffects records which entities a parallel branch can touch. Direct
// effects come from OperationSteps in the branch itself; transitive ones
// arrive through SubFlowStep invocations.
type branchEffects struct {
	direct     map[string]bool
	transitive map[string]bool
}

// checkParallelConflicts enforces that the entity effect sets of parallel
// branches are pairwise disjoint, counting effects reached transitively
// through sub-flows.
func checkParallelConflicts(constructs []ast.Construct) *diag.Diagnostic {
	ops := make(map[string]*ast.Operation)
	flows := make(map[string]*ast.Flow)
	for _, c := range constructs {
		switch v := c.(type) {
		case *ast.Operation:
			ops[v.ID] = v
		case *ast.Flow:
			flows[v.ID] = v
		}
	}
	closure := make(map[string]map[string]bool)

	for _, c := range constructs {
		f, ok := c.(*ast.Flow)
		if !ok {
			continue
		}
		for _, stepID := range sortedStepIDs(f.Steps) {
			par, ok := f.Steps[stepID].(*ast.ParallelStep)
			if !ok {
				continue
			}
			if d := checkParallelStep(f, stepID, par, ops, flows, closure); d != nil {
				return d
			}
		}
	}
	return nil
}

func checkParallelStep(f *ast.Flow, stepID string, par *ast.ParallelStep,
	ops map[string]*ast.Operation, flows map[string]*ast.Flow,
	closure map[string]map[string]bool) *diag.Diagnostic {

	effects := make([]branchEffects, len(par.Branches))
	for i, br := range par.Branches {
		effects[i] = collectBranchEffects(br.Steps, ops, flows, closure)
	}

	for i := range par.Branches {
		for j := i + 1; j < len(par.Branches); j++ {
			a, b := effects[i], effects[j]
			shared := sharedEntities(a, b)
			if len(shared) == 0 {
				continue
			}
			entity := shared[0]
			bi, bj := par.Branches[i].ID, par.Branches[j].ID
			if a.direct[entity] && b.direct[entity] {
				return diag.New(5, "Flow", f.ID,
					fmt.Sprintf("steps.%s.branches", stepID),
					f.Provenance.File, par.BranchesLine,
					"parallel branches '%s' and '%s' both declare effects on entity '%s'; parallel branch entity effect sets must be disjoint",
					bi, bj, entity)
			}
			via := bi
			if a.direct[entity] {
				via = bj
			}
			return diag.New(5, "Flow", f.ID,
				fmt.Sprintf("steps.%s.branches", stepID),
				f.Provenance.File, par.BranchesLine,
				"parallel branches '%s' and '%s' both affect entity '%s' (%s transitively through SubFlowStep → flow → op); parallel branch entity effect sets must be disjoint",
				bi, bj, entity, via)
		}
	}
	return nil
}

func sharedEntities(a, b branchEffects) []string {
	var shared []string
	for entity := range a.direct {
		if b.direct[entity] || b.transitive[entity] {
			shared = append(shared, entity)
		}
	}
	for entity := range a.transitive {
		if b.direct[entity] || b.transitive[entity] {
			shared = append(shared, entity)
		}
	}
	sort.Strings(shared)
	return shared
}

func collectBranchEffects(steps map[string]ast.Step, ops map[string]*ast.Operation,
	flows map[string]*ast.Flow, closure map[string]map[string]bool) branchEffects {

	eff := branchEffects{direct: make(map[string]bool), transitive: make(map[string]bool)}
	for _, id := range sortedStepIDs(steps) {
		switch v := steps[id].(type) {
		case *ast.OperationStep:
			if op, ok := ops[v.Op]; ok {
				for _, e := range op.Effects {
					eff.direct[e.Entity] = true
				}
			}
		case *ast.SubFlowStep:
			for entity := range flowEntityClosure(v.Flow, ops, flows, closure, map[string]bool{}) {
				eff.transitive[entity] = true
			}
		case *ast.ParallelStep:
			for _, br := range v.Branches {
				nested := collectBranchEffects(br.Steps, ops, flows, closure)
				for entity := range nested.direct {
					eff.direct[entity] = true
				}
				for entity := range nested.transitive {
					eff.transitive[entity] = true
				}
			}
		}
	}
	return eff
}

// flowEntityClosure computes the set of entities a flow can affect,
// recursing through its sub-flows. Results are memoized per flow id.
func flowEntityClosure(flowID string, ops map[string]*ast.Operation,
	flows map[string]*ast.Flow, closure map[string]map[string]bool,
	visiting map[string]bool) map[string]bool {

	if cached, ok := closure[flowID]; ok {
		return cached
	}
	if visiting[flowID] {
		return map[string]bool{}
	}
	f, ok := flows[flowID]
	if !ok {
		return map[string]bool{}
	}
	visiting[flowID] = true

	out := make(map[string]bool)
	var walk func(steps map[string]ast.Step)
	walk = func(steps map[string]ast.Step) {
		for _, id := range sortedStepIDs(steps) {
			switch v := steps[id].(type) {
			case *ast.OperationStep:
				if op, ok := ops[v.Op]; ok {
					for _, e := range op.Effects {
						out[e.Entity] = true
					}
				}
			case *ast.SubFlowStep:
				for entity := range flowEntityClosure(v.Flow, ops, flows, closure, visiting) {
					out[entity] = true
				}
			case *ast.ParallelStep:
				for _, br := range v.Branches {
					walk(br.Steps)
				}
			}
		}
	}
	walk(f.Steps)

	delete(visiting, flowID)
	closure[flowID] = out
	return out
}

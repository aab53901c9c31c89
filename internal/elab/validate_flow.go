package elab

import (
	"fmt"
	"sort"
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// stepRef is one step-to-step reference inside a flow, with the field path
// used in diagnostics.
type stepRef struct {
	from  string
	to    string
	field string
	line  int
}

func validateFlow(f *ast.Flow) *diag.Diagnostic {
	if _, ok := f.Steps[f.Entry]; !ok {
		return diag.New(5, "Flow", f.ID, "entry",
			f.Provenance.File, f.EntryLine,
			"entry step '%s' is not declared in steps", f.Entry)
	}

	ids := sortedStepIDs(f.Steps)
	for _, id := range ids {
		if op, ok := f.Steps[id].(*ast.OperationStep); ok && op.OnFailure == nil {
			return diag.New(5, "Flow", f.ID, fmt.Sprintf("steps.%s.on_failure", id),
				f.Provenance.File, op.Line,
				"OperationStep '%s' must declare a FailureHandler", id)
		}
	}

	var refs []stepRef
	for _, id := range ids {
		refs = append(refs, collectStepRefs(id, f.Steps[id])...)
	}
	for _, r := range refs {
		if _, ok := f.Steps[r.to]; !ok {
			return diag.New(5, "Flow", f.ID, r.field,
				f.Provenance.File, r.line,
				"step reference '%s' is not declared in steps", r.to)
		}
	}

	for _, id := range ids {
		if par, ok := f.Steps[id].(*ast.ParallelStep); ok {
			if d := validateBranches(f, id, par); d != nil {
				return d
			}
		}
	}

	return checkStepGraphAcyclic(f, refs)
}

// collectStepRefs lists the outgoing step references of a single step.
// Terminal targets carry no reference.
func collectStepRefs(id string, s ast.Step) []stepRef {
	var refs []stepRef
	add := func(target ast.StepTarget, field string) {
		if !target.IsTerminal() {
			refs = append(refs, stepRef{from: id, to: target.Step, field: field, line: target.Line})
		}
	}
	addHandler := func(h *ast.FailureHandler, field string, line int) {
		if h != nil && h.Kind == ast.HandlerEscalate && h.Next != "" {
			refs = append(refs, stepRef{from: id, to: h.Next, field: field, line: line})
		}
	}

	switch v := s.(type) {
	case *ast.OperationStep:
		labels := make([]string, 0, len(v.Outcomes))
		for label := range v.Outcomes {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			add(v.Outcomes[label], fmt.Sprintf("steps.%s.outcomes.%s", id, label))
		}
		addHandler(v.OnFailure, fmt.Sprintf("steps.%s.on_failure", id), v.Line)
	case *ast.BranchStep:
		add(v.IfTrue, fmt.Sprintf("steps.%s.if_true", id))
		add(v.IfFalse, fmt.Sprintf("steps.%s.if_false", id))
	case *ast.HandoffStep:
		refs = append(refs, stepRef{from: id, to: v.Next, field: fmt.Sprintf("steps.%s.next", id), line: v.Line})
	case *ast.SubFlowStep:
		add(v.OnSuccess, fmt.Sprintf("steps.%s.on_success", id))
		addHandler(v.OnFailure, fmt.Sprintf("steps.%s.on_failure", id), v.Line)
	case *ast.ParallelStep:
		if v.Join.OnAllSuccess != nil {
			add(*v.Join.OnAllSuccess, fmt.Sprintf("steps.%s.join.on_all_success", id))
		}
		if v.Join.OnAllComplete != nil {
			add(*v.Join.OnAllComplete, fmt.Sprintf("steps.%s.join.on_all_complete", id))
		}
		addHandler(v.Join.OnAnyFailure, fmt.Sprintf("steps.%s.join.on_any_failure", id), v.Line)
	}
	return refs
}

// validateBranches checks each parallel branch as its own small step graph.
func validateBranches(f *ast.Flow, stepID string, par *ast.ParallelStep) *diag.Diagnostic {
	for _, br := range par.Branches {
		if _, ok := br.Steps[br.Entry]; !ok {
			return diag.New(5, "Flow", f.ID,
				fmt.Sprintf("steps.%s.branches.%s.entry", stepID, br.ID),
				f.Provenance.File, par.BranchesLine,
				"entry step '%s' is not declared in steps", br.Entry)
		}
		for _, id := range sortedStepIDs(br.Steps) {
			if op, ok := br.Steps[id].(*ast.OperationStep); ok && op.OnFailure == nil {
				return diag.New(5, "Flow", f.ID,
					fmt.Sprintf("steps.%s.branches.%s.steps.%s.on_failure", stepID, br.ID, id),
					f.Provenance.File, op.Line,
					"OperationStep '%s' must declare a FailureHandler", id)
			}
			for _, r := range collectStepRefs(id, br.Steps[id]) {
				if _, ok := br.Steps[r.to]; !ok {
					return diag.New(5, "Flow", f.ID,
						fmt.Sprintf("steps.%s.branches.%s.%s", stepID, br.ID, r.field),
						f.Provenance.File, r.line,
						"step reference '%s' is not declared in steps", r.to)
				}
			}
		}
	}
	return nil
}

// checkStepGraphAcyclic runs Kahn's algorithm over the step graph; any steps
// left with a nonzero in-degree sit on a cycle.
func checkStepGraphAcyclic(f *ast.Flow, refs []stepRef) *diag.Diagnostic {
	indeg := make(map[string]int, len(f.Steps))
	succ := make(map[string][]string, len(f.Steps))
	for id := range f.Steps {
		indeg[id] = 0
	}
	for _, r := range refs {
		succ[r.from] = append(succ[r.from], r.to)
		indeg[r.to]++
	}

	queue := make([]string, 0, len(f.Steps))
	for _, id := range sortedStepIDs(f.Steps) {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++
		for _, next := range succ[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if removed == len(f.Steps) {
		return nil
	}

	var cyclic []string
	for id, d := range indeg {
		if d > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return diag.New(5, "Flow", f.ID, "steps",
		f.Provenance.File, f.Steps[cyclic[0]].DeclLine(),
		"flow step graph is not acyclic: cycle detected involving steps [%s]",
		strings.Join(cyclic, ", "))
}

// checkFlowReferences rejects cycles in the flow-to-flow reference graph
// induced by SubFlowStep, including sub-flows nested in parallel branches.
func checkFlowReferences(constructs []ast.Construct) *diag.Diagnostic {
	flows := make(map[string]*ast.Flow)
	for _, c := range constructs {
		if f, ok := c.(*ast.Flow); ok {
			flows[f.ID] = f
		}
	}

	names := make([]string, 0, len(flows))
	for id := range flows {
		names = append(names, id)
	}
	sort.Strings(names)

	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(flows))

	var visit func(id string, path []string) *diag.Diagnostic
	visit = func(id string, path []string) *diag.Diagnostic {
		color[id] = grey
		path = append(path, id)
		f := flows[id]
		for _, stepID := range sortedStepIDs(f.Steps) {
			if d := visitSubFlows(f, stepID, f.Steps[stepID], flows, color, path, visit); d != nil {
				return d
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range names {
		if color[id] == white {
			if d := visit(id, nil); d != nil {
				return d
			}
		}
	}
	return nil
}

func visitSubFlows(f *ast.Flow, stepID string, s ast.Step, flows map[string]*ast.Flow,
	color map[string]int, path []string,
	visit func(string, []string) *diag.Diagnostic) *diag.Diagnostic {

	check := func(sub *ast.SubFlowStep, field string) *diag.Diagnostic {
		target, ok := flows[sub.Flow]
		if !ok {
			return diag.New(5, "Flow", f.ID, field,
				f.Provenance.File, sub.FlowLine,
				"SubFlowStep references undeclared flow '%s'", sub.Flow)
		}
		switch color[target.ID] {
		case 1:
			cycle := append(append([]string{}, path...), target.ID)
			return diag.New(5, "Flow", f.ID, field,
				f.Provenance.File, sub.FlowLine,
				"flow reference cycle detected: %s", strings.Join(cycle, " → "))
		case 0:
			return visit(target.ID, path)
		}
		return nil
	}

	switch v := s.(type) {
	case *ast.SubFlowStep:
		return check(v, fmt.Sprintf("steps.%s.flow", stepID))
	case *ast.ParallelStep:
		for _, br := range v.Branches {
			for _, id := range sortedStepIDs(br.Steps) {
				if sub, ok := br.Steps[id].(*ast.SubFlowStep); ok {
					if d := check(sub, fmt.Sprintf("steps.%s.branches.%s.steps.%s.flow", stepID, br.ID, id)); d != nil {
						return d
					}
				}
			}
		}
	}
	return nil
}

func sortedStepIDs(steps map[string]ast.Step) []string {
	ids := make([]string, 0, len(steps))
	for id := range steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

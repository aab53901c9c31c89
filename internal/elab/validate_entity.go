package elab

import (
	"sort"
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

func validateEntity(e *ast.Entity) *diag.Diagnostic {
	states := make(map[string]bool, len(e.States))
	for _, s := range e.States {
		states[s] = true
	}

	if !states[e.Initial] {
		return diag.New(5, "Entity", e.ID, "initial",
			e.Provenance.File, e.InitialLine,
			"initial state '%s' is not declared in states: [%s]",
			e.Initial, strings.Join(e.States, ", "))
	}

	for _, tr := range e.Transitions {
		for _, endpoint := range []string{tr.From, tr.To} {
			if !states[endpoint] {
				return diag.New(5, "Entity", e.ID, "transitions",
					e.Provenance.File, tr.Line,
					"transition endpoint '%s' is not declared in states: [%s]",
					endpoint, strings.Join(e.States, ", "))
			}
		}
	}
	return nil
}

// checkEntityHierarchy validates parent references and rejects cycles in the
// parent chain.
func checkEntityHierarchy(constructs []ast.Construct) *diag.Diagnostic {
	entities := make(map[string]*ast.Entity)
	for _, c := range constructs {
		if e, ok := c.(*ast.Entity); ok {
			entities[e.ID] = e
		}
	}

	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		e := entities[id]
		if e.Parent == "" {
			continue
		}
		if _, ok := entities[e.Parent]; !ok {
			return diag.New(5, "Entity", e.ID, "parent",
				e.Provenance.File, e.ParentLine,
				"parent references undeclared entity '%s'", e.Parent)
		}
	}

	for _, id := range ids {
		path := []string{id}
		onPath := map[string]bool{id: true}
		cur := entities[id]
		for cur.Parent != "" {
			next := entities[cur.Parent]
			path = append(path, next.ID)
			if onPath[next.ID] {
				e := entities[id]
				return diag.New(5, "Entity", e.ID, "parent",
					e.Provenance.File, e.ParentLine,
					"entity parent cycle detected: %s", strings.Join(path, " → "))
			}
			onPath[next.ID] = true
			cur = next
		}
	}
	return nil
}

package elab

import (
	"sort"
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// validateSystem covers the structural checks that hold over a System
// construct together with whatever member constructs are present in the
// bundle. Deep cross-contract checks need the member contracts elaborated
// alongside the System.
func validateSystem(s *ast.System, constructs []ast.Construct) *diag.Diagnostic {
	errf := func(field, format string, args ...any) *diag.Diagnostic {
		return diag.New(5, "System", s.ID, field, s.Provenance.File, s.Provenance.Line, format, args...)
	}

	if len(s.Members) == 0 {
		return errf("members", "System must declare at least one member contract")
	}

	members := make(map[string]bool, len(s.Members))
	for _, m := range s.Members {
		if members[m.ID] {
			return errf("members", "duplicate member id '%s' in System '%s'", m.ID, s.ID)
		}
		members[m.ID] = true
	}

	// Nested Systems are forbidden: no member path may be a System file.
	systemFiles := make(map[string]bool)
	for _, c := range constructs {
		if sys, ok := c.(*ast.System); ok {
			systemFiles[sys.Provenance.File] = true
		}
	}
	for _, m := range s.Members {
		if systemFiles[m.Path] {
			return errf("members", "member '%s' is a System file; nested Systems are not permitted", m.ID)
		}
	}

	for _, sp := range s.SharedPersonas {
		for _, cid := range sp.Contracts {
			if !members[cid] {
				return errf("shared_personas",
					"contract '%s' in shared_persona '%s' is not a System member", cid, sp.ID)
			}
		}
		if len(sp.Contracts) < 2 {
			return errf("shared_personas",
				"shared_persona '%s' must reference at least 2 member contracts; got %d",
				sp.ID, len(sp.Contracts))
		}
	}

	for _, t := range s.Triggers {
		if d := validateTrigger(s, t, members, constructs, errf); d != nil {
			return d
		}
	}

	for _, se := range s.SharedEntities {
		for _, cid := range se.Contracts {
			if !members[cid] {
				return errf("shared_entities",
					"contract '%s' in shared_entity '%s' is not a System member", cid, se.ID)
			}
		}
		if len(se.Contracts) < 2 {
			return errf("shared_entities",
				"shared_entity '%s' must reference at least 2 member contracts; got %d",
				se.ID, len(se.Contracts))
		}
	}

	return checkTriggerAcyclicity(s, errf)
}

func validateTrigger(s *ast.System, t ast.Trigger, members map[string]bool,
	constructs []ast.Construct,
	errf func(string, string, ...any) *diag.Diagnostic) *diag.Diagnostic {

	if !members[t.SourceContract] {
		return errf("triggers", "trigger source contract '%s' is not a System member", t.SourceContract)
	}
	if !members[t.TargetContract] {
		return errf("triggers", "trigger target contract '%s' is not a System member", t.TargetContract)
	}
	switch t.On {
	case "success", "failure", "escalation":
	default:
		return errf("triggers",
			"invalid trigger outcome '%s'; must be 'success', 'failure', or 'escalation'", t.On)
	}
	if t.SourceContract == t.TargetContract && t.SourceFlow == t.TargetFlow {
		return errf("triggers", "self-referential trigger: %s.%s triggers itself",
			t.SourceContract, t.SourceFlow)
	}

	// When the target flow is loaded in this bundle, check the trigger
	// persona exists and is allowed on the flow's entry operation.
	var targetFlow *ast.Flow
	for _, c := range constructs {
		if f, ok := c.(*ast.Flow); ok && f.ID == t.TargetFlow {
			targetFlow = f
			break
		}
	}
	if targetFlow == nil {
		return nil
	}

	personaExists := false
	for _, c := range constructs {
		if p, ok := c.(*ast.Persona); ok && p.ID == t.Persona {
			personaExists = true
			break
		}
	}
	if !personaExists {
		return errf("triggers", "persona '%s' not declared in target contract '%s'",
			t.Persona, t.TargetContract)
	}

	entryOp, ok := targetFlow.Steps[targetFlow.Entry].(*ast.OperationStep)
	if !ok {
		return nil
	}
	for _, c := range constructs {
		op, isOp := c.(*ast.Operation)
		if !isOp || op.ID != entryOp.Op {
			continue
		}
		for _, p := range op.AllowedPersonas {
			if p == t.Persona {
				return nil
			}
		}
		return errf("triggers",
			"trigger persona '%s' not in allowed_personas of entry operation '%s' in target flow '%s'",
			t.Persona, entryOp.Op, t.TargetFlow)
	}
	return nil
}

// checkTriggerAcyclicity walks the trigger graph over (contract, flow)
// nodes and rejects the first cycle found.
func checkTriggerAcyclicity(s *ast.System,
	errf func(string, string, ...any) *diag.Diagnostic) *diag.Diagnostic {

	if len(s.Triggers) == 0 {
		return nil
	}

	type node struct{ contract, flow string }
	adj := make(map[node][]node)
	nodeSet := make(map[node]bool)
	for _, t := range s.Triggers {
		src := node{t.SourceContract, t.SourceFlow}
		tgt := node{t.TargetContract, t.TargetFlow}
		adj[src] = append(adj[src], tgt)
		nodeSet[src] = true
		nodeSet[tgt] = true
	}

	nodes := make([]node, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].contract != nodes[j].contract {
			return nodes[i].contract < nodes[j].contract
		}
		return nodes[i].flow < nodes[j].flow
	})

	visited := make(map[node]bool)
	inPath := make(map[node]bool)
	var path []node

	var dfs func(n node) *diag.Diagnostic
	dfs = func(n node) *diag.Diagnostic {
		path = append(path, n)
		inPath[n] = true
		for _, next := range adj[n] {
			if inPath[next] {
				start := 0
				for i, p := range path {
					if p == next {
						start = i
						break
					}
				}
				parts := make([]string, 0, len(path)-start+1)
				for _, p := range path[start:] {
					parts = append(parts, p.contract+"."+p.flow)
				}
				parts = append(parts, next.contract+"."+next.flow)
				return errf("triggers", "trigger cycle detected: %s", strings.Join(parts, " → "))
			}
			if !visited[next] {
				if d := dfs(next); d != nil {
					return d
				}
			}
		}
		delete(inPath, n)
		visited[n] = true
		path = path[:len(path)-1]
		return nil
	}

	for _, n := range nodes {
		if !visited[n] {
			if d := dfs(n); d != nil {
				return d
			}
		}
	}
	return nil
}

package elab

import (
	"sort"
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// TypeEnv maps TypeDecl ids to their fully resolved Record types.
type TypeEnv map[string]*ast.Type

// BuildTypeEnv runs Pass 3: detect cycles among TypeDecls, then resolve
// every declaration into a concrete Record type with no remaining refs to
// other declarations.
func BuildTypeEnv(constructs []ast.Construct) (TypeEnv, *diag.Diagnostic) {
	decls := make(map[string]*ast.TypeDecl)
	for _, c := range constructs {
		if d, ok := c.(*ast.TypeDecl); ok {
			decls[d.ID] = d
		}
	}

	if d := detectTypeDeclCycle(decls); d != nil {
		return nil, d
	}

	env := make(TypeEnv, len(decls))
	for id, decl := range decls {
		fields := make(map[string]*ast.Type, len(decl.Fields))
		for name, ft := range decl.Fields {
			rt, d := resolveType(ft, decls, decl)
			if d != nil {
				return nil, d
			}
			fields[name] = rt
		}
		env[id] = &ast.Type{Kind: ast.KindRecord, Fields: fields}
	}
	return env, nil
}

// detectTypeDeclCycle walks the reference graph between TypeDecls and errors
// on the first back edge found.
func detectTypeDeclCycle(decls map[string]*ast.TypeDecl) *diag.Diagnostic {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(decls))

	ids := make([]string, 0, len(decls))
	for id := range decls {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var visit func(id string, path []string) *diag.Diagnostic
	visit = func(id string, path []string) *diag.Diagnostic {
		color[id] = grey
		path = append(path, id)
		decl := decls[id]

		fieldNames := make([]string, 0, len(decl.Fields))
		for name := range decl.Fields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		for _, name := range fieldNames {
			for _, ref := range typeRefs(decl.Fields[name]) {
				dep, ok := decls[ref]
				if !ok {
					continue
				}
				switch color[ref] {
				case grey:
					cycle := append(append([]string{}, path...), ref)
					return diag.New(3, "TypeDecl", id, "type.fields."+name,
						decl.Provenance.File, decl.Provenance.Line,
						"TypeDecl cycle detected: %s", strings.Join(cycle, " → "))
				case white:
					if d := visit(dep.ID, path); d != nil {
						return d
					}
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, id := range ids {
		if color[id] == white {
			if d := visit(id, nil); d != nil {
				return d
			}
		}
	}
	return nil
}

// typeRefs collects the TypeDecl references reachable from a type without
// crossing another declaration boundary.
func typeRefs(t *ast.Type) []string {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ast.KindRef:
		return []string{t.Ref}
	case ast.KindList:
		return typeRefs(t.Elem)
	case ast.KindRecord, ast.KindTaggedUnion:
		var out []string
		names := make([]string, 0, len(t.Fields))
		for name := range t.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, typeRefs(t.Fields[name])...)
		}
		return out
	default:
		return nil
	}
}

// resolveType replaces every type reference with the referenced declaration's
// resolved shape. Unknown references are reported against the declaring
// construct.
func resolveType(t *ast.Type, decls map[string]*ast.TypeDecl, owner *ast.TypeDecl) (*ast.Type, *diag.Diagnostic) {
	if t == nil {
		return nil, nil
	}
	switch t.Kind {
	case ast.KindRef:
		dep, ok := decls[t.Ref]
		if !ok {
			return nil, diag.New(4, "TypeDecl", owner.ID, "type",
				owner.Provenance.File, owner.Provenance.Line,
				"unknown type reference '%s'", t.Ref)
		}
		fields := make(map[string]*ast.Type, len(dep.Fields))
		for name, ft := range dep.Fields {
			rt, d := resolveType(ft, decls, owner)
			if d != nil {
				return nil, d
			}
			fields[name] = rt
		}
		return &ast.Type{Kind: ast.KindRecord, Fields: fields}, nil
	case ast.KindList:
		elem, d := resolveType(t.Elem, decls, owner)
		if d != nil {
			return nil, d
		}
		cp := *t
		cp.Elem = elem
		return &cp, nil
	case ast.KindRecord, ast.KindTaggedUnion:
		fields := make(map[string]*ast.Type, len(t.Fields))
		for name, ft := range t.Fields {
			rt, d := resolveType(ft, decls, owner)
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

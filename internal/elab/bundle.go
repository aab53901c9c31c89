package elab

import (
	"path/filepath"
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
	"tenor/internal/parser"
)

// LoadBundle parses the root contract file and all transitive imports,
// returning the flat construct list and the bundle id (root file stem).
// Imports may not escape the root file's directory and may not form cycles.
func LoadBundle(root string, provider SourceProvider) ([]ast.Construct, string, *diag.Diagnostic) {
	canonRoot, err := provider.Canonicalize(root)
	if err != nil {
		return nil, "", diag.New(1, "", "", "", root, 0, "cannot open file: %v", err)
	}
	rootDir := filepath.Dir(canonRoot)
	bundleID := strings.TrimSuffix(filepath.Base(canonRoot), filepath.Ext(canonRoot))

	sandboxRoot, err := provider.Canonicalize(rootDir)
	if err != nil {
		return nil, "", diag.New(1, "", "", "", canonRoot, 0, "cannot canonicalize root directory: %v", err)
	}

	ld := &loader{
		provider:    provider,
		sandboxRoot: sandboxRoot,
		visited:     make(map[string]bool),
		stackSet:    make(map[string]bool),
	}
	if derr := ld.loadFile(canonRoot, rootDir); derr != nil {
		return nil, "", derr
	}
	if derr := checkCrossFileDups(ld.out); derr != nil {
		return nil, "", derr
	}
	return ld.out, bundleID, nil
}

type loader struct {
	provider    SourceProvider
	sandboxRoot string
	visited     map[string]bool
	stack       []string
	stackSet    map[string]bool
	out         []ast.Construct
}

func (ld *loader) loadFile(path, baseDir string) *diag.Diagnostic {
	canon, err := ld.provider.Canonicalize(path)
	if err != nil {
		return diag.New(1, "", "", "", path, 0, "cannot resolve import '%s': %v", path, err)
	}

	if ld.stackSet[canon] {
		return diag.New(1, "", "", "", path, 0,
			"import cycle detected: %s → %s", ld.stackNames(), filepath.Base(path))
	}
	if ld.visited[canon] {
		return nil
	}

	src, err := ld.provider.ReadSource(path)
	if err != nil {
		return diag.New(1, "", "", "", path, 0, "cannot read file '%s': %v", path, err)
	}

	filename := filepath.Base(path)
	tokens, derr := lexer.Lex(src, filename)
	if derr != nil {
		return derr
	}
	constructs, derr := parser.Parse(tokens, filename)
	if derr != nil {
		return derr
	}

	ld.stackSet[canon] = true
	ld.stack = append(ld.stack, canon)

	var local []ast.Construct
	for _, c := range constructs {
		imp, ok := c.(*ast.Import)
		if !ok {
			local = append(local, c)
			continue
		}
		prov := imp.Provenance
		resolved, err := ld.provider.ResolveImport(baseDir, imp.Path)
		if err != nil {
			return diag.New(1, "", "", "import", prov.File, prov.Line,
				"import resolution failed: cannot resolve path '%s': %v", imp.Path, err)
		}
		canonImport, err := ld.provider.Canonicalize(resolved)
		if err != nil {
			return diag.New(1, "", "", "import", prov.File, prov.Line,
				"import resolution failed: cannot resolve path '%s'", imp.Path)
		}
		if !withinRoot(canonImport, ld.sandboxRoot) {
			return diag.New(1, "", "", "import", prov.File, prov.Line,
				"import '%s' escapes the contract root directory", imp.Path)
		}
		if ld.stackSet[canonImport] {
			return diag.New(1, "", "", "import", prov.File, prov.Line,
				"import cycle detected: %s → %s", ld.stackNames(), filepath.Base(resolved))
		}
		importBase := filepath.Dir(canonImport)
		if derr := ld.loadFile(resolved, importBase); derr != nil {
			return derr
		}
	}
	ld.out = append(ld.out, local...)

	ld.stack = ld.stack[:len(ld.stack)-1]
	delete(ld.stackSet, canon)
	ld.visited[canon] = true
	return nil
}

func (ld *loader) stackNames() string {
	names := make([]string, len(ld.stack))
	for i, p := range ld.stack {
		names[i] = filepath.Base(p)
	}
	return strings.Join(names, " → ")
}

// checkCrossFileDups detects constructs with the same (kind, id) declared in
// different files. Duplicates within one file are a Pass 2 concern.
func checkCrossFileDups(constructs []ast.Construct) *diag.Diagnostic {
	type key struct{ kind, id string }
	seen := make(map[key]ast.Provenance)
	for i := len(constructs) - 1; i >= 0; i-- {
		c := constructs[i]
		if _, ok := c.(*ast.Import); ok {
			continue
		}
		k := key{c.ConstructKind(), c.CID()}
		prov := c.Prov()
		if first, ok := seen[k]; ok {
			if first.File != prov.File {
				return diag.New(1, k.kind, k.id, "id", prov.File, prov.Line,
					"duplicate %s id '%s': first declared in %s", k.kind, k.id, first.File)
			}
		} else {
			seen[k] = prov
		}
	}
	return nil
}

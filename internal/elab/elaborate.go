// Package elab implements the six-pass elaboration pipeline: bundling,
// indexing, type resolution, type checking, structural validation, and
// canonical interchange serialization. Every pass is fail-fast; the first
// diagnostic aborts the pipeline.
package elab

import (
	"encoding/json"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// Result is a fully elaborated contract bundle.
type Result struct {
	BundleID   string
	Constructs []ast.Construct
	Index      *Index
	TypeEnv    TypeEnv
	Bundle     map[string]any
}

// Elaborate runs the full pipeline over the contract rooted at path.
func Elaborate(path string, provider SourceProvider) (*Result, *diag.Diagnostic) {
	constructs, bundleID, d := LoadBundle(path, provider)
	if d != nil {
		return nil, d
	}
	return ElaborateConstructs(constructs, bundleID)
}

// ElaborateFile elaborates a single contract on disk.
func ElaborateFile(path string) (*Result, *diag.Diagnostic) {
	return Elaborate(path, FSProvider{})
}

// ElaborateConstructs runs passes 2 through 6 over an already loaded
// construct list.
func ElaborateConstructs(constructs []ast.Construct, bundleID string) (*Result, *diag.Diagnostic) {
	idx, d := BuildIndex(constructs)
	if d != nil {
		return nil, d
	}
	env, d := BuildTypeEnv(constructs)
	if d != nil {
		return nil, d
	}
	if d := ResolveTypes(constructs, env); d != nil {
		return nil, d
	}
	if d := TypeCheckRules(constructs); d != nil {
		return nil, d
	}
	if d := Validate(constructs, idx); d != nil {
		return nil, d
	}
	if d := ValidateOperationTransitions(constructs); d != nil {
		return nil, d
	}
	return &Result{
		BundleID:   bundleID,
		Constructs: constructs,
		Index:      idx,
		TypeEnv:    env,
		Bundle:     Serialize(constructs, bundleID),
	}, nil
}

// EncodeBundle marshals the interchange bundle with stable two-space
// indentation.
func (r *Result) EncodeBundle() ([]byte, error) {
	return json.MarshalIndent(r.Bundle, "", "  ")
}

package elab

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
)

// VerdictProducer records which rule produces a verdict type and at which
// stratum.
type VerdictProducer struct {
	RuleID  string
	Stratum int64
}

// Index is the Pass 2 lookup table over the construct list, keyed by id
// within each kind.
type Index struct {
	Facts     map[string]ast.Provenance
	Entities  map[string]ast.Provenance
	Rules     map[string]ast.Provenance
	Operations map[string]ast.Provenance
	Flows     map[string]ast.Provenance
	TypeDecls map[string]ast.Provenance
	Personas  map[string]ast.Provenance
	Systems   map[string]ast.Provenance
	Sources   map[string]ast.Provenance

	// RuleVerdicts maps rule id to the verdict type it produces.
	RuleVerdicts map[string]string
	// VerdictStrata maps verdict type to its producing rule.
	VerdictStrata map[string]VerdictProducer
	// OperationOutcomes maps operation id to declared outcomes
	// (empty slice means the implicit ["success"]).
	OperationOutcomes map[string][]string
	// OperationPersonas maps operation id to its allowed_personas list.
	OperationPersonas map[string][]string
}

// BuildIndex runs Pass 2: per-kind indexing plus within-bundle duplicate id
// detection.
func BuildIndex(constructs []ast.Construct) (*Index, *diag.Diagnostic) {
	idx := &Index{
		Facts:             make(map[string]ast.Provenance),
		Entities:          make(map[string]ast.Provenance),
		Rules:             make(map[string]ast.Provenance),
		Operations:        make(map[string]ast.Provenance),
		Flows:             make(map[string]ast.Provenance),
		TypeDecls:         make(map[string]ast.Provenance),
		Personas:          make(map[string]ast.Provenance),
		Systems:           make(map[string]ast.Provenance),
		Sources:           make(map[string]ast.Provenance),
		RuleVerdicts:      make(map[string]string),
		VerdictStrata:     make(map[string]VerdictProducer),
		OperationOutcomes: make(map[string][]string),
		OperationPersonas: make(map[string][]string),
	}

	byKind := map[string]map[string]ast.Provenance{
		"Fact":      idx.Facts,
		"Entity":    idx.Entities,
		"Rule":      idx.Rules,
		"Operation": idx.Operations,
		"Flow":      idx.Flows,
		"TypeDecl":  idx.TypeDecls,
		"Persona":   idx.Personas,
		"System":    idx.Systems,
		"Source":    idx.Sources,
	}

	for _, c := range constructs {
		if _, ok := c.(*ast.Import); ok {
			continue
		}
		kind := c.ConstructKind()
		id := c.CID()
		prov := c.Prov()
		m := byKind[kind]
		if first, ok := m[id]; ok {
			return nil, diag.New(2, kind, id, "id", prov.File, prov.Line,
				"duplicate %s id '%s': first declared at line %d", kind, id, first.Line)
		}
		m[id] = prov

		switch v := c.(type) {
		case *ast.Rule:
			idx.RuleVerdicts[v.ID] = v.VerdictType
			idx.VerdictStrata[v.VerdictType] = VerdictProducer{RuleID: v.ID, Stratum: v.Stratum}
		case *ast.Operation:
			idx.OperationOutcomes[v.ID] = v.Outcomes
			idx.OperationPersonas[v.ID] = v.AllowedPersonas
		}
	}
	return idx, nil
}

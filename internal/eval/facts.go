package eval

import "sort"

// FactSet holds assembled fact values keyed by fact id.
type FactSet struct {
	values map[string]Value
}

func NewFactSet() *FactSet {
	return &FactSet{values: make(map[string]Value)}
}

func (fs *FactSet) Set(id string, v Value) {
	fs.values[id] = v
}

func (fs *FactSet) Get(id string) (Value, bool) {
	v, ok := fs.values[id]
	return v, ok
}

func (fs *FactSet) Len() int { return len(fs.values) }

// IDs returns the fact ids in sorted order.
func (fs *FactSet) IDs() []string {
	ids := make([]string, 0, len(fs.values))
	for id := range fs.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Verdict is a derived conclusion with its provenance.
type Verdict struct {
	Type       string
	Payload    Value
	Provenance VerdictProvenance
}

// VerdictSet holds verdicts in derivation order. Later verdicts of the
// same type shadow earlier ones on lookup.
type VerdictSet struct {
	verdicts []Verdict
}

func NewVerdictSet() *VerdictSet {
	return &VerdictSet{}
}

func (vs *VerdictSet) Add(v Verdict) {
	vs.verdicts = append(vs.verdicts, v)
}

func (vs *VerdictSet) HasVerdict(verdictType string) bool {
	for _, v := range vs.verdicts {
		if v.Type == verdictType {
			return true
		}
	}
	return false
}

// GetVerdict returns the most recently derived verdict of the given type.
func (vs *VerdictSet) GetVerdict(verdictType string) (Verdict, bool) {
	for i := len(vs.verdicts) - 1; i >= 0; i-- {
		if vs.verdicts[i].Type == verdictType {
			return vs.verdicts[i], true
		}
	}
	return Verdict{}, false
}

func (vs *VerdictSet) All() []Verdict {
	return vs.verdicts
}

func (vs *VerdictSet) Len() int { return len(vs.verdicts) }

// ToJSON renders the verdict set for output.
func (vs *VerdictSet) ToJSON() map[string]any {
	out := make([]any, 0, len(vs.verdicts))
	for _, v := range vs.verdicts {
		out = append(out, map[string]any{
			"type":    v.Type,
			"payload": v.Payload.ToJSON(),
			"provenance": map[string]any{
				"rule":          v.Provenance.Rule,
				"stratum":       v.Provenance.Stratum,
				"facts_used":    v.Provenance.FactsUsed,
				"verdicts_used": v.Provenance.VerdictsUsed,
			},
		})
	}
	return map[string]any{"verdicts": out}
}

// Package interchange decodes canonical Interchange Bundle JSON into typed
// construct structs. Shallow fields (ids, states, personas, effects) are
// fully typed; deep expression trees (rule bodies, preconditions, flow
// steps) are kept as raw JSON values for the evaluator's own parsers.
package interchange

import (
	"encoding/json"
	"fmt"
)

// Bundle is a decoded Interchange Bundle.
type Bundle struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	Tenor        string      `json:"tenor"`
	TenorVersion string      `json:"tenor_version"`
	Constructs   []Construct `json:"-"`
}

// Construct is implemented by every decoded top-level construct.
type Construct interface {
	ConstructID() string
	ConstructKind() string
}

// Fact is a declared external input.
type Fact struct {
	ID      string `json:"id"`
	Type    any    `json:"type"`
	Default any    `json:"default"`
	Source  any    `json:"source"`
}

func (f *Fact) ConstructID() string   { return f.ID }
func (f *Fact) ConstructKind() string { return "Fact" }

// Transition is a declared entity state transition.
type Transition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Entity is a declared entity state machine.
type Entity struct {
	ID          string       `json:"id"`
	States      []string     `json:"states"`
	Initial     string       `json:"initial"`
	Parent      string       `json:"parent"`
	Transitions []Transition `json:"transitions"`
}

func (e *Entity) ConstructID() string   { return e.ID }
func (e *Entity) ConstructKind() string { return "Entity" }

// Rule is a verdict-producing rule. The body's when/produce trees are
// left raw for the evaluator's predicate parser.
type Rule struct {
	ID      string         `json:"id"`
	Stratum int64          `json:"stratum"`
	Body    map[string]any `json:"body"`
}

func (r *Rule) ConstructID() string   { return r.ID }
func (r *Rule) ConstructKind() string { return "Rule" }

// When returns the rule's condition tree, or nil when absent.
func (r *Rule) When() any {
	if r.Body == nil {
		return nil
	}
	return r.Body["when"]
}

// Produce returns the rule's produce clause, or nil when absent.
func (r *Rule) Produce() any {
	if r.Body == nil {
		return nil
	}
	return r.Body["produce"]
}

// Effect is a declared entity state transition performed by an operation.
type Effect struct {
	EntityID string `json:"entity_id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Outcome  string `json:"outcome"`
}

// Operation is a persona-gated state transition.
type Operation struct {
	ID              string   `json:"id"`
	AllowedPersonas []string `json:"allowed_personas"`
	Precondition    any      `json:"precondition"`
	Effects         []Effect `json:"effects"`
	ErrorContract   []string `json:"error_contract"`
	Outcomes        []string `json:"outcomes"`
}

func (o *Operation) ConstructID() string   { return o.ID }
func (o *Operation) ConstructKind() string { return "Operation" }

// Flow is a DAG of steps. Steps are kept raw; the evaluator parses them
// into its own step types.
type Flow struct {
	ID       string `json:"id"`
	Snapshot string `json:"snapshot"`
	Entry    string `json:"entry"`
	Steps    []any  `json:"steps"`
}

func (f *Flow) ConstructID() string   { return f.ID }
func (f *Flow) ConstructKind() string { return "Flow" }

// Persona is a declared actor.
type Persona struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

func (p *Persona) ConstructID() string   { return p.ID }
func (p *Persona) ConstructKind() string { return "Persona" }

// Source is a declared fact provenance endpoint. Evaluation never
// consults sources; the raw body is retained for tooling.
type Source struct {
	ID  string `json:"id"`
	Raw map[string]any
}

func (s *Source) ConstructID() string   { return s.ID }
func (s *Source) ConstructKind() string { return "Source" }

// System is a multi-contract composition declaration.
type System struct {
	ID  string `json:"id"`
	Raw map[string]any
}

func (s *System) ConstructID() string   { return s.ID }
func (s *System) ConstructKind() string { return "System" }

// TypeDecl is a named type alias. Elaboration resolves all references,
// so the evaluator never needs the body.
type TypeDecl struct {
	ID  string `json:"id"`
	Raw map[string]any
}

func (t *TypeDecl) ConstructID() string   { return t.ID }
func (t *TypeDecl) ConstructKind() string { return "TypeDecl" }

type rawBundle struct {
	ID           string            `json:"id"`
	Kind         string            `json:"kind"`
	Tenor        string            `json:"tenor"`
	TenorVersion string            `json:"tenor_version"`
	Constructs   []json.RawMessage `json:"constructs"`
}

type kindProbe struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Decode parses Interchange Bundle JSON.
func Decode(data []byte) (*Bundle, error) {
	var raw rawBundle
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	if raw.Kind != "Bundle" {
		return nil, fmt.Errorf("decode bundle: expected kind \"Bundle\", got %q", raw.Kind)
	}
	b := &Bundle{
		ID:           raw.ID,
		Kind:         raw.Kind,
		Tenor:        raw.Tenor,
		TenorVersion: raw.TenorVersion,
	}
	for i, rc := range raw.Constructs {
		var probe kindProbe
		if err := json.Unmarshal(rc, &probe); err != nil {
			return nil, fmt.Errorf("decode construct %d: %w", i, err)
		}
		c, err := decodeConstruct(probe.Kind, rc)
		if err != nil {
			return nil, fmt.Errorf("decode construct %q: %w", probe.ID, err)
		}
		b.Constructs = append(b.Constructs, c)
	}
	return b, nil
}

func decodeConstruct(kind string, data json.RawMessage) (Construct, error) {
	switch kind {
	case "Fact":
		var c Fact
		return &c, json.Unmarshal(data, &c)
	case "Entity":
		var c Entity
		return &c, json.Unmarshal(data, &c)
	case "Rule":
		var c Rule
		return &c, json.Unmarshal(data, &c)
	case "Operation":
		var c Operation
		return &c, json.Unmarshal(data, &c)
	case "Flow":
		var c Flow
		return &c, json.Unmarshal(data, &c)
	case "Persona":
		var c Persona
		return &c, json.Unmarshal(data, &c)
	case "Source":
		var c Source
		if err := json.Unmarshal(data, &c.Raw); err != nil {
			return nil, err
		}
		c.ID, _ = c.Raw["id"].(string)
		return &c, nil
	case "System":
		var c System
		if err := json.Unmarshal(data, &c.Raw); err != nil {
			return nil, err
		}
		c.ID, _ = c.Raw["id"].(string)
		return &c, nil
	case "TypeDecl":
		var c TypeDecl
		if err := json.Unmarshal(data, &c.Raw); err != nil {
			return nil, err
		}
		c.ID, _ = c.Raw["id"].(string)
		return &c, nil
	default:
		return nil, fmt.Errorf("unknown construct kind %q", kind)
	}
}

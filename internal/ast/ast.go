// Package ast defines the raw parse-tree types for Tenor contract source.
// The parser produces these and every elaboration pass consumes them; they
// carry source line provenance but no resolved type information.
package ast

// Provenance pins a construct to the file and line it was declared at.
type Provenance struct {
	File string
	Line int
}

// ──────────────────────────────────────────────
// Types
// ──────────────────────────────────────────────

// Type kind discriminators as they appear in the DSL.
const (
	KindBool     = "Bool"
	KindInt      = "Int"
	KindDecimal  = "Decimal"
	KindText     = "Text"
	KindDate     = "Date"
	KindDateTime = "DateTime"
	KindMoney    = "Money"
	KindDuration = "Duration"
	KindEnum        = "Enum"
	KindRecord      = "Record"
	KindList        = "List"
	KindTaggedUnion = "TaggedUnion"
	KindRef         = "Ref"
)

// Type is a raw type expression, pre-resolution. Named references
// (Kind == KindRef) are resolved to concrete types in Pass 3/4.
type Type struct {
	Kind string

	// Int, Duration
	Min int64
	Max int64

	// Decimal
	Precision int
	Scale     int

	// Text
	MaxLength int

	// Money
	Currency string

	// Duration
	Unit string

	// Enum
	Values []string

	// Record fields or TaggedUnion variants
	Fields map[string]*Type

	// List
	Elem    *Type
	ListMax int

	// Ref
	Ref string
}

// Name renders the type for diagnostics.
func (t *Type) Name() string {
	switch t.Kind {
	case KindInt:
		return "Int(min: " + itoa(t.Min) + ", max: " + itoa(t.Max) + ")"
	case KindMoney:
		return "Money(currency: " + t.Currency + ")"
	case KindRef:
		return t.Ref
	default:
		return t.Kind
	}
}

func itoa(n int64) string {
	// strconv would pull an import into a leaf package used everywhere;
	// hand-rolling keeps ast dependency-free.
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ──────────────────────────────────────────────
// Literals
// ──────────────────────────────────────────────

// Literal kinds.
const (
	LitBool    = "bool"
	LitInt     = "int"
	LitDecimal = "decimal"
	LitString  = "string"
	LitMoney   = "money"
)

// Literal is a raw literal value. Decimal and Money amounts are kept as
// strings to preserve the exact source representation.
type Literal struct {
	Kind     string
	Bool     bool
	Int      int64
	Text     string // string content or decimal representation
	Amount   string // money amount
	Currency string // money currency
}

// ──────────────────────────────────────────────
// Expressions
// ──────────────────────────────────────────────

// Expr is a raw predicate expression. The variant set is closed; consumers
// dispatch with an exhaustive type switch.
type Expr interface{ exprNode() }

// Compare is `left op right`. Line is the line of the left operand.
type Compare struct {
	Op    string
	Left  Term
	Right Term
	Line  int
}

// VerdictPresent is `verdict_present(id)`.
type VerdictPresent struct {
	ID   string
	Line int
}

// And is `a ∧ b`.
type And struct{ Left, Right Expr }

// Or is `a ∨ b`.
type Or struct{ Left, Right Expr }

// Not is `¬ e`.
type Not struct{ Operand Expr }

// Forall is `∀ var ∈ domain . body`. Line is the line of the quantifier.
type Forall struct {
	Var    string
	Domain string
	Body   Expr
	Line   int
}

// Exists is `∃ var ∈ domain . body`. Line is the line of the quantifier.
type Exists struct {
	Var    string
	Domain string
	Body   Expr
	Line   int
}

func (*Compare) exprNode()        {}
func (*VerdictPresent) exprNode() {}
func (*And) exprNode()            {}
func (*Or) exprNode()             {}
func (*Not) exprNode()            {}
func (*Forall) exprNode()         {}
func (*Exists) exprNode()         {}

// Term is an operand of a comparison or a produce payload.
type Term interface{ termNode() }

// FactRef names a fact (or a quantifier-bound variable).
type FactRef struct{ ID string }

// FieldRef is `var.field` inside a quantifier body.
type FieldRef struct{ Var, Field string }

// Lit wraps a literal operand.
type Lit struct{ Value Literal }

// Mul is `left * right` arithmetic.
type Mul struct{ Left, Right Term }

func (*FactRef) termNode()  {}
func (*FieldRef) termNode() {}
func (*Lit) termNode()      {}
func (*Mul) termNode()      {}

// ──────────────────────────────────────────────
// Flow steps
// ──────────────────────────────────────────────

// StepTarget is either a step reference or a terminal outcome.
// Exactly one of Step/Outcome is set.
type StepTarget struct {
	Step    string
	Outcome string
	Line    int
}

// IsTerminal reports whether the target ends the flow.
func (t StepTarget) IsTerminal() bool { return t.Step == "" }

// Failure handler kinds.
const (
	HandlerTerminate  = "Terminate"
	HandlerCompensate = "Compensate"
	HandlerEscalate   = "Escalate"
)

// FailureHandler routes an operation or sub-flow failure.
type FailureHandler struct {
	Kind string

	// Terminate: the terminal outcome
	Outcome string

	// Compensate: steps run in order, then the flow terminates with Then
	Steps []CompStep
	Then  string

	// Escalate
	ToPersona string
	Next      string
}

// CompStep is one operation inside a Compensate handler. OnFailure is the
// terminal outcome taken if the compensation itself fails.
type CompStep struct {
	Op        string
	Persona   string
	OnFailure string
}

// Step is a raw flow step. Closed variant set, exhaustive dispatch.
type Step interface {
	stepNode()
	// DeclLine is the line of the step id token in the steps map.
	DeclLine() int
}

// OperationStep invokes one operation and routes on its outcome.
// OnFailure may be nil at parse time; its absence is a Pass 5 error.
type OperationStep struct {
	Op        string
	Persona   string
	Outcomes  map[string]StepTarget
	OnFailure *FailureHandler
	Line      int
}

// BranchStep evaluates a boolean condition and takes one of two targets.
type BranchStep struct {
	Condition Expr
	Persona   string
	IfTrue    StepTarget
	IfFalse   StepTarget
	Line      int
}

// HandoffStep transfers the active persona without touching entity state.
type HandoffStep struct {
	FromPersona string
	ToPersona   string
	Next        string
	Line        int
}

// SubFlowStep recursively invokes another flow.
type SubFlowStep struct {
	Flow      string
	FlowLine  int // line of the `flow:` field, used in cycle diagnostics
	Persona   string
	OnSuccess StepTarget
	OnFailure *FailureHandler
	Line      int
}

// ParallelStep runs branches independently and joins on a policy.
type ParallelStep struct {
	Branches     []Branch
	BranchesLine int
	Join         JoinPolicy
	Line         int
}

func (s *OperationStep) stepNode() {}
func (s *BranchStep) stepNode()    {}
func (s *HandoffStep) stepNode()   {}
func (s *SubFlowStep) stepNode()   {}
func (s *ParallelStep) stepNode()  {}

func (s *OperationStep) DeclLine() int { return s.Line }
func (s *BranchStep) DeclLine() int    { return s.Line }
func (s *HandoffStep) DeclLine() int   { return s.Line }
func (s *SubFlowStep) DeclLine() int   { return s.Line }
func (s *ParallelStep) DeclLine() int  { return s.Line }

// Branch is one arm of a ParallelStep: a nested step graph with its own entry.
type Branch struct {
	ID    string
	Entry string
	Steps map[string]Step
}

// JoinPolicy decides the parallel step's continuation. At least one field
// must be present; validated in Pass 5.
type JoinPolicy struct {
	OnAllSuccess  *StepTarget
	OnAnyFailure  *FailureHandler
	OnAllComplete *StepTarget
}

// ──────────────────────────────────────────────
// Constructs
// ──────────────────────────────────────────────

// Construct is a raw top-level declaration.
type Construct interface {
	constructNode()
	// Kind is the construct kind discriminator ("Fact", "Entity", ...).
	ConstructKind() string
	// CID is the declared identifier (empty for imports).
	CID() string
	// Prov is the declaration site.
	Prov() Provenance
}

// Import pulls another contract file into the bundle.
type Import struct {
	Path       string
	Provenance Provenance
}

// TypeDecl is a named record type.
type TypeDecl struct {
	ID         string
	Fields     map[string]*Type
	Provenance Provenance
}

// SourceRef records where a fact value originates. Either a free-form
// string or a structured reference to a declared Source construct with a
// path into its payload. SourceID is empty for the free-form variant.
type SourceRef struct {
	Freetext string
	SourceID string
	Path     string
}

// Fact is a typed external input declaration.
type Fact struct {
	ID         string
	Type       *Type
	Source     *SourceRef
	Default    *Literal
	Provenance Provenance
}

// Transition is one (from, to) pair; Line is the line of its opening paren.
type Transition struct {
	From string
	To   string
	Line int
}

// Entity is a finite state machine declaration.
type Entity struct {
	ID          string
	States      []string
	Initial     string
	InitialLine int
	Transitions []Transition
	Parent      string
	ParentLine  int
	Provenance  Provenance
}

// Rule produces a typed verdict when its predicate holds.
type Rule struct {
	ID           string
	Stratum      int64
	StratumLine  int
	When         Expr
	VerdictType  string
	PayloadType  *Type
	PayloadValue Term
	ProduceLine  int
	Provenance   Provenance
}

// Effect is one declared entity transition of an operation. Line is the
// line of the opening paren of the effect tuple.
type Effect struct {
	Entity  string
	From    string
	To      string
	Outcome string // optional label binding the effect to an outcome
	Line    int
}

// Operation is an authorized, effect-bearing action.
type Operation struct {
	ID                  string
	AllowedPersonas     []string
	AllowedPersonasLine int
	Precondition        Expr
	Effects             []Effect
	ErrorContract       []string
	Outcomes            []string
	Provenance          Provenance
}

// Persona names an actor role.
type Persona struct {
	ID         string
	Provenance Provenance
}

// Source declares an external fact origin (infrastructure metadata).
type Source struct {
	ID          string
	Protocol    string
	Fields      map[string]string
	Description string
	Provenance  Provenance
}

// Flow is a step graph with a single entry.
type Flow struct {
	ID         string
	Snapshot   string
	Entry      string
	EntryLine  int
	Steps      map[string]Step
	Provenance Provenance
}

// Trigger is a cross-contract flow trigger inside a System.
type Trigger struct {
	SourceContract string
	SourceFlow     string
	On             string
	TargetContract string
	TargetFlow     string
	Persona        string
}

// SystemMember is a member contract declaration: id plus file path.
type SystemMember struct {
	ID   string
	Path string
}

// SharedBinding associates a persona or entity with member contracts.
type SharedBinding struct {
	ID        string
	Contracts []string
}

// System composes member contracts with shared personas/entities/triggers.
type System struct {
	ID             string
	Members        []SystemMember
	SharedPersonas []SharedBinding
	SharedEntities []SharedBinding
	Triggers       []Trigger
	Provenance     Provenance
}

func (*Import) constructNode()    {}
func (*TypeDecl) constructNode()  {}
func (*Fact) constructNode()      {}
func (*Entity) constructNode()    {}
func (*Rule) constructNode()      {}
func (*Operation) constructNode() {}
func (*Persona) constructNode()   {}
func (*Source) constructNode()    {}
func (*Flow) constructNode()      {}
func (*System) constructNode()    {}

func (*Import) ConstructKind() string    { return "Import" }
func (*TypeDecl) ConstructKind() string  { return "TypeDecl" }
func (*Fact) ConstructKind() string      { return "Fact" }
func (*Entity) ConstructKind() string    { return "Entity" }
func (*Rule) ConstructKind() string      { return "Rule" }
func (*Operation) ConstructKind() string { return "Operation" }
func (*Persona) ConstructKind() string   { return "Persona" }
func (*Source) ConstructKind() string    { return "Source" }
func (*Flow) ConstructKind() string      { return "Flow" }
func (*System) ConstructKind() string    { return "System" }

func (c *Import) CID() string    { return "" }
func (c *TypeDecl) CID() string  { return c.ID }
func (c *Fact) CID() string      { return c.ID }
func (c *Entity) CID() string    { return c.ID }
func (c *Rule) CID() string      { return c.ID }
func (c *Operation) CID() string { return c.ID }
func (c *Persona) CID() string   { return c.ID }
func (c *Source) CID() string    { return c.ID }
func (c *Flow) CID() string      { return c.ID }
func (c *System) CID() string    { return c.ID }

func (c *Import) Prov() Provenance    { return c.Provenance }
func (c *TypeDecl) Prov() Provenance  { return c.Provenance }
func (c *Fact) Prov() Provenance      { return c.Provenance }
func (c *Entity) Prov() Provenance    { return c.Provenance }
func (c *Rule) Prov() Provenance      { return c.Provenance }
func (c *Operation) Prov() Provenance { return c.Provenance }
func (c *Persona) Prov() Provenance   { return c.Provenance }
func (c *Source) Prov() Provenance    { return c.Provenance }
func (c *Flow) Prov() Provenance      { return c.Provenance }
func (c *System) Prov() Provenance    { return c.Provenance }

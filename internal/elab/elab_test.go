package elab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderContract = `
persona warehouse

fact order_total {
    type: Money(currency: "USD")
    source: "billing.order_total"
}

fact item_count {
    type: Int(min: 0, max: 100)
    source: "billing.item_count"
}

entity order {
    states: [pending, shipped, cancelled]
    initial: pending
    transitions: [(pending → shipped), (pending → cancelled)]
}

rule has_items {
    stratum: 0
    when: item_count > 0
    produce: verdict items_present { payload: Bool = true }
}

rule ready_to_ship {
    stratum: 1
    when: verdict_present(items_present)
    produce: verdict shippable { payload: Bool = true }
}

operation ship_order {
    allowed_personas: [warehouse]
    precondition: verdict_present(shippable)
    effects: [(order, pending, shipped)]
    error_contract: [precondition_failed]
}

flow fulfilment {
    snapshot: at_flow_start
    entry: ship
    steps: {
        ship: OperationStep {
            op: ship_order
            persona: warehouse
            outcomes: { success: Terminal(done) }
            on_failure: Terminate(failed)
        }
    }
}
`

func TestElaborateHappyPath(t *testing.T) {
	res, d := Elaborate("order.tenor", NewMemProvider(map[string]string{
		"order.tenor": orderContract,
	}))
	require.Nil(t, d)
	require.NotNil(t, res)

	assert.Equal(t, "order", res.BundleID)
	assert.Equal(t, "Bundle", res.Bundle["kind"])
	assert.Equal(t, TenorVersion, res.Bundle["tenor"])
	assert.Equal(t, TenorBundleVersion, res.Bundle["tenor_version"])

	constructs := res.Bundle["constructs"].([]any)
	kinds := make([]string, len(constructs))
	ids := make([]string, len(constructs))
	for i, c := range constructs {
		m := c.(map[string]any)
		kinds[i] = m["kind"].(string)
		ids[i] = m["id"].(string)
	}
	// Personas, then facts sorted by id, entities, rules by stratum then id,
	// operations, flows.
	assert.Equal(t, []string{"Persona", "Fact", "Fact", "Entity", "Rule", "Rule", "Operation", "Flow"}, kinds)
	assert.Equal(t, []string{"warehouse", "item_count", "order_total", "order", "has_items", "ready_to_ship", "ship_order", "fulfilment"}, ids)
}

func TestElaborateImportOrdering(t *testing.T) {
	files := map[string]string{
		"contracts/main.tenor": `
import "shared.tenor"

rule use_shared {
    stratum: 0
    when: shared_flag = true
    produce: verdict flagged { payload: Bool = true }
}
`,
		"contracts/shared.tenor": `
fact shared_flag {
    type: Bool
    source: "ops.flag"
}
`,
	}
	res, d := Elaborate("contracts/main.tenor", NewMemProvider(files))
	require.Nil(t, d)
	assert.Equal(t, "main", res.BundleID)
	// Imported constructs precede the importer's.
	require.Len(t, res.Constructs, 2)
	assert.Equal(t, "Fact", res.Constructs[0].ConstructKind())
	assert.Equal(t, "Rule", res.Constructs[1].ConstructKind())
}

func TestImportCycle(t *testing.T) {
	files := map[string]string{
		"c/a.tenor": `import "b.tenor"`,
		"c/b.tenor": `import "a.tenor"`,
	}
	_, d := Elaborate("c/a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Pass)
	assert.Contains(t, d.Message, "import cycle detected")
	assert.Contains(t, d.Message, "a.tenor → b.tenor")
}

func TestImportSandbox(t *testing.T) {
	files := map[string]string{
		"c/a.tenor":     `import "../outside.tenor"`,
		"outside.tenor": `persona p`,
	}
	_, d := Elaborate("c/a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Pass)
	assert.Contains(t, d.Message, "escapes the contract root directory")
}

func TestBareFilenameRootImports(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
import "lib/b.tenor"
persona clerk
`,
		"lib/b.tenor": `persona auditor`,
	}
	res, d := Elaborate("a.tenor", NewMemProvider(files))
	require.Nil(t, d)
	assert.Equal(t, "a", res.BundleID)
	assert.Len(t, res.Constructs, 2)
}

func TestBareFilenameRootSandbox(t *testing.T) {
	files := map[string]string{
		"a.tenor":          `import "../outside.tenor"`,
		"../outside.tenor": `persona p`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Pass)
	assert.Contains(t, d.Message, "escapes the contract root directory")
}

func TestDuplicateIDAcrossFiles(t *testing.T) {
	files := map[string]string{
		"c/a.tenor": `
import "b.tenor"
persona clerk
`,
		"c/b.tenor": `persona clerk`,
	}
	_, d := Elaborate("c/a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Pass)
	assert.Contains(t, d.Message, "duplicate Persona id 'clerk'")
}

func TestDuplicateIDSameFile(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
persona clerk
persona clerk
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Pass)
	assert.Contains(t, d.Message, "duplicate Persona id 'clerk': first declared at line 2")
}

func TestTypeDeclCycle(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
type address { owner: customer }
type customer { home: address }
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 3, d.Pass)
	assert.Contains(t, d.Message, "TypeDecl cycle detected")
	assert.Contains(t, d.Message, " → ")
}

func TestUnknownTypeReference(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact applicant {
    type: customer_profile
    source: "crm.applicant"
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 4, d.Pass)
	assert.Contains(t, d.Message, "unknown type reference 'customer_profile'")
}

func TestVerdictUniqueness(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact flag {
    type: Bool
    source: "ops.flag"
}
rule first {
    stratum: 0
    when: flag = true
    produce: verdict decided { payload: Bool = true }
}
rule second {
    stratum: 0
    when: flag = false
    produce: verdict decided { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 5, d.Pass)
	assert.Contains(t, d.Message, "VerdictType 'decided' is already produced by rule 'first'")
	assert.Equal(t, "produce", d.Field)
}

func TestStratumViolation(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact flag {
    type: Bool
    source: "ops.flag"
}
rule base {
    stratum: 1
    when: flag = true
    produce: verdict base_ok { payload: Bool = true }
}
rule same_level {
    stratum: 1
    when: verdict_present(base_ok)
    produce: verdict derived { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 5, d.Pass)
	assert.Contains(t, d.Message, "stratum violation")
	assert.Contains(t, d.Message, "strictly less")
}

func TestUnresolvedVerdictReference(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
rule needs_missing {
    stratum: 1
    when: verdict_present(never_produced)
    produce: verdict out { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "unresolved VerdictType reference: 'never_produced'")
}

func TestBoolOperatorRestriction(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact flag {
    type: Bool
    source: "ops.flag"
}
rule bad {
    stratum: 0
    when: flag > false
    produce: verdict v { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, 4, d.Pass)
	assert.Contains(t, d.Message, "Bool supports only = and ≠")
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact price_usd {
    type: Money(currency: "USD")
    source: "billing.usd"
}
fact price_eur {
    type: Money(currency: "EUR")
    source: "billing.eur"
}
rule mismatch {
    stratum: 0
    when: price_usd > price_eur
    produce: verdict v { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "cannot compare Money(currency: USD) with Money(currency: EUR)")
}

func TestQuantifierDomainMustBeList(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact count {
    type: Int(min: 0, max: 10)
    source: "ops.count"
}
rule bad_domain {
    stratum: 0
    when: ∀ item ∈ count . item > 0
    produce: verdict v { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "domain must be List-typed")
}

func TestVariableVariableMultiplication(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact a {
    type: Int(min: 0, max: 10)
    source: "ops.a"
}
fact b {
    type: Int(min: 0, max: 10)
    source: "ops.b"
}
rule bad {
    stratum: 0
    when: a * b > 5
    produce: verdict v { payload: Bool = true }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "variable × variable multiplication is not permitted")
}

func TestProductRangeContainment(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact units {
    type: Int(min: 0, max: 100)
    source: "ops.units"
}
rule overflow {
    stratum: 0
    when: units > 0
    produce: verdict score { payload: Int(min: 0, max: 50) = units * 3 }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, "body.produce.payload", d.Field)
	assert.Contains(t, d.Message, "product range Int(min: 0, max: 300) is not contained in declared verdict payload type Int(min: 0, max: 50)")
}

func TestEntityInitialNotDeclared(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
entity ticket {
    states: [open, closed]
    initial: archived
    transitions: [(open → closed)]
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "initial state 'archived' is not declared in states: [open, closed]")
}

func TestEffectNotDeclaredTransition(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
persona agent
entity ticket {
    states: [open, closed]
    initial: open
    transitions: [(open → closed)]
}
operation reopen {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(ticket, closed, open)]
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "effect (ticket, closed, open) is not a declared transition in entity ticket")
}

func TestMultiOutcomeEffectsNeedLabels(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
persona agent
entity case {
    states: [open, approved, denied]
    initial: open
    transitions: [(open → approved), (open → denied)]
}
operation decide {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(case, open, approved)]
    outcomes: [approve, deny]
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "missing an outcome label")
}

func TestFlowOperationStepRequiresFailureHandler(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
persona agent
entity case {
    states: [open, closed]
    initial: open
    transitions: [(open → closed)]
}
operation close_case {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(case, open, closed)]
}
flow shutdown {
    snapshot: at_flow_start
    entry: close
    steps: {
        close: OperationStep {
            op: close_case
            persona: agent
            outcomes: { success: Terminal(done) }
        }
    }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Equal(t, "steps.close.on_failure", d.Field)
	assert.Contains(t, d.Message, "OperationStep 'close' must declare a FailureHandler")
}

func TestFlowStepGraphCycle(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
persona agent
entity case {
    states: [open, closed]
    initial: open
    transitions: [(open → closed), (closed → open)]
}
operation close_case {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(case, open, closed)]
}
operation reopen_case {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(case, closed, open)]
}
flow loop {
    snapshot: at_flow_start
    entry: close
    steps: {
        close: OperationStep {
            op: close_case
            persona: agent
            outcomes: { success: reopen }
            on_failure: Terminate(failed)
        }
        reopen: OperationStep {
            op: reopen_case
            persona: agent
            outcomes: { success: close }
            on_failure: Terminate(failed)
        }
    }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "flow step graph is not acyclic")
	assert.Contains(t, d.Message, "[close, reopen]")
}

func TestParallelBranchEntityConflict(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
persona agent
entity doc {
    states: [draft, sent, filed]
    initial: draft
    transitions: [(draft → sent), (draft → filed)]
}
operation send_doc {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(doc, draft, sent)]
}
operation file_doc {
    allowed_personas: [agent]
    precondition: true = true
    effects: [(doc, draft, filed)]
}
flow race {
    snapshot: at_flow_start
    entry: par
    steps: {
        par: ParallelStep {
            branches: [
                Branch {
                    id: left
                    entry: s1
                    steps: {
                        s1: OperationStep {
                            op: send_doc
                            persona: agent
                            outcomes: { success: Terminal(done) }
                            on_failure: Terminate(failed)
                        }
                    }
                },
                Branch {
                    id: right
                    entry: s2
                    steps: {
                        s2: OperationStep {
                            op: file_doc
                            persona: agent
                            outcomes: { success: Terminal(done) }
                            on_failure: Terminate(failed)
                        }
                    }
                }
            ]
            join: JoinPolicy { on_all_success: Terminal(done) }
        }
    }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "parallel branches 'left' and 'right' both declare effects on entity 'doc'")
}

func TestSourceProtocolValidation(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "http missing base_url",
			src: `source api {
    protocol: http
    description: "no base url"
}`,
			want: "missing required field 'base_url'",
		},
		{
			name: "unknown tag",
			src: `source api {
    protocol: carrier_pigeon
}`,
			want: "unknown protocol tag 'carrier_pigeon'",
		},
		{
			name: "invalid extension tag",
			src: `source api {
    protocol: x_Internal
}`,
			want: "invalid extension protocol tag",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, d := Elaborate("a.tenor", NewMemProvider(map[string]string{"a.tenor": tc.src}))
			require.NotNil(t, d)
			assert.Contains(t, d.Message, tc.want)
		})
	}
}

func TestFactReferencesUndeclaredSource(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact score {
    type: Int(min: 0, max: 100)
    source: scoring_api { path: "score" }
}
`,
	}
	_, d := Elaborate("a.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "fact 'score' references undeclared source 'scoring_api'")
}

func TestDecimalDefaultBankersRounding(t *testing.T) {
	files := map[string]string{
		"a.tenor": `
fact rate {
    type: Decimal(precision: 5, scale: 2)
    source: "pricing.rate"
    default: 2.125
}
`,
	}
	res, d := Elaborate("a.tenor", NewMemProvider(files))
	require.Nil(t, d)
	constructs := res.Bundle["constructs"].([]any)
	require.Len(t, constructs, 1)
	def := constructs[0].(map[string]any)["default"].(map[string]any)
	assert.Equal(t, "decimal_value", def["kind"])
	assert.Equal(t, "2.12", def["value"])
}

func TestRoundDecimalToScale(t *testing.T) {
	cases := []struct {
		in    string
		scale int
		want  string
	}{
		{"2.125", 2, "2.12"},
		{"2.135", 2, "2.14"},
		{"2.1251", 2, "2.13"},
		{"2.1", 2, "2.10"},
		{"2", 2, "2.00"},
		{"-2.125", 2, "-2.12"},
		{"9.995", 2, "10.00"},
		{"0.5", 0, "0"},
		{"1.5", 0, "2"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, roundDecimalToScale(tc.in, tc.scale), "round(%s, %d)", tc.in, tc.scale)
	}
}

func TestDecimalPrecisionScale(t *testing.T) {
	p, s := decimalPrecisionScale("12.345")
	assert.Equal(t, 5, p)
	assert.Equal(t, 3, s)

	p, s = decimalPrecisionScale("-0.25")
	assert.Equal(t, 3, p)
	assert.Equal(t, 2, s)

	p, s = decimalPrecisionScale("7")
	assert.Equal(t, 1, p)
	assert.Equal(t, 0, s)
}

func TestSystemValidation(t *testing.T) {
	files := map[string]string{
		"sys/system.tenor": `
system commerce {
    members: [
        orders: "orders.tenor",
        billing: "billing.tenor"
    ]
    shared_personas: [
        { persona: clerk, contracts: [orders, billing] }
    ]
    triggers: [
        { source: orders.fulfil, on: success, target: billing.invoice, persona: clerk }
    ]
}
`,
	}
	res, d := Elaborate("sys/system.tenor", NewMemProvider(files))
	require.Nil(t, d)
	constructs := res.Bundle["constructs"].([]any)
	require.Len(t, constructs, 1)
	sys := constructs[0].(map[string]any)
	assert.Equal(t, "System", sys["kind"])
	members := sys["members"].([]any)
	require.Len(t, members, 2)
	// Members sorted by id.
	assert.Equal(t, "billing", members[0].(map[string]any)["id"])
}

func TestSystemTriggerCycle(t *testing.T) {
	files := map[string]string{
		"sys/system.tenor": `
system commerce {
    members: [
        orders: "orders.tenor",
        billing: "billing.tenor"
    ]
    triggers: [
        { source: orders.fulfil, on: success, target: billing.invoice, persona: clerk },
        { source: billing.invoice, on: success, target: orders.fulfil, persona: clerk }
    ]
}
`,
	}
	_, d := Elaborate("sys/system.tenor", NewMemProvider(files))
	require.NotNil(t, d)
	assert.Contains(t, d.Message, "trigger cycle detected")
	assert.Contains(t, d.Message, " → ")
}

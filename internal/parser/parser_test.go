package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenor/internal/ast"
	"tenor/internal/lexer"
)

func mustLex(t *testing.T, src string) []lexer.Token {
	t.Helper()
	tokens, err := lexer.Lex(src, "test.tenor")
	require.Nil(t, err)
	return tokens
}

func TestParseFact(t *testing.T) {
	src := `
fact order_total {
    type: Money(currency: "USD")
    source: "billing.order_total"
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	require.Len(t, constructs, 1)

	fact, ok := constructs[0].(*ast.Fact)
	require.True(t, ok)
	assert.Equal(t, "order_total", fact.ID)
	assert.Equal(t, ast.KindMoney, fact.Type.Kind)
	assert.Equal(t, "USD", fact.Type.Currency)
	assert.Equal(t, "billing.order_total", fact.Source.Freetext)
	assert.Nil(t, fact.Default)
	assert.Equal(t, 2, fact.Provenance.Line)
}

func TestParseFactStructuredSource(t *testing.T) {
	src := `
fact risk_score {
    type: Int(min: 0, max: 100)
    source: scoring_api { path: "score.value" }
    default: 50
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	fact := constructs[0].(*ast.Fact)
	assert.Equal(t, "scoring_api", fact.Source.SourceID)
	assert.Equal(t, "score.value", fact.Source.Path)
	require.NotNil(t, fact.Default)
	assert.Equal(t, int64(50), fact.Default.Int)
}

func TestParseFactMissingType(t *testing.T) {
	src := `fact broken { source: "s" }`
	_, err := Parse(mustLex(t, src), "test.tenor")
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "missing 'type'")
}

func TestParseEntityTransitions(t *testing.T) {
	src := `
entity order {
    states: [pending, shipped, delivered]
    initial: pending
    transitions: [(pending → shipped), (shipped -> delivered)]
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	ent := constructs[0].(*ast.Entity)
	assert.Equal(t, []string{"pending", "shipped", "delivered"}, ent.States)
	assert.Equal(t, "pending", ent.Initial)
	require.Len(t, ent.Transitions, 2)
	assert.Equal(t, "pending", ent.Transitions[0].From)
	assert.Equal(t, "shipped", ent.Transitions[0].To)
	assert.Equal(t, "delivered", ent.Transitions[1].To)
}

func TestParseRuleWithQuantifier(t *testing.T) {
	src := `
rule all_items_in_stock {
    stratum: 1
    when: ∀ item ∈ line_items . item.in_stock = true
    produce: verdict stock_ok { payload: Bool = true }
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	rule := constructs[0].(*ast.Rule)
	assert.Equal(t, int64(1), rule.Stratum)
	assert.Equal(t, "stock_ok", rule.VerdictType)

	forall, ok := rule.When.(*ast.Forall)
	require.True(t, ok)
	assert.Equal(t, "item", forall.Var)
	assert.Equal(t, "line_items", forall.Domain)
	cmp, ok := forall.Body.(*ast.Compare)
	require.True(t, ok)
	assert.Equal(t, "=", cmp.Op)
}

func TestParseRulePrecedence(t *testing.T) {
	// ∧ binds tighter than ∨
	src := `
rule precedence {
    stratum: 0
    when: a = 1 ∨ b = 2 ∧ c = 3
    produce: verdict v { payload: Bool = true }
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	rule := constructs[0].(*ast.Rule)
	or, ok := rule.When.(*ast.Or)
	require.True(t, ok)
	_, leftIsCompare := or.Left.(*ast.Compare)
	assert.True(t, leftIsCompare)
	_, rightIsAnd := or.Right.(*ast.And)
	assert.True(t, rightIsAnd)
}

func TestParseOperationEffects(t *testing.T) {
	src := `
operation ship_order {
    allowed_personas: [warehouse]
    precondition: verdict_present(stock_ok)
    effects: [(order, pending, shipped)]
    outcomes: [shipped, rejected]
    error_contract: [precondition_failed]
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	op := constructs[0].(*ast.Operation)
	assert.Equal(t, []string{"warehouse"}, op.AllowedPersonas)
	require.Len(t, op.Effects, 1)
	assert.Equal(t, "order", op.Effects[0].Entity)
	assert.Equal(t, "", op.Effects[0].Outcome)
	assert.Equal(t, []string{"shipped", "rejected"}, op.Outcomes)
}

func TestParseOperationEffectOutcomeLabel(t *testing.T) {
	src := `
operation review {
    allowed_personas: [agent]
    precondition: verdict_present(ready)
    effects: [(case, open, approved, approve), (case, open, denied, deny)]
    outcomes: [approve, deny]
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	op := constructs[0].(*ast.Operation)
	require.Len(t, op.Effects, 2)
	assert.Equal(t, "approve", op.Effects[0].Outcome)
	assert.Equal(t, "deny", op.Effects[1].Outcome)
}

func TestParseFlowSteps(t *testing.T) {
	src := `
flow fulfillment {
    snapshot: at_entry
    entry: check
    steps: {
        check: BranchStep {
            condition: verdict_present(stock_ok)
            persona: system
            if_true: do_ship
            if_false: Terminal(out_of_stock)
        }
        do_ship: OperationStep {
            op: ship_order
            persona: warehouse
            outcomes: { shipped: Terminal(done) }
            on_failure: Terminate(outcome: failed)
        }
    }
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	flow := constructs[0].(*ast.Flow)
	assert.Equal(t, "check", flow.Entry)
	require.Len(t, flow.Steps, 2)

	branch, ok := flow.Steps["check"].(*ast.BranchStep)
	require.True(t, ok)
	assert.Equal(t, "do_ship", branch.IfTrue.Step)
	assert.True(t, branch.IfFalse.IsTerminal())
	assert.Equal(t, "out_of_stock", branch.IfFalse.Outcome)

	opStep, ok := flow.Steps["do_ship"].(*ast.OperationStep)
	require.True(t, ok)
	require.NotNil(t, opStep.OnFailure)
	assert.Equal(t, ast.HandlerTerminate, opStep.OnFailure.Kind)
	assert.Equal(t, "failed", opStep.OnFailure.Outcome)
}

func TestParseParallelStep(t *testing.T) {
	src := `
flow intake {
    entry: fan_out
    steps: {
        fan_out: ParallelStep {
            branches: [
                Branch {
                    id: left
                    entry: a
                    steps: {
                        a: OperationStep {
                            op: op_a
                            persona: p
                            outcomes: { ok: Terminal(done) }
                            on_failure: Terminate(failed)
                        }
                    }
                }
            ]
            join: JoinPolicy {
                on_all_success: Terminal(done)
                on_any_failure: Terminate(failed)
            }
        }
    }
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	flow := constructs[0].(*ast.Flow)
	par, ok := flow.Steps["fan_out"].(*ast.ParallelStep)
	require.True(t, ok)
	require.Len(t, par.Branches, 1)
	assert.Equal(t, "left", par.Branches[0].ID)
	require.NotNil(t, par.Join.OnAllSuccess)
	assert.True(t, par.Join.OnAllSuccess.IsTerminal())
	require.NotNil(t, par.Join.OnAnyFailure)
}

func TestParseCompensateHandler(t *testing.T) {
	src := `
flow risky {
    entry: act
    steps: {
        act: OperationStep {
            op: charge
            persona: billing
            outcomes: { ok: Terminal(done) }
            on_failure: Compensate(
                steps: [{ op: refund, persona: billing, on_failure: Terminal(stuck) }],
                then: Terminal(rolled_back)
            )
        }
    }
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	flow := constructs[0].(*ast.Flow)
	step := flow.Steps["act"].(*ast.OperationStep)
	h := step.OnFailure
	require.NotNil(t, h)
	assert.Equal(t, ast.HandlerCompensate, h.Kind)
	require.Len(t, h.Steps, 1)
	assert.Equal(t, "refund", h.Steps[0].Op)
	assert.Equal(t, "stuck", h.Steps[0].OnFailure)
	assert.Equal(t, "rolled_back", h.Then)
}

func TestParseEscalateHandler(t *testing.T) {
	src := `
flow risky {
    entry: act
    steps: {
        act: OperationStep {
            op: charge
            persona: billing
            outcomes: { ok: Terminal(done) }
            on_failure: Escalate(to: supervisor, next: act)
        }
    }
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	flow := constructs[0].(*ast.Flow)
	step := flow.Steps["act"].(*ast.OperationStep)
	h := step.OnFailure
	require.NotNil(t, h)
	assert.Equal(t, ast.HandlerEscalate, h.Kind)
	assert.Equal(t, "supervisor", h.ToPersona)
	assert.Equal(t, "act", h.Next)
}

func TestParseSystem(t *testing.T) {
	src := `
system order_platform {
    members: [
        orders: "orders.tenor",
        billing: "billing.tenor"
    ]
    shared_personas: [
        { persona: admin, contracts: [orders, billing] }
    ]
    triggers: [
        { source: orders.fulfillment, on: done, target: billing.invoice, persona: system }
    ]
}
`
	constructs, err := Parse(mustLex(t, src), "test.tenor")
	require.Nil(t, err)
	sys := constructs[0].(*ast.System)
	require.Len(t, sys.Members, 2)
	assert.Equal(t, "orders", sys.Members[0].ID)
	assert.Equal(t, "billing.tenor", sys.Members[1].Path)
	require.Len(t, sys.SharedPersonas, 1)
	assert.Equal(t, "admin", sys.SharedPersonas[0].ID)
	require.Len(t, sys.Triggers, 1)
	assert.Equal(t, "fulfillment", sys.Triggers[0].SourceFlow)
	assert.Equal(t, "billing", sys.Triggers[0].TargetContract)
}

func TestSystemFileRejectsContractConstructs(t *testing.T) {
	src := `
system s { members: [a: "a.tenor"] }
fact f { type: Bool source: "x" }
`
	_, err := Parse(mustLex(t, src), "test.tenor")
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "may not contain contract constructs")
}

func TestParseRecoveringCollectsMultipleErrors(t *testing.T) {
	src := `
fact bad_one {
    source: "s1"
}

fact bad_two {
    type: Int
}
`
	constructs, errs := ParseRecovering(mustLex(t, src), "test.tenor", DefaultMaxErrors)
	assert.Empty(t, constructs)
	require.GreaterOrEqual(t, len(errs), 2)
	assert.Contains(t, errs[0].Message, "missing")
	assert.Contains(t, errs[1].Message, "missing")
}

func TestParseRecoveringKeepsValidConstructs(t *testing.T) {
	src := `
fact valid_fact {
    type: Bool
    source: "input"
}

fact invalid_fact {
    type: Bool
}
`
	constructs, errs := ParseRecovering(mustLex(t, src), "test.tenor", DefaultMaxErrors)
	require.Len(t, constructs, 1)
	assert.NotEmpty(t, errs)
	fact := constructs[0].(*ast.Fact)
	assert.Equal(t, "valid_fact", fact.ID)
}

func TestParseRecoveringHonorsMaxErrors(t *testing.T) {
	src := ""
	for i := 0; i < 20; i++ {
		src += "fact broken { type: Bool }\n"
	}
	_, errs := ParseRecovering(mustLex(t, src), "test.tenor", 5)
	assert.Len(t, errs, 5)
}

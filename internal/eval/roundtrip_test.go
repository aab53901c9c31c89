package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenor/internal/elab"
)

const fulfilmentSource = `
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

func elaborated(t *testing.T) *Contract {
	t.Helper()
	res, d := elab.Elaborate("fulfilment.tenor", elab.NewMemProvider(map[string]string{
		"fulfilment.tenor": fulfilmentSource,
	}))
	require.Nil(t, d)

	data, err := res.EncodeBundle()
	require.NoError(t, err)

	contract, err := LoadContract(data)
	require.NoError(t, err)
	return contract
}

func TestRoundTripContractModel(t *testing.T) {
	contract := elaborated(t)

	assert.Equal(t, "fulfilment", contract.ID)
	require.Contains(t, contract.Facts, "order_total")
	assert.Equal(t, "Money", contract.Facts["order_total"].Type.Base)
	assert.Equal(t, "USD", contract.Facts["order_total"].Type.Currency)
	require.Contains(t, contract.Facts, "item_count")
	require.NotNil(t, contract.Facts["item_count"].Type.Max)
	assert.Equal(t, int64(100), *contract.Facts["item_count"].Type.Max)

	require.Len(t, contract.Rules, 2)
	require.Contains(t, contract.Operations, "ship_order")
	require.Contains(t, contract.Flows, "fulfilment")
	assert.True(t, contract.Personas["warehouse"])
}

func TestRoundTripEvaluate(t *testing.T) {
	contract := elaborated(t)

	result, err := Evaluate(contract, map[string]any{
		"order_total": map[string]any{"amount": "149.99"},
		"item_count":  float64(3),
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Verdicts.Len())
	assert.True(t, result.Verdicts.HasVerdict("items_present"))
	assert.True(t, result.Verdicts.HasVerdict("shippable"))

	shippable, _ := result.Verdicts.GetVerdict("shippable")
	assert.Equal(t, "ready_to_ship", shippable.Provenance.Rule)
	assert.Equal(t, []string{"items_present"}, shippable.Provenance.VerdictsUsed)
}

func TestRoundTripEvaluateEmptyOrder(t *testing.T) {
	contract := elaborated(t)

	result, err := Evaluate(contract, map[string]any{
		"order_total": map[string]any{"amount": "0.00"},
		"item_count":  float64(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Verdicts.Len())
}

func TestRoundTripFlow(t *testing.T) {
	contract := elaborated(t)
	states := InitEntityStates(contract)

	result, err := EvaluateFlow(contract, "fulfilment", map[string]any{
		"order_total": map[string]any{"amount": "149.99"},
		"item_count":  float64(3),
	}, states, nil, "warehouse", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Outcome)
	require.Len(t, result.EntityStateChanges, 1)
	assert.Equal(t, "shipped", result.EntityStateChanges[0].ToState)
}

func TestRoundTripFlowFailureHandler(t *testing.T) {
	contract := elaborated(t)
	states := InitEntityStates(contract)

	// No items: shippable never derives, the precondition fails, and the
	// step's Terminate handler fires.
	result, err := EvaluateFlow(contract, "fulfilment", map[string]any{
		"order_total": map[string]any{"amount": "0.00"},
		"item_count":  float64(0),
	}, states, nil, "warehouse", FlowOptions{})
	require.NoError(t, err)
	assert.Equal(t, "failed", result.Outcome)
	assert.Empty(t, result.EntityStateChanges)
}

func TestRoundTripActionSpace(t *testing.T) {
	contract := elaborated(t)
	states := InitEntityStates(contract)

	space, err := ComputeActionSpace(contract, map[string]any{
		"order_total": map[string]any{"amount": "149.99"},
		"item_count":  float64(3),
	}, states, "warehouse")
	require.NoError(t, err)
	require.Len(t, space.Actions, 1)
	assert.Equal(t, "fulfilment", space.Actions[0].FlowID)
	assert.Equal(t, "ship_order", space.Actions[0].EntryOperationID)
}

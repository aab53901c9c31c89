package interchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBundle = `{
  "id": "order",
  "kind": "Bundle",
  "tenor": "1.0",
  "tenor_version": "1.1.0",
  "constructs": [
    {"id": "warehouse", "kind": "Persona", "tenor": "1.0"},
    {
      "id": "item_count",
      "kind": "Fact",
      "tenor": "1.0",
      "type": {"base": "Int", "min": 0, "max": 100},
      "source": {"field": "item_count", "system": "billing"}
    },
    {
      "id": "order",
      "kind": "Entity",
      "tenor": "1.0",
      "states": ["pending", "shipped"],
      "initial": "pending",
      "transitions": [{"from": "pending", "to": "shipped"}]
    },
    {
      "id": "has_items",
      "kind": "Rule",
      "tenor": "1.0",
      "stratum": 0,
      "body": {
        "when": {"left": {"fact_ref": "item_count"}, "op": ">", "right": {"literal": 0, "type": {"base": "Int", "min": 0, "max": 100}}},
        "produce": {"verdict_type": "items_present", "payload": {"type": {"base": "Bool"}, "value": true}}
      }
    },
    {
      "id": "ship_order",
      "kind": "Operation",
      "tenor": "1.0",
      "allowed_personas": ["warehouse"],
      "precondition": {"verdict_present": "items_present"},
      "effects": [{"entity_id": "order", "from": "pending", "to": "shipped"}],
      "error_contract": ["precondition_failed"]
    },
    {
      "id": "fulfilment",
      "kind": "Flow",
      "tenor": "1.0",
      "snapshot": "at_flow_start",
      "entry": "ship",
      "steps": [{"id": "ship", "kind": "OperationStep", "op": "ship_order", "persona": "warehouse", "outcomes": {"success": {"kind": "Terminal", "outcome": "done"}}}]
    }
  ]
}`

func TestDecodeBundle(t *testing.T) {
	bundle, err := Decode([]byte(sampleBundle))
	require.NoError(t, err)

	assert.Equal(t, "order", bundle.ID)
	assert.Equal(t, "1.0", bundle.Tenor)
	assert.Equal(t, "1.1.0", bundle.TenorVersion)
	require.Len(t, bundle.Constructs, 6)

	kinds := make([]string, len(bundle.Constructs))
	for i, c := range bundle.Constructs {
		kinds[i] = c.ConstructKind()
	}
	assert.Equal(t, []string{"Persona", "Fact", "Entity", "Rule", "Operation", "Flow"}, kinds)
}

func TestDecodeTypedFields(t *testing.T) {
	bundle, err := Decode([]byte(sampleBundle))
	require.NoError(t, err)

	entity := bundle.Constructs[2].(*Entity)
	assert.Equal(t, []string{"pending", "shipped"}, entity.States)
	assert.Equal(t, "pending", entity.Initial)
	assert.Equal(t, []Transition{{From: "pending", To: "shipped"}}, entity.Transitions)

	rule := bundle.Constructs[3].(*Rule)
	assert.Equal(t, int64(0), rule.Stratum)
	require.NotNil(t, rule.When())
	require.NotNil(t, rule.Produce())

	op := bundle.Constructs[4].(*Operation)
	assert.Equal(t, []string{"warehouse"}, op.AllowedPersonas)
	require.Len(t, op.Effects, 1)
	assert.Equal(t, "order", op.Effects[0].EntityID)

	flow := bundle.Constructs[5].(*Flow)
	assert.Equal(t, "ship", flow.Entry)
	require.Len(t, flow.Steps, 1)
}

func TestDecodeRejectsWrongKind(t *testing.T) {
	_, err := Decode([]byte(`{"id": "x", "kind": "Contract", "constructs": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `expected kind "Bundle", got "Contract"`)
}

func TestDecodeUnknownConstructKind(t *testing.T) {
	_, err := Decode([]byte(`{"id": "x", "kind": "Bundle", "constructs": [{"id": "y", "kind": "Widget"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown construct kind "Widget"`)
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode bundle")
}

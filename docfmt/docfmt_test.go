package docfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/types"
)

const yamlDoc = `
name: demo
steps:
  - id: a
    module: flow.test.upper
    params:
      text: hi
`

const jsonDoc = `{"name":"demo","steps":[{"id":"a","module":"flow.test.upper","params":{"text":"hi"}}]}`

func TestParse_AcceptsYAML(t *testing.T) {
	wf, err := Parse([]byte(yamlDoc))
	require.NoError(t, err)
	assert.Equal(t, "demo", wf.Name)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, "flow.test.upper", wf.Steps[0].Module)
}

func TestParse_AcceptsJSONAsYAMLSubset(t *testing.T) {
	wf, err := Parse([]byte(jsonDoc))
	require.NoError(t, err)
	assert.Equal(t, "demo", wf.Name)
}

func TestParse_RejectsMissingName(t *testing.T) {
	_, err := Parse([]byte("steps:\n  - id: a\n    module: flow.test.upper\n"))
	require.Error(t, err)
}

func TestParse_RejectsMixedLinearAndGraphForm(t *testing.T) {
	_, err := Parse([]byte(`
name: demo
steps:
  - id: a
    module: flow.test.upper
nodes:
  - id: b
    module: flow.test.upper
`))
	require.Error(t, err)
}

func TestSerialize_RoundTripsLinearWorkflow(t *testing.T) {
	wf := &types.Workflow{
		Name:  "demo",
		Steps: []types.Step{{Node: types.Node{ID: "a", Module: "flow.test.upper", Params: map[string]interface{}{"text": "hi"}}}},
	}
	data, err := Serialize(wf)
	require.NoError(t, err)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)
	assert.Equal(t, wf.Steps[0].ID, got.Steps[0].ID)
}

func TestRoundtrip_NormalizesToGraphForm(t *testing.T) {
	wf := &types.Workflow{
		Name:  "demo",
		Steps: []types.Step{{Node: types.Node{ID: "a", Module: "flow.test.upper"}}},
	}
	got, err := Roundtrip(wf)
	require.NoError(t, err)
	assert.Empty(t, got.Steps, "roundtrip normalizes to graph form")
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "a", got.Nodes[0].ID)
}

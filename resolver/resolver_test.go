package resolver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseNamespaces() Namespaces {
	return Namespaces{
		Params: map[string]interface{}{
			"name":  "alice",
			"count": float64(3),
			"nested": map[string]interface{}{
				"city": "NYC",
			},
			"list": []interface{}{"a", "b", "c"},
			"weird": map[string]interface{}{
				"a.b": "dotted-key",
			},
		},
		Env: map[string]string{"HOME": "/home/alice"},
		Builtins: map[string]interface{}{
			"timestamp": float64(1700000000),
			"workflow":  map[string]interface{}{"id": "wf-1", "name": "demo"},
		},
		Steps: map[string]interface{}{
			"step1": map[string]interface{}{
				"result": map[string]interface{}{"ok": true},
			},
		},
	}
}

func TestResolveString_WholeExprPreservesType(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{params.count}}", ns)
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)
}

func TestResolveString_Interpolation(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("hello {{params.name}}, count={{params.count}}", ns)
	require.NoError(t, err)
	assert.Equal(t, "hello alice, count=3", v)
}

func TestResolveString_NestedPath(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{params.nested.city}}", ns)
	require.NoError(t, err)
	assert.Equal(t, "NYC", v)
}

func TestResolveString_ArrayIndex(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{params.list[1]}}", ns)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestResolveString_QuotedKeyIndex(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString(`{{params.weird["a.b"]}}`, ns)
	require.NoError(t, err)
	assert.Equal(t, "dotted-key", v)
}

func TestResolveString_EnvAllowlisted(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{env.HOME}}", ns)
	require.NoError(t, err)
	assert.Equal(t, "/home/alice", v)
}

func TestResolveString_EnvNotAllowlistedIsMissing(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{env.SECRET_TOKEN}}", ns)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveString_BuiltinWorkflow(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{workflow.id}}", ns)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", v)
}

func TestResolveString_StepOutput(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{step1.result.ok}}", ns)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestResolveString_MissingIsNull(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{params.does_not_exist}}", ns)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveString_SecretsAndPrivateAreUnreachable(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("{{secrets.api_key}}", ns)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = ResolveString("{{private.internal_flag}}", ns)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolveString_Default(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString(`{{params.does_not_exist | default("fallback")}}`, ns)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
}

func TestResolveString_DefaultNotAppliedWhenPresent(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString(`{{params.name | default("fallback")}}`, ns)
	require.NoError(t, err)
	assert.Equal(t, "alice", v)
}

func TestResolveString_NoExpressionIsUnchanged(t *testing.T) {
	ns := baseNamespaces()
	v, err := ResolveString("plain text", ns)
	require.NoError(t, err)
	assert.Equal(t, "plain text", v)
}

func TestResolveValue_RecursesThroughStructures(t *testing.T) {
	ns := baseNamespaces()
	in := map[string]interface{}{
		"greeting": "hi {{params.name}}",
		"items":    []interface{}{"{{params.count}}", "static"},
	}
	out, err := ResolveValue(in, ns)
	require.NoError(t, err)
	m := out.(map[string]interface{})
	assert.Equal(t, "hi alice", m["greeting"])
	items := m["items"].([]interface{})
	assert.Equal(t, float64(3), items[0])
	assert.Equal(t, "static", items[1])
}

func TestResolveString_RawJSONStepOutput(t *testing.T) {
	raw, err := json.Marshal(map[string]interface{}{"body": map[string]interface{}{"status": float64(200)}})
	require.NoError(t, err)
	ns := baseNamespaces()
	ns.Steps["http1"] = json.RawMessage(raw)

	v, err := ResolveString("{{http1.body.status}}", ns)
	require.NoError(t, err)
	assert.Equal(t, float64(200), v)
}

func TestParsePath_MalformedIndexIsError(t *testing.T) {
	_, err := parsePath("params.list[")
	assert.Error(t, err)
}

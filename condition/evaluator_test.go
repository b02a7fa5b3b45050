package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/resolver"
)

func testNamespaces() resolver.Namespaces {
	return resolver.Namespaces{
		Params: map[string]interface{}{"count": float64(5)},
		Env:    map[string]string{},
		Builtins: map[string]interface{}{
			"workflow": map[string]interface{}{"id": "wf-1", "name": "demo"},
		},
		Steps: map[string]interface{}{
			"step1": map[string]interface{}{"ok": true},
		},
	}
}

func TestEvalBool_ComparesParam(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.EvalBool("params.count > 3", testNamespaces())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalBool_ReferencesStepOutput(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.EvalBool("steps.step1.ok", testNamespaces())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalBool_NonBooleanResultIsError(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvalBool("params.count", testNamespaces())
	assert.Error(t, err)
}

func TestEvalBool_CompileErrorIsReported(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvalBool("params.count >>> 3", testNamespaces())
	assert.Error(t, err)
}

func TestEvalBool_CachesCompiledProgram(t *testing.T) {
	e := NewEvaluator()
	ns := testNamespaces()
	_, err := e.EvalBool("params.count > 1", ns)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)

	_, err = e.EvalBool("params.count > 1", ns)
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

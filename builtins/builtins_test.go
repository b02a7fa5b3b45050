package builtins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/condition"
	"github.com/lyzr/flowengine/execctx"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/types"
)

func newCtx(params map[string]interface{}) *execctx.Context {
	return execctx.New("wf1", "wf-name", "exec1", "", params, nil, nil, nil)
}

func ports(t *testing.T, r types.StepResult) []string {
	t.Helper()
	raw, ok := r.Meta[types.MetaSelectedPorts]
	require.True(t, ok, "expected selected-ports meta key")
	ps, ok := raw.([]string)
	require.True(t, ok)
	return ps
}

func TestBranchHandlerTrue(t *testing.T) {
	eval := condition.NewEvaluator()
	h := branchHandler{eval: eval}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"condition": "5 > 0"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"true"}, ports(t, res))
}

func TestBranchHandlerFalse(t *testing.T) {
	eval := condition.NewEvaluator()
	h := branchHandler{eval: eval}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"condition": "-1 > 0"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"false"}, ports(t, res))
}

func TestBranchHandlerAcceptsBoolLiteral(t *testing.T) {
	eval := condition.NewEvaluator()
	h := branchHandler{eval: eval}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"condition": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"true"}, ports(t, res))
}

func TestSwitchHandlerMatchesCase(t *testing.T) {
	eval := condition.NewEvaluator()
	h := switchHandler{eval: eval}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{
		"expression": "'b'",
		"cases": []interface{}{
			map[string]interface{}{"value": "a"},
			map[string]interface{}{"value": "b"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"case:b"}, ports(t, res))
}

func TestSwitchHandlerDefault(t *testing.T) {
	eval := condition.NewEvaluator()
	h := switchHandler{eval: eval}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{
		"expression": "'z'",
		"cases": []interface{}{
			map[string]interface{}{"value": "a"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, ports(t, res))
}

func TestForkHandlerExplicitPorts(t *testing.T) {
	h := forkHandler{}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"ports": []interface{}{"x", "y", "z"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, ports(t, res))
}

func TestForkHandlerDefaultCount(t *testing.T) {
	h := forkHandler{}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fork_0", "fork_1"}, ports(t, res))
}

func TestLoopHandlerIteratesThenDone(t *testing.T) {
	eval := condition.NewEvaluator()
	h := loopHandler{eval: eval}
	ctx := newCtx(nil)
	ctx.SetPrivate(currentNodeKey, "loopnode")

	params := map[string]interface{}{"times": 2}

	res1, err := h.Invoke(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"iterate"}, ports(t, res1))

	res2, err := h.Invoke(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"iterate"}, ports(t, res2))

	res3, err := h.Invoke(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ports(t, res3))
}

func TestLoopHandlerZeroTimesDoneImmediately(t *testing.T) {
	eval := condition.NewEvaluator()
	h := loopHandler{eval: eval}
	ctx := newCtx(nil)
	ctx.SetPrivate(currentNodeKey, "loopnode2")

	res, err := h.Invoke(ctx, map[string]interface{}{"times": 0})
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ports(t, res))
}

func TestForeachControlHandlerEmptyEmitsDoneOnly(t *testing.T) {
	h := foreachControlHandler{}
	ctx := newCtx(nil)
	ctx.SetPrivate(currentNodeKey, "feach")

	res, err := h.Invoke(ctx, map[string]interface{}{"items": []interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ports(t, res))
}

func TestForeachControlHandlerIteratesAllThenDone(t *testing.T) {
	h := foreachControlHandler{}
	ctx := newCtx(nil)
	ctx.SetPrivate(currentNodeKey, "feach2")

	items := map[string]interface{}{"items": []interface{}{"a", "b"}}

	res1, err := h.Invoke(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"iterate"}, ports(t, res1))
	assert.Equal(t, "a", res1.Data.(map[string]interface{})["item"])

	res2, err := h.Invoke(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"iterate"}, ports(t, res2))
	assert.Equal(t, "b", res2.Data.(map[string]interface{})["item"])

	res3, err := h.Invoke(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ports(t, res3))
}

func TestGotoHandlerRequiresTarget(t *testing.T) {
	h := gotoHandler{}
	ctx := newCtx(nil)

	_, err := h.Invoke(ctx, map[string]interface{}{})
	require.Error(t, err)

	res, err := h.Invoke(ctx, map[string]interface{}{"target": "n2"})
	require.NoError(t, err)
	assert.Equal(t, "n2", res.Data.(map[string]interface{})["target"])
}

func TestTriggerHandlerManualDefault(t *testing.T) {
	h := triggerHandler{}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"payload": map[string]interface{}{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, "manual", res.Data.(map[string]interface{})["type"])
}

func TestTriggerHandlerScheduleComputesNextFire(t *testing.T) {
	h := triggerHandler{}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"type": "schedule", "cron": "*/5 * * * *"})
	require.NoError(t, err)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "schedule", data["type"])
	assert.Contains(t, data, "next_fire")
}

func TestTriggerHandlerInvalidCron(t *testing.T) {
	h := triggerHandler{}
	ctx := newCtx(nil)

	_, err := h.Invoke(ctx, map[string]interface{}{"type": "schedule", "cron": "not a cron"})
	require.Error(t, err)
}

func TestSubflowHandlerRunsAndSurfacesOutput(t *testing.T) {
	ran := false
	runner := func(ref string, inputs map[string]interface{}) (types.ExecutionResult, error) {
		ran = true
		assert.Equal(t, "child", ref)
		return types.ExecutionResult{Status: types.StatusCompleted, Output: map[string]interface{}{"y": 1}}, nil
	}
	h := subflowHandler{run: runner}
	ctx := newCtx(nil)

	res, err := h.Invoke(ctx, map[string]interface{}{"workflow": "child"})
	require.NoError(t, err)
	require.True(t, ran)
	assert.True(t, res.OK)
	assert.Equal(t, map[string]interface{}{"y": 1}, res.Data)
}

func TestSubflowHandlerMissingWorkflow(t *testing.T) {
	h := subflowHandler{run: func(string, map[string]interface{}) (types.ExecutionResult, error) {
		return types.ExecutionResult{}, nil
	}}
	ctx := newCtx(nil)

	_, err := h.Invoke(ctx, map[string]interface{}{})
	require.Error(t, err)
}

func TestSubflowHandlerNoRunnerConfigured(t *testing.T) {
	h := subflowHandler{}
	ctx := newCtx(nil)

	_, err := h.Invoke(ctx, map[string]interface{}{"workflow": "child"})
	require.Error(t, err)
}

func TestJoinHandlerReadsStashedInputs(t *testing.T) {
	h := joinHandler{}
	ctx := newCtx(nil)
	ctx.SetPrivate(currentNodeKey, "joinnode")
	ctx.SetPrivate("join:joinnode", []interface{}{"a", "b"})

	res, err := h.Invoke(ctx, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, res.Data)
}

func TestRegisterInstallsEveryBuiltin(t *testing.T) {
	reg := registry.New(16)
	eval := condition.NewEvaluator()
	require.NoError(t, Register(reg, eval, nil, nil))

	for _, id := range []string{
		"flow.start", "flow.end", "flow.branch", "flow.switch", "flow.fork",
		"flow.merge", "flow.join", "flow.loop", "flow.foreach", "flow.goto",
		"flow.trigger", "flow.invoke", "flow.subflow", "flow.breakpoint",
		"flow.error_workflow_trigger", "flow.error_handle",
	} {
		_, ok := reg.Get(id)
		assert.True(t, ok, "module %s should be registered", id)
	}

	start, ok := reg.Get("flow.start")
	require.True(t, ok)
	require.NotNil(t, start.CanBeStart)
	assert.True(t, *start.CanBeStart)
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := registry.New(16)
	eval := condition.NewEvaluator()
	require.NoError(t, Register(reg, eval, nil, nil))
	require.NoError(t, Register(reg, eval, nil, nil))

	_, ok := reg.Get("flow.branch")
	assert.True(t, ok)
}

package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

func TestCompile_LinearFormMaterializesStraightChain(t *testing.T) {
	wf := &types.Workflow{
		Name: "linear",
		Steps: []types.Step{
			{Node: types.Node{ID: "a", Module: "flow.start"}},
			{Node: types.Node{ID: "b", Module: "test.echo"}},
			{Node: types.Node{ID: "c", Module: "flow.end"}},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	require.NoError(t, Validate(g))
	assert.Equal(t, []string{"a"}, g.StartNodes)
	assert.Len(t, g.Edges, 2)
}

func TestValidate_NoStartNode(t *testing.T) {
	wf := &types.Workflow{
		Name: "cyclic",
		Nodes: []types.Node{
			{ID: "a", Module: "test.a"},
			{ID: "b", Module: "flow.loop"},
		},
		Edges: []types.Edge{
			{SourceNode: "a", TargetNode: "b"},
			{SourceNode: "b", TargetNode: "a"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	err = Validate(g)
	require.Error(t, err)
	assert.Equal(t, errs.NoStartNode, errs.CodeOf(err))
}

func TestValidate_MultipleStartNodes(t *testing.T) {
	wf := &types.Workflow{
		Name: "fanin",
		Nodes: []types.Node{
			{ID: "a", Module: "test.a"},
			{ID: "b", Module: "test.b"},
			{ID: "c", Module: "test.c"},
		},
		Edges: []types.Edge{
			{SourceNode: "a", TargetNode: "c"},
			{SourceNode: "b", TargetNode: "c"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	err = Validate(g)
	require.Error(t, err)
	assert.Equal(t, errs.MultipleStartNodes, errs.CodeOf(err))
}

func TestValidate_CycleDetectedWithoutLoopModule(t *testing.T) {
	wf := &types.Workflow{
		Name: "bad_cycle",
		Nodes: []types.Node{
			{ID: "start", Module: "flow.start"},
			{ID: "a", Module: "test.a"},
			{ID: "b", Module: "test.b"},
		},
		Edges: []types.Edge{
			{SourceNode: "start", TargetNode: "a"},
			{SourceNode: "a", TargetNode: "b"},
			{SourceNode: "b", TargetNode: "a"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	err = Validate(g)
	require.Error(t, err)
	assert.Equal(t, errs.CycleDetected, errs.CodeOf(err))
}

func TestValidate_LoopModuleCycleIsAllowed(t *testing.T) {
	wf := &types.Workflow{
		Name: "intentional_loop",
		Nodes: []types.Node{
			{ID: "start", Module: "flow.start"},
			{ID: "loop1", Module: "flow.loop"},
			{ID: "body", Module: "test.body"},
		},
		Edges: []types.Edge{
			{SourceNode: "start", TargetNode: "loop1"},
			{SourceNode: "loop1", TargetNode: "body", SourcePort: "loop_back"},
			{SourceNode: "body", TargetNode: "loop1"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	assert.NoError(t, Validate(g))
}

func TestValidate_OrphanNode(t *testing.T) {
	wf := &types.Workflow{
		Name: "orphan",
		Nodes: []types.Node{
			{ID: "start", Module: "flow.start"},
			{ID: "a", Module: "test.a"},
			{ID: "orphan", Module: "test.orphan"},
		},
		Edges: []types.Edge{
			{SourceNode: "start", TargetNode: "a"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	err = Validate(g)
	require.Error(t, err)
	assert.Equal(t, errs.OrphanNode, errs.CodeOf(err))
}

func TestValidate_FutureReferenceRejected(t *testing.T) {
	wf := &types.Workflow{
		Name: "future_ref",
		Nodes: []types.Node{
			{ID: "start", Module: "flow.start", Params: map[string]interface{}{
				"x": "{{later.value}}",
			}},
			{ID: "later", Module: "test.later"},
		},
		Edges: []types.Edge{
			{SourceNode: "start", TargetNode: "later"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	err = Validate(g)
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.CodeOf(err))
}

func TestValidate_PastReferenceAllowed(t *testing.T) {
	wf := &types.Workflow{
		Name: "past_ref",
		Nodes: []types.Node{
			{ID: "start", Module: "flow.start"},
			{ID: "later", Module: "test.later", Params: map[string]interface{}{
				"x": "{{start.value}}",
			}},
		},
		Edges: []types.Edge{
			{SourceNode: "start", TargetNode: "later"},
		},
	}
	g, err := Compile(wf)
	require.NoError(t, err)
	assert.NoError(t, Validate(g))
}

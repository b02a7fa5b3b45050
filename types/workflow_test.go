package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiresName(t *testing.T) {
	wf := &Workflow{Steps: []Step{{Node: Node{ID: "a", Module: "flow.test"}}}}
	require.Error(t, wf.Validate())
}

func TestValidate_RequiresStepsOrGraph(t *testing.T) {
	wf := &Workflow{Name: "demo"}
	require.Error(t, wf.Validate())
}

func TestValidate_RejectsMixingLinearAndGraphForm(t *testing.T) {
	wf := &Workflow{
		Name:  "demo",
		Steps: []Step{{Node: Node{ID: "a", Module: "flow.test"}}},
		Nodes: []Node{{ID: "b", Module: "flow.test"}},
	}
	require.Error(t, wf.Validate())
}

func TestValidate_RejectsReservedNodeID(t *testing.T) {
	wf := &Workflow{Name: "demo", Steps: []Step{{Node: Node{ID: "params", Module: "flow.test"}}}}
	require.Error(t, wf.Validate())
}

func TestValidate_RejectsDuplicateNodeID(t *testing.T) {
	wf := &Workflow{Name: "demo", Nodes: []Node{
		{ID: "a", Module: "flow.test"},
		{ID: "a", Module: "flow.test"},
	}}
	require.Error(t, wf.Validate())
}

func TestValidate_AcceptsWellFormedLinearWorkflow(t *testing.T) {
	wf := &Workflow{Name: "demo", Steps: []Step{{Node: Node{ID: "a", Module: "flow.test"}}}}
	assert.NoError(t, wf.Validate())
}

func TestIsLinearForm(t *testing.T) {
	linear := &Workflow{Steps: []Step{{Node: Node{ID: "a"}}}}
	graph := &Workflow{Nodes: []Node{{ID: "a"}}}
	assert.True(t, linear.IsLinearForm())
	assert.False(t, graph.IsLinearForm())
}

func TestToGraphForm_MaterializesLinearStepsAsAChainOfEdges(t *testing.T) {
	wf := &Workflow{
		Name: "demo",
		Steps: []Step{
			{Node: Node{ID: "a", Module: "flow.test.upper"}},
			{Node: Node{ID: "b", Module: "flow.test.reverse"}},
			{Node: Node{ID: "c", Module: "flow.test.reverse"}},
		},
	}
	graph := wf.ToGraphForm()

	require.Len(t, graph.Nodes, 3)
	require.Len(t, graph.Edges, 2)
	assert.Equal(t, Edge{SourceNode: "a", TargetNode: "b"}, graph.Edges[0])
	assert.Equal(t, Edge{SourceNode: "b", TargetNode: "c"}, graph.Edges[1])
	assert.Empty(t, graph.Steps)
}

func TestToGraphForm_ReturnsSameWorkflowWhenAlreadyGraphForm(t *testing.T) {
	wf := &Workflow{Name: "demo", Nodes: []Node{{ID: "a"}}, Edges: []Edge{}}
	assert.Same(t, wf, wf.ToGraphForm())
}

func TestCondition_PrefersWhenOverIf(t *testing.T) {
	n := &Node{When: "{{x}} > 0", If: "ignored"}
	assert.Equal(t, "{{x}} > 0", n.Condition())
}

func TestCondition_FallsBackToIfWhenNoWhen(t *testing.T) {
	n := &Node{If: "{{x}} > 0"}
	assert.Equal(t, "{{x}} > 0", n.Condition())
}

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowengine/types"
)

func TestNextNodes_DefaultPort(t *testing.T) {
	r := New([]types.Edge{
		{SourceNode: "a", TargetNode: "b"},
		{SourceNode: "a", TargetNode: "c", SourcePort: "out"},
	})
	next := r.NextNodes("a", []string{DefaultPort})
	assert.ElementsMatch(t, []string{"b", "c"}, next)
}

func TestNextNodes_BranchSelectsOnlyMatchingPort(t *testing.T) {
	r := New([]types.Edge{
		{SourceNode: "branch1", TargetNode: "yesNode", SourcePort: "true"},
		{SourceNode: "branch1", TargetNode: "noNode", SourcePort: "false"},
	})
	next := r.NextNodes("branch1", []string{"true"})
	assert.Equal(t, []string{"yesNode"}, next)
}

func TestNextNodes_ForkFiresMultiplePorts(t *testing.T) {
	r := New([]types.Edge{
		{SourceNode: "fork1", TargetNode: "a", SourcePort: "branch_a"},
		{SourceNode: "fork1", TargetNode: "b", SourcePort: "branch_b"},
		{SourceNode: "fork1", TargetNode: "c", SourcePort: "branch_c"},
	})
	next := r.NextNodes("fork1", []string{"branch_a", "branch_b"})
	assert.ElementsMatch(t, []string{"a", "b"}, next)
}

func TestJoin_AllRequiresEveryPredecessor(t *testing.T) {
	r := New(nil)
	r.RegisterJoin("merge1", JoinAll, 0, 2)

	ready, _, _ := r.Arrive("merge1", "a")
	assert.False(t, ready)

	ready, _, contributing := r.Arrive("merge1", "b")
	assert.True(t, ready)
	assert.ElementsMatch(t, []string{"a", "b"}, contributing)
}

func TestJoin_AnyFiresOnFirstArrival(t *testing.T) {
	r := New(nil)
	r.RegisterJoin("merge1", JoinAny, 0, 3)

	ready, winner, _ := r.Arrive("merge1", "a")
	assert.True(t, ready)
	assert.Equal(t, "a", winner)

	ready, _, _ = r.Arrive("merge1", "b")
	assert.False(t, ready, "join already fired, later arrivals are no-ops")
}

func TestJoin_RaceFirstCallerWinsDeterministically(t *testing.T) {
	r := New(nil)
	r.RegisterJoin("merge1", JoinRace, 0, 3)

	ready, winner, _ := r.Arrive("merge1", "first")
	require.True(t, ready)
	assert.Equal(t, "first", winner)
}

func TestJoin_CountFiresAtK(t *testing.T) {
	r := New(nil)
	r.RegisterJoin("merge1", JoinCount, 2, 5)

	ready, _, _ := r.Arrive("merge1", "a")
	assert.False(t, ready)
	ready, _, contributing := r.Arrive("merge1", "b")
	assert.True(t, ready)
	assert.Len(t, contributing, 2)
}

func TestArrive_UnregisteredNodeFiresImmediately(t *testing.T) {
	r := New(nil)
	ready, winner, _ := r.Arrive("plain_node", "upstream")
	assert.True(t, ready)
	assert.Equal(t, "upstream", winner)
}

func TestPredecessorsAndSuccessors(t *testing.T) {
	r := New([]types.Edge{{SourceNode: "a", TargetNode: "b"}})
	assert.Len(t, r.Successors("a"), 1)
	assert.Len(t, r.Predecessors("b"), 1)
	assert.Empty(t, r.Predecessors("a"))
}

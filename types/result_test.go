package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineEvent_StampsFieldsAndLeavesSeqForTheBusToAssign(t *testing.T) {
	nodeID := "a"
	ev := NewEngineEvent(EventNodeStart, "exec-1", &nodeID, map[string]interface{}{"k": "v"})

	assert.Equal(t, EventNodeStart, ev.Type)
	assert.Equal(t, "exec-1", ev.ExecutionID)
	require.NotNil(t, ev.NodeID)
	assert.Equal(t, "a", *ev.NodeID)
	assert.Greater(t, ev.TS, 0.0)
	assert.Equal(t, uint64(0), ev.Seq)
}

func TestNewEngineEvent_AllowsNilNodeIDForEngineLevelEvents(t *testing.T) {
	ev := NewEngineEvent(EventEngineStart, "exec-1", nil, nil)
	assert.Nil(t, ev.NodeID)
}

package types

import "time"

// StepResult is the engine's normalized outcome contract for a step
// invocation, independent of whatever shape the module returned internally.
type StepResult struct {
	OK        bool                   `json:"ok"`
	Data      interface{}            `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorCode string                 `json:"error_code,omitempty"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// Meta key constants used consistently across executor/invoker/plugin so
// downstream consumers don't have to guess field names.
const (
	MetaModuleID      = "module_id"
	MetaRequestID     = "request_id"
	MetaDurationMS    = "duration_ms"
	MetaAttempts      = "attempts"
	MetaTraceback     = "traceback"
	MetaSelectedPorts = "selected_ports"
)

// EventKind enumerates the streaming EngineEvent types.
type EventKind string

const (
	EventEngineStart   EventKind = "engine_start"
	EventNodeStart     EventKind = "node_start"
	EventNodeEnd       EventKind = "node_end"
	EventLog           EventKind = "log"
	EventPartialOutput EventKind = "partial_output"
	EventError         EventKind = "error"
	EventEngineEnd     EventKind = "engine_end"
)

// EngineEvent is one entry of the execute_stream/trace sequence.
type EngineEvent struct {
	Type        EventKind              `json:"type"`
	TS          float64                `json:"ts"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      *string                `json:"node_id,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Seq         uint64                 `json:"seq"`
}

// NewEngineEvent stamps ts from now and returns an event ready to append.
func NewEngineEvent(kind EventKind, executionID string, nodeID *string, payload map[string]interface{}) EngineEvent {
	return EngineEvent{
		Type:        kind,
		TS:          float64(time.Now().UnixNano()) / 1e9,
		ExecutionID: executionID,
		NodeID:      nodeID,
		Payload:     payload,
	}
}

// EvidenceRecord brackets one step invocation with its before/after context
// snapshots.
type EvidenceRecord struct {
	NodeID         string                 `json:"node_id"`
	IterationIndex *int                   `json:"iteration_index,omitempty"`
	ContextBefore  map[string]interface{} `json:"context_before"`
	ContextAfter   map[string]interface{} `json:"context_after"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        time.Time              `json:"ended_at"`
}

// ExecutionStatus is the terminal/non-terminal state of an Execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// ExecutionResult is returned by a synchronous Engine.Execute call.
type ExecutionResult struct {
	ExecutionID string                     `json:"execution_id"`
	Status      ExecutionStatus            `json:"status"`
	Output      map[string]interface{}     `json:"output,omitempty"`
	StepOutputs map[string]StepResult      `json:"step_outputs"`
	Error       *StepResult                `json:"error,omitempty"`
}

// Package store implements §6.5 persisted state: Workflow documents,
// Execution header rows, Trace events, and Evidence snapshots, behind a
// single Store interface so package engine never needs to know which
// backend is wired in. Three implementations are provided: an in-memory
// store for tests and single-process demos, a file-based store using
// gofrs/flock so two engine processes never interleave writes to the
// same execution's trace file, and a Postgres-backed store using
// jackc/pgx/v5 for durable multi-process deployments.
//
// Grounded on common/db + supervisor/timeout.go's raw database/sql
// queries against a `run` table in the teacher repo, generalized into a
// proper Store interface with pgx's connection pool instead of
// database/sql directly.
package store

import (
	"context"

	"github.com/lyzr/flowengine/types"
)

// Store is the persistence boundary for workflow/execution/trace state.
type Store interface {
	SaveWorkflow(ctx context.Context, wf *types.Workflow) error
	LoadWorkflow(ctx context.Context, id string) (*types.Workflow, error)

	SaveExecution(ctx context.Context, exec ExecutionRecord) error
	LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error)

	AppendTraceEvents(ctx context.Context, executionID string, events []types.EngineEvent) error
	LoadTrace(ctx context.Context, executionID string) ([]types.EngineEvent, error)

	AppendEvidence(ctx context.Context, executionID string, records []types.EvidenceRecord) error
	LoadEvidence(ctx context.Context, executionID string) ([]types.EvidenceRecord, error)
}

// ExecutionRecord is the persisted header row for one Execution.
type ExecutionRecord struct {
	ExecutionID       string
	WorkflowID        string
	ParentExecutionID string
	Status            types.ExecutionStatus
	Output            map[string]interface{}
}

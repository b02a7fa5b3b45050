package engine

import (
	"context"
	"fmt"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// Cancel stops a running execution. It is idempotent: cancelling an
// already-cancelled or already-terminal execution is a no-op, not an
// error, since a caller racing a completing execution should not have to
// distinguish "already done" from "cancel succeeded".
func (e *Engine) Cancel(executionID string) error {
	e.mu.Lock()
	st, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status == types.StatusCompleted || st.status == types.StatusFailed || st.status == types.StatusCancelled {
		return nil
	}
	st.status = types.StatusCancelled
	st.cancel()
	return nil
}

// Pause suspends the scheduler loop of a running execution before its next
// ready-node wave; any node invocations already in flight still run to
// completion. Idempotent: pausing an already-paused execution is a no-op.
func (e *Engine) Pause(executionID string) error {
	e.mu.Lock()
	st, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("pause: unknown execution %q", executionID))
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != types.StatusRunning {
		return nil
	}
	st.paused = true
	st.status = types.StatusPaused
	return nil
}

// Resume unpauses a paused execution's scheduler loop, or, if nodeID/
// resolution are given, also resolves a pending flow.breakpoint wait for
// that node. Idempotent: resuming a non-paused execution is a no-op.
func (e *Engine) Resume(executionID string, nodeID string, resolution map[string]interface{}) error {
	e.mu.Lock()
	st, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, fmt.Sprintf("resume: unknown execution %q", executionID))
	}

	st.mu.Lock()
	if nodeID != "" {
		if ch, exists := st.breakpoint[nodeID]; exists {
			select {
			case ch <- resolution:
			default:
			}
			delete(st.breakpoint, nodeID)
		}
	}
	wasPaused := st.paused
	st.paused = false
	if st.status == types.StatusPaused {
		st.status = types.StatusRunning
	}
	st.mu.Unlock()

	_ = wasPaused
	return nil
}

// GetExecutionTrace returns the full EngineEvent sequence recorded for an
// execution: the in-memory bus if it's still running, or the persisted
// store record once it has completed.
func (e *Engine) GetExecutionTrace(ctx context.Context, executionID string) ([]types.EngineEvent, error) {
	e.mu.Lock()
	st, ok := e.executions[executionID]
	e.mu.Unlock()
	if ok && st.bus != nil {
		return st.bus.Events(), nil
	}
	if e.store == nil {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("execution %q not found", executionID))
	}
	return e.store.LoadTrace(ctx, executionID)
}

// ReplayFrom produces a brand-new execution — with ParentExecutionID set to
// the original, never an in-place trace rewrite, so the original
// execution's history stays intact — that re-runs only nodeID and whatever
// is downstream-reachable from it. step_outputs for every node that
// completed before nodeID (its evidence record's context_before) are
// carried over as already-recorded instead of erased, so the scheduler's
// frontier starts at nodeID itself and those ancestors are never
// re-invoked (iterationIndex selects which evidence entry when the node ran
// as part of a foreach).
func (e *Engine) ReplayFrom(ctx context.Context, executionID, nodeID string, iterationIndex *int) (*types.ExecutionResult, error) {
	if e.store == nil {
		return nil, errs.New(errs.Unsupported, "replay requires a configured store")
	}
	record, err := e.store.LoadExecution(ctx, executionID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("replay: execution %q not found", executionID), err)
	}
	wf, err := e.store.LoadWorkflow(ctx, record.WorkflowID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, fmt.Sprintf("replay: workflow %q not found", record.WorkflowID), err)
	}
	evidence, err := e.store.LoadEvidence(ctx, executionID)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "replay: failed to load evidence", err)
	}

	rec, ok := findEvidence(evidence, nodeID, iterationIndex)
	if !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("replay: no evidence recorded for node %q", nodeID))
	}

	inputs := reconstructInputs(rec)
	seeds := reconstructSeedOutputs(rec)
	return e.Execute(ctx, wf, inputs, ExecuteOptions{
		ParentExecutionID: executionID,
		ResumeFrom:        nodeID,
		SeedOutputs:       seeds,
	})
}

func findEvidence(evidence []types.EvidenceRecord, nodeID string, iterationIndex *int) (types.EvidenceRecord, bool) {
	for i := len(evidence) - 1; i >= 0; i-- {
		rec := evidence[i]
		if rec.NodeID != nodeID {
			continue
		}
		if iterationIndex == nil {
			return rec, true
		}
		if rec.IterationIndex != nil && *rec.IterationIndex == *iterationIndex {
			return rec, true
		}
	}
	return types.EvidenceRecord{}, false
}

// reconstructInputs rebuilds a replay's starting params from an evidence
// record's context_before snapshot: the params layer as it stood right
// before the replayed node first ran.
func reconstructInputs(rec types.EvidenceRecord) map[string]interface{} {
	params, _ := rec.ContextBefore["params"].(map[string]interface{})
	if params == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

// reconstructSeedOutputs carries forward every ancestor's already-recorded
// output from an evidence record's context_before snapshot, so a replay
// resumed at that record's node doesn't need to re-derive or re-run them.
func reconstructSeedOutputs(rec types.EvidenceRecord) map[string]interface{} {
	steps, _ := rec.ContextBefore["steps"].(map[string]interface{})
	out := make(map[string]interface{}, len(steps))
	for k, v := range steps {
		out[k] = v
	}
	return out
}

package store

import (
	"context"
	"sync"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// MemoryStore is an in-process Store implementation: the default backend
// for tests and the cmd/flowenginedemo sample binary, and the fallback
// when config.StoreConfig.Backend is "memory".
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*types.Workflow
	executions map[string]ExecutionRecord
	traces     map[string][]types.EngineEvent
	evidence   map[string][]types.EvidenceRecord
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  map[string]*types.Workflow{},
		executions: map[string]ExecutionRecord{},
		traces:     map[string][]types.EngineEvent{},
		evidence:   map[string][]types.EvidenceRecord{},
	}
}

func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	return nil
}

func (s *MemoryStore) LoadWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "workflow not found: "+id)
	}
	return wf, nil
}

func (s *MemoryStore) SaveExecution(ctx context.Context, exec ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ExecutionID] = exec
	return nil
}

func (s *MemoryStore) LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[executionID]
	if !ok {
		return ExecutionRecord{}, errs.New(errs.NotFound, "execution not found: "+executionID)
	}
	return rec, nil
}

func (s *MemoryStore) AppendTraceEvents(ctx context.Context, executionID string, events []types.EngineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces[executionID] = append(s.traces[executionID], events...)
	return nil
}

func (s *MemoryStore) LoadTrace(ctx context.Context, executionID string) ([]types.EngineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.EngineEvent, len(s.traces[executionID]))
	copy(out, s.traces[executionID])
	return out, nil
}

func (s *MemoryStore) AppendEvidence(ctx context.Context, executionID string, records []types.EvidenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evidence[executionID] = append(s.evidence[executionID], records...)
	return nil
}

func (s *MemoryStore) LoadEvidence(ctx context.Context, executionID string) ([]types.EvidenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.EvidenceRecord, len(s.evidence[executionID]))
	copy(out, s.evidence[executionID])
	return out, nil
}

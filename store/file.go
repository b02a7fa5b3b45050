package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// FileStore persists traces and evidence as append-only newline-delimited
// JSON files under dir, one per execution, using gofrs/flock so two
// engine processes sharing a directory never interleave writes to the
// same execution's file. Workflow/Execution headers are kept in memory —
// a real multi-process deployment should use PostgresStore for those;
// FileStore exists for the single-host "durable trace, no database"
// deployment shape.
type FileStore struct {
	dir string

	mu         sync.RWMutex
	workflows  map[string]*types.Workflow
	executions map[string]ExecutionRecord
}

// NewFileStore constructs a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create trace dir %s: %w", dir, err)
	}
	return &FileStore{
		dir:        dir,
		workflows:  map[string]*types.Workflow{},
		executions: map[string]ExecutionRecord{},
	}, nil
}

func (s *FileStore) tracePath(executionID string) string {
	return filepath.Join(s.dir, executionID+".trace.jsonl")
}

func (s *FileStore) evidencePath(executionID string) string {
	return filepath.Join(s.dir, executionID+".evidence.jsonl")
}

func (s *FileStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	return nil
}

func (s *FileStore) LoadWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "workflow not found: "+id)
	}
	return wf, nil
}

func (s *FileStore) SaveExecution(ctx context.Context, exec ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ExecutionID] = exec
	return nil
}

func (s *FileStore) LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.executions[executionID]
	if !ok {
		return ExecutionRecord{}, errs.New(errs.NotFound, "execution not found: "+executionID)
	}
	return rec, nil
}

func (s *FileStore) AppendTraceEvents(ctx context.Context, executionID string, events []types.EngineEvent) error {
	return appendJSONLines(s.tracePath(executionID), events)
}

func (s *FileStore) LoadTrace(ctx context.Context, executionID string) ([]types.EngineEvent, error) {
	var out []types.EngineEvent
	err := readJSONLines(s.tracePath(executionID), func(line []byte) error {
		var ev types.EngineEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}

func (s *FileStore) AppendEvidence(ctx context.Context, executionID string, records []types.EvidenceRecord) error {
	return appendJSONLines(s.evidencePath(executionID), records)
}

func (s *FileStore) LoadEvidence(ctx context.Context, executionID string) ([]types.EvidenceRecord, error) {
	var out []types.EvidenceRecord
	err := readJSONLines(s.evidencePath(executionID), func(line []byte) error {
		var rec types.EvidenceRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// appendJSONLines takes an exclusive file lock for the duration of the
// write so concurrent AppendTraceEvents calls (from a parallel group
// inside the same execution) never corrupt the file.
func appendJSONLines[T any](path string, items []T) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("store: failed to lock %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: failed to open %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("store: failed to marshal entry: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("store: failed to write %s: %w", path, err)
		}
	}
	return w.Flush()
}

func readJSONLines(path string, onLine func([]byte) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := onLine(line); err != nil {
			return fmt.Errorf("store: malformed entry in %s: %w", path, err)
		}
	}
	return scanner.Err()
}

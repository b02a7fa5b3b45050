package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// PostgresStore persists workflows, execution headers, trace events, and
// evidence snapshots in Postgres via a pgx connection pool. Grounded on
// common/db's pool-wrapper pattern and supervisor/timeout.go's raw SQL
// queries against a `run` table in the teacher repo, generalized to the
// full Store interface's four record kinds.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and ensures the schema this store
// depends on exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect to postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	document JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	parent_execution_id TEXT,
	status TEXT NOT NULL,
	output JSONB
);
CREATE TABLE IF NOT EXISTS trace_events (
	execution_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	event JSONB NOT NULL,
	PRIMARY KEY (execution_id, seq)
);
CREATE TABLE IF NOT EXISTS evidence_records (
	execution_id TEXT NOT NULL,
	node_id TEXT NOT NULL,
	iteration_index INT,
	record JSONB NOT NULL,
	ordinal BIGSERIAL,
	PRIMARY KEY (execution_id, ordinal)
);
`)
	if err != nil {
		return fmt.Errorf("store: failed to migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) SaveWorkflow(ctx context.Context, wf *types.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("store: failed to marshal workflow: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO workflows (id, document) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document`, wf.ID, doc)
	return err
}

func (s *PostgresStore) LoadWorkflow(ctx context.Context, id string) (*types.Workflow, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM workflows WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "workflow not found: "+id, err)
	}
	var wf types.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("store: failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

func (s *PostgresStore) SaveExecution(ctx context.Context, exec ExecutionRecord) error {
	output, err := json.Marshal(exec.Output)
	if err != nil {
		return fmt.Errorf("store: failed to marshal execution output: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO executions (execution_id, workflow_id, parent_execution_id, status, output)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (execution_id) DO UPDATE SET status = EXCLUDED.status, output = EXCLUDED.output`,
		exec.ExecutionID, exec.WorkflowID, nullIfEmpty(exec.ParentExecutionID), string(exec.Status), output)
	return err
}

func (s *PostgresStore) LoadExecution(ctx context.Context, executionID string) (ExecutionRecord, error) {
	var rec ExecutionRecord
	var parent *string
	var status string
	var output []byte
	err := s.pool.QueryRow(ctx, `SELECT execution_id, workflow_id, parent_execution_id, status, output FROM executions WHERE execution_id = $1`, executionID).
		Scan(&rec.ExecutionID, &rec.WorkflowID, &parent, &status, &output)
	if err != nil {
		return ExecutionRecord{}, errs.Wrap(errs.NotFound, "execution not found: "+executionID, err)
	}
	if parent != nil {
		rec.ParentExecutionID = *parent
	}
	rec.Status = types.ExecutionStatus(status)
	if len(output) > 0 {
		_ = json.Unmarshal(output, &rec.Output)
	}
	return rec, nil
}

func (s *PostgresStore) AppendTraceEvents(ctx context.Context, executionID string, events []types.EngineEvent) error {
	batch := &pgxBatch{}
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("store: failed to marshal trace event: %w", err)
		}
		batch.queue(`INSERT INTO trace_events (execution_id, seq, event) VALUES ($1, $2, $3)
			ON CONFLICT (execution_id, seq) DO NOTHING`, executionID, ev.Seq, payload)
	}
	return batch.send(ctx, s.pool)
}

func (s *PostgresStore) LoadTrace(ctx context.Context, executionID string) ([]types.EngineEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT event FROM trace_events WHERE execution_id = $1 ORDER BY seq ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query trace: %w", err)
	}
	defer rows.Close()

	var out []types.EngineEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev types.EngineEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvidence(ctx context.Context, executionID string, records []types.EvidenceRecord) error {
	batch := &pgxBatch{}
	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("store: failed to marshal evidence record: %w", err)
		}
		batch.queue(`INSERT INTO evidence_records (execution_id, node_id, iteration_index, record) VALUES ($1, $2, $3, $4)`,
			executionID, rec.NodeID, rec.IterationIndex, payload)
	}
	return batch.send(ctx, s.pool)
}

func (s *PostgresStore) LoadEvidence(ctx context.Context, executionID string) ([]types.EvidenceRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM evidence_records WHERE execution_id = $1 ORDER BY ordinal ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query evidence: %w", err)
	}
	defer rows.Close()

	var out []types.EvidenceRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec types.EvidenceRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// pgxBatch is a tiny helper around pgx's batch API so Append* methods can
// write every record in one round trip instead of one query per record.
type pgxBatch struct {
	statements []string
	args       [][]interface{}
}

func (b *pgxBatch) queue(sql string, args ...interface{}) {
	b.statements = append(b.statements, sql)
	b.args = append(b.args, args)
}

func (b *pgxBatch) send(ctx context.Context, pool *pgxpool.Pool) error {
	if len(b.statements) == 0 {
		return nil
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i, sql := range b.statements {
		if _, err := tx.Exec(ctx, sql, b.args[i]...); err != nil {
			return fmt.Errorf("store: batch statement failed: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Package execctx implements the layered execution context every running
// workflow carries: a public layer (params, step outputs) that the
// resolver's `{{path}}` grammar can see, a private layer for engine-only
// bookkeeping, and a secrets layer that is never exposed to resolution,
// evidence snapshots, or trace output. Keeping these as distinct Go types —
// rather than three keys inside one map — means a caller cannot leak
// secrets into the public view by accident; there is no method on Context
// that returns the secrets layer alongside anything that gets persisted.
package execctx

import (
	"encoding/json"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/flowengine/resolver"
	"github.com/lyzr/flowengine/types"
)

// EventSink receives EngineEvents as they happen. Implementations live in
// package trace; Context only needs to stamp and forward.
type EventSink interface {
	Emit(types.EngineEvent)
}

type noopSink struct{}

func (noopSink) Emit(types.EngineEvent) {}

// secrets is a distinct type (not map[string]interface{}) so the compiler
// flags any attempt to pass a secrets value where a public/private map is
// expected.
type secrets map[string]interface{}

// Context is one execution's full state: identity, the three value layers,
// accumulated step outputs/aliases, evidence, and an event sink.
type Context struct {
	mu sync.RWMutex

	workflowID        string
	workflowName      string
	executionID       string
	parentExecutionID string

	public  map[string]interface{} // params, resolved at construction
	private map[string]interface{} // engine bookkeeping: iteration counters, goto hop counts, etc.
	secret  secrets

	envAllowlist []string
	osEnv        map[string]string

	stepOutputs map[string]types.StepResult // keyed by node id
	aliases     map[string]string           // output alias -> node id

	evidence []types.EvidenceRecord

	sink EventSink
	seq  uint64

	// completionSeq records each node's node_end seq, so stashJoinInputs
	// can order a merge/join's contributions by actual completion order.
	completionSeq map[string]uint64

	// strict makes Namespaces() report that unresolved {{path}} references
	// should be treated as errors (§4.2 "unless strict mode is requested")
	// rather than the default null-on-missing behavior.
	strict bool

	startedAt time.Time
}

// New constructs a Context for one execution. osEnv is the full process
// environment (e.g. from os.Environ(), pre-parsed by the caller); only the
// keys named in envAllowlist are ever visible through Namespaces().
func New(workflowID, workflowName, executionID, parentExecutionID string, params map[string]interface{}, envAllowlist []string, osEnv map[string]string, secretValues map[string]interface{}) *Context {
	if osEnv == nil {
		osEnv = map[string]string{}
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	if secretValues == nil {
		secretValues = map[string]interface{}{}
	}
	return &Context{
		workflowID:         workflowID,
		workflowName:       workflowName,
		executionID:        executionID,
		parentExecutionID:  parentExecutionID,
		public:             params,
		private:            map[string]interface{}{},
		secret:             secrets(secretValues),
		envAllowlist:       envAllowlist,
		osEnv:              osEnv,
		stepOutputs:        map[string]types.StepResult{},
		aliases:            map[string]string{},
		sink:               noopSink{},
		startedAt:          time.Now(),
	}
}

func (c *Context) WorkflowID() string        { return c.workflowID }
func (c *Context) ExecutionID() string       { return c.executionID }
func (c *Context) ParentExecutionID() string { return c.parentExecutionID }

// SetStrict enables or disables strict variable resolution for this
// execution. Safe to call once before execution begins.
func (c *Context) SetStrict(strict bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strict = strict
}

// SetSink wires the event/trace fan-out target. Safe to call once before
// execution begins; Context itself never reads events back.
func (c *Context) SetSink(sink EventSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sink == nil {
		sink = noopSink{}
	}
	c.sink = sink
}

// Emit stamps and forwards an event, assigning a monotonically increasing
// sequence number used to break ties in flow.merge (spec open question:
// merge tie-break is seq-based, not wall-clock). It returns the assigned
// seq so callers that need to remember "when did this node finish relative
// to its siblings" (the scheduler's join-input ordering) don't need a
// second counter.
func (c *Context) Emit(kind types.EventKind, nodeID *string, payload map[string]interface{}) uint64 {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	sink := c.sink
	c.mu.Unlock()

	ev := types.NewEngineEvent(kind, c.executionID, nodeID, payload)
	ev.Seq = seq
	sink.Emit(ev)
	return seq
}

// RecordCompletionSeq remembers the seq assigned to a node's completion
// event, so a downstream flow.merge/flow.join can later order its
// contributing inputs by actual emission order (§5 ordering guarantees)
// instead of by static predecessor-edge order.
func (c *Context) RecordCompletionSeq(nodeID string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completionSeq == nil {
		c.completionSeq = map[string]uint64{}
	}
	c.completionSeq[nodeID] = seq
}

// CompletionSeq returns the seq recorded for a node's completion event, if
// any.
func (c *Context) CompletionSeq(nodeID string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seq, ok := c.completionSeq[nodeID]
	return seq, ok
}

// SetParam binds a value into the public params namespace, visible to
// {{params.<key>}} lookups from the moment it is set. Used to bind a
// foreach/loop iteration variable (the node's `as` name) for the duration
// of the body's evaluation.
func (c *Context) SetParam(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.public[key] = value
}

// SetPrivate stores an engine-only value. Never visible to resolver.
func (c *Context) SetPrivate(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.private[key] = value
}

// GetPrivate reads an engine-only value.
func (c *Context) GetPrivate(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.private[key]
	return v, ok
}

// Secret reads from the credential layer. Only package plugin/invoker,
// which inject credential values into outbound module calls, should ever
// call this.
func (c *Context) Secret(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.secret[key]
	return v, ok
}

// ApplyJSONPatch applies an RFC 6902 JSON Patch document to the public
// layer in place. Used by flow.breakpoint resolutions that supply a
// "patch" field: a human-in-the-loop response can target specific fields
// of the paused context instead of replacing it wholesale.
func (c *Context) ApplyJSONPatch(patch []byte) error {
	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := json.Marshal(c.public)
	if err != nil {
		return err
	}
	patched, err := p.Apply(doc)
	if err != nil {
		return err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(patched, &merged); err != nil {
		return err
	}
	c.public = merged
	return nil
}

// SeedStepOutput records a node's output as already-completed, without an
// output alias, used to pre-populate a replay's context with every
// ancestor's recorded result before resuming the scheduler at the
// replayed node.
func (c *Context) SeedStepOutput(nodeID string, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs[nodeID] = types.StepResult{OK: true, Data: data}
}

// RecordStepOutput stores a node's normalized result under its node id and,
// if non-empty, under its output alias too — both become valid first
// segments in a `{{path}}` reference.
func (c *Context) RecordStepOutput(nodeID, alias string, result types.StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stepOutputs[nodeID] = result
	if alias != "" {
		c.aliases[alias] = nodeID
	}
}

// StepOutput returns a previously recorded result by node id.
func (c *Context) StepOutput(nodeID string) (types.StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.stepOutputs[nodeID]
	return r, ok
}

// HasCompleted reports whether a node has a recorded result.
func (c *Context) HasCompleted(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.stepOutputs[nodeID]
	return ok
}

// AppendEvidence brackets one step invocation's before/after public-context
// snapshots. Evidence never carries the private or secrets layers.
func (c *Context) AppendEvidence(rec types.EvidenceRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evidence = append(c.evidence, rec)
}

// Evidence returns a copy of the accumulated evidence records.
func (c *Context) Evidence() []types.EvidenceRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.EvidenceRecord, len(c.evidence))
	copy(out, c.evidence)
	return out
}

// Snapshot returns the public-layer view suitable for evidence/trace
// persistence: params plus every step output recorded so far, keyed by
// node id only. It never includes private or secrets.
func (c *Context) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := map[string]interface{}{
		"params": cloneMap(c.public),
	}
	steps := make(map[string]interface{}, len(c.stepOutputs))
	for id, r := range c.stepOutputs {
		steps[id] = r.Data
	}
	out["steps"] = steps
	return out
}

// Namespaces builds the resolver view for the current state: params, the
// allowlisted subset of environment, timestamp/workflow builtins, and step
// outputs addressable by both node id and output alias.
func (c *Context) Namespaces() resolver.Namespaces {
	c.mu.RLock()
	defer c.mu.RUnlock()

	env := make(map[string]string, len(c.envAllowlist))
	for _, k := range c.envAllowlist {
		if v, ok := c.osEnv[k]; ok {
			env[k] = v
		}
	}

	steps := make(map[string]interface{}, len(c.stepOutputs)+len(c.aliases))
	for id, r := range c.stepOutputs {
		steps[id] = r.Data
	}
	for alias, id := range c.aliases {
		if r, ok := c.stepOutputs[id]; ok {
			steps[alias] = r.Data
		}
	}

	return resolver.Namespaces{
		Params: cloneMap(c.public),
		Env:    env,
		Builtins: map[string]interface{}{
			"timestamp": float64(time.Now().Unix()),
			"workflow": map[string]interface{}{
				"id":   c.workflowID,
				"name": c.workflowName,
			},
		},
		Steps:  steps,
		Strict: c.strict,
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

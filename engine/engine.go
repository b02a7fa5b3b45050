// Package engine is the orchestrator: it compiles a Workflow into a Graph,
// runs the scheduler loop that walks ready nodes through executor.Executor,
// and exposes the full operation surface (Execute, ExecuteStream,
// Introspect, Cancel, Pause, Resume, GetExecutionTrace, ReplayFrom) that
// every other package was built to serve. Nothing here re-implements what
// compiler/router/executor/invoker/registry/builtins/condition already do;
// engine only sequences calls into them and owns the bookkeeping that spans
// a whole execution (pause/resume, cancellation, evidence, persistence).
//
// Grounded on the teacher's workflow_lifecycle.Coordinator (the single type
// that owns a run's state machine and drives it node by node, publishing
// events as it goes) and executor.go's ExecuteWorkflow loop (ready-queue
// draining with a WaitGroup for concurrent branches).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowengine/builtins"
	"github.com/lyzr/flowengine/compiler"
	"github.com/lyzr/flowengine/condition"
	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/i18n"
	"github.com/lyzr/flowengine/invoker"
	"github.com/lyzr/flowengine/logging"
	"github.com/lyzr/flowengine/manifest"
	"github.com/lyzr/flowengine/metrics"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/store"
	"github.com/lyzr/flowengine/trace"
	"github.com/lyzr/flowengine/types"
)

// maxGotoHops bounds flow.goto jumps so a misconfigured workflow fails
// with CycleDetected instead of running forever. maxLoopIterations is not
// read anywhere; flow.loop counts its own iterations in the loop builtin.
const (
	maxGotoHops       = 100
	maxLoopIterations = 100
)

// Engine ties every package together into the operation surface described
// by the public API: Execute, ExecuteStream, Introspect, Cancel, Pause,
// Resume, GetExecutionTrace, ReplayFrom.
type Engine struct {
	registry   *registry.Registry
	evaluator  *condition.Evaluator
	manifests  *manifest.Loader
	store      store.Store
	metrics    *metrics.Collector
	translator *i18n.Translator
	log        logging.Logger

	defaultTimeout time.Duration
	envAllowlist   []string
	osEnv          map[string]string
	secrets        map[string]interface{}

	mu         sync.Mutex
	executions map[string]*executionState
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

func WithEnvAllowlist(keys []string) Option {
	return func(e *Engine) { e.envAllowlist = keys }
}

func WithOSEnv(env map[string]string) Option {
	return func(e *Engine) { e.osEnv = env }
}

func WithSecrets(secrets map[string]interface{}) Option {
	return func(e *Engine) { e.secrets = secrets }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

func WithTranslator(t *i18n.Translator) Option {
	return func(e *Engine) { e.translator = t }
}

// New constructs an Engine. reg must carry any plugin-hosted modules
// (via a manifest.Loader.LoadAll call) before the first Execute; the
// flow.* builtins are registered into reg by the engine itself at the
// start of every execution (see executionRegistry).
func New(reg *registry.Registry, st store.Store, manifests *manifest.Loader, log logging.Logger, opts ...Option) *Engine {
	if log == nil {
		log = logging.New("info", "text")
	}
	e := &Engine{
		registry:       reg,
		evaluator:      condition.NewEvaluator(),
		manifests:      manifests,
		store:          st,
		translator:     i18n.NewTranslator("en"),
		log:            log,
		defaultTimeout: 300 * time.Second,
		osEnv:          map[string]string{},
		executions:     map[string]*executionState{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// executionState is the engine-private bookkeeping kept for the lifetime of
// one execution, beyond what execctx.Context itself holds: cancellation,
// pause/resume signaling, and the breakpoint resolution mailbox flow.
// breakpoint blocks on.
type executionState struct {
	mu sync.Mutex

	cancel context.CancelFunc
	status types.ExecutionStatus

	paused     bool
	resumeCh   chan struct{}
	breakpoint map[string]chan map[string]interface{} // nodeID -> resolution channel

	bus *trace.Bus
}

func newExecutionState(cancel context.CancelFunc) *executionState {
	return &executionState{
		cancel:     cancel,
		status:     types.StatusRunning,
		resumeCh:   make(chan struct{}),
		breakpoint: map[string]chan map[string]interface{}{},
	}
}

// ExecuteOptions configures one call to Execute/ExecuteStream.
type ExecuteOptions struct {
	ExecutionID       string
	ParentExecutionID string
	Locale            string

	// ResumeFrom, when set, starts the scheduler's frontier at this node id
	// instead of the graph's start nodes. SeedOutputs supplies every
	// ancestor's already-recorded output so the resumed run's {{path}}
	// references resolve without re-executing those ancestors. Used by
	// ReplayFrom to re-run only the target node and its downstream.
	ResumeFrom  string
	SeedOutputs map[string]interface{}

	// StrictVars makes an unresolved {{path}} reference a validation error
	// instead of the default null-on-missing behavior (§4.2).
	StrictVars bool
}

func newExecutionID() string {
	return uuid.NewString()
}

// Validate compiles wf and runs every structural check package compiler
// implements, without executing anything.
func (e *Engine) Validate(wf *types.Workflow) error {
	g, err := compiler.Compile(wf)
	if err != nil {
		return err
	}
	return compiler.Validate(g)
}

// buildDispatcher constructs one execution's invoker.Dispatcher, capturing
// the manifest loader's registry/pool snapshot at this instant so a later
// hot reload never affects an execution already in flight.
func (e *Engine) buildDispatcher(hctx registry.HandlerContext) *invoker.Dispatcher {
	d := invoker.New(e.registry, hctx)
	if e.manifests == nil {
		return d
	}
	owner, pools := e.manifests.Snapshot()
	for moduleID, poolName := range owner {
		if pool, ok := pools[poolName]; ok {
			d.RegisterPlugin(moduleID, poolName, pool)
		}
	}
	return d
}

func resolveWorkflowIdentity(wf *types.Workflow) (id, name string) {
	id = wf.ID
	if id == "" {
		id = wf.Name
	}
	return id, wf.Name
}

// subflowRunner returns the builtins.SubflowRunner closure that recursively
// invokes this engine's own Execute for flow.invoke/flow.subflow nodes.
// The engine carries no workflow catalog: params["workflow"] is taken as
// a workflow id and loaded from the engine's store, so a subflow must
// already be saved there. Lookup by workflow name is not supported.
func (e *Engine) subflowRunner() builtins.SubflowRunner {
	return func(workflowRef string, inputs map[string]interface{}) (types.ExecutionResult, error) {
		wf, err := e.store.LoadWorkflow(context.Background(), workflowRef)
		if err != nil {
			return types.ExecutionResult{}, errs.Wrap(errs.NotFound, fmt.Sprintf("subflow: workflow %q not found", workflowRef), err)
		}
		res, err := e.Execute(context.Background(), wf, inputs, ExecuteOptions{})
		if err != nil {
			return types.ExecutionResult{}, err
		}
		return *res, nil
	}
}

// breakpointWaiter returns the builtins.BreakpointWaiter closure backing
// flow.breakpoint: it blocks until Resume supplies a resolution for
// (executionID, nodeID) or the timeout elapses.
func (e *Engine) breakpointWaiter() builtins.BreakpointWaiter {
	return func(executionID, nodeID string, timeout time.Duration) (map[string]interface{}, error) {
		e.mu.Lock()
		st, ok := e.executions[executionID]
		e.mu.Unlock()
		if !ok {
			return nil, errs.New(errs.NotFound, fmt.Sprintf("breakpoint: unknown execution %q", executionID))
		}

		st.mu.Lock()
		ch, exists := st.breakpoint[nodeID]
		if !exists {
			ch = make(chan map[string]interface{}, 1)
			st.breakpoint[nodeID] = ch
		}
		st.paused = true
		st.status = types.StatusPaused
		st.mu.Unlock()

		select {
		case resolution := <-ch:
			st.mu.Lock()
			st.paused = false
			st.status = types.StatusRunning
			st.mu.Unlock()
			return resolution, nil
		case <-time.After(timeout):
			return nil, errs.New(errs.Timeout, fmt.Sprintf("breakpoint: node %q timed out waiting for resolution", nodeID))
		}
	}
}

// executionRegistry (re-)registers the flow.* builtins into the shared
// registry, bound to this engine's subflow/breakpoint closures, and
// returns the same registry every other module id is already registered
// against.
func (e *Engine) executionRegistry() (*registry.Registry, error) {
	// Builtins are re-registered into the shared registry on every call;
	// Register is idempotent (re-registering a module id overwrites the
	// previous entry), and flow.* modules carry no per-execution params, so
	// sharing one global registry instance across executions is safe: the
	// closures captured below are stateless with respect to which
	// execution invokes them (executionID/nodeID come from the
	// HandlerContext at call time, not from a captured variable).
	if err := builtins.Register(e.registry, e.evaluator, e.subflowRunner(), e.breakpointWaiter()); err != nil {
		return nil, err
	}
	return e.registry, nil
}

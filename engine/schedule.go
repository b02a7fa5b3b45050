package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/flowengine/builtins"
	"github.com/lyzr/flowengine/compiler"
	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/execctx"
	"github.com/lyzr/flowengine/executor"
	"github.com/lyzr/flowengine/resolver"
	"github.com/lyzr/flowengine/router"
	"github.com/lyzr/flowengine/store"
	"github.com/lyzr/flowengine/trace"
	"github.com/lyzr/flowengine/types"
)

// run is the shared scheduler body behind Execute and ExecuteStream: it
// compiles the workflow, builds one execution's context/dispatcher/bus,
// walks the ready-node frontier to completion or failure, and persists the
// result. Streaming callers get every event as it's emitted via bus;
// synchronous callers just read the final ExecutionResult once run returns.
func (e *Engine) run(ctx context.Context, wf *types.Workflow, inputs map[string]interface{}, opts ExecuteOptions) (*types.ExecutionResult, error) {
	g, err := compiler.Compile(wf)
	if err != nil {
		return nil, err
	}
	if err := compiler.Validate(g); err != nil {
		return nil, err
	}

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = newExecutionID()
	}
	workflowID, workflowName := resolveWorkflowIdentity(wf)

	runCtx, cancel := context.WithCancel(ctx)
	st := newExecutionState(cancel)
	e.mu.Lock()
	e.executions[executionID] = st
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.executions, executionID)
		e.mu.Unlock()
	}()

	bus := trace.NewBus(executionID, nil, e.log)
	st.bus = bus

	params := map[string]interface{}{}
	for _, pd := range wf.Params {
		if pd.Default != nil {
			params[pd.Name] = pd.Default
		}
	}
	for k, v := range inputs {
		params[k] = v
	}

	ectx := execctx.New(workflowID, workflowName, executionID, opts.ParentExecutionID, params, e.envAllowlist, e.osEnv, e.secrets)
	ectx.SetSink(bus)
	ectx.SetStrict(opts.StrictVars)
	for id, data := range opts.SeedOutputs {
		ectx.SeedStepOutput(id, data)
	}

	reg, err := e.executionRegistry()
	if err != nil {
		cancel()
		return nil, err
	}
	hctx := handlerContext{executionID: executionID, workflowID: workflowID}
	dispatcher := e.buildDispatcher(hctx)
	exec := executor.New(dispatcher, reg, e.defaultTimeout)

	if e.metrics != nil {
		e.metrics.ExecutionStarted()
	}
	bus.Emit(types.NewEngineEvent(types.EventEngineStart, executionID, nil, map[string]interface{}{
		"workflow_id": workflowID, "workflow_name": workflowName,
	}))

	sched := &scheduler{
		engine:      e,
		graph:       g,
		exec:        exec,
		ectx:        ectx,
		bus:         bus,
		state:       st,
		executionID: executionID,
		resumeFrom:  opts.ResumeFrom,
	}
	sched.registerJoins()

	result := sched.drain(runCtx)

	status := types.StatusCompleted
	var topError *types.StepResult
	if result != nil {
		status = types.StatusFailed
		topError = result
	}
	select {
	case <-runCtx.Done():
		if runCtx.Err() == context.Canceled && status != types.StatusFailed {
			status = types.StatusCancelled
		}
	default:
	}

	output := computeOutput(wf, ectx)

	execResult := &types.ExecutionResult{
		ExecutionID: executionID,
		Status:      status,
		Output:      output,
		StepOutputs: sched.collectStepOutputs(),
		Error:       topError,
	}

	bus.Emit(types.NewEngineEvent(types.EventEngineEnd, executionID, nil, map[string]interface{}{
		"status": status,
	}))
	if e.metrics != nil {
		e.metrics.ExecutionEnded(string(status))
	}

	e.persist(context.Background(), wf, execResult, ectx, bus)

	return execResult, nil
}

// Execute runs wf synchronously to completion (or failure/cancellation)
// and returns the final result.
func (e *Engine) Execute(ctx context.Context, wf *types.Workflow, inputs map[string]interface{}, opts ExecuteOptions) (*types.ExecutionResult, error) {
	return e.run(ctx, wf, inputs, opts)
}

// ExecuteStream runs wf the same way Execute does but additionally returns
// a live channel of every EngineEvent as it happens; the channel closes
// once the execution reaches a terminal state. The final ExecutionResult
// arrives on the returned result channel after events closes.
func (e *Engine) ExecuteStream(ctx context.Context, wf *types.Workflow, inputs map[string]interface{}, opts ExecuteOptions) (<-chan types.EngineEvent, <-chan *types.ExecutionResult) {
	events := make(chan types.EngineEvent, 256)
	results := make(chan *types.ExecutionResult, 1)

	executionID := opts.ExecutionID
	if executionID == "" {
		executionID = newExecutionID()
		opts.ExecutionID = executionID
	}

	go func() {
		defer close(events)
		defer close(results)

		// A short poll loop bridges trace.Bus's push-based Subscribe to this
		// function's need to forward events as they occur while run()
		// executes synchronously on this same goroutine; run() is called
		// after the bus exists by constructing it first via a lightweight
		// pre-registration so Subscribe can attach before any event fires.
		done := make(chan struct{})
		var bus *trace.Bus
		var subCancel func()

		go func() {
			for {
				e.mu.Lock()
				st, ok := e.executions[executionID]
				e.mu.Unlock()
				if ok && st.bus != nil {
					bus = st.bus
					ch, cancel := bus.Subscribe(256)
					subCancel = cancel
					for {
						select {
						case ev, ok := <-ch:
							if !ok {
								return
							}
							events <- ev
						case <-done:
							return
						}
					}
				}
				select {
				case <-done:
					return
				case <-time.After(time.Millisecond):
				}
			}
		}()

		result, err := e.run(ctx, wf, inputs, opts)
		close(done)
		if subCancel != nil {
			subCancel()
		}
		if err != nil {
			errResult := &types.ExecutionResult{
				ExecutionID: executionID,
				Status:      types.StatusFailed,
				Error:       &types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(errs.CodeOf(err))},
			}
			results <- errResult
			return
		}
		results <- result
	}()

	return events, results
}

// scheduler holds the mutable per-execution state the ready-node loop needs
// beyond what execctx.Context tracks: dedup sets, goto hop counters, and
// per-iteration evidence bookkeeping for node-level foreach.
type scheduler struct {
	engine      *Engine
	graph       *compiler.Graph
	exec        *executor.Executor
	ectx        *execctx.Context
	bus         *trace.Bus
	state       *executionState
	executionID string
	resumeFrom  string

	mu       sync.Mutex
	done     map[string]bool
	gotoHops int
}

// registerJoins declares every flow.merge/flow.join node's aggregation
// strategy with the graph's router, derived from the node's params.
func (s *scheduler) registerJoins() {
	for id, n := range s.graph.Nodes {
		if n.Module != "flow.merge" && n.Module != "flow.join" {
			continue
		}
		strategy := router.JoinAll
		k := 0
		if raw, ok := n.Params["strategy"].(string); ok && raw != "" {
			strategy = router.JoinStrategy(raw)
		}
		if v, ok := n.Params["count"]; ok {
			if n, ok := asInt(v); ok {
				k = n
			}
		}
		total := len(s.graph.Router.Predecessors(id))
		s.graph.Router.RegisterJoin(id, strategy, k, total)
	}
}

// drain walks the ready-node frontier breadth-first, running independent
// parallel branches concurrently and cancelling siblings when one fails.
// It returns a non-nil *StepResult describing the terminal failure, or nil
// on success.
func (s *scheduler) drain(ctx context.Context) *types.StepResult {
	s.done = map[string]bool{}
	frontier := append([]string{}, s.graph.StartNodes...)
	if s.resumeFrom != "" {
		frontier = []string{s.resumeFrom}
	}

	for len(frontier) > 0 {
		select {
		case <-ctx.Done():
			return &types.StepResult{OK: false, Error: "execution cancelled", ErrorCode: string(errs.Cancelled)}
		default:
		}

		s.waitWhilePaused(ctx)

		type outcome struct {
			nodeID string
			failed *types.StepResult
			next   []string
		}
		results := make([]outcome, len(frontier))
		var wg sync.WaitGroup
		for i, id := range frontier {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				failed, next := s.runNode(ctx, id)
				results[i] = outcome{nodeID: id, failed: failed, next: next}
			}(i, id)
		}
		wg.Wait()

		var nextFrontier []string
		for _, r := range results {
			if r.failed != nil {
				return r.failed
			}
			nextFrontier = append(nextFrontier, r.next...)
		}
		frontier = dedupStrings(nextFrontier)
	}
	return nil
}

func (s *scheduler) waitWhilePaused(ctx context.Context) {
	for {
		s.state.mu.Lock()
		paused := s.state.paused
		s.state.mu.Unlock()
		if !paused {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// runNode invokes one node (skipping it if already completed, unless it's
// a loopback module allowed to re-fire), handles node-level foreach,
// records evidence/trace, and resolves which downstream nodes become ready
// next.
func (s *scheduler) runNode(ctx context.Context, nodeID string) (*types.StepResult, []string) {
	node, ok := s.graph.Nodes[nodeID]
	if !ok {
		return &types.StepResult{OK: false, Error: fmt.Sprintf("unknown node %q", nodeID), ErrorCode: string(errs.NotFound)}, nil
	}

	if !isLoopback(node.Module) {
		s.mu.Lock()
		if s.done[nodeID] {
			s.mu.Unlock()
			return nil, nil
		}
		s.done[nodeID] = true
		s.mu.Unlock()
	}

	if node.Condition() != "" {
		ok, err := evalNodeCondition(s.engine, s.ectx, node.Condition())
		if err != nil {
			return &types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(errs.ValidationError)}, nil
		}
		if !ok {
			return nil, nil
		}
	}

	if node.Module == "flow.goto" {
		return s.runGoto(ctx, node)
	}

	if node.Foreach != "" {
		return s.runForeachNode(ctx, node)
	}

	result, err := s.invokeOnce(ctx, node, nil)
	if err != nil {
		return &types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(errs.CodeOf(err))}, nil
	}
	return s.afterInvoke(node, result)
}

// invokeOnce runs a single node invocation, bracketing it with node_start/
// node_end trace events and an evidence record. iterationIndex is non-nil
// for per-iteration foreach invocations.
func (s *scheduler) invokeOnce(ctx context.Context, node *types.Node, iterationIndex *int) (types.StepResult, error) {
	s.ectx.SetPrivate(builtins.CurrentNodeKey, node.ID)
	if node.Module == "flow.merge" || node.Module == "flow.join" {
		s.stashJoinInputs(node.ID)
	}

	before := s.ectx.Snapshot()
	started := time.Now()
	nodeID := node.ID
	s.ectx.Emit(types.EventNodeStart, &nodeID, map[string]interface{}{"module": node.Module})

	result, err := s.exec.Run(ctx, s.ectx, node)
	ended := time.Now()

	if s.engine.metrics != nil {
		attempts, _ := result.Meta[types.MetaAttempts].(int)
		if attempts > 1 {
			s.engine.metrics.RecordRetry(node.Module)
		}
		s.engine.metrics.RecordStep(node.Module, err == nil && result.OK, ended.Sub(started))
	}

	if err == nil {
		alias := node.OutputAlias
		s.ectx.RecordStepOutput(node.ID, alias, result)
	}

	after := s.ectx.Snapshot()
	s.ectx.AppendEvidence(types.EvidenceRecord{
		NodeID: node.ID, IterationIndex: iterationIndex,
		ContextBefore: before, ContextAfter: after,
		StartedAt: started, EndedAt: ended,
	})

	payload := map[string]interface{}{"ok": result.OK}
	if !result.OK {
		payload["error"] = result.Error
		payload["error_code"] = result.ErrorCode
		s.ectx.Emit(types.EventError, &nodeID, payload)
	}
	seq := s.ectx.Emit(types.EventNodeEnd, &nodeID, payload)
	s.ectx.RecordCompletionSeq(node.ID, seq)

	return result, err
}

// afterInvoke applies on_error policy and resolves the node's next frontier
// from its selected ports (or the default port for ordinary nodes).
func (s *scheduler) afterInvoke(node *types.Node, result types.StepResult) (*types.StepResult, []string) {
	if !result.OK {
		switch node.OnError {
		case types.OnErrorContinue:
			// fall through to normal port resolution with whatever ports
			// the failed result selected (builtins without a selection
			// default to DefaultPort below).
		case types.OnErrorSkip:
			return nil, nil
		case types.OnErrorGoto:
			if node.OnErrorGoto != "" {
				return nil, []string{node.OnErrorGoto}
			}
			return &types.StepResult{OK: false, Error: "on_error: goto with no target", ErrorCode: string(errs.ValidationError)}, nil
		default:
			if trigger, ok := s.errorTriggerNode(); ok {
				return nil, s.routeToErrorTrigger(trigger, node, result)
			}
			return &result, nil
		}
	}

	ports := selectedPorts(result)
	return nil, s.readyNext(node.ID, ports)
}

// errorTriggerNode finds the graph's flow.error_workflow_trigger node, if
// any. A graph carries at most one such node per §4.3/§7's error subgraph
// convention; the first one found is used.
func (s *scheduler) errorTriggerNode() (*types.Node, bool) {
	for _, n := range s.graph.Nodes {
		if n.Module == "flow.error_workflow_trigger" {
			return n, true
		}
	}
	return nil, false
}

// routeToErrorTrigger synthesizes the error trigger node's output directly
// — it never goes through invokeOnce/the executor, since its declared
// params describe the trigger's own shape, not the error payload — and
// resumes scheduling from its outgoing edges instead of aborting the
// execution on failedNode's unhandled failure.
func (s *scheduler) routeToErrorTrigger(trigger, failedNode *types.Node, result types.StepResult) []string {
	s.mu.Lock()
	if s.done[trigger.ID] {
		s.mu.Unlock()
		return nil
	}
	s.done[trigger.ID] = true
	s.mu.Unlock()

	payload := map[string]interface{}{
		"node_id":          failedNode.ID,
		"error_code":       result.ErrorCode,
		"error":            result.Error,
		"context_snapshot": s.ectx.Snapshot(),
	}
	s.ectx.RecordStepOutput(trigger.ID, trigger.OutputAlias, types.StepResult{OK: true, Data: payload})

	triggerID := trigger.ID
	s.ectx.Emit(types.EventNodeStart, &triggerID, map[string]interface{}{"module": trigger.Module})
	seq := s.ectx.Emit(types.EventNodeEnd, &triggerID, map[string]interface{}{"ok": true})
	s.ectx.RecordCompletionSeq(trigger.ID, seq)

	return s.readyNext(trigger.ID, []string{router.DefaultPort})
}

// readyNext resolves node.ID's outgoing edges for the fired ports into the
// next ready frontier, consulting the router's join tracker for any
// downstream flow.merge/flow.join target.
func (s *scheduler) readyNext(nodeID string, ports []string) []string {
	targets := s.graph.Router.NextNodes(nodeID, ports)
	var ready []string
	for _, t := range targets {
		target := s.graph.Nodes[t]
		if target != nil && (target.Module == "flow.merge" || target.Module == "flow.join") {
			if isReady, _, _ := s.graph.Router.Arrive(t, nodeID); isReady {
				ready = append(ready, t)
			}
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

// stashJoinInputs gathers every contributing upstream node's recorded
// output into the private layer under "join:"+nodeID, the convention
// builtins.joinHandler reads from. §5 requires the merged array to
// preserve upstream emission order, not the static declaration order of
// Router.Predecessors, so contributions are sorted by each predecessor's
// recorded node_end completion seq (the tie-break SPEC_FULL.md settles on)
// before being stashed.
func (s *scheduler) stashJoinInputs(nodeID string) {
	type contribution struct {
		seq  uint64
		data interface{}
	}
	var contributions []contribution
	for _, e := range s.graph.Router.Predecessors(nodeID) {
		out, ok := s.ectx.StepOutput(e.SourceNode)
		if !ok {
			continue
		}
		seq, _ := s.ectx.CompletionSeq(e.SourceNode)
		contributions = append(contributions, contribution{seq: seq, data: out.Data})
	}
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].seq < contributions[j].seq
	})

	inputs := make([]interface{}, len(contributions))
	for i, c := range contributions {
		inputs[i] = c.data
	}
	s.ectx.SetPrivate("join:"+nodeID, inputs)
}

// runGoto is handled at the scheduler level, not through the router's port
// table: it jumps straight to params["target"] after resolving it, bounded
// by maxGotoHops.
func (s *scheduler) runGoto(ctx context.Context, node *types.Node) (*types.StepResult, []string) {
	s.mu.Lock()
	s.gotoHops++
	hops := s.gotoHops
	s.mu.Unlock()
	if hops > maxGotoHops {
		return &types.StepResult{OK: false, Error: "flow.goto exceeded maximum hop count", ErrorCode: string(errs.CycleDetected)}, nil
	}

	result, err := s.invokeOnce(ctx, node, nil)
	if err != nil || !result.OK {
		if err != nil {
			return &types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(errs.CodeOf(err))}, nil
		}
		return &result, nil
	}
	target, _ := result.Data.(map[string]interface{})["target"].(string)
	if target == "" {
		return &types.StepResult{OK: false, Error: "flow.goto: resolved target is empty", ErrorCode: string(errs.ValidationError)}, nil
	}
	if _, ok := s.graph.Nodes[target]; !ok {
		return &types.StepResult{OK: false, Error: fmt.Sprintf("flow.goto: unknown target %q", target), ErrorCode: string(errs.PortNotFound)}, nil
	}
	return nil, []string{target}
}

// runForeachNode implements the node-level §3 foreach field: sequential
// invocation of the same node once per item bound to `as`, unless
// Parallel+ConcurrentSafe allow concurrent iterations. OutputMode controls
// what RecordStepOutput ends up storing: the full per-iteration slice
// (collect, the default), only the last iteration's result (last), or
// nothing (none).
func (s *scheduler) runForeachNode(ctx context.Context, node *types.Node) (*types.StepResult, []string) {
	ns := s.ectx.Namespaces()
	rawItems, err := resolver.ResolveString(node.Foreach, ns)
	if err != nil {
		return &types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(errs.ValidationError)}, nil
	}
	items, ok := rawItems.([]interface{})
	if !ok {
		return &types.StepResult{OK: false, Error: fmt.Sprintf("foreach: %q did not resolve to an array", node.Foreach), ErrorCode: string(errs.TypeMismatch)}, nil
	}

	meta, hasMeta := s.engine.registry.Get(node.Module)
	concurrentSafe := hasMeta && meta.ConcurrentSafe

	var collected []interface{}
	var last types.StepResult
	var firstFailure *types.StepResult

	invokeAt := func(i int, item interface{}) types.StepResult {
		if node.As != "" {
			s.ectx.SetParam(node.As, item)
		}
		idx := i
		result, err := s.invokeOnce(ctx, node, &idx)
		if err != nil {
			return types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(errs.CodeOf(err))}
		}
		return result
	}

	if node.Parallel && concurrentSafe {
		results := make([]types.StepResult, len(items))
		var wg sync.WaitGroup
		for i, item := range items {
			wg.Add(1)
			go func(i int, item interface{}) {
				defer wg.Done()
				results[i] = invokeAt(i, item)
			}(i, item)
		}
		wg.Wait()
		for i, r := range results {
			if !r.OK && firstFailure == nil {
				fr := r
				firstFailure = &fr
			}
			collected = append(collected, stepResultPayload(r))
			if i == len(results)-1 {
				last = r
			}
		}
	} else {
		// A per-item failure only aborts the remaining iterations when the
		// node's on_error policy is fail/goto (the default); continue/skip
		// run every iteration regardless, same as S3 in the spec's testable
		// scenarios, and the aggregate still records each iteration's
		// outcome (ok/data/error_code), not just its successful payload.
		for i, item := range items {
			r := invokeAt(i, item)
			if !r.OK {
				if firstFailure == nil {
					fr := r
					firstFailure = &fr
				}
				if node.OnError != types.OnErrorContinue && node.OnError != types.OnErrorSkip {
					break
				}
			}
			collected = append(collected, stepResultPayload(r))
			last = r
		}
	}

	if firstFailure != nil && node.OnError != types.OnErrorContinue && node.OnError != types.OnErrorSkip {
		return firstFailure, nil
	}

	var aggregate types.StepResult
	switch node.OutputMode {
	case types.OutputModeLast:
		aggregate = last
	case types.OutputModeNone:
		aggregate = types.StepResult{OK: true}
	default:
		aggregate = types.StepResult{OK: true, Data: collected}
	}
	s.ectx.RecordStepOutput(node.ID, node.OutputAlias, aggregate)

	return nil, s.readyNext(node.ID, []string{router.DefaultPort})
}

func (s *scheduler) collectStepOutputs() map[string]types.StepResult {
	out := map[string]types.StepResult{}
	for id := range s.graph.Nodes {
		if r, ok := s.ectx.StepOutput(id); ok {
			out[id] = r
		}
	}
	return out
}

// stepResultPayload renders a single foreach iteration's outcome as the
// plain ok/data/error_code map the spec's aggregate shape names, so a
// failed iteration is visible in the collected array instead of silently
// collapsing to nil.
func stepResultPayload(r types.StepResult) map[string]interface{} {
	out := map[string]interface{}{"ok": r.OK}
	if r.OK {
		out["data"] = r.Data
	} else {
		out["error"] = r.Error
		out["error_code"] = r.ErrorCode
	}
	return out
}

func isLoopback(module string) bool {
	return module == "flow.loop" || module == "flow.goto" || module == "flow.foreach"
}

func selectedPorts(result types.StepResult) []string {
	if result.Meta != nil {
		if raw, ok := result.Meta[types.MetaSelectedPorts]; ok {
			if ports, ok := raw.([]string); ok && len(ports) > 0 {
				return ports
			}
		}
	}
	return []string{router.DefaultPort}
}

func evalNodeCondition(e *Engine, ectx *execctx.Context, expr string) (bool, error) {
	return e.evaluator.EvalBool(expr, ectx.Namespaces())
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// computeOutput resolves a workflow's declared output map ({{path}}
// expressions referencing step outputs) against the final context.
func computeOutput(wf *types.Workflow, ectx *execctx.Context) map[string]interface{} {
	if len(wf.Output) == 0 {
		return nil
	}
	ns := ectx.Namespaces()
	out := make(map[string]interface{}, len(wf.Output))
	for key, expr := range wf.Output {
		v, err := resolver.ResolveString(expr, ns)
		if err != nil {
			continue
		}
		out[key] = v
	}
	return out
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// handlerContext is the minimal registry.HandlerContext implementation
// every node invocation's Invoker.Invoke path needs.
type handlerContext struct {
	executionID string
	workflowID  string
}

func (h handlerContext) ExecutionID() string { return h.executionID }
func (h handlerContext) WorkflowID() string  { return h.workflowID }

// persist writes the workflow, execution header, trace, and evidence to
// the configured store. Persistence failures are logged, not fatal — an
// execution that completed in-memory should not be reported as failed
// because its durable write failed.
func (e *Engine) persist(ctx context.Context, wf *types.Workflow, result *types.ExecutionResult, ectx *execctx.Context, bus *trace.Bus) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveWorkflow(ctx, wf); err != nil {
		e.log.Warn("engine: failed to persist workflow", "error", err)
	}
	record := store.ExecutionRecord{
		ExecutionID:       result.ExecutionID,
		WorkflowID:        wf.ID,
		ParentExecutionID: ectx.ParentExecutionID(),
		Status:            result.Status,
		Output:            result.Output,
	}
	if err := e.store.SaveExecution(ctx, record); err != nil {
		e.log.Warn("engine: failed to persist execution record", "error", err)
	}
	if err := e.store.AppendTraceEvents(ctx, result.ExecutionID, bus.Events()); err != nil {
		e.log.Warn("engine: failed to persist trace", "error", err)
	}
	if err := e.store.AppendEvidence(ctx, result.ExecutionID, ectx.Evidence()); err != nil {
		e.log.Warn("engine: failed to persist evidence", "error", err)
	}
}

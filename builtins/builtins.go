// Package builtins implements the flow.* family of in-process modules: the
// control-flow nodes the Event Router dispatches around (branch, switch,
// fork, merge/join, loop, foreach, goto, trigger, invoke/subflow,
// breakpoint, error routing) plus the graph entry/terminal markers
// flow.start and flow.end. Every handler here satisfies registry.Handler;
// package engine registers them at the start of every execution. Besides
// reading the port selection a handler leaves in StepResult.Meta, the
// engine's scheduler handles flow.goto jumps, flow.merge/flow.join input
// stashing and flow.error_workflow_trigger routing itself.
//
// Grounded on operators/control_flow.go's BranchOperator/LoopOperator
// (condition-driven next-node selection, iteration counters keyed by
// node id) generalized from that file's Redis-hash counters into the
// private layer of execctx.Context, and on node_router.go's per-node
// dispatch-by-kind shape.
package builtins

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/robfig/cron/v3"

	"github.com/lyzr/flowengine/condition"
	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/resolver"
	"github.com/lyzr/flowengine/types"
)

// Context is the surface a flow.* handler needs beyond the bare
// registry.HandlerContext: namespace lookups for condition evaluation and
// a private scratch space for iteration counters. execctx.Context
// satisfies this; it is declared here (rather than imported) so builtins
// stays a leaf package the way registry and resolver do.
type Context interface {
	registry.HandlerContext
	Namespaces() resolver.Namespaces
	GetPrivate(key string) (interface{}, bool)
	SetPrivate(key string, value interface{})
	ApplyJSONPatch(patch []byte) error
}

// SubflowRunner recursively invokes a nested workflow. Package engine
// supplies the concrete implementation (its own Execute method) when it
// registers flow.invoke/flow.subflow, since builtins cannot import engine
// without a cycle.
type SubflowRunner func(workflowRef string, inputs map[string]interface{}) (types.ExecutionResult, error)

// BreakpointWaiter blocks the calling goroutine until an external
// resolution arrives for (executionID, nodeID) or timeout elapses.
// Package engine supplies the implementation, backed by its pause/resume
// bookkeeping.
type BreakpointWaiter func(executionID, nodeID string, timeout time.Duration) (map[string]interface{}, error)

// Register installs every flow.* builtin into reg, along with minimal
// catalog metadata (category/tier/stability) so they show up correctly in
// Registry.Catalog and Registry.Startable.
func Register(reg *registry.Registry, eval *condition.Evaluator, subflow SubflowRunner, waitBreakpoint BreakpointWaiter) error {
	handlers := map[string]registry.Handler{
		"flow.start":                  startHandler{},
		"flow.end":                    endHandler{},
		"flow.branch":                 branchHandler{eval: eval},
		"flow.switch":                 switchHandler{eval: eval},
		"flow.fork":                   forkHandler{},
		"flow.merge":                  joinHandler{},
		"flow.join":                   joinHandler{},
		"flow.loop":                   loopHandler{eval: eval},
		"flow.foreach":                foreachControlHandler{},
		"flow.goto":                   gotoHandler{},
		"flow.trigger":                triggerHandler{},
		"flow.invoke":                 subflowHandler{run: subflow},
		"flow.subflow":                subflowHandler{run: subflow},
		"flow.breakpoint":             breakpointHandler{wait: waitBreakpoint},
		"flow.error_workflow_trigger": passthroughHandler{},
		"flow.error_handle":           passthroughHandler{},
	}

	for id, h := range handlers {
		meta := types.ModuleMetadata{
			ModuleID:      id,
			Version:       "1.0.0",
			Category:      "flow",
			Namespace:     "flow",
			Tier:          types.TierInternal,
			Stability:     types.StabilityStable,
			Label:         strings.TrimPrefix(id, "flow."),
			InputTypes:    []types.DataType{types.TypeAny},
			OutputTypes:   []types.DataType{types.TypeAny},
			Retryable:     false,
			Deterministic: true,
			Replayable:    true,
		}
		if id == "flow.start" || id == "flow.trigger" {
			b := true
			meta.CanBeStart = &b
		}
		if err := reg.Register(meta, h); err != nil {
			return err
		}
	}
	return nil
}

// selectPorts is the Meta key convention every control-flow handler below
// uses to tell the engine's scheduler which outgoing port(s) fired.
func selectPorts(result *types.StepResult, ports ...string) {
	if result.Meta == nil {
		result.Meta = map[string]interface{}{}
	}
	result.Meta[types.MetaSelectedPorts] = ports
}

type startHandler struct{}

func (startHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	return types.StepResult{OK: true, Data: params}, nil
}

type endHandler struct{}

func (endHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	return types.StepResult{OK: true, Data: params}, nil
}

type passthroughHandler struct{}

func (passthroughHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	return types.StepResult{OK: true, Data: params}, nil
}

// branchHandler evaluates params["condition"] against ctx's namespaces
// (CEL) and selects the "true" or "false" output port. The condition
// string has already passed through the resolver's {{path}} substitution
// by the time it reaches a handler (executor resolves params before
// invoking), so a condition written as "{{params.n}} > 0" arrives here
// as the literal "5 > 0" and CEL only has to evaluate a comparison, not a
// path lookup. A condition with no {{}} at all (raw CEL referencing
// params/steps/workflow directly) still works because condition.Evaluator
// is handed the full Namespaces regardless.
type branchHandler struct{ eval *condition.Evaluator }

func (h branchHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	ok, err := evalCondition(h.eval, ctx, params["condition"])
	if err != nil {
		return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.branch: condition evaluation failed", err)
	}
	result := types.StepResult{OK: true, Data: map[string]interface{}{"condition": ok}}
	if ok {
		selectPorts(&result, "true")
	} else {
		selectPorts(&result, "false")
	}
	return result, nil
}

// switchHandler matches params["expression"] against each entry of
// params["cases"] (a []interface{} of maps with a "value" key) and
// selects port "case:<value>", falling back to "default".
type switchHandler struct{ eval *condition.Evaluator }

func (h switchHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	value, err := evalValue(h.eval, ctx, params["expression"])
	if err != nil {
		return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.switch: expression evaluation failed", err)
	}

	cases, _ := params["cases"].([]interface{})
	valueStr := fmt.Sprintf("%v", value)
	for _, raw := range cases {
		c, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", c["value"]) == valueStr {
			result := types.StepResult{OK: true, Data: map[string]interface{}{"matched": value}}
			selectPorts(&result, "case:"+valueStr)
			return result, nil
		}
	}
	result := types.StepResult{OK: true, Data: map[string]interface{}{"matched": value}}
	selectPorts(&result, "default")
	return result, nil
}

// forkHandler fires every configured port with the same payload. Ports
// come from params["ports"] ([]interface{} of names) or, if absent, are
// generated as fork_0..fork_{count-1} from params["count"].
type forkHandler struct{}

func (forkHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	var ports []string
	if raw, ok := params["ports"].([]interface{}); ok {
		for _, p := range raw {
			ports = append(ports, fmt.Sprintf("%v", p))
		}
	} else {
		count := 2
		if n, ok := asInt(params["count"]); ok {
			count = n
		}
		for i := 0; i < count; i++ {
			ports = append(ports, fmt.Sprintf("fork_%d", i))
		}
	}
	result := types.StepResult{OK: true, Data: params}
	selectPorts(&result, ports...)
	return result, nil
}

// joinHandler is the handler invoked once the engine's router has already
// decided a flow.merge/flow.join is ready to fire (router.Arrive returned
// ready=true). The engine stashes the ordered, contributing upstream
// outputs in the private layer under "join:"+currentNodeID before
// invoking, since a Handler only ever sees resolved params.
type joinHandler struct{}

func (joinHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	rc, ok := ctx.(Context)
	if !ok {
		return types.StepResult{OK: true, Data: params}, nil
	}
	nodeID, _ := rc.GetPrivate(currentNodeKey)
	id, _ := nodeID.(string)
	inputs, _ := rc.GetPrivate("join:" + id)

	if mode, _ := params["merge_mode"].(string); mode == "json_patch" {
		merged, err := mergeJSONPatches(params["base"], inputs)
		if err != nil {
			return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.merge: json_patch combination failed", err)
		}
		return types.StepResult{OK: true, Data: merged}, nil
	}
	return types.StepResult{OK: true, Data: inputs}, nil
}

// mergeJSONPatches combines partial outputs emitted by a flow.merge's
// upstreams when params["merge_mode"] is "json_patch": each upstream
// payload is treated as an RFC 6902 patch document and applied in arrival
// order onto base, so several branches can each contribute a targeted
// update to one shared result instead of overwriting each other's output
// wholesale. An upstream payload that isn't a valid patch document is
// skipped rather than aborting the whole merge.
func mergeJSONPatches(base interface{}, inputs interface{}) (interface{}, error) {
	if base == nil {
		base = map[string]interface{}{}
	}
	doc, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	list, _ := inputs.([]interface{})
	for _, raw := range list {
		opsBytes, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		patch, err := jsonpatch.DecodePatch(opsBytes)
		if err != nil {
			continue
		}
		applied, err := patch.Apply(doc)
		if err != nil {
			return nil, err
		}
		doc = applied
	}
	var out interface{}
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentNodeKey is the private-layer key the engine stamps with the
// currently-invoking node id before every call, so builtins that need to
// know their own identity (loop counters, join aggregation) don't need a
// wider Handler signature.
const CurrentNodeKey = "__current_node"

const currentNodeKey = CurrentNodeKey

// loopHandler emits "iterate" up to params["times"] (re-checking an
// optional params["condition"] each time), then "done". Iteration state
// is a private counter keyed by this node's id so repeated invocations of
// the same graph node (the engine re-enters flow.loop nodes instead of
// deduplicating them, per the loopback-module exception in package
// compiler) accumulate correctly.
type loopHandler struct{ eval *condition.Evaluator }

func (h loopHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	rc, ok := ctx.(Context)
	if !ok {
		return types.StepResult{}, errs.New(errs.InternalError, "flow.loop requires a builtins.Context")
	}
	nodeIDv, _ := rc.GetPrivate(currentNodeKey)
	nodeID, _ := nodeIDv.(string)
	counterKey := "loop:" + nodeID

	count := 0
	if v, ok := rc.GetPrivate(counterKey); ok {
		count, _ = v.(int)
	}

	times := -1
	if n, ok := asInt(params["times"]); ok {
		times = n
	}

	keepGoing := times < 0 || count < times
	if keepGoing && params["condition"] != nil {
		ok, err := evalCondition(h.eval, ctx, params["condition"])
		if err != nil {
			return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.loop: condition evaluation failed", err)
		}
		keepGoing = ok
	}

	result := types.StepResult{OK: true, Data: map[string]interface{}{"iteration": count}}
	if keepGoing {
		count++
		rc.SetPrivate(counterKey, count)
		selectPorts(&result, "iterate")
	} else {
		rc.SetPrivate(counterKey, 0)
		selectPorts(&result, "done")
	}
	return result, nil
}

// foreachControlHandler is the control-flow-port variant of foreach
// (§4.3), distinct from the node-level `foreach:` field (§3) that
// package engine handles by repeatedly invoking an ordinary step. This
// handler walks params["items"] (already resolved to a concrete slice)
// one element per invocation, emitting "iterate" with {item,index}.
//
// A workflow wires the loop body's output back into this node's own
// params (e.g. `result: "{{body_node.output}}"`), so each re-entry after
// the first carries the just-finished iteration's actual result in
// params["result"]; that is what gets accumulated, not the raw input
// item, matching the node-level foreach's aggregate semantics. On the
// entry that finds the iterable exhausted, "done" fires with the
// aggregate built according to params["output_mode"] (collect, the
// default; last; or none), mirroring types.OutputMode.
type foreachControlHandler struct{}

func (foreachControlHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	rc, ok := ctx.(Context)
	if !ok {
		return types.StepResult{}, errs.New(errs.InternalError, "flow.foreach requires a builtins.Context")
	}
	nodeIDv, _ := rc.GetPrivate(currentNodeKey)
	nodeID, _ := nodeIDv.(string)
	counterKey := "foreach:" + nodeID
	accKey := "foreach:acc:" + nodeID

	items, _ := params["items"].([]interface{})
	outputMode := types.OutputMode(fmt.Sprintf("%v", params["output_mode"]))

	index := 0
	if v, ok := rc.GetPrivate(counterKey); ok {
		index, _ = v.(int)
	}

	var acc []interface{}
	if v, ok := rc.GetPrivate(accKey); ok {
		acc, _ = v.([]interface{})
	}

	// Every re-entry past the first one carries the previous iteration's
	// body result in params["result"]; fold it into the accumulator before
	// deciding whether this is the terminal "done" entry.
	if index > 0 {
		switch outputMode {
		case types.OutputModeNone:
		case types.OutputModeLast:
			acc = []interface{}{params["result"]}
		default:
			acc = append(acc, params["result"])
		}
	}

	if index >= len(items) {
		rc.SetPrivate(counterKey, 0)
		rc.SetPrivate(accKey, nil)

		var data interface{} = acc
		if outputMode == types.OutputModeLast {
			if len(acc) > 0 {
				data = acc[len(acc)-1]
			} else {
				data = nil
			}
		} else if outputMode == types.OutputModeNone {
			data = nil
		}

		result := types.StepResult{OK: true, Data: data}
		selectPorts(&result, "done")
		return result, nil
	}

	item := items[index]
	rc.SetPrivate(counterKey, index+1)
	rc.SetPrivate(accKey, acc)
	result := types.StepResult{OK: true, Data: map[string]interface{}{"item": item, "index": index}}
	selectPorts(&result, "iterate")
	return result, nil
}

// gotoHandler names the unconditional jump target; the engine's
// scheduler, not the router's port table, is responsible for enforcing
// the per-workflow iteration ceiling and enqueuing params["target"]
// directly.
type gotoHandler struct{}

func (gotoHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	target, _ := params["target"].(string)
	if target == "" {
		return types.StepResult{}, errs.New(errs.ValidationError, "flow.goto: missing target")
	}
	return types.StepResult{OK: true, Data: map[string]interface{}{"target": target}}, nil
}

// triggerHandler covers the four entry-point variants. The schedule
// variant uses robfig/cron purely for schedule math (computing the next
// fire time to report back); actually firing on a timer is a transport
// concern explicitly out of this spec's scope.
type triggerHandler struct{}

func (triggerHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	kind, _ := params["type"].(string)
	if kind == "" {
		kind = "manual"
	}
	data := map[string]interface{}{"type": kind, "payload": params["payload"]}
	if kind == "schedule" {
		expr, _ := params["cron"].(string)
		if expr != "" {
			sched, err := cron.ParseStandard(expr)
			if err != nil {
				return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.trigger: invalid cron expression", err)
			}
			data["next_fire"] = sched.Next(time.Now()).Unix()
		}
	}
	return types.StepResult{OK: true, Data: data}, nil
}

// subflowHandler recursively runs another workflow via the engine-
// supplied runner and surfaces its ExecutionResult output as this step's
// data.
type subflowHandler struct{ run SubflowRunner }

func (h subflowHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	if h.run == nil {
		return types.StepResult{}, errs.New(errs.Unsupported, "flow.invoke/subflow: no subflow runner configured")
	}
	ref, _ := params["workflow"].(string)
	if ref == "" {
		return types.StepResult{}, errs.New(errs.ValidationError, "flow.invoke: missing workflow reference")
	}
	inputs, _ := params["inputs"].(map[string]interface{})
	res, err := h.run(ref, inputs)
	if err != nil {
		return types.StepResult{}, err
	}
	if res.Status != types.StatusCompleted {
		msg := "subflow did not complete"
		if res.Error != nil {
			msg = res.Error.Error
		}
		return types.StepResult{OK: false, Error: msg, ErrorCode: string(errs.ExecutionError)}, nil
	}
	return types.StepResult{OK: true, Data: res.Output}, nil
}

// breakpointHandler blocks on the engine-supplied waiter until an
// external resolution (approve/reject/custom inputs) arrives or the
// configured timeout elapses.
type breakpointHandler struct{ wait BreakpointWaiter }

func (h breakpointHandler) Invoke(ctx registry.HandlerContext, params map[string]interface{}) (types.StepResult, error) {
	if h.wait == nil {
		return types.StepResult{}, errs.New(errs.Unsupported, "flow.breakpoint: no resolution waiter configured")
	}
	timeout := 24 * time.Hour
	if ms, ok := asInt(params["timeout_ms"]); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	resolution, err := h.wait(ctx.ExecutionID(), nodeIDFromContext(ctx), timeout)
	if err != nil {
		return types.StepResult{}, err
	}

	// A resolution may carry a "patch" field — an RFC 6902 document the
	// human-in-the-loop response applies directly to the paused context's
	// public layer — instead of (or alongside) plain approve/reject data.
	if patch, ok := resolution["patch"]; ok {
		if rc, ok := ctx.(Context); ok {
			raw, err := json.Marshal(patch)
			if err != nil {
				return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.breakpoint: invalid patch payload", err)
			}
			if err := rc.ApplyJSONPatch(raw); err != nil {
				return types.StepResult{}, errs.Wrap(errs.ValidationError, "flow.breakpoint: patch application failed", err)
			}
		}
	}
	return types.StepResult{OK: true, Data: resolution}, nil
}

func nodeIDFromContext(ctx registry.HandlerContext) string {
	rc, ok := ctx.(Context)
	if !ok {
		return ""
	}
	v, _ := rc.GetPrivate(currentNodeKey)
	s, _ := v.(string)
	return s
}

// evalCondition resolves v to a boolean: a bool value passes straight
// through (the resolver already evaluated a pure {{expr}} to a typed
// value), otherwise a string is compiled and run as a CEL expression.
func evalCondition(eval *condition.Evaluator, ctx registry.HandlerContext, v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return false, fmt.Errorf("condition: expected boolean or expression string, got %T", v)
	}
	rc, ok := ctx.(Context)
	if !ok {
		return false, fmt.Errorf("condition: handler context does not expose namespaces")
	}
	return eval.EvalBool(s, rc.Namespaces())
}

func evalValue(eval *condition.Evaluator, ctx registry.HandlerContext, v interface{}) (interface{}, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	rc, ok := ctx.(Context)
	if !ok {
		return s, nil
	}
	return eval.EvalValue(s, rc.Namespaces())
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

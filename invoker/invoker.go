// Package invoker implements the dispatch policy between in-process
// builtin module handlers and out-of-process plugin-hosted modules. It
// satisfies executor.Invoker: by the time a call reaches Dispatcher, params
// have already been resolved, so Invoke only needs a cancellation context,
// a module id, and resolved params.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/plugin"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/types"
)

// HandlerSource resolves a builtin module id to its Handler. *registry.Registry
// satisfies this; kept as a narrow interface so invoker only depends on the
// two methods it actually calls.
type HandlerSource interface {
	GetHandler(moduleID string) (registry.Handler, bool)
	Get(moduleID string) (types.ModuleMetadata, bool)
}

// PluginPool is the subset of plugin.Pool Dispatcher depends on.
type PluginPool interface {
	Acquire(ctx context.Context) (*plugin.Process, error)
}

// Dispatcher routes a resolved module call to its builtin handler or to the
// plugin pool that hosts it, and normalizes whatever the target returned
// into the engine's StepResult contract.
type Dispatcher struct {
	registry HandlerSource
	hctx     registry.HandlerContext

	// pluginOwner maps a plugin-hosted module id to the name of the pool
	// that serves it; pools holds that pool by the same name. Both are
	// filled through RegisterPlugin, which package engine calls for every
	// module in the manifest loader's snapshot when it builds a Dispatcher.
	pluginOwner map[string]string
	pools       map[string]PluginPool
}

// New constructs a Dispatcher bound to one execution's context. The engine
// builds a fresh Dispatcher per execution since HandlerContext identity
// (execution id, workflow id) is execution-scoped.
func New(src HandlerSource, hctx registry.HandlerContext) *Dispatcher {
	return &Dispatcher{
		registry:    src,
		hctx:        hctx,
		pluginOwner: map[string]string{},
		pools:       map[string]PluginPool{},
	}
}

// RegisterPlugin associates a plugin-hosted module id with the pool that
// serves it. Calling it again for the same module id replaces the owner,
// which is how hot reload repoints modules at a freshly loaded plugin.
func (d *Dispatcher) RegisterPlugin(moduleID, poolName string, pool PluginPool) {
	d.pluginOwner[moduleID] = poolName
	d.pools[poolName] = pool
}

// Invoke satisfies executor.Invoker. Builtin flow.* modules dispatch
// in-process through the registry's Handler; everything else is expected
// to be served by a registered plugin pool.
func (d *Dispatcher) Invoke(ctx context.Context, moduleID string, params map[string]interface{}) (types.StepResult, error) {
	if types.IsBuiltin(moduleID) {
		return d.invokeBuiltin(ctx, moduleID, params)
	}
	if poolName, ok := d.pluginOwner[moduleID]; ok {
		return d.invokePlugin(ctx, poolName, moduleID, params)
	}
	return types.StepResult{}, errs.New(errs.NotFound, fmt.Sprintf("module %q is not a builtin and no plugin is registered to serve it", moduleID))
}

func (d *Dispatcher) invokeBuiltin(ctx context.Context, moduleID string, params map[string]interface{}) (types.StepResult, error) {
	handler, ok := d.registry.GetHandler(moduleID)
	if !ok {
		return types.StepResult{}, errs.New(errs.NotFound, fmt.Sprintf("builtin module %q has no registered handler", moduleID))
	}

	type outcome struct {
		result types.StepResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{result: types.StepResult{
					OK:        false,
					Error:     fmt.Sprintf("builtin module %q panicked: %v", moduleID, r),
					ErrorCode: string(errs.InternalError),
				}}
			}
		}()
		result, err := handler.Invoke(d.hctx, params)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.StepResult{}, errs.Wrap(errs.Timeout, fmt.Sprintf("builtin module %q timed out", moduleID), ctx.Err())
	case o := <-done:
		return o.result, o.err
	}
}

func (d *Dispatcher) invokePlugin(ctx context.Context, poolName, moduleID string, params map[string]interface{}) (types.StepResult, error) {
	pool, ok := d.pools[poolName]
	if !ok {
		return types.StepResult{}, errs.New(errs.NotFound, fmt.Sprintf("no plugin pool named %q for module %q", poolName, moduleID))
	}

	proc, err := pool.Acquire(ctx)
	if err != nil {
		return types.StepResult{}, errs.Wrap(errs.PluginCrashed, fmt.Sprintf("failed to acquire plugin instance for %q", moduleID), err)
	}

	raw, err := proc.Invoke(ctx, moduleID, params)
	if err != nil {
		return types.StepResult{}, err
	}
	return normalize(raw), nil
}

// normalize turns an arbitrary plugin response into a StepResult. Plugins
// may already speak the ok/data/error contract directly, or use the
// status:"completed"/"failed" convention; anything else is wrapped as a
// successful opaque value.
func normalize(raw json.RawMessage) types.StepResult {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		var arbitrary interface{}
		if err := json.Unmarshal(raw, &arbitrary); err != nil {
			return types.StepResult{OK: false, Error: "plugin returned malformed JSON", ErrorCode: string(errs.InternalError)}
		}
		return types.StepResult{OK: true, Data: arbitrary}
	}

	if okVal, hasOK := generic["ok"]; hasOK {
		result := types.StepResult{}
		if ok, _ := okVal.(bool); ok {
			result.OK = true
			result.Data = generic["data"]
		} else {
			result.OK = false
			result.Error, _ = generic["error"].(string)
			result.ErrorCode, _ = generic["error_code"].(string)
		}
		return result
	}

	if status, hasStatus := generic["status"]; hasStatus {
		switch status {
		case "completed", "success", "ok":
			data := generic
			delete(data, "status")
			return types.StepResult{OK: true, Data: data}
		case "failed", "error":
			errMsg, _ := generic["error"].(string)
			return types.StepResult{OK: false, Error: errMsg, ErrorCode: string(errs.ExecutionError)}
		}
	}

	return types.StepResult{OK: true, Data: generic}
}

// Package condition evaluates the CEL (Common Expression Language)
// boolean conditions used by flow.branch, flow.switch, and flow.loop. This
// is deliberately a separate grammar from the resolver's `{{path}}`
// variable references: conditions may use comparisons, boolean operators,
// and CEL's built-in functions, where `{{path}}` only ever denotes a value
// lookup.
package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/lyzr/flowengine/resolver"
)

// Evaluator compiles and caches CEL programs keyed by expression text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewEvaluator returns an Evaluator with an empty compile cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// EvalBool evaluates expr against the given namespaces and requires a
// boolean result — the shape every branch/switch-case/loop condition
// needs.
func (e *Evaluator) EvalBool(expr string, ns resolver.Namespaces) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"params":   ns.Params,
		"env":      toInterfaceMap(ns.Env),
		"steps":    ns.Steps,
		"workflow": ns.Builtins["workflow"],
	})
	if err != nil {
		return false, fmt.Errorf("condition: evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition: expression %q did not return a boolean (got %T)", expr, out.Value())
	}
	return result, nil
}

// EvalValue evaluates expr and returns its native result, for uses like
// flow.switch matching an arbitrary expression's value against declared
// case values rather than requiring a boolean.
func (e *Evaluator) EvalValue(expr string, ns resolver.Namespaces) (interface{}, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"params":   ns.Params,
		"env":      toInterfaceMap(ns.Env),
		"steps":    ns.Steps,
		"workflow": ns.Builtins["workflow"],
	})
	if err != nil {
		return nil, fmt.Errorf("condition: evaluation error: %w", err)
	}
	return out.Value(), nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("params", cel.DynType),
		cel.Variable("env", cel.DynType),
		cel.Variable("steps", cel.DynType),
		cel.Variable("workflow", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("condition: failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("condition: compilation error in %q: %w", expr, issues.Err())
	}

	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("condition: failed to build program for %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// ClearCache discards every compiled program, used when a workflow's
// conditions should be recompiled (e.g. after a module_catalog_version
// bump changes available functions).
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

func toInterfaceMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

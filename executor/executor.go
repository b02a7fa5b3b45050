// Package executor runs one node: resolving its params, validating them
// against the module's declared params_schema, invoking the module under
// a timeout budget, and applying retry/backoff when the failure is
// retryable.
package executor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/execctx"
	"github.com/lyzr/flowengine/resolver"
	"github.com/lyzr/flowengine/types"
)

// Invoker dispatches a resolved call to a module, builtin or plugin alike.
// Package invoker implements this; executor only depends on the interface
// so it never needs to know which transport served a given module.
type Invoker interface {
	Invoke(ctx context.Context, moduleID string, params map[string]interface{}) (types.StepResult, error)
}

// MetadataSource looks up a module's declared contract for param
// validation and default timeout/retry policy. registry.Registry
// satisfies this.
type MetadataSource interface {
	Get(moduleID string) (types.ModuleMetadata, bool)
}

// Executor runs individual nodes against an Invoker.
type Executor struct {
	invoker  Invoker
	registry MetadataSource

	// EngineDefaultTimeout applies when neither the node nor the module
	// declares one.
	EngineDefaultTimeout time.Duration

	// Sleep is overridable so retry-backoff tests don't need to wait in
	// real time.
	Sleep func(time.Duration)
}

// New constructs an Executor with the engine-wide default timeout and a
// 300-second fallback if none is given.
func New(invoker Invoker, reg MetadataSource, engineDefaultTimeout time.Duration) *Executor {
	if engineDefaultTimeout <= 0 {
		engineDefaultTimeout = 300 * time.Second
	}
	return &Executor{
		invoker:              invoker,
		registry:             reg,
		EngineDefaultTimeout: engineDefaultTimeout,
		Sleep:                time.Sleep,
	}
}

// Run resolves node.Params against ectx, validates them, and invokes the
// module with retry/backoff as configured. The returned StepResult is
// always non-nil; the error return signals a validation failure that
// prevented any invocation attempt (params didn't resolve/validate),
// distinct from an invocation that ran and failed.
func (e *Executor) Run(ctx context.Context, ectx *execctx.Context, node *types.Node) (types.StepResult, error) {
	ns := ectx.Namespaces()

	resolved, err := resolver.ResolveValue(node.Params, ns)
	if err != nil {
		return types.StepResult{}, errs.Wrap(errs.ValidationError, "failed to resolve params", err)
	}
	resolvedParams, _ := resolved.(map[string]interface{})
	if resolvedParams == nil {
		resolvedParams = map[string]interface{}{}
	}

	meta, hasMeta := e.registry.Get(node.Module)
	if hasMeta {
		if err := validateParams(resolvedParams, meta.ParamsSchema); err != nil {
			return types.StepResult{}, err
		}
	}

	timeout := e.resolveTimeout(node, meta, hasMeta)
	retry := node.Retry
	if retry == nil {
		retry = &types.RetryPolicy{Count: 0}
	}

	var result types.StepResult
	attempts := 0
	start := time.Now()

	for {
		attempts++
		var attemptCtx context.Context
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			attemptCtx, cancel = context.WithCancel(ctx)
		}
		result, err = e.invoker.Invoke(attemptCtx, node.Module, resolvedParams)
		cancel()

		if err == nil && result.OK {
			break
		}

		code := errs.CodeOf(err)
		if err == nil && result.ErrorCode != "" {
			code = errs.Code(result.ErrorCode)
		}
		if attemptCtx.Err() == context.DeadlineExceeded {
			code = errs.Timeout
		}

		if attempts > retry.Count || !isRetryable(code, retry.RetryOn) {
			if err != nil && result.Error == "" {
				result = types.StepResult{OK: false, Error: err.Error(), ErrorCode: string(code)}
			}
			break
		}

		delay := backoffDelay(retry, attempts)
		if delay > 0 {
			e.Sleep(delay)
		}
	}

	if result.Meta == nil {
		result.Meta = map[string]interface{}{}
	}
	result.Meta[types.MetaModuleID] = node.Module
	result.Meta[types.MetaDurationMS] = time.Since(start).Milliseconds()
	result.Meta[types.MetaAttempts] = attempts

	return result, nil
}

// resolveTimeout picks the smallest positive timeout among node, module,
// and engine default. A node timeout explicitly set to 0 means "no
// enforcement" (§4.4 step 3, §8 boundary behaviors) and short-circuits the
// whole calculation — it is not merely another candidate, since the
// engine/module defaults would otherwise silently win over an explicit
// "disabled".
func (e *Executor) resolveTimeout(node *types.Node, meta types.ModuleMetadata, hasMeta bool) time.Duration {
	if node.TimeoutMS != nil && *node.TimeoutMS == 0 {
		return 0
	}

	candidates := []time.Duration{e.EngineDefaultTimeout}
	if hasMeta && meta.TimeoutMS > 0 {
		candidates = append(candidates, time.Duration(meta.TimeoutMS)*time.Millisecond)
	}
	if node.TimeoutMS != nil && *node.TimeoutMS > 0 {
		candidates = append(candidates, time.Duration(*node.TimeoutMS)*time.Millisecond)
	}
	min := candidates[0]
	for _, c := range candidates[1:] {
		if c < min {
			min = c
		}
	}
	return min
}

func isRetryable(code errs.Code, retryOn []string) bool {
	if len(retryOn) > 0 {
		for _, c := range retryOn {
			if errs.Code(c) == code {
				return true
			}
		}
		return false
	}
	return errs.IsDefaultRetryable(code)
}

func backoffDelay(retry *types.RetryPolicy, attempt int) time.Duration {
	base := time.Duration(retry.DelayMS) * time.Millisecond
	if base <= 0 {
		return 0
	}
	switch retry.Backoff {
	case types.BackoffLinear:
		return base * time.Duration(attempt)
	case types.BackoffExponential:
		return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	default:
		return base
	}
}

// validateParams checks required fields are present and enum/min/max/
// pattern constraints are satisfied. It does not coerce types — the
// resolver already returns natively-typed JSON values.
func validateParams(params map[string]interface{}, schema map[string]types.ParamSpec) error {
	for name, spec := range schema {
		v, present := params[name]
		if !present || v == nil {
			if spec.Required {
				return errs.New(errs.ValidationError, fmt.Sprintf("missing required param %q", name)).WithField(name)
			}
			continue
		}
		if spec.Constraints == nil {
			continue
		}
		if err := checkConstraints(name, v, spec.Constraints); err != nil {
			return err
		}
	}
	return nil
}

func checkConstraints(name string, v interface{}, c *types.Constraints) error {
	if num, ok := asFloat(v); ok {
		if c.Min != nil && num < *c.Min {
			return errs.New(errs.ValidationError, fmt.Sprintf("param %q below minimum", name)).WithField(name)
		}
		if c.Max != nil && num > *c.Max {
			return errs.New(errs.ValidationError, fmt.Sprintf("param %q above maximum", name)).WithField(name)
		}
	}
	if len(c.Enum) > 0 {
		s := fmt.Sprintf("%v", v)
		found := false
		for _, e := range c.Enum {
			if e == s {
				found = true
				break
			}
		}
		if !found {
			return errs.New(errs.ValidationError, fmt.Sprintf("param %q is not one of the allowed values", name)).WithField(name)
		}
	}
	if c.Pattern != "" {
		s, ok := v.(string)
		if !ok {
			return errs.New(errs.ValidationError, fmt.Sprintf("param %q must be a string to match pattern %q", name, c.Pattern)).WithField(name)
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return errs.Wrap(errs.ValidationError, fmt.Sprintf("param %q: invalid pattern %q", name, c.Pattern), err).WithField(name)
		}
		if !re.MatchString(s) {
			return errs.New(errs.ValidationError, fmt.Sprintf("param %q does not match pattern %q", name, c.Pattern)).WithField(name)
		}
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

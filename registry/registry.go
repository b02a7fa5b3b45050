// Package registry implements the module registry: registration,
// lookup, the tiered public/internal catalog views, connection
// compatibility checks, start-node inference, and VarCatalog-style
// introspection of a module's declared contract.
package registry

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/invopop/jsonschema"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// Handler is the in-process implementation of a module (builtin flow.*
// handlers, or an adapter that forwards to a plugin). Package invoker holds
// the dispatch policy between the two; the registry only stores and
// returns handlers by module id.
type Handler interface {
	Invoke(ctx HandlerContext, params map[string]interface{}) (types.StepResult, error)
}

// HandlerContext is the minimal surface a Handler needs; execctx.Context
// satisfies a superset of this. Kept as an interface here so registry does
// not import execctx (which already imports registry's sibling resolver —
// registry stays a leaf package).
type HandlerContext interface {
	ExecutionID() string
	WorkflowID() string
}

// ViewMode selects which catalog fields are visible: public or internal.
type ViewMode string

const (
	ViewPublic   ViewMode = "public"
	ViewInternal ViewMode = "internal"
)

// ConnectResult is can_connect's three-valued outcome.
type ConnectResult string

const (
	ConnectOK               ConnectResult = "OK"
	ConnectIncompatibleType ConnectResult = "INCOMPATIBLE_TYPE"
	ConnectPortNotFound     ConnectResult = "PORT_NOT_FOUND"
)

// TieredCatalog is catalog(mode)'s tiered grouping, keyed the way a workflow
// editor's module palette groups its sections.
type TieredCatalog struct {
	Featured []types.ModuleMetadata `json:"featured"`
	Standard []types.ModuleMetadata `json:"standard"`
	Toolkit  []types.ModuleMetadata `json:"toolkit"`
	Internal []types.ModuleMetadata `json:"internal"`
}

type entry struct {
	meta    types.ModuleMetadata
	handler Handler
}

// Registry is the process-wide module catalog.
type Registry struct {
	mu       sync.RWMutex
	modules  map[string]entry
	validate *validator.Validate

	schemaCache *lru.Cache[string, *jsonschema.Schema]
}

// New constructs an empty registry. cacheSize bounds the number of compiled
// JSON Schema entries kept for repeated catalog/introspect calls.
func New(cacheSize int) *Registry {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, _ := lru.New[string, *jsonschema.Schema](cacheSize)
	return &Registry{
		modules:     map[string]entry{},
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		schemaCache: cache,
	}
}

// Register validates metadata against its struct tags and the data-type
// vocabulary, then stores the module. Re-registering the same module id
// overwrites the previous entry (idempotent registration, used by hot
// reload).
func (r *Registry) Register(meta types.ModuleMetadata, handler Handler) error {
	if err := r.validate.Struct(meta); err != nil {
		return errs.New(errs.ValidationError, fmt.Sprintf("module %s: %v", meta.ModuleID, err))
	}
	for _, t := range meta.InputTypes {
		if !types.IsKnownType(t) {
			return errs.New(errs.ValidationError, fmt.Sprintf("module %s: unknown input type %q", meta.ModuleID, t))
		}
	}
	for _, t := range meta.OutputTypes {
		if !types.IsKnownType(t) {
			return errs.New(errs.ValidationError, fmt.Sprintf("module %s: unknown output type %q", meta.ModuleID, t))
		}
	}
	for _, c := range meta.Capabilities {
		if !types.IsKnownCapability(c) {
			return errs.New(errs.ValidationError, fmt.Sprintf("module %s: unknown capability %q", meta.ModuleID, c))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules[meta.ModuleID] = entry{meta: meta, handler: handler}
	r.schemaCache.Remove(meta.ModuleID)
	return nil
}

// Get returns a module's metadata.
func (r *Registry) Get(moduleID string) (types.ModuleMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.modules[moduleID]
	return e.meta, ok
}

// GetHandler returns a module's executable handler.
func (r *Registry) GetHandler(moduleID string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.modules[moduleID]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Catalog returns every registered module's metadata visible at the given
// view mode, as a flat listing. The internal view returns everything; the
// public view excludes internal-tier modules.
func (r *Registry) Catalog(mode ViewMode) []types.ModuleMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ModuleMetadata, 0, len(r.modules))
	for _, e := range r.modules {
		if mode == ViewPublic && e.meta.Tier == types.TierInternal {
			continue
		}
		out = append(out, e.meta)
	}
	return out
}

// CatalogTiered returns the same visible set as Catalog, grouped by tier —
// the palette sectioning a workflow editor shows instead of one flat list.
func (r *Registry) CatalogTiered(mode ViewMode) TieredCatalog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out TieredCatalog
	for _, e := range r.modules {
		if mode == ViewPublic && e.meta.Tier == types.TierInternal {
			continue
		}
		switch e.meta.Tier {
		case types.TierFeatured:
			out.Featured = append(out.Featured, e.meta)
		case types.TierToolkit:
			out.Toolkit = append(out.Toolkit, e.meta)
		case types.TierInternal:
			out.Internal = append(out.Internal, e.meta)
		default:
			out.Standard = append(out.Standard, e.meta)
		}
	}
	return out
}

// CanConnect reports whether an edge from sourceModule's output port
// (fromPort, a key in its output_schema) to targetModule's input port
// (toPort, a key in its params_schema) is connectable: both ports must
// exist, and the resolved data type must satisfy the type hierarchy plus
// any can_connect_to/can_receive_from pattern allowlist declared on either
// end.
func (r *Registry) CanConnect(sourceModule, fromPort, targetModule, toPort string, dataType types.DataType) ConnectResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	source, srcOK := r.modules[sourceModule]
	target, tgtOK := r.modules[targetModule]
	if !srcOK || !tgtOK {
		return ConnectPortNotFound
	}
	if !portExists(source.meta.OutputSchema, fromPort) {
		return ConnectPortNotFound
	}
	if !portExists(target.meta.ParamsSchema, toPort) {
		return ConnectPortNotFound
	}

	if len(target.meta.CanReceiveFrom) > 0 && !matchesPattern(target.meta.CanReceiveFrom, sourceModule) {
		return ConnectIncompatibleType
	}
	if len(source.meta.CanConnectTo) > 0 && !matchesPattern(source.meta.CanConnectTo, targetModule) {
		return ConnectIncompatibleType
	}

	if len(target.meta.InputTypes) == 0 {
		return ConnectOK
	}
	for _, t := range target.meta.InputTypes {
		if types.IsCompatible(dataType, t) {
			return ConnectOK
		}
	}
	return ConnectIncompatibleType
}

// portExists reports whether name is a declared port in schema. A module
// with no declared ports at all (e.g. flow.* control nodes, which carry
// untyped params) is treated as exposing every port name, since their
// schema is intentionally open.
func portExists[T any](schema map[string]T, name string) bool {
	if len(schema) == 0 {
		return true
	}
	_, ok := schema[name]
	return ok
}

// matchesPattern reports whether id satisfies any entry in patterns: an
// exact match, a bare "*" (matches anything), or a "prefix.*" namespace
// wildcard.
func matchesPattern(patterns []string, id string) bool {
	for _, p := range patterns {
		if p == "*" || p == id {
			return true
		}
		if strings.HasSuffix(p, ".*") && strings.HasPrefix(id, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

// Startable returns the module ids eligible to be a workflow's start node.
func (r *Registry) Startable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for id, e := range r.modules {
		if e.meta.IsStartCandidate() {
			out = append(out, id)
		}
	}
	return out
}

// Introspect returns a JSON-Schema rendering of a module's params_schema,
// compiled once and cached; output_schema is not rendered. This is the VarCatalog
// surface a workflow editor uses to drive form generation.
func (r *Registry) Introspect(moduleID string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	if cached, ok := r.schemaCache.Get(moduleID); ok {
		r.mu.RUnlock()
		return cached, nil
	}
	e, ok := r.modules[moduleID]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("module %q not registered", moduleID))
	}

	schema := paramsToJSONSchema(e.meta)
	r.mu.Lock()
	r.schemaCache.Add(moduleID, schema)
	r.mu.Unlock()
	return schema, nil
}

func paramsToJSONSchema(meta types.ModuleMetadata) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
		Required:   []string{},
	}
	for name, p := range meta.ParamsSchema {
		prop := &jsonschema.Schema{Type: jsonTypeOf(p.Type)}
		if len(p.Options) > 0 {
			for _, o := range p.Options {
				prop.Enum = append(prop.Enum, o)
			}
		}
		if p.Constraints != nil {
			if p.Constraints.Min != nil {
				prop.Minimum = new(big.Rat).SetFloat64(*p.Constraints.Min)
			}
			if p.Constraints.Max != nil {
				prop.Maximum = new(big.Rat).SetFloat64(*p.Constraints.Max)
			}
			if p.Constraints.Pattern != "" {
				prop.Pattern = p.Constraints.Pattern
			}
		}
		s.Properties.Set(name, prop)
		if p.Required {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func jsonTypeOf(t types.DataType) string {
	switch t {
	case types.TypeNumber:
		return "number"
	case types.TypeBoolean:
		return "boolean"
	case types.TypeObject, types.TypeJSON:
		return "object"
	case types.TypeArray:
		return "array"
	default:
		return "string"
	}
}


package engine

import (
	"context"

	"github.com/lyzr/flowengine/compiler"
	"github.com/lyzr/flowengine/registry"
	"github.com/lyzr/flowengine/types"
)

// IntrospectMode selects what VarCatalogField values are populated with:
// edit mode renders the module's declared output_schema types, runtime
// mode additionally surfaces the value a past execution actually observed.
type IntrospectMode string

const (
	IntrospectEdit    IntrospectMode = "edit"
	IntrospectRuntime IntrospectMode = "runtime"
)

// VarCatalog is the variable-reference surface a workflow editor needs at
// one node: every ancestor node's id/alias and the output fields it
// declares, so an editor can offer `{{nodeID.field}}` autocompletion
// without re-deriving reachability itself.
type VarCatalog struct {
	NodeID  string            `json:"node_id"`
	Entries []VarCatalogEntry `json:"entries"`
}

// VarCatalogEntry describes one reachable ancestor's addressable output.
type VarCatalogEntry struct {
	NodeID      string            `json:"node_id"`
	OutputAlias string            `json:"output_alias,omitempty"`
	ModuleID    string            `json:"module_id"`
	Label       string            `json:"label"`
	Fields      []VarCatalogField `json:"fields"`
}

// VarCatalogField is one addressable `{{nodeID.field}}` path. ObservedValue
// is only populated in IntrospectRuntime mode, and only when the named
// execution recorded evidence for that ancestor node.
type VarCatalogField struct {
	Name          string         `json:"name"`
	Type          types.DataType `json:"type"`
	Description   string         `json:"description,omitempty"`
	ObservedValue interface{}    `json:"observed_value,omitempty"`
}

// Introspect computes the VarCatalog of every node that strictly precedes
// nodeID in wf — the set of step outputs nodeID's params may legally
// reference per the compiler's future-reference check — rendered in view
// (public hides internal-tier modules' fields).
//
// In IntrospectRuntime mode, executionID names a past execution whose
// stored evidence supplies each field's ObservedValue; it is ignored in
// IntrospectEdit mode and may be empty.
func (e *Engine) Introspect(ctx context.Context, wf *types.Workflow, nodeID string, view registry.ViewMode, mode IntrospectMode, executionID, locale string) (*VarCatalog, error) {
	g, err := compiler.Compile(wf)
	if err != nil {
		return nil, err
	}

	var observed map[string]map[string]interface{}
	if mode == IntrospectRuntime && executionID != "" {
		records, err := e.store.LoadEvidence(ctx, executionID)
		if err != nil {
			return nil, err
		}
		observed = observedValuesByNode(records)
	}

	ancestors := ancestorsOf(g, nodeID)
	catalog := &VarCatalog{NodeID: nodeID}

	for _, ancID := range orderedByGraph(g, ancestors) {
		node := g.Nodes[ancID]
		if node == nil {
			continue
		}
		meta, ok := e.registry.Get(node.Module)
		if !ok {
			continue
		}
		if view == registry.ViewPublic && meta.Tier == types.TierInternal {
			continue
		}
		label, _ := e.translator.ResolveModule(meta, locale)

		entry := VarCatalogEntry{
			NodeID: ancID, OutputAlias: node.OutputAlias,
			ModuleID: node.Module, Label: label,
		}
		nodeValue, hasNodeValue := observed[ancID]
		for name, spec := range meta.OutputSchema {
			field := VarCatalogField{
				Name: name, Type: spec.Type,
				Description: e.translator.ResolveOutputField(spec, locale),
			}
			if hasNodeValue {
				field.ObservedValue = fieldValue(nodeValue, name)
			}
			entry.Fields = append(entry.Fields, field)
		}
		catalog.Entries = append(catalog.Entries, entry)
	}
	return catalog, nil
}

// observedValuesByNode picks, for each node id, the data recorded by that
// node's own step (its evidence record's ContextAfter, taken right after
// RecordStepOutput ran for it — see schedule.go's runNode).
func observedValuesByNode(records []types.EvidenceRecord) map[string]map[string]interface{} {
	out := map[string]map[string]interface{}{}
	for _, rec := range records {
		steps, _ := rec.ContextAfter["steps"].(map[string]interface{})
		if steps == nil {
			continue
		}
		data, _ := steps[rec.NodeID].(map[string]interface{})
		if data != nil {
			out[rec.NodeID] = data
		}
	}
	return out
}

func fieldValue(data map[string]interface{}, name string) interface{} {
	if data == nil {
		return nil
	}
	return data[name]
}

// ancestorsOf walks predecessor edges from nodeID, following loopback edges
// too (a loop body's prior iteration output is a legitimate reference).
func ancestorsOf(g *compiler.Graph, nodeID string) map[string]bool {
	visited := map[string]bool{}
	var walk func(id string)
	walk = func(id string) {
		for _, e := range g.Router.Predecessors(id) {
			if visited[e.SourceNode] {
				continue
			}
			visited[e.SourceNode] = true
			walk(e.SourceNode)
		}
	}
	walk(nodeID)
	return visited
}

// orderedByGraph renders a set of node ids in declared-node order, for a
// stable, reviewable catalog listing.
func orderedByGraph(g *compiler.Graph, set map[string]bool) []string {
	var out []string
	for _, n := range g.Workflow.Nodes {
		if set[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

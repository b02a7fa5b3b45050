// Package compiler materializes a Workflow document into a graph ready for
// execution and validates its structural invariants: exactly one
// reachable start node, no orphaned nodes, no unintended cycles, and no
// node referencing a step output that cannot possibly have completed by
// the time it runs.
package compiler

import (
	"fmt"
	"regexp"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/router"
	"github.com/lyzr/flowengine/types"
)

// loopbackModules are builtins allowed to introduce a cycle deliberately;
// any other cycle is a workflow authoring error.
var loopbackModules = map[string]bool{
	"flow.loop":    true,
	"flow.goto":    true,
	"flow.foreach": true,
}

// Graph is a compiled, ready-to-execute workflow.
type Graph struct {
	Workflow *types.Workflow
	Nodes    map[string]*types.Node
	Edges    []types.Edge
	Router   *router.Router

	// StartNodes are the node ids with no incoming edges (or explicitly
	// marked flow.start), the set execution begins from.
	StartNodes []string
}

// Compile materializes steps (linear form) into nodes+edges if needed and
// builds lookup structures. It does not validate; call Validate separately
// so callers can choose to compile-without-validating during tests.
func Compile(wf *types.Workflow) (*Graph, error) {
	if err := wf.Validate(); err != nil {
		return nil, errs.Wrap(errs.ValidationError, err.Error(), err)
	}

	graphForm := wf.ToGraphForm()

	nodes := make(map[string]*types.Node, len(graphForm.Nodes))
	for i := range graphForm.Nodes {
		n := &graphForm.Nodes[i]
		nodes[n.ID] = n
	}

	g := &Graph{
		Workflow: graphForm,
		Nodes:    nodes,
		Edges:    graphForm.Edges,
		Router:   router.New(graphForm.Edges),
	}
	g.StartNodes = computeStartNodes(g)
	return g, nil
}

func computeStartNodes(g *Graph) []string {
	hasIncoming := map[string]bool{}
	for _, e := range g.Edges {
		hasIncoming[e.TargetNode] = true
	}
	var starts []string
	for id, n := range g.Nodes {
		if n.Module == "flow.start" || !hasIncoming[id] {
			starts = append(starts, id)
		}
	}
	return starts
}

// Validate checks the structural invariants the engine depends on before
// it will ever execute a workflow.
func Validate(g *Graph) error {
	if len(g.StartNodes) == 0 {
		// A graph where every node has an incoming edge is usually a plain
		// cycle; report that before the missing entry point.
		if err := checkCycles(g); err != nil {
			return err
		}
		return errs.New(errs.NoStartNode, "workflow has no start node: every node has an incoming edge")
	}
	if len(g.StartNodes) > 1 {
		return errs.New(errs.MultipleStartNodes, fmt.Sprintf("workflow has %d candidate start nodes: %v", len(g.StartNodes), g.StartNodes))
	}
	for _, id := range g.StartNodes {
		n := g.Nodes[id]
		if n.Module == "" {
			return errs.New(errs.InvalidStartNode, fmt.Sprintf("start node %q has no module", id))
		}
	}

	if err := checkCycles(g); err != nil {
		return err
	}
	if err := checkOrphans(g); err != nil {
		return err
	}
	if err := checkFutureReferences(g); err != nil {
		return err
	}
	return nil
}

// checkCycles runs a DFS over the edge graph, ignoring back-edges that
// originate from a declared loop/goto module (those cycles are
// intentional and bounded by the builtin's own iteration ceiling).
func checkCycles(g *Graph) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, e := range g.Router.Successors(id) {
			srcModule := ""
			if n, ok := g.Nodes[id]; ok {
				srcModule = n.Module
			}
			if loopbackModules[srcModule] {
				continue
			}
			switch color[e.TargetNode] {
			case white:
				if err := visit(e.TargetNode); err != nil {
					return err
				}
			case gray:
				return errs.New(errs.CycleDetected, fmt.Sprintf("cycle detected through node %q -> %q", id, e.TargetNode))
			}
		}
		color[id] = black
		return nil
	}

	for id := range g.Nodes {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkOrphans verifies every node is reachable from a start node,
// following edges but also treating loopback-module edges as traversable
// (a node reachable only through a loop body is still reachable).
func checkOrphans(g *Graph) error {
	reached := map[string]bool{}
	var queue []string
	for _, id := range g.StartNodes {
		reached[id] = true
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Router.Successors(id) {
			if !reached[e.TargetNode] {
				reached[e.TargetNode] = true
				queue = append(queue, e.TargetNode)
			}
		}
	}

	var orphans []string
	for id := range g.Nodes {
		if !reached[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		return errs.New(errs.OrphanNode, fmt.Sprintf("unreachable nodes: %v", orphans))
	}
	return nil
}

var stepRefPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)`)

// checkFutureReferences computes a topological order over the non-loopback
// edges and rejects any node whose params reference (via `{{nodeID...}}`)
// a node that is not a strict ancestor of it — referencing a node that
// cannot possibly have completed yet.
func checkFutureReferences(g *Graph) error {
	order, err := topologicalOrder(g)
	if err != nil {
		// A graph with only intentional loop cycles may not admit a total
		// order; future-reference checking is best-effort and skipped in
		// that case rather than blocking otherwise-valid workflows.
		return nil
	}
	position := make(map[string]int, len(order))
	for i, id := range order {
		position[id] = i
	}

	ancestors := computeAncestors(g, order)

	reserved := map[string]bool{"params": true, "env": true, "timestamp": true, "workflow": true}
	for id, n := range g.Nodes {
		for _, raw := range flattenStrings(n.Params) {
			for _, m := range stepRefPattern.FindAllStringSubmatch(raw, -1) {
				ref := m[1]
				if reserved[ref] || ref == id {
					continue
				}
				if _, isNode := g.Nodes[ref]; !isNode {
					continue
				}
				if !ancestors[id][ref] {
					return errs.New(errs.ValidationError, fmt.Sprintf("node %q references %q, which cannot have completed yet", id, ref))
				}
			}
		}
	}
	return nil
}

func topologicalOrder(g *Graph) ([]string, error) {
	indegree := map[string]int{}
	for id := range g.Nodes {
		indegree[id] = 0
	}
	for id := range g.Nodes {
		for _, e := range g.Router.Successors(id) {
			srcModule := g.Nodes[id].Module
			if loopbackModules[srcModule] {
				continue
			}
			indegree[e.TargetNode]++
		}
	}

	var queue, order []string
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, e := range g.Router.Successors(id) {
			if loopbackModules[g.Nodes[id].Module] {
				continue
			}
			indegree[e.TargetNode]--
			if indegree[e.TargetNode] == 0 {
				queue = append(queue, e.TargetNode)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("compiler: graph is not a DAG once loopback edges are excluded")
	}
	return order, nil
}

func computeAncestors(g *Graph, order []string) map[string]map[string]bool {
	ancestors := make(map[string]map[string]bool, len(order))
	for _, id := range order {
		set := map[string]bool{}
		for _, e := range g.Router.Predecessors(id) {
			if loopbackModules[g.Nodes[e.SourceNode].Module] {
				continue
			}
			set[e.SourceNode] = true
			for anc := range ancestors[e.SourceNode] {
				set[anc] = true
			}
		}
		ancestors[id] = set
	}
	return ancestors
}

func flattenStrings(v interface{}) []string {
	var out []string
	switch val := v.(type) {
	case string:
		out = append(out, val)
	case map[string]interface{}:
		for _, sub := range val {
			out = append(out, flattenStrings(sub)...)
		}
	case []interface{}:
		for _, sub := range val {
			out = append(out, flattenStrings(sub)...)
		}
	}
	return out
}

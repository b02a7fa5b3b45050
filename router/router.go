// Package router implements the event-driven control-flow routing between
// nodes: resolving which edges fire given a completed node's selected
// output port(s), and tracking join/merge arrivals for nodes that
// aggregate multiple incoming edges.
//
// Ordinary nodes propagate independently along each outgoing edge that
// matches the port they fired — a node with two incoming edges from two
// mutually-exclusive branch arms simply runs once per arm that actually
// fires, the same as any DAG executor. flow.merge and flow.join are the
// explicit aggregation points: they alone consult a JoinTracker that waits
// for multiple arrivals under a configurable strategy before they are
// considered ready.
package router

import (
	"sync"

	"github.com/lyzr/flowengine/types"
)

// DefaultPort is the port name used by ordinary (non-control-flow) nodes
// and by edges that don't declare an explicit source_port.
const DefaultPort = "out"

// Router resolves edges by (source node, port) and owns join/merge
// arrival bookkeeping for one execution.
type Router struct {
	outgoing map[string][]types.Edge // keyed by source node id
	incoming map[string][]types.Edge // keyed by target node id

	mu    sync.Mutex
	joins map[string]*joinState
}

// New builds a Router from a workflow's edge list.
func New(edges []types.Edge) *Router {
	r := &Router{
		outgoing: map[string][]types.Edge{},
		incoming: map[string][]types.Edge{},
		joins:    map[string]*joinState{},
	}
	for _, e := range edges {
		r.outgoing[e.SourceNode] = append(r.outgoing[e.SourceNode], e)
		r.incoming[e.TargetNode] = append(r.incoming[e.TargetNode], e)
	}
	return r
}

// Predecessors returns every edge pointing into nodeID.
func (r *Router) Predecessors(nodeID string) []types.Edge {
	return r.incoming[nodeID]
}

// Successors returns every edge leaving nodeID.
func (r *Router) Successors(nodeID string) []types.Edge {
	return r.outgoing[nodeID]
}

// portOf normalizes an edge's declared source port, defaulting empty to
// DefaultPort so linear-form edges (which never set SourcePort) match a
// plain completion.
func portOf(e types.Edge) string {
	if e.SourcePort == "" {
		return DefaultPort
	}
	return e.SourcePort
}

// NextNodes returns the target node ids reachable from sourceNode along
// any of firedPorts. flow.fork passes multiple ports to fire several
// branches from one completion; an ordinary node passes [DefaultPort].
func (r *Router) NextNodes(sourceNode string, firedPorts []string) []string {
	want := make(map[string]bool, len(firedPorts))
	for _, p := range firedPorts {
		want[p] = true
	}

	seen := map[string]bool{}
	var out []string
	for _, e := range r.outgoing[sourceNode] {
		if !want[portOf(e)] {
			continue
		}
		if !seen[e.TargetNode] {
			seen[e.TargetNode] = true
			out = append(out, e.TargetNode)
		}
	}
	return out
}

// JoinStrategy selects how a flow.merge/flow.join node decides it has
// received enough inputs to fire.
type JoinStrategy string

const (
	JoinAll   JoinStrategy = "all"
	JoinAny   JoinStrategy = "any"
	JoinRace  JoinStrategy = "race"
	JoinCount JoinStrategy = "count"
)

type joinState struct {
	mu       sync.Mutex
	strategy JoinStrategy
	k        int
	total    int
	arrived  map[string]bool
	fired    bool
	winner   string
}

// RegisterJoin declares a merge/join node's aggregation strategy. total is
// the number of distinct predecessor edges it has; k is only meaningful
// for JoinCount.
func (r *Router) RegisterJoin(nodeID string, strategy JoinStrategy, k, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins[nodeID] = &joinState{
		strategy: strategy,
		k:        k,
		total:    total,
		arrived:  map[string]bool{},
	}
}

// Arrive records that fromNode completed and fed into nodeID, a registered
// join. Calls must come in the order the engine observed completions
// (seq order) so JoinRace deterministically picks the first caller as the
// winner instead of relying on wall-clock timing.
//
// ready reports whether nodeID's join condition is now satisfied; once
// ready is true for a given nodeID, subsequent Arrive calls for it are
// no-ops (the join has already fired). contributing lists every node that
// had arrived by the time it fired.
func (r *Router) Arrive(nodeID, fromNode string) (ready bool, winner string, contributing []string) {
	r.mu.Lock()
	js, ok := r.joins[nodeID]
	r.mu.Unlock()
	if !ok {
		// Not a registered join: a bare arrival always "fires" by itself.
		return true, fromNode, []string{fromNode}
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	if js.fired {
		return false, js.winner, nil
	}

	js.arrived[fromNode] = true

	switch js.strategy {
	case JoinAny:
		js.fired = true
		js.winner = fromNode
	case JoinRace:
		js.fired = true
		js.winner = fromNode
	case JoinCount:
		if len(js.arrived) >= js.k {
			js.fired = true
		}
	case JoinAll:
		fallthrough
	default:
		if len(js.arrived) >= js.total {
			js.fired = true
		}
	}

	if !js.fired {
		return false, "", nil
	}

	contributing = make([]string, 0, len(js.arrived))
	for n := range js.arrived {
		contributing = append(contributing, n)
	}
	return true, js.winner, contributing
}

// JoinArrivedCount reports how many distinct predecessors have arrived for
// a registered join, for introspection/trace purposes.
func (r *Router) JoinArrivedCount(nodeID string) int {
	r.mu.Lock()
	js, ok := r.joins[nodeID]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	js.mu.Lock()
	defer js.mu.Unlock()
	return len(js.arrived)
}

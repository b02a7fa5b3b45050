// Package types holds the data model shared by every engine package: the
// Workflow document shape, module metadata, and the normalized outcome
// contracts (StepResult, EngineEvent). It deliberately carries no behavior
// beyond small, obviously-correct helpers — the packages that act on these
// types (resolver, router, executor, registry) own the logic.
package types

import "fmt"

// ReservedNodeIDs are node identifiers a workflow author may not use because
// they collide with resolver namespaces or document keywords.
var ReservedNodeIDs = map[string]bool{
	"params": true, "env": true, "timestamp": true, "workflow": true,
	"output": true, "steps": true, "null": true, "true": true, "false": true,
}

// OnError is the node-level failure policy.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
	OnErrorSkip     OnError = "skip"
	OnErrorGoto     OnError = "goto"
)

// Backoff selects the retry delay growth function.
type Backoff string

const (
	BackoffNone        Backoff = "none"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// OutputMode controls how a foreach step aggregates per-iteration results.
type OutputMode string

const (
	OutputModeCollect OutputMode = "collect"
	OutputModeLast    OutputMode = "last"
	OutputModeNone    OutputMode = "none"
)

// ParamDecl is one entry in a Workflow's ordered params declaration.
type ParamDecl struct {
	Name        string      `json:"name" yaml:"name"`
	Type        DataType    `json:"type" yaml:"type"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Constraints *Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Constraints mirrors the constraint shape used in both workflow params and
// module params_schema entries (min/max/enum/pattern).
type Constraints struct {
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Enum    []string `json:"enum,omitempty" yaml:"enum,omitempty"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// RetryPolicy configures step-level retry/backoff.
type RetryPolicy struct {
	Count    int      `json:"count,omitempty" yaml:"count,omitempty"`
	DelayMS  int      `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
	Backoff  Backoff  `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	RetryOn  []string `json:"retry_on,omitempty" yaml:"retry_on,omitempty"`
}

// Node is one step in a workflow graph.
type Node struct {
	ID           string                 `json:"id" yaml:"id"`
	Module       string                 `json:"module" yaml:"module"`
	Params       map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	OutputAlias  string                 `json:"output,omitempty" yaml:"output,omitempty"`
	When         string                 `json:"when,omitempty" yaml:"when,omitempty"`
	If           string                 `json:"if,omitempty" yaml:"if,omitempty"`
	OnError      OnError                `json:"on_error,omitempty" yaml:"on_error,omitempty"`
	OnErrorGoto  string                 `json:"on_error_goto,omitempty" yaml:"on_error_goto,omitempty"`
	// TimeoutMS is a pointer because an explicit `timeout: 0` (disable
	// enforcement) must be distinguishable from an omitted field (fall
	// back to the module/engine default); a plain int collapses both to
	// the zero value.
	TimeoutMS    *int                   `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry        *RetryPolicy           `json:"retry,omitempty" yaml:"retry,omitempty"`
	Foreach      string                 `json:"foreach,omitempty" yaml:"foreach,omitempty"`
	As           string                 `json:"as,omitempty" yaml:"as,omitempty"`
	OutputMode   OutputMode             `json:"output_mode,omitempty" yaml:"output_mode,omitempty"`
	Parallel     bool                   `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Condition evaluates to true/false for When/If; empty means "always run".
func (n *Node) Condition() string {
	if n.When != "" {
		return n.When
	}
	return n.If
}

// Edge is a directed link between two node ports.
type Edge struct {
	SourceNode string   `json:"source_node" yaml:"source_node"`
	SourcePort string   `json:"source_port,omitempty" yaml:"source_port,omitempty"`
	TargetNode string   `json:"target_node" yaml:"target_node"`
	TargetPort string   `json:"target_port,omitempty" yaml:"target_port,omitempty"`
	DataType   DataType `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Semantics  string   `json:"semantics,omitempty" yaml:"semantics,omitempty"`
}

// Step is the legacy linear-form entry; a Workflow using `steps` is
// equivalent to a straight edge chain in the graph form.
type Step struct {
	Node
}

// Workflow is the top-level declarative document.
type Workflow struct {
	ID          string                 `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string                 `json:"name" yaml:"name"`
	Version     string                 `json:"version,omitempty" yaml:"version,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Author      string                 `json:"author,omitempty" yaml:"author,omitempty"`
	Params      []ParamDecl            `json:"params,omitempty" yaml:"params,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Steps       []Step                 `json:"steps,omitempty" yaml:"steps,omitempty"`
	Nodes       []Node                 `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges       []Edge                 `json:"edges,omitempty" yaml:"edges,omitempty"`
	Output      map[string]string      `json:"output,omitempty" yaml:"output,omitempty"`
}

// IsLinearForm reports whether the workflow was authored using `steps`
// rather than `nodes`+`edges`.
func (w *Workflow) IsLinearForm() bool {
	return len(w.Steps) > 0 && len(w.Nodes) == 0 && len(w.Edges) == 0
}

// ToGraphForm returns an equivalent Workflow expressed as nodes+edges,
// materializing the legacy linear `steps` chain into a straight sequence of
// edges. If the workflow is already in graph form it is returned unchanged.
func (w *Workflow) ToGraphForm() *Workflow {
	if !w.IsLinearForm() {
		return w
	}
	out := *w
	out.Nodes = make([]Node, len(w.Steps))
	out.Edges = nil
	for i, s := range w.Steps {
		out.Nodes[i] = s.Node
		if i > 0 {
			out.Edges = append(out.Edges, Edge{
				SourceNode: w.Steps[i-1].ID,
				TargetNode: s.ID,
			})
		}
	}
	out.Steps = nil
	return &out
}

// Validate performs the cheap, purely-structural checks that belong on the
// document itself (uniqueness, reserved words); graph-level validation
// (cycles, reachability, start rules) lives in package compiler.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow: name is required")
	}
	hasLinear := len(w.Steps) > 0
	hasGraph := len(w.Nodes) > 0 || len(w.Edges) > 0
	if !hasLinear && !hasGraph {
		return fmt.Errorf("workflow: must declare steps, or nodes+edges")
	}
	if hasLinear && hasGraph {
		return fmt.Errorf("workflow: steps and nodes/edges are mutually exclusive")
	}

	seen := make(map[string]bool)
	checkID := func(id string) error {
		if id == "" {
			return fmt.Errorf("workflow: node id must not be empty")
		}
		if ReservedNodeIDs[id] {
			return fmt.Errorf("workflow: node id %q is reserved", id)
		}
		if seen[id] {
			return fmt.Errorf("workflow: duplicate node id %q", id)
		}
		seen[id] = true
		return nil
	}

	if hasLinear {
		for _, s := range w.Steps {
			if err := checkID(s.ID); err != nil {
				return err
			}
		}
	} else {
		for _, n := range w.Nodes {
			if err := checkID(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

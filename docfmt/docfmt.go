// Package docfmt parses and serializes Workflow documents (§6.1). It
// accepts both YAML and JSON — goccy/go-yaml's decoder handles JSON as a
// subset of YAML 1.2, so one code path covers both — and round-trips
// through the same linear/graph isomorphism types.Workflow already
// implements.
//
// Grounded on cmd/workflow-runner/compiler/ir.go's WorkflowSchema parsing
// entry point, adapted from the teacher's custom unmarshal-then-validate
// flow to goccy/go-yaml (the library other_examples/compozy uses for the
// same job), since the teacher itself used encoding/json directly.
package docfmt

import (
	"fmt"

	"github.com/goccy/go-yaml"

	"github.com/lyzr/flowengine/errs"
	"github.com/lyzr/flowengine/types"
)

// Parse decodes a workflow document from YAML or JSON bytes and runs its
// cheap structural validation (types.Workflow.Validate). Graph-level
// validation (cycles, orphans, future references) is the caller's
// responsibility via package compiler, once the document has been
// compiled into a graph.
func Parse(data []byte) (*types.Workflow, error) {
	var wf types.Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, errs.Wrap(errs.ValidationError, "docfmt: failed to parse workflow document", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, errs.Wrap(errs.ValidationError, err.Error(), err)
	}
	return &wf, nil
}

// Serialize renders a workflow document back to YAML, preserving whichever
// form (linear steps, or nodes+edges) it was already in.
func Serialize(wf *types.Workflow) ([]byte, error) {
	out, err := yaml.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("docfmt: failed to serialize workflow: %w", err)
	}
	return out, nil
}

// Roundtrip parses and re-serializes a document purely to its graph form,
// used by tests asserting parse(serialize(workflow)) == workflow (§8) once
// both sides are normalized to the same representation.
func Roundtrip(wf *types.Workflow) (*types.Workflow, error) {
	data, err := Serialize(wf.ToGraphForm())
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

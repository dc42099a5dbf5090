// Package workflow holds the in-memory form of a ComfyUI node graph.
//
// The graph is user-supplied and arbitrary: node ids are opaque
// strings, node shapes are heterogeneous, and input values may be
// scalars or (node id, output slot) reference pairs. The document
// treats all of it as an opaque JSON tree and only knows how to
// overwrite a named input field on a named node, which is all the
// mapper ever needs.
package workflow

import (
	"encoding/json"
	"fmt"

	"github.com/oxomo030/comfyflow/internal/domain"
)

// Document is one parsed node graph. Owned by a single request's
// execution; never shared across requests.
type Document struct {
	nodes map[string]map[string]any
}

// Parse decodes a stored workflow graph. The top level must be an
// object keyed by node id; everything below it is preserved verbatim.
func Parse(data []byte) (*Document, error) {
	var nodes map[string]map[string]any
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parsing workflow graph: %w", err)
	}

	return &Document{nodes: nodes}, nil
}

func (d *Document) Has(nodeID string) bool {
	_, ok := d.nodes[nodeID]
	return ok
}

func (d *Document) Len() int {
	return len(d.nodes)
}

// ClassType returns the class tag of a node, or "" if the node has
// none or does not exist.
func (d *Document) ClassType(nodeID string) string {
	node, ok := d.nodes[nodeID]
	if !ok {
		return ""
	}

	classType, _ := node["class_type"].(string)
	return classType
}

// Input returns the current value of one node input field.
func (d *Document) Input(nodeID, field string) (any, bool) {
	node, ok := d.nodes[nodeID]
	if !ok {
		return nil, false
	}

	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return nil, false
	}

	value, ok := inputs[field]
	return value, ok
}

// SetInput overwrites one scalar input field on one node. Reference
// pairs elsewhere in the node are never interpreted. Returns
// domain.ErrUnknownNode when the node id is absent.
func (d *Document) SetInput(nodeID, field string, value any) error {
	node, ok := d.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownNode, nodeID)
	}

	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		inputs = map[string]any{}
		node["inputs"] = inputs
	}

	inputs[field] = value

	return nil
}

// MarshalJSON serializes the graph back to the backend wire shape.
// With no mutations applied the result is structurally identical to
// the parsed input.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.nodes)
}

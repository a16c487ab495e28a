package diagram

import (
	"fmt"

	"github.com/rendis/autoflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"

	// linkLabel marks authored connections that do not follow run order.
	linkLabel = "link"
)

// Build constructs a DiagramModel from a workflow graph and an optional
// execution whose step states are overlaid on the nodes. Nodes run in slice
// order, so the model is a chain from Start to End; authored connections that
// skip ahead or jump back are added as labelled edges.
func Build(g *schema.WorkflowGraph, exec *schema.Execution) (*DiagramModel, error) {
	if g == nil {
		return nil, fmt.Errorf("diagram: workflow graph is nil")
	}
	if exec != nil && exec.WorkflowID != g.ID {
		return nil, fmt.Errorf("diagram: execution %s belongs to workflow %s, not %s", exec.ID, exec.WorkflowID, g.ID)
	}

	steps := make(map[string]*schema.ExecutionStep)
	if exec != nil {
		for i := range exec.Steps {
			steps[exec.Steps[i].NodeID] = &exec.Steps[i]
		}
	}

	nodes := make([]*Node, 0, len(g.Nodes)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})

	ids := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		node := &Node{
			ID:    n.ID,
			Label: fmt.Sprintf("%s\n(%s)", n.ID, n.Type),
			Kind:  nodeTypeToKind(n.Type),
			Step:  i + 1,
		}
		if cond, ok := n.Properties[schema.PropCondition].(string); ok {
			node.Guard = cond
		}
		_, node.Loop = n.Properties[schema.PropLoop]
		overlayStatus(node, steps[n.ID])

		nodes = append(nodes, node)
		ids[n.ID] = true
	}

	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	return &DiagramModel{
		Title: title(g),
		Nodes: nodes,
		Edges: buildEdges(g, ids),
	}, nil
}

// nodeTypeToKind converts a schema.NodeType to a NodeKind.
func nodeTypeToKind(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeOpenURL:
		return NodeKindNavigate
	case schema.NodeTypeExtract:
		return NodeKindExtract
	case schema.NodeTypeWait:
		return NodeKindWait
	case schema.NodeTypeSubtitleToVoice, schema.NodeTypeEditVideo:
		return NodeKindMedia
	default:
		return NodeKindInput
	}
}

// overlayStatus applies runtime step state to a node.
func overlayStatus(node *Node, step *schema.ExecutionStep) {
	if step == nil {
		return
	}
	overlay := &StatusOverlay{
		Status:     string(step.Status),
		Dispatched: step.Dispatched,
		Error:      step.Error,
	}
	if step.StartTime != nil && step.EndTime != nil {
		overlay.DurationMs = step.EndTime.Sub(*step.StartTime).Milliseconds()
	}
	node.Status = overlay
}

// buildEdges chains the nodes in run order and adds authored connections that
// are not already part of the chain.
func buildEdges(g *schema.WorkflowGraph, ids map[string]bool) []Edge {
	var edges []Edge
	prev := startID
	next := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		edges = append(edges, Edge{From: prev, To: n.ID})
		next[prev] = n.ID
		prev = n.ID
	}
	edges = append(edges, Edge{From: prev, To: endID})

	for _, n := range g.Nodes {
		for _, to := range n.Connections {
			if !ids[to] || next[n.ID] == to {
				continue
			}
			edges = append(edges, Edge{From: n.ID, To: to, Label: linkLabel})
		}
	}
	return edges
}

// title prefers the graph name, then a metadata name, then the ID.
func title(g *schema.WorkflowGraph) string {
	if g.Name != "" {
		return g.Name
	}
	if name, ok := g.Metadata["name"].(string); ok && name != "" {
		return name
	}
	if g.ID != "" {
		return g.ID
	}
	return "Workflow"
}

package validation

import (
	"fmt"

	"github.com/rendis/autoflow/pkg/schema"
)

// validateReachability warns about nodes no other node connects to, besides
// the first node. Nodes still run in slice order; the warning flags graphs
// whose authored edges disagree with that order.
func validateReachability(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if len(g.Nodes) == 0 {
		return result
	}

	adjacency := make(map[string][]string, len(g.Nodes))
	hasEdges := false
	for _, n := range g.Nodes {
		adjacency[n.ID] = n.Connections
		if len(n.Connections) > 0 {
			hasEdges = true
		}
	}
	if !hasEdges {
		return result
	}

	root := g.Nodes[0].ID
	reachable := map[string]bool{root: true}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, n := range g.Nodes {
		if !reachable[n.ID] {
			result.Warnf(fmt.Sprintf("nodes[%d]", i), "node %q is unreachable from the first node", n.ID)
		}
	}
	return result
}

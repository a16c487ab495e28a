package validation

import "github.com/rendis/autoflow/pkg/schema"

// Validator checks workflow graphs for correctness before an execution is
// created from them.
type Validator interface {
	ValidateGraph(g *schema.WorkflowGraph) error
}

package validation

import (
	"fmt"

	"github.com/rendis/autoflow/pkg/schema"
)

var knownNodeTypes = map[schema.NodeType]bool{
	schema.NodeTypeOpenURL:         true,
	schema.NodeTypeClick:           true,
	schema.NodeTypeType:            true,
	schema.NodeTypeSelect:          true,
	schema.NodeTypeFileUpload:      true,
	schema.NodeTypeExtract:         true,
	schema.NodeTypeWait:            true,
	schema.NodeTypeSubtitleToVoice: true,
	schema.NodeTypeEditVideo:       true,
}

// validateSemantic checks what the JSON Schema cannot express: unique node
// IDs and connections that reference existing nodes. Unknown node types are
// only warned about, since the compiler skips them.
func validateSemantic(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	ids := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if n.ID == "" {
			result.Errorf(path+".id", "node id is empty")
			continue
		}
		if ids[n.ID] {
			result.Errorf(path+".id", "duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
	}

	for i, n := range g.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		for j, target := range n.Connections {
			if !ids[target] {
				result.Errorf(fmt.Sprintf("%s.connections[%d]", path, j), "references non-existent node %q", target)
			}
		}
		if !knownNodeTypes[n.Type] {
			result.Warnf(path+".type", "unknown node type %q compiles to no actions", n.Type)
		}
	}

	return result
}

package validation

import "github.com/rendis/autoflow/pkg/schema"

// GraphValidator checks a workflow graph in three passes. The JSON Schema
// pass checks shape, the semantic pass checks node IDs and connection
// targets, and the reachability pass only warns. A failing pass stops the
// passes after it.
type GraphValidator struct {
	shape *JSONSchemaValidator
}

// NewGraphValidator compiles the graph schema and returns a GraphValidator.
func NewGraphValidator() (*GraphValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{shape: jsv}, nil
}

// Validate runs every pass that applies and returns the collected issues.
func (gv *GraphValidator) Validate(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g == nil {
		result.Errorf("/", "workflow graph is nil")
		return result
	}

	passes := []func(*schema.WorkflowGraph) *schema.ValidationResult{
		gv.checkShape,
		validateSemantic,
		validateReachability,
	}
	for _, pass := range passes {
		result.Merge(pass(g))
		if !result.Valid() {
			break
		}
	}
	return result
}

// ValidateGraph satisfies the Validator interface.
func (gv *GraphValidator) ValidateGraph(g *schema.WorkflowGraph) error {
	return gv.Validate(g).ToError()
}

// checkShape turns JSON Schema violations into root-level issues.
func (gv *GraphValidator) checkShape(g *schema.WorkflowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := gv.shape.Validate(g)
	if err == nil {
		return result
	}

	afErr, ok := err.(*schema.AutoflowError)
	if !ok {
		result.Errorf("/", "%v", err)
		return result
	}
	violations, _ := afErr.Details["violations"].([]string)
	if len(violations) == 0 {
		violations = []string{afErr.Message}
	}
	for _, v := range violations {
		result.Errorf("/", "%s", v)
	}
	return result
}

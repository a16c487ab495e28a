package compiler

import (
	"fmt"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// variableOps compiles the node's `variableOperations` list. Each entry is
// {"op"|"type": <op>, "key": <name>, "value": <any>, "expression": <expr>}.
// Entries without a key are skipped, except `clear` which then empties the
// whole bag.
func (c *Compiler) variableOps(node schema.Node, ns map[string]any) ([]schema.Action, error) {
	raw, ok := node.Properties[schema.PropVariableOperations]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list, got %T", schema.PropVariableOperations, raw)
	}

	actions := make([]schema.Action, 0, len(list))
	for i, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be an object, got %T", schema.PropVariableOperations, i, entry)
		}
		op := schema.VariableOp(stringParam(m, "op", "type"))
		if !schema.ValidVariableOp(op) {
			return nil, fmt.Errorf("%s[%d]: unknown operation %q", schema.PropVariableOperations, i, op)
		}

		key, err := expressions.ResolveString(stringParam(m, "key"), ns)
		if err != nil {
			return nil, err
		}
		if key == "" && op != schema.VarClear {
			continue
		}

		action := schema.VariableAction{ActionBase: schema.ActionBase{NodeID: node.ID}, Op: op, Key: key}
		if op == schema.VarEvaluate {
			action.Expression = stringParam(m, "expression", "value")
			if action.Expression == "" {
				continue
			}
			if err := c.eval.Check(action.Expression); err != nil {
				return nil, err
			}
		} else if v, ok := m["value"]; ok {
			value, err := expressions.Resolve(v, ns)
			if err != nil {
				return nil, err
			}
			action.Value = value
		}
		actions = append(actions, action)
	}
	return actions, nil
}

package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
)

type loopSpec struct {
	items    []any
	variable string
}

// parseLoop reads {"items": <list | "{{path}}">, "variable": <name>}.
// A bare list is accepted as the items shorthand.
func parseLoop(raw any, rc expressions.RunContext) (loopSpec, error) {
	var spec loopSpec
	var source any
	switch v := raw.(type) {
	case map[string]any:
		source = v["items"]
		spec.variable, _ = v["variable"].(string)
	default:
		source = raw
	}

	items, err := loopItems(source, rc)
	if err != nil {
		return spec, err
	}
	spec.items = items
	return spec, nil
}

func loopItems(source any, rc expressions.RunContext) ([]any, error) {
	switch v := source.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		path := strings.TrimSpace(v)
		path = strings.TrimSuffix(strings.TrimPrefix(path, "{{"), "}}")
		val, ok := expressions.Lookup(strings.TrimSpace(path), rc.Map())
		if !ok {
			return nil, fmt.Errorf("loop items %q not found", v)
		}
		if _, isString := val.(string); isString {
			return nil, fmt.Errorf("loop items %q must resolve to a list", v)
		}
		return loopItems(val, rc)
	case nil:
		return nil, errors.New("loop items missing")
	default:
		return nil, fmt.Errorf("loop items must be a list, got %T", source)
	}
}

package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/pkg/schema"
)

// ApplyVariable applies one variable action to the bag in place. eval runs
// `evaluate` expressions against the bag and may be nil when no action uses
// them.
func ApplyVariable(ctx context.Context, bag map[string]any, a schema.VariableAction, eval expressions.Engine) error {
	switch a.Op {
	case schema.VarSet:
		bag[a.Key] = a.Value

	case schema.VarUpdate:
		if _, ok := bag[a.Key]; ok {
			bag[a.Key] = a.Value
		}

	case schema.VarDelete:
		delete(bag, a.Key)

	case schema.VarIncrement, schema.VarDecrement:
		current, err := toNumber(bag[a.Key], 0)
		if err != nil {
			return variableError(a, err)
		}
		delta, err := toNumber(a.Value, 1)
		if err != nil {
			return variableError(a, err)
		}
		if a.Op == schema.VarDecrement {
			delta = -delta
		}
		bag[a.Key] = current + delta

	case schema.VarConcat:
		bag[a.Key] = concat(bag[a.Key], a.Value)

	case schema.VarClear:
		if a.Key == "" {
			clear(bag)
			return nil
		}
		bag[a.Key] = emptyLike(bag[a.Key])

	case schema.VarEvaluate:
		if eval == nil {
			return variableError(a, fmt.Errorf("no evaluator configured"))
		}
		out, err := eval.Evaluate(ctx, a.Expression, bag)
		if err != nil {
			return err
		}
		bag[a.Key] = out

	default:
		return variableError(a, fmt.Errorf("unknown operation %q", a.Op))
	}
	return nil
}

func variableError(a schema.VariableAction, err error) error {
	return schema.NewErrorf(schema.ErrCodeEvaluation, "%s %q: %s", a.Op, a.Key, err.Error()).
		WithStep(a.NodeID).
		WithCause(err)
}

func toNumber(v any, missing float64) (float64, error) {
	switch n := v.(type) {
	case nil:
		return missing, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return missing, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%T is not a number", v)
	}
}

func concat(current, value any) any {
	if list, ok := current.([]any); ok {
		out := append([]any(nil), list...)
		if more, ok := value.([]any); ok {
			return append(out, more...)
		}
		return append(out, value)
	}
	return textOf(current) + textOf(value)
}

func textOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func emptyLike(v any) any {
	switch v.(type) {
	case string:
		return ""
	case []any:
		return []any{}
	case map[string]any:
		return map[string]any{}
	case float64, int, int64:
		return float64(0)
	default:
		return nil
	}
}

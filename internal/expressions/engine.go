package expressions

import "context"

// Engine evaluates expressions against a data namespace.
// Three implementations: CEL (node conditions), Expr (variable evaluation),
// GoJQ (extract transforms).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

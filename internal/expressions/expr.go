package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ExprEngine backs the "evaluate" variable operation: arithmetic, string
// helpers, filter/map over lists and ?? defaults over the execution data.
// Programs compile against an open map environment, so one cached program
// serves every variable bag.
type ExprEngine struct {
	programs *compileCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: newCompileCache(defaultCacheLimit, compileExpr)}
}

func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs expression with every key of data as a top-level variable.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("expr")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, runtimeError("expr", expression, err)
	}
	return out, nil
}

// Check compiles expression so authoring errors surface at node compile time.
func (e *ExprEngine) Check(expression string) error {
	_, err := e.programs.get(expression)
	return err
}

func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, authoringError("expr", expression, err)
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)

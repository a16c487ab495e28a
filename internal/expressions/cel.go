package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/autoflow/pkg/schema"
)

// celVariables are the run-context namespaces exposed to CEL programs.
var celVariables = []string{NSData, NSLoop, NSStep, NSExecution, NSWorkflow, NSProfile, NSUtils}

// CELEngine evaluates node condition guards. Each namespace of the run
// context is declared as map(string, dyn).
type CELEngine struct {
	env      *cel.Env
	programs *compileCache[cel.Program]
}

// NewCELEngine builds the CEL environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	opts := make([]cel.EnvOption, 0, len(celVariables))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	e := &CELEngine{env: env}
	e.programs = newCompileCache(defaultCacheLimit, e.compile)
	return e, nil
}

func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate runs expression against data, typically a RunContext.Map().
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, emptyExpression("CEL")
	}
	prg, err := e.programs.get(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, activation(data))
	if err != nil {
		return nil, runtimeError("CEL", expression, err)
	}
	return out.Value(), nil
}

// EvaluateBool evaluates a guard expression that must produce a boolean.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeEvaluation,
			"condition %q must evaluate to bool, got %T", expression, out).
			WithDetails(map[string]any{"expression": expression, "language": "CEL"})
	}
	return b, nil
}

// Check compiles expression without running it.
func (e *CELEngine) Check(expression string) error {
	_, err := e.programs.get(expression)
	return err
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, authoringError("CEL", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, authoringError("CEL", expression, err)
	}
	return prg, nil
}

// activation defaults missing namespaces to empty maps so that data.x fails
// as a missing key rather than an unbound variable.
func activation(data map[string]any) map[string]any {
	out := make(map[string]any, len(celVariables))
	for _, key := range celVariables {
		if v, ok := data[key]; ok && v != nil {
			out[key] = v
		} else {
			out[key] = map[string]any{}
		}
	}
	return out
}

var _ Engine = (*CELEngine)(nil)

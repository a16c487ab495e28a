// Package compiler turns workflow nodes into primitive driver actions.
package compiler

import (
	"context"
	"log/slog"

	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/pkg/schema"
)

// engineProps are node properties consumed by the compiler itself and never
// forwarded to actions.
var engineProps = map[string]bool{
	schema.PropCondition:          true,
	schema.PropLoop:               true,
	schema.PropVariableOperations: true,
}

// Compiler converts one node plus a run context into actions.
// Safe for concurrent use.
type Compiler struct {
	cond   *expressions.CELEngine
	eval   *expressions.ExprEngine
	jq     *expressions.GoJQEngine
	logger *slog.Logger
}

// New creates a Compiler. cond evaluates `condition` guards, eval checks
// `evaluate` variable operations and jq checks extract transforms.
func New(cond *expressions.CELEngine, eval *expressions.ExprEngine, jq *expressions.GoJQEngine, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{cond: cond, eval: eval, jq: jq, logger: logger}
}

// NewDefault creates a Compiler with fresh expression engines.
func NewDefault(logger *slog.Logger) (*Compiler, error) {
	cond, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	return New(cond, expressions.NewExprEngine(), expressions.NewGoJQEngine(), logger), nil
}

// Compile returns the actions for node in order: variable operations first,
// then the node's primary action. A node carrying a `loop` property is
// compiled once per item. Unknown node types and nodes missing a required
// field compile to their variable operations only.
func (c *Compiler) Compile(ctx context.Context, node schema.Node, rc expressions.RunContext) ([]schema.Action, error) {
	raw, ok := node.Properties[schema.PropLoop]
	if !ok || raw == nil {
		return c.compileOnce(ctx, node, rc)
	}

	spec, err := parseLoop(raw, rc)
	if err != nil {
		return nil, compileError(node, err)
	}

	var actions []schema.Action
	for i, item := range spec.items {
		out, err := c.compileOnce(ctx, node, rc.WithLoop(item, i, spec.variable))
		if err != nil {
			return nil, err
		}
		actions = append(actions, out...)
	}
	return actions, nil
}

func (c *Compiler) compileOnce(ctx context.Context, node schema.Node, rc expressions.RunContext) ([]schema.Action, error) {
	ns := rc.Map()

	if cond, ok := node.Properties[schema.PropCondition].(string); ok && cond != "" {
		pass, err := c.cond.EvaluateBool(ctx, cond, ns)
		if err != nil {
			return nil, compileError(node, err)
		}
		if !pass {
			logging.LogWith(ctx, c.logger).Debug("node condition false, skipping", "node_id", node.ID)
			return nil, nil
		}
	}

	props := make(map[string]any, len(node.Properties))
	for k, v := range node.Properties {
		if !engineProps[k] {
			props[k] = v
		}
	}
	resolved, err := expressions.ResolveMap(props, ns)
	if err != nil {
		return nil, compileError(node, err)
	}

	actions, err := c.variableOps(node, ns)
	if err != nil {
		return nil, compileError(node, err)
	}

	primary, err := c.primary(ctx, node, resolved)
	if err != nil {
		return nil, compileError(node, err)
	}
	if primary != nil {
		actions = append(actions, primary)
	}
	return actions, nil
}

func (c *Compiler) primary(ctx context.Context, node schema.Node, p map[string]any) (schema.Action, error) {
	base := schema.ActionBase{NodeID: node.ID}
	log := logging.LogWith(ctx, c.logger)

	switch node.Type {
	case schema.NodeTypeOpenURL:
		url := stringParam(p, "url")
		if url == "" {
			return nil, nil
		}
		timeout, err := intParam(p, "timeout", 0)
		if err != nil {
			return nil, err
		}
		return schema.NavigateAction{ActionBase: base, URL: url, WaitUntil: stringParam(p, "waitUntil"), TimeoutMs: timeout}, nil

	case schema.NodeTypeClick:
		sel := stringParam(p, "selector")
		if sel == "" {
			return nil, nil
		}
		count, err := intParam(p, "clickCount", 1)
		if err != nil {
			return nil, err
		}
		return schema.ClickAction{ActionBase: base, Selector: sel, Button: stringParam(p, "button"), ClickCount: count}, nil

	case schema.NodeTypeType:
		sel := stringParam(p, "selector")
		if sel == "" {
			return nil, nil
		}
		delay, err := intParam(p, "delay", 0)
		if err != nil {
			return nil, err
		}
		return schema.TypeAction{
			ActionBase: base,
			Selector:   sel,
			Text:       stringParam(p, "text", "value"),
			DelayMs:    delay,
			Clear:      boolParam(p, "clear", false),
		}, nil

	case schema.NodeTypeSelect:
		sel := stringParam(p, "selector")
		values := stringsParam(p, "values", "value")
		if sel == "" || len(values) == 0 {
			return nil, nil
		}
		return schema.SelectAction{ActionBase: base, Selector: sel, Values: values}, nil

	case schema.NodeTypeFileUpload:
		sel := stringParam(p, "selector")
		files := stringsParam(p, "files", "filePath")
		if sel == "" || len(files) == 0 {
			return nil, nil
		}
		return schema.UploadAction{ActionBase: base, Selector: sel, Files: files}, nil

	case schema.NodeTypeExtract:
		sel := stringParam(p, "selector")
		key := stringParam(p, "variable", "key")
		if sel == "" || key == "" {
			return nil, nil
		}
		transform := stringParam(p, "transform")
		if transform != "" {
			if err := c.jq.Check(transform); err != nil {
				return nil, err
			}
		}
		return schema.ExtractAction{
			ActionBase: base,
			Selector:   sel,
			Attribute:  stringParam(p, "attribute"),
			Key:        key,
			Multiple:   boolParam(p, "multiple", false),
			Transform:  transform,
		}, nil

	case schema.NodeTypeWait:
		duration, err := intParam(p, "duration", 0)
		if err != nil {
			return nil, err
		}
		sel := stringParam(p, "selector")
		if duration <= 0 && sel == "" {
			return nil, nil
		}
		return schema.WaitAction{ActionBase: base, DurationMs: duration, Selector: sel}, nil

	case schema.NodeTypeSubtitleToVoice:
		return schema.MediaAction{ActionBase: base, Media: schema.ActionSubtitleToVoice, Params: p}, nil

	case schema.NodeTypeEditVideo:
		return schema.MediaAction{ActionBase: base, Media: schema.ActionEditVideo, Params: p}, nil

	default:
		log.Warn("unknown node type, no actions compiled", "node_id", node.ID, "node_type", node.Type)
		return nil, nil
	}
}

func compileError(node schema.Node, err error) error {
	return schema.NewErrorf(schema.ErrCodeStepCompile, "compile %s node: %s", node.Type, err.Error()).
		WithStep(node.ID).
		WithCause(err)
}

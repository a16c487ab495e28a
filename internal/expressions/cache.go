package expressions

import (
	"sync"

	"github.com/rendis/autoflow/pkg/schema"
)

// defaultCacheLimit bounds each engine's program cache. Workflows that build
// expressions from data would otherwise grow it without limit.
const defaultCacheLimit = 1024

// compileCache memoizes compiled programs by source text. When it reaches its
// limit it starts over empty.
type compileCache[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	limit   int
	compile func(src string) (T, error)
}

func newCompileCache[T any](limit int, compile func(string) (T, error)) *compileCache[T] {
	return &compileCache[T]{
		items:   make(map[string]T),
		limit:   limit,
		compile: compile,
	}
}

// get returns the cached program for src, compiling it on first use.
// Compile failures are not cached.
func (c *compileCache[T]) get(src string) (T, error) {
	c.mu.RLock()
	prg, ok := c.items[src]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, ok := c.items[src]; ok {
		return prg, nil
	}
	prg, err := c.compile(src)
	if err != nil {
		return prg, err
	}
	if len(c.items) >= c.limit {
		clear(c.items)
	}
	c.items[src] = prg
	return prg, nil
}

func (c *compileCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// authoringError reports an expression that does not parse or compile.
func authoringError(lang, expression string, err error) *schema.AutoflowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %v", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": lang})
}

// runtimeError reports an expression that compiled but failed on its input.
func runtimeError(lang, expression string, err error) *schema.AutoflowError {
	return schema.NewErrorf(schema.ErrCodeEvaluation, "%s evaluation failed for %q: %v", lang, expression, err).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "language": lang})
}

func emptyExpression(lang string) *schema.AutoflowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", lang)
}

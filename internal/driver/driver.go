// Package driver defines the automation driver contract consumed by the
// execution engine and ships a playwright-go implementation of it.
package driver

import (
	"context"

	"github.com/rendis/autoflow/pkg/schema"
)

// Driver executes primitive actions against one browser session.
type Driver interface {
	// ApplyProfile configures the session (viewport, proxy, cookies, ...)
	// before any action runs.
	ApplyProfile(ctx context.Context, profile *schema.Profile) error
	// PerformActions runs actions in order and stops at the first failure.
	// A non-nil error means the batch could not be attempted at all.
	PerformActions(ctx context.Context, actions []schema.Action) (*Result, error)
	// Close releases the session.
	Close() error
}

// Result is the outcome of one PerformActions batch.
type Result struct {
	Success bool `json:"success"`
	// Actions holds one entry per attempted action, in order.
	Actions []ActionResult `json:"actions"`
	// Extracted maps extract action keys to their raw values.
	Extracted map[string]any `json:"extracted,omitempty"`
}

// ActionResult is the outcome of a single action.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// Value carries the extracted value for extract actions.
	Value any `json:"value,omitempty"`
}

// FirstError returns the message of the first failed action, or "".
func (r *Result) FirstError() string {
	if r == nil {
		return ""
	}
	for _, a := range r.Actions {
		if !a.Success {
			if a.Error == "" {
				return "action failed"
			}
			return a.Error
		}
	}
	return ""
}

// Factory opens a new, unconfigured driver session.
type Factory func(ctx context.Context) (Driver, error)

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/compiler"
	"github.com/rendis/autoflow/internal/driver"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/schema"
)

// scriptedDriver records every batch. Extract actions return values[key].
// A click on failSelector fails the batch. While gate is set, batches block
// until the gate is closed or the context is cancelled.
type scriptedDriver struct {
	mu           sync.Mutex
	batches      [][]schema.Action
	values       map[string]any
	failSelector string
	gate         chan struct{}
	entered      chan struct{}
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{values: map[string]any{}, entered: make(chan struct{}, 16)}
}

func (d *scriptedDriver) ApplyProfile(context.Context, *schema.Profile) error { return nil }

func (d *scriptedDriver) Close() error { return nil }

func (d *scriptedDriver) PerformActions(ctx context.Context, actions []schema.Action) (*driver.Result, error) {
	d.mu.Lock()
	d.batches = append(d.batches, actions)
	gate := d.gate
	d.mu.Unlock()

	select {
	case d.entered <- struct{}{}:
	default:
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &driver.Result{Success: true, Extracted: map[string]any{}}
	for _, action := range actions {
		ar := driver.ActionResult{Success: true}
		switch a := action.(type) {
		case schema.ExtractAction:
			ar.Value = d.values[a.Key]
			res.Extracted[a.Key] = ar.Value
		case schema.ClickAction:
			if d.failSelector != "" && a.Selector == d.failSelector {
				res.Actions = append(res.Actions, driver.ActionResult{Error: "click " + a.Selector + ": element not found"})
				res.Success = false
				return res, nil
			}
		}
		res.Actions = append(res.Actions, ar)
	}
	return res, nil
}

func (d *scriptedDriver) setGate(gate chan struct{}) {
	d.mu.Lock()
	d.gate = gate
	d.mu.Unlock()
}

func (d *scriptedDriver) recorded() [][]schema.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]schema.Action(nil), d.batches...)
}

type harness struct {
	store   *store.MemoryStore
	hub     *streaming.MemoryHub
	drv     *scriptedDriver
	machine *Machine
	seq     int
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	drv := newScriptedDriver()
	pool := driver.NewPool(func(context.Context) (driver.Driver, error) { return drv, nil }, testLogger())

	comp, err := compiler.NewDefault(testLogger())
	require.NoError(t, err)

	m := NewMachine(st, hub, pool, comp, MachineConfig{
		Evaluator:   expressions.NewExprEngine(),
		Transformer: expressions.NewGoJQEngine(),
		Logger:      testLogger(),
	})

	ctx := context.Background()
	require.NoError(t, st.PutProfile(ctx, &schema.Profile{ID: "p1", Name: "default", Headless: true}))
	require.NoError(t, st.PutWorkflow(ctx, scrapeWorkflow()))
	return &harness{store: st, hub: hub, drv: drv, machine: m}
}

// scrapeWorkflow opens a page, extracts its title and clicks a button while
// counting clicks.
func scrapeWorkflow() *schema.WorkflowGraph {
	return &schema.WorkflowGraph{
		ID:   "wf-scrape",
		Name: "scrape",
		Nodes: []schema.Node{
			{ID: "open", Type: schema.NodeTypeOpenURL, Properties: map[string]any{
				"url": "https://example.com/{{page}}",
			}},
			{ID: "title", Type: schema.NodeTypeExtract, Properties: map[string]any{
				"selector": "h1", "variable": "title", "transform": "ascii_upcase",
			}},
			{ID: "next", Type: schema.NodeTypeClick, Properties: map[string]any{
				"selector": "#next",
				"variableOperations": []any{
					map[string]any{"op": "increment", "key": "clicks"},
				},
			}},
		},
		Variables: map[string]any{"page": "home", "clicks": 0},
	}
}

func (h *harness) putWorkflow(t *testing.T, wf *schema.WorkflowGraph) {
	t.Helper()
	require.NoError(t, h.store.PutWorkflow(context.Background(), wf))
}

func (h *harness) newExecution(t *testing.T, workflowID string) *schema.Execution {
	t.Helper()
	ctx := context.Background()
	wf, err := h.store.GetWorkflow(ctx, workflowID)
	require.NoError(t, err)
	h.seq++
	exec := schema.NewExecution(fmt.Sprintf("exec-%s-%d", workflowID, h.seq), wf, "p1", false, time.Now().UTC())
	require.NoError(t, h.store.CreateExecution(ctx, exec))
	return exec
}

func (h *harness) get(t *testing.T, id string) *schema.Execution {
	t.Helper()
	exec, err := h.store.GetExecution(context.Background(), id)
	require.NoError(t, err)
	return exec
}

func (h *harness) subscribe(t *testing.T, executionID string) <-chan streaming.StreamEvent {
	t.Helper()
	ch, cancel, err := h.hub.Subscribe(context.Background(), streaming.EventFilter{
		ExecutionID: executionID,
		EventTypes:  streaming.CompletionEvents,
	})
	require.NoError(t, err)
	t.Cleanup(cancel)
	return ch
}

func waitCompletion(t *testing.T, ch <-chan streaming.StreamEvent) *streaming.Completion {
	t.Helper()
	select {
	case ev := <-ch:
		require.NotNil(t, ev.Completion)
		return ev.Completion
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion event")
		return nil
	}
}

func stepStatuses(exec *schema.Execution) []schema.StepStatus {
	out := make([]schema.StepStatus, len(exec.Steps))
	for i, s := range exec.Steps {
		out[i] = s.Status
	}
	return out
}

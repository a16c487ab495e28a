package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/pkg/schema"
)

func TestMachine_RunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.drv.values["title"] = "Welcome"
	exec := h.newExecution(t, "wf-scrape")
	events := h.subscribe(t, exec.ID)

	require.NoError(t, h.machine.Start(context.Background(), exec.ID))

	got := h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusCompleted, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Empty(t, got.ErrorLogs)
	for _, s := range got.Steps {
		assert.Equal(t, schema.StepStatusCompleted, s.Status, s.NodeID)
		assert.True(t, s.Dispatched, s.NodeID)
		assert.NotNil(t, s.StartTime)
		assert.NotNil(t, s.EndTime)
	}
	assert.Equal(t, "WELCOME", got.Data["title"])
	assert.Equal(t, float64(1), got.Data["clicks"])

	batches := h.drv.recorded()
	require.Len(t, batches, 1)
	kinds := make([]schema.ActionKind, 0, len(batches[0]))
	for _, a := range batches[0] {
		kinds = append(kinds, a.Kind())
	}
	assert.Equal(t, []schema.ActionKind{
		schema.ActionNavigate, schema.ActionExtract, schema.ActionVariable, schema.ActionClick,
	}, kinds)
	assert.Equal(t, "https://example.com/home", batches[0][0].(schema.NavigateAction).URL)

	c := waitCompletion(t, events)
	assert.Equal(t, schema.ExecutionStatusCompleted, c.Status)
	assert.Equal(t, "wf-scrape", c.WorkflowID)
	assert.Equal(t, "p1", c.ProfileID)

	log, err := h.machine.Events(context.Background(), exec.ID, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range log {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, schema.EventExecutionStarted)
	assert.Contains(t, types, schema.EventActionsDispatched)
	assert.Contains(t, types, schema.EventExecutionCompleted)
}

func TestMachine_StepCompileFailureShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.putWorkflow(t, &schema.WorkflowGraph{
		ID: "wf-broken",
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeClick, Properties: map[string]any{"selector": "#a"}},
			{ID: "b", Type: schema.NodeTypeClick, Properties: map[string]any{"selector": "#b", "clickCount": "twice"}},
			{ID: "c", Type: schema.NodeTypeClick, Properties: map[string]any{"selector": "#c"}},
		},
	})
	exec := h.newExecution(t, "wf-broken")
	events := h.subscribe(t, exec.ID)

	require.NoError(t, h.machine.Start(context.Background(), exec.ID))

	got := h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusFailed, got.Status)
	assert.Equal(t, []schema.StepStatus{
		schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusPending,
	}, stepStatuses(got))
	assert.NotEmpty(t, got.Steps[1].Error)
	require.Len(t, got.ErrorLogs, 1)
	assert.Contains(t, got.ErrorLogs[0], schema.ErrCodeStepCompile)
	assert.Empty(t, h.drv.recorded(), "nothing is dispatched when a step fails to compile")

	c := waitCompletion(t, events)
	assert.Equal(t, schema.ExecutionStatusFailed, c.Status)
	assert.Equal(t, got.ErrorLogs[0], c.Error)
}

func TestMachine_DriverFailure(t *testing.T) {
	h := newHarness(t)
	h.drv.failSelector = "#next"
	exec := h.newExecution(t, "wf-scrape")

	require.NoError(t, h.machine.Start(context.Background(), exec.ID))

	got := h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusFailed, got.Status)
	require.Len(t, got.ErrorLogs, 1)
	assert.Contains(t, got.ErrorLogs[0], schema.ErrCodeDriver)
	assert.Contains(t, got.ErrorLogs[0], "element not found")
	for _, s := range got.Steps {
		assert.False(t, s.Dispatched, s.NodeID)
	}
	assert.Equal(t, 0, got.Data["clicks"], "data is untouched by a failed batch")
}

func TestMachine_ResumeSkipsDispatchedSteps(t *testing.T) {
	h := newHarness(t)
	exec := h.newExecution(t, "wf-scrape")

	now := time.Now().UTC()
	exec.Status = schema.ExecutionStatusPaused
	exec.Steps[0].Status = schema.StepStatusCompleted
	exec.Steps[0].StartTime = &now
	exec.Steps[0].EndTime = &now
	exec.Steps[0].Dispatched = true
	require.NoError(t, h.store.SaveExecution(context.Background(), exec))

	require.NoError(t, h.machine.Resume(context.Background(), exec.ID))

	got := h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusCompleted, got.Status)
	batches := h.drv.recorded()
	require.Len(t, batches, 1)
	for _, a := range batches[0] {
		assert.NotEqual(t, "open", a.Step(), "dispatched step must not run again")
	}
	assert.True(t, now.Equal(*got.Steps[0].EndTime))
}

func TestMachine_PauseDuringDispatchThenResume(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.drv.setGate(gate)
	exec := h.newExecution(t, "wf-scrape")
	events := h.subscribe(t, exec.ID)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.machine.Start(ctx, exec.ID) }()

	select {
	case <-h.drv.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("driver was never called")
	}
	require.NoError(t, h.machine.Pause(ctx, exec.ID))
	assert.Equal(t, schema.ExecutionStatusPaused, h.get(t, exec.ID).Status)

	err := h.machine.Resume(ctx, exec.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict), "batch still in flight: %v", err)

	close(gate)
	require.NoError(t, <-done)

	got := h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusPaused, got.Status)
	assert.Empty(t, got.ErrorLogs)
	for _, s := range got.Steps {
		assert.Equal(t, schema.StepStatusCompleted, s.Status)
		assert.True(t, s.Dispatched, "the batch finished despite the pause")
	}
	assert.Equal(t, schema.ExecutionStatusPaused, waitCompletion(t, events).Status)

	require.NoError(t, h.machine.Resume(ctx, exec.ID))
	got = h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusCompleted, got.Status)
	assert.Len(t, h.drv.recorded(), 1, "dispatched actions are not replayed")
	assert.Equal(t, schema.ExecutionStatusCompleted, waitCompletion(t, events).Status)
}

func TestMachine_StopDuringDispatch(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.drv.setGate(gate)
	exec := h.newExecution(t, "wf-scrape")
	events := h.subscribe(t, exec.ID)

	done := make(chan error, 1)
	go func() { done <- h.machine.Start(context.Background(), exec.ID) }()
	<-h.drv.entered

	require.NoError(t, h.machine.Stop(context.Background(), exec.ID))
	select {
	case <-done:
		t.Fatal("stop interrupted the driver batch")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	require.NoError(t, <-done)

	got := h.get(t, exec.ID)
	assert.Equal(t, schema.ExecutionStatusStopped, got.Status)
	assert.NotNil(t, got.EndTime)
	for _, s := range got.Steps {
		assert.True(t, s.Dispatched)
	}
	assert.Equal(t, schema.ExecutionStatusStopped, waitCompletion(t, events).Status)
	select {
	case ev := <-events:
		t.Fatalf("unexpected second completion: %s", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMachine_LifecycleValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("pause requires running", func(t *testing.T) {
		exec := h.newExecution(t, "wf-scrape")
		require.NoError(t, h.machine.Start(ctx, exec.ID))
		err := h.machine.Pause(ctx, exec.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition), err)
	})

	t.Run("resume requires paused", func(t *testing.T) {
		exec := h.newExecution(t, "wf-scrape")
		err := h.machine.Resume(ctx, exec.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition), err)
		assert.Equal(t, schema.ExecutionStatusRunning, h.get(t, exec.ID).Status)
	})

	t.Run("stop from paused", func(t *testing.T) {
		exec := h.newExecution(t, "wf-scrape")
		require.NoError(t, h.machine.Pause(ctx, exec.ID))
		assert.Nil(t, h.get(t, exec.ID).EndTime)

		require.NoError(t, h.machine.Stop(ctx, exec.ID))
		got := h.get(t, exec.ID)
		assert.Equal(t, schema.ExecutionStatusStopped, got.Status)
		assert.NotNil(t, got.EndTime)

		err := h.machine.Stop(ctx, exec.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition), err)
	})

	t.Run("start requires running", func(t *testing.T) {
		exec := h.newExecution(t, "wf-scrape")
		require.NoError(t, h.machine.Pause(ctx, exec.ID))
		before := len(h.drv.recorded())
		err := h.machine.Start(ctx, exec.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition), err)
		assert.Len(t, h.drv.recorded(), before)
	})

	t.Run("unknown execution", func(t *testing.T) {
		err := h.machine.Pause(ctx, "missing")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound), err)
		_, err = h.machine.Get(ctx, "missing")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound), err)
	})
}

func TestMachine_ResumeWhileLoopWindsDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	exec := h.newExecution(t, "wf-scrape")
	require.NoError(t, h.machine.Pause(ctx, exec.ID))

	run := &activeRun{cancel: func() {}, done: make(chan struct{})}
	require.NoError(t, h.machine.activate(exec.ID, run))

	err := h.machine.Resume(ctx, exec.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict), err)
	assert.Equal(t, schema.ExecutionStatusPaused, h.get(t, exec.ID).Status)

	h.machine.deactivate(exec.ID, run)
	require.NoError(t, h.machine.wait(ctx, exec.ID))
	require.NoError(t, h.machine.Resume(ctx, exec.ID))
	assert.Equal(t, schema.ExecutionStatusCompleted, h.get(t, exec.ID).Status)
}

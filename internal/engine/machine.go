package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/autoflow/internal/driver"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/telemetry"
	"github.com/rendis/autoflow/pkg/schema"
)

// SessionPool hands out driver sessions keyed by profile.
// Satisfied by *driver.Pool.
type SessionPool interface {
	Acquire(ctx context.Context, profile *schema.Profile) (driver.Driver, error)
	Release(profileID string)
}

// StepCompiler turns one node into driver actions.
// Satisfied by *compiler.Compiler.
type StepCompiler interface {
	Compile(ctx context.Context, node schema.Node, rc expressions.RunContext) ([]schema.Action, error)
}

// Transformer post-processes extracted values.
// Satisfied by *expressions.GoJQEngine.
type Transformer interface {
	Transform(ctx context.Context, expression string, input any) (any, error)
}

// MachineConfig holds the optional collaborators of a Machine.
type MachineConfig struct {
	Evaluator   expressions.Engine // evaluate variable ops; nil rejects them
	Transformer Transformer        // extract transforms; nil keeps raw values
	Metrics     *telemetry.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Machine drives executions through their lifecycle: it compiles steps in
// order, dispatches the accumulated actions to a driver session in a single
// batch and folds the results back into the execution's data.
type Machine struct {
	store      store.Store
	hub        streaming.EventHub
	sessions   SessionPool
	compiler   StepCompiler
	executions *Lifecycle[schema.ExecutionStatus]
	steps      *Lifecycle[schema.StepStatus]
	eval       expressions.Engine
	jq         Transformer
	metrics    *telemetry.Metrics
	logger     *slog.Logger
	now        func() time.Time

	// recMu serializes read-modify-write cycles on execution records.
	recMu sync.Mutex

	mu     sync.Mutex
	active map[string]*activeRun
}

// activeRun is a run loop in flight. started is guarded by recMu.
type activeRun struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// errHalted aborts a record update because the execution left running.
var errHalted = errors.New("execution is no longer running")

// errSkip marks a step that a previous run already dispatched.
var errSkip = errors.New("step already dispatched")

// NewMachine creates a Machine.
func NewMachine(s store.Store, hub streaming.EventHub, sessions SessionPool, compiler StepCompiler, cfg MachineConfig) *Machine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	m := &Machine{
		store:      s,
		hub:        hub,
		sessions:   sessions,
		compiler:   compiler,
		executions: NewExecutionLifecycle(s),
		steps:      NewStepLifecycle(s),
		eval:       cfg.Evaluator,
		jq:         cfg.Transformer,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
		active:     make(map[string]*activeRun),
	}
	m.steps.OnEnter(schema.StepStatusFailed, func(_, _ schema.StepStatus) {
		m.metrics.StepFailed()
	})
	return m
}

// Get returns a snapshot of the execution.
func (m *Machine) Get(ctx context.Context, executionID string) (*schema.Execution, error) {
	return m.store.GetExecution(ctx, executionID)
}

// Events returns the execution's event log after sequence since.
func (m *Machine) Events(ctx context.Context, executionID string, since int64) ([]*store.Event, error) {
	return m.store.GetEvents(ctx, executionID, since)
}

// Start runs the execution loop for a running execution and blocks until the
// loop ends. Step and driver failures are recorded on the execution, not
// returned; the returned error only reports that the loop could not start.
func (m *Machine) Start(ctx context.Context, executionID string) error {
	ctx = logging.WithExecutionID(ctx, executionID)
	log := logging.LogWith(ctx, m.logger)
	pctx := context.WithoutCancel(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	if err := m.activate(executionID, run); err != nil {
		cancel()
		return err
	}
	defer m.deactivate(executionID, run)
	defer cancel()

	exec, err := m.update(pctx, executionID, func(e *schema.Execution) error {
		if e.Status != schema.ExecutionStatusRunning {
			return schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"execution %s is %s, not running", e.ID, e.Status)
		}
		e.QueuePosition = nil
		run.started = true
		return nil
	})
	if err != nil {
		return err
	}

	m.appendEvent(pctx, executionID, "", schema.EventExecutionStarted)
	m.metrics.ExecutionRunning()
	log.Info("execution started", "workflow_id", exec.WorkflowID, "profile_id", exec.ProfileID)

	runErr := m.run(runCtx, ctx, exec)
	final := m.finish(pctx, executionID, runErr)
	if final == nil {
		m.metrics.ExecutionHalted("unknown")
		return nil
	}
	m.metrics.ExecutionHalted(string(final.Status))
	log.Info("execution loop ended", "status", final.Status)
	m.publish(pctx, final)
	return nil
}

// run compiles every pending step and dispatches the accumulated actions.
// Pause and Stop cancel ctx, which halts step advancement. The driver batch
// runs under dispatchCtx instead, so a batch in flight is not cut short.
func (m *Machine) run(ctx, dispatchCtx context.Context, exec *schema.Execution) error {
	pctx := context.WithoutCancel(ctx)

	wf, err := m.store.GetWorkflow(pctx, exec.WorkflowID)
	if err != nil {
		return err
	}
	profile, err := m.store.GetProfile(pctx, exec.ProfileID)
	if err != nil {
		return err
	}
	drv, err := m.sessions.Acquire(ctx, profile)
	if err != nil {
		return err
	}
	defer m.sessions.Release(profile.ID)

	var actions []schema.Action
	var compiled []int

	for i := range exec.Steps {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		acts, err := m.compileStep(ctx, exec.ID, i, wf, profile)
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return err
		}
		actions = append(actions, acts...)
		compiled = append(compiled, i)
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	cur, err := m.store.GetExecution(pctx, exec.ID)
	if err != nil {
		return err
	}
	if cur.Status != schema.ExecutionStatusRunning {
		return errHalted
	}

	var res *driver.Result
	if len(actions) > 0 {
		res, err = drv.PerformActions(dispatchCtx, actions)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeDriver, "dispatch actions: %v", err).WithCause(err)
		}
		if !res.Success {
			return schema.NewError(schema.ErrCodeDriver, res.FirstError())
		}
		m.appendEvent(pctx, exec.ID, "", schema.EventActionsDispatched)
	}

	_, err = m.update(pctx, exec.ID, func(e *schema.Execution) error {
		if e.Data == nil {
			e.Data = make(map[string]any)
		}
		if err := m.fold(pctx, e.Data, actions, res); err != nil {
			return err
		}
		for _, i := range compiled {
			e.Steps[i].Dispatched = true
		}
		return nil
	})
	return err
}

// compileStep moves step i to running and compiles its node.
func (m *Machine) compileStep(ctx context.Context, executionID string, i int, wf *schema.WorkflowGraph, profile *schema.Profile) ([]schema.Action, error) {
	pctx := context.WithoutCancel(ctx)

	var step schema.ExecutionStep
	cur, err := m.update(pctx, executionID, func(e *schema.Execution) error {
		if e.Status != schema.ExecutionStatusRunning {
			return errHalted
		}
		step = e.Steps[i]
		switch {
		case step.Status == schema.StepStatusCompleted && step.Dispatched:
			return errSkip
		case step.Status == schema.StepStatusPending:
			if err := m.steps.Transition(pctx, e.ID, step.NodeID, step.Status, schema.StepStatusRunning); err != nil {
				return err
			}
			now := m.now()
			e.Steps[i].Status = schema.StepStatusRunning
			e.Steps[i].StartTime = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	stepCtx := logging.WithStepID(ctx, step.NodeID)
	var actions []schema.Action
	node := wf.NodeByID(step.NodeID)
	if node == nil {
		err = schema.NewErrorf(schema.ErrCodeStepCompile, "node %q not found in workflow %s", step.NodeID, wf.ID).
			WithStep(step.NodeID)
	} else {
		actions, err = m.compiler.Compile(stepCtx, *node, m.runContext(cur, wf, profile, i))
	}
	if err != nil {
		m.failStep(pctx, executionID, i, err)
		return nil, err
	}

	_, err = m.update(pctx, executionID, func(e *schema.Execution) error {
		if e.Steps[i].Status != schema.StepStatusRunning {
			return nil
		}
		if err := m.steps.Transition(pctx, e.ID, step.NodeID, schema.StepStatusRunning, schema.StepStatusCompleted); err != nil {
			return err
		}
		now := m.now()
		e.Steps[i].Status = schema.StepStatusCompleted
		e.Steps[i].EndTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.LogWith(stepCtx, m.logger).Debug("step compiled", "actions", len(actions))
	return actions, nil
}

func (m *Machine) failStep(ctx context.Context, executionID string, i int, cause error) {
	_, err := m.update(ctx, executionID, func(e *schema.Execution) error {
		step := &e.Steps[i]
		if step.Status != schema.StepStatusRunning {
			return nil
		}
		if err := m.steps.Transition(ctx, e.ID, step.NodeID, step.Status, schema.StepStatusFailed); err != nil {
			return err
		}
		now := m.now()
		step.Status = schema.StepStatusFailed
		step.EndTime = &now
		step.Error = cause.Error()
		return nil
	})
	if err != nil {
		m.logger.Error("failed to record step failure", "execution_id", executionID, "error", err)
	}
}

// fold applies extract results and variable operations to data in action order.
func (m *Machine) fold(ctx context.Context, data map[string]any, actions []schema.Action, res *driver.Result) error {
	for j, action := range actions {
		switch a := action.(type) {
		case schema.ExtractAction:
			val := extractedValue(res, j, a.Key)
			if a.Transform != "" && m.jq != nil {
				out, err := m.jq.Transform(ctx, a.Transform, val)
				if err != nil {
					return schema.NewErrorf(schema.ErrCodeEvaluation, "transform %q: %v", a.Key, err).
						WithStep(a.NodeID).WithCause(err)
				}
				val = out
			}
			data[a.Key] = val
		case schema.VariableAction:
			if err := driver.ApplyVariable(ctx, data, a, m.eval); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractedValue(res *driver.Result, index int, key string) any {
	if res == nil {
		return nil
	}
	if index < len(res.Actions) && res.Actions[index].Value != nil {
		return res.Actions[index].Value
	}
	return res.Extracted[key]
}

// finish records the loop outcome unless the execution was paused or
// stopped meanwhile, and returns the final record.
func (m *Machine) finish(ctx context.Context, executionID string, runErr error) *schema.Execution {
	log := logging.LogWith(ctx, m.logger)
	final, err := m.update(ctx, executionID, func(e *schema.Execution) error {
		if e.Status != schema.ExecutionStatusRunning {
			if runErr != nil && !errors.Is(runErr, errHalted) {
				log.Warn("run error after halt", "status", e.Status, "error", runErr)
			}
			return errHalted
		}
		if runErr != nil {
			e.ErrorLogs = append(e.ErrorLogs, runErr.Error())
			return m.terminate(ctx, e, schema.ExecutionStatusFailed)
		}
		return m.terminate(ctx, e, schema.ExecutionStatusCompleted)
	})
	if err != nil && !errors.Is(err, errHalted) {
		log.Error("failed to record execution outcome", "error", err)
		final, err = m.store.GetExecution(ctx, executionID)
		if err != nil {
			return nil
		}
	}
	return final
}

func (m *Machine) terminate(ctx context.Context, e *schema.Execution, to schema.ExecutionStatus) error {
	if err := m.executions.Transition(ctx, e.ID, "", e.Status, to); err != nil {
		return err
	}
	now := m.now()
	e.Status = to
	if to.Terminal() {
		e.EndTime = &now
	}
	return nil
}

// Pause halts a running execution. An in-flight loop stops before its next
// step; a driver batch already in flight runs to the end and its steps are
// marked dispatched.
func (m *Machine) Pause(ctx context.Context, executionID string) error {
	return m.halt(ctx, executionID, schema.ExecutionStatusPaused)
}

// Stop ends a running or paused execution for good.
func (m *Machine) Stop(ctx context.Context, executionID string) error {
	return m.halt(ctx, executionID, schema.ExecutionStatusStopped)
}

func (m *Machine) halt(ctx context.Context, executionID string, to schema.ExecutionStatus) error {
	ctx = logging.WithExecutionID(ctx, executionID)
	var loopOwnsPublish bool
	final, err := m.update(ctx, executionID, func(e *schema.Execution) error {
		if err := m.terminate(ctx, e, to); err != nil {
			return err
		}
		e.QueuePosition = nil
		m.mu.Lock()
		run := m.active[executionID]
		m.mu.Unlock()
		if run != nil {
			run.cancel()
			loopOwnsPublish = run.started
		}
		return nil
	})
	if err != nil {
		return err
	}
	logging.LogWith(ctx, m.logger).Info("execution halted", "status", to)
	if !loopOwnsPublish {
		m.publish(ctx, final)
	}
	return nil
}

// Resume moves a paused execution back to running and runs its loop to the
// end. Steps dispatched before the pause are not repeated.
func (m *Machine) Resume(ctx context.Context, executionID string) error {
	if err := m.prepareResume(ctx, executionID); err != nil {
		return err
	}
	return m.Start(ctx, executionID)
}

// prepareResume performs the paused to running transition without starting
// the loop. A loop still winding down after the pause is a CONFLICT.
func (m *Machine) prepareResume(ctx context.Context, executionID string) error {
	_, err := m.update(ctx, executionID, func(e *schema.Execution) error {
		if m.isActive(executionID) {
			return schema.NewErrorf(schema.ErrCodeConflict, "execution %s is still winding down", executionID)
		}
		if err := m.executions.Transition(ctx, e.ID, "", e.Status, schema.ExecutionStatusRunning); err != nil {
			return err
		}
		e.Status = schema.ExecutionStatusRunning
		e.EndTime = nil
		return nil
	})
	return err
}

// abort fails an execution whose loop never got to run.
func (m *Machine) abort(ctx context.Context, executionID string, cause error) {
	final, err := m.update(ctx, executionID, func(e *schema.Execution) error {
		if e.Status != schema.ExecutionStatusRunning {
			return errHalted
		}
		e.ErrorLogs = append(e.ErrorLogs, cause.Error())
		e.QueuePosition = nil
		return m.terminate(ctx, e, schema.ExecutionStatusFailed)
	})
	if err != nil {
		if !errors.Is(err, errHalted) {
			m.logger.Error("failed to abort execution", "execution_id", executionID, "error", err)
		}
		return
	}
	m.publish(ctx, final)
}

// setQueuePosition records a 1-based FIFO position on a queued execution.
func (m *Machine) setQueuePosition(ctx context.Context, executionID string, pos int) error {
	_, err := m.update(ctx, executionID, func(e *schema.Execution) error {
		if e.Status != schema.ExecutionStatusRunning {
			return errHalted
		}
		e.QueuePosition = &pos
		return nil
	})
	if errors.Is(err, errHalted) {
		return nil
	}
	return err
}

// update loads the execution, applies fn and saves the result under recMu.
// When fn fails nothing is saved and the unmodified record is returned with
// the error.
func (m *Machine) update(ctx context.Context, executionID string, fn func(*schema.Execution) error) (*schema.Execution, error) {
	m.recMu.Lock()
	defer m.recMu.Unlock()

	exec, err := m.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if err := fn(exec); err != nil {
		return exec, err
	}
	exec.UpdatedAt = m.now()
	if err := m.store.SaveExecution(ctx, exec); err != nil {
		return nil, err
	}
	return exec.Clone(), nil
}

func (m *Machine) runContext(e *schema.Execution, wf *schema.WorkflowGraph, profile *schema.Profile, i int) expressions.RunContext {
	return expressions.RunContext{
		Data: e.Data,
		Step: expressions.StepInfo{
			ID:    e.Steps[i].NodeID,
			Type:  string(e.Steps[i].NodeType),
			Index: i,
		},
		Execution: expressions.ExecutionInfo{ID: e.ID, StartTime: e.StartTime},
		Workflow:  expressions.NamedRef{ID: wf.ID, Name: wf.Name},
		Profile:   expressions.NamedRef{ID: profile.ID, Name: profile.Name},
		Now:       m.now,
	}
}

func (m *Machine) publish(ctx context.Context, e *schema.Execution) {
	eventType := schema.ExecutionEventType(e.Status)
	if e.Status == schema.ExecutionStatusRunning || eventType == "" {
		return
	}
	c := &streaming.Completion{
		ExecutionID: e.ID,
		WorkflowID:  e.WorkflowID,
		ProfileID:   e.ProfileID,
		Status:      e.Status,
	}
	if e.Status == schema.ExecutionStatusFailed && len(e.ErrorLogs) > 0 {
		c.Error = e.ErrorLogs[len(e.ErrorLogs)-1]
	}
	err := m.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		ExecutionID: e.ID,
		EventType:   eventType,
		Completion:  c,
	})
	if err != nil {
		m.logger.Warn("failed to publish completion", "execution_id", e.ID, "error", err)
	}
}

func (m *Machine) appendEvent(ctx context.Context, executionID, stepID, eventType string) {
	err := m.store.AppendEvent(ctx, &store.Event{
		ExecutionID: executionID,
		StepID:      stepID,
		Type:        eventType,
		Timestamp:   m.now(),
	})
	if err != nil {
		m.logger.Warn("failed to append event", "execution_id", executionID, "event", eventType, "error", err)
	}
}

func (m *Machine) activate(executionID string, run *activeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[executionID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution %s already has an active loop", executionID)
	}
	m.active[executionID] = run
	return nil
}

func (m *Machine) deactivate(executionID string, run *activeRun) {
	m.mu.Lock()
	if m.active[executionID] == run {
		delete(m.active, executionID)
	}
	m.mu.Unlock()
	close(run.done)
}

func (m *Machine) isActive(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[executionID]
	return ok
}

// wait blocks until the active loop of executionID, if any, has ended.
func (m *Machine) wait(ctx context.Context, executionID string) error {
	m.mu.Lock()
	run := m.active[executionID]
	m.mu.Unlock()
	if run == nil {
		return nil
	}
	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelled(err error) error {
	return schema.NewErrorf(schema.ErrCodeCancelled, "execution cancelled: %v", err).WithCause(err)
}

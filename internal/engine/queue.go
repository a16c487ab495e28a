package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/telemetry"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/pkg/schema"
)

// Queue defaults.
const (
	DefaultMaxConcurrent = 5
	DefaultPollInterval  = time.Second
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	MaxConcurrent int           // non-parallel executions in flight; default 5
	PollInterval  time.Duration // drain ticker period; default 1s
	Metrics       *telemetry.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

// Queue admits executions and runs their loops on a worker pool. Parallel
// executions bypass the concurrency cap; the rest wait in FIFO order and are
// launched by a periodic drain as slots free up.
type Queue struct {
	machine   *Machine
	store     store.Store
	validator validation.Validator
	pool      *WorkerPool
	cfg       QueueConfig
	logger    *slog.Logger

	mu       sync.Mutex
	fifo     []string
	inFlight int
	closed   bool

	draining atomic.Bool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a Queue. Loops run on pool with a context that outlives
// the Enqueue call; Shutdown cancels it.
func NewQueue(machine *Machine, s store.Store, v validation.Validator, pool *WorkerPool, cfg QueueConfig) *Queue {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	q := &Queue{
		machine:    machine,
		store:      s,
		validator:  v,
		pool:       pool,
		cfg:        cfg,
		logger:     cfg.Logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
	pool.OnPanic(q.loopPanicked)
	return q
}

// loopPanicked fails an execution whose loop panicked so it does not stay
// running without a loop.
func (q *Queue) loopPanicked(executionID string, recovered any) {
	q.machine.abort(context.Background(), executionID,
		schema.NewErrorf(schema.ErrCodeLoopPanic, "execution loop panicked: %v", recovered))
}

// Enqueue creates an execution of workflowID against profileID and either
// launches it or appends it to the FIFO. The returned snapshot carries the
// queue position when the execution had to wait.
func (q *Queue) Enqueue(ctx context.Context, workflowID, profileID string, parallel bool) (*schema.Execution, error) {
	if q.isClosed() {
		return nil, schema.NewError(schema.ErrCodeQueueShutdown, "queue is shut down")
	}
	wf, err := q.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if _, err := q.store.GetProfile(ctx, profileID); err != nil {
		return nil, err
	}
	if q.validator != nil {
		if err := q.validator.ValidateGraph(wf); err != nil {
			return nil, err
		}
	}

	exec := schema.NewExecution(q.cfg.NewID(), wf, profileID, parallel, q.cfg.Now())
	if err := q.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	q.machine.appendEvent(ctx, exec.ID, "", schema.EventExecutionQueued)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.machine.abort(ctx, exec.ID, schema.NewError(schema.ErrCodeQueueShutdown, "queue is shut down"))
		return nil, schema.NewError(schema.ErrCodeQueueShutdown, "queue is shut down")
	}
	if parallel || q.inFlight < q.cfg.MaxConcurrent {
		q.inFlight++
		q.metrics()
		q.mu.Unlock()
		q.launch(exec.ID)
		return exec, nil
	}
	q.fifo = append(q.fifo, exec.ID)
	pos := len(q.fifo)
	q.metrics()
	err = q.machine.setQueuePosition(ctx, exec.ID, pos)
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}

	q.logger.Info("execution queued", "execution_id", exec.ID, "position", pos)
	exec.QueuePosition = &pos
	return exec, nil
}

// launch submits the execution loop. The caller has already counted it in
// inFlight.
func (q *Queue) launch(executionID string) {
	err := q.pool.Submit(q.baseCtx, executionID, func(ctx context.Context) error {
		defer q.release()
		return q.machine.Start(ctx, executionID)
	})
	if err != nil {
		q.release()
		q.logger.Error("failed to launch execution", "execution_id", executionID, "error", err)
		q.machine.abort(context.Background(), executionID,
			schema.NewErrorf(schema.ErrCodeQueueShutdown, "launch execution: %v", err).WithCause(err))
	}
}

func (q *Queue) release() {
	q.mu.Lock()
	q.inFlight--
	q.metrics()
	q.mu.Unlock()
}

// metrics must be called with q.mu held.
func (q *Queue) metrics() {
	q.cfg.Metrics.SetQueueDepth(len(q.fifo))
	q.cfg.Metrics.SetInFlight(q.inFlight)
}

// Start launches the drain loop.
func (q *Queue) Start(ctx context.Context) error {
	q.loopMu.Lock()
	defer q.loopMu.Unlock()
	if q.done != nil {
		return fmt.Errorf("queue already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.loop(loopCtx, q.done)
	q.logger.Info("queue started", "max_concurrent", q.cfg.MaxConcurrent)
	return nil
}

func (q *Queue) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.drain(ctx)
		}
	}
}

// drain launches queued executions while slots are free. Overlapping calls
// return immediately.
func (q *Queue) drain(ctx context.Context) {
	if !q.draining.CompareAndSwap(false, true) {
		return
	}
	defer q.draining.Store(false)
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue drain panic recovered", "panic", r)
		}
	}()

	q.mu.Lock()
	var launch []string
	for len(q.fifo) > 0 && q.inFlight < q.cfg.MaxConcurrent && !q.closed {
		launch = append(launch, q.fifo[0])
		q.fifo = q.fifo[1:]
		q.inFlight++
	}
	if len(launch) > 0 {
		q.renumber(ctx)
	}
	q.metrics()
	q.mu.Unlock()

	for _, id := range launch {
		q.logger.Debug("launching queued execution", "execution_id", id)
		q.launch(id)
	}
}

// renumber rewrites queue positions after the FIFO changed. Must be called
// with q.mu held.
func (q *Queue) renumber(ctx context.Context) {
	for i, id := range q.fifo {
		if err := q.machine.setQueuePosition(context.WithoutCancel(ctx), id, i+1); err != nil {
			q.logger.Warn("failed to update queue position", "execution_id", id, "error", err)
		}
	}
}

// dequeue removes executionID from the FIFO and reports whether it was there.
func (q *Queue) dequeue(ctx context.Context, executionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.Index(q.fifo, executionID)
	if i < 0 {
		return false
	}
	q.fifo = slices.Delete(q.fifo, i, i+1)
	q.renumber(ctx)
	q.metrics()
	return true
}

// Pause pauses a running or queued execution. A queued execution leaves the
// FIFO and is launched directly on resume.
func (q *Queue) Pause(ctx context.Context, executionID string) error {
	if err := q.machine.Pause(ctx, executionID); err != nil {
		return err
	}
	q.dequeue(ctx, executionID)
	return nil
}

// Resume moves a paused execution back to running. It is launched at once
// when a slot is free or it was queued as parallel; otherwise it rejoins the
// end of the FIFO.
func (q *Queue) Resume(ctx context.Context, executionID string) error {
	if q.isClosed() {
		return schema.NewError(schema.ErrCodeQueueShutdown, "queue is shut down")
	}
	if err := q.machine.prepareResume(ctx, executionID); err != nil {
		return err
	}
	exec, err := q.machine.Get(ctx, executionID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if exec.ParallelExecution || q.inFlight < q.cfg.MaxConcurrent {
		q.inFlight++
		q.metrics()
		q.mu.Unlock()
		q.launch(executionID)
		return nil
	}
	q.fifo = append(q.fifo, executionID)
	pos := len(q.fifo)
	q.metrics()
	err = q.machine.setQueuePosition(ctx, executionID, pos)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.logger.Info("resumed execution queued", "execution_id", executionID, "position", pos)
	return nil
}

// Stop stops a running, paused or queued execution.
func (q *Queue) Stop(ctx context.Context, executionID string) error {
	if err := q.machine.Stop(ctx, executionID); err != nil {
		return err
	}
	q.dequeue(ctx, executionID)
	return nil
}

// Get returns a snapshot of the execution.
func (q *Queue) Get(ctx context.Context, executionID string) (*schema.Execution, error) {
	return q.machine.Get(ctx, executionID)
}

// Depth returns the number of executions waiting in the FIFO.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

// InFlight returns the number of launched loops that have not ended.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Positions returns the FIFO contents in order.
func (q *Queue) Positions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.fifo)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Shutdown stops admitting work, stops the drain loop, cancels running loops
// and waits for them to record their outcome. Executions still in the FIFO
// stay queued in the store.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.loopMu.Lock()
	if q.cancel != nil {
		q.cancel()
		<-q.done
		q.cancel = nil
	}
	q.loopMu.Unlock()

	q.baseCancel()
	q.pool.Shutdown()
	q.logger.Info("queue stopped")
}

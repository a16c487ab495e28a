package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/logging"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/internal/telemetry"
	"github.com/rendis/autoflow/pkg/schema"
)

// DefaultDueTolerance is how far ahead of NextRun a firing still counts as due.
const DefaultDueTolerance = time.Minute

// Enqueuer submits executions. Satisfied by *engine.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, workflowID, profileID string, parallel bool) (*schema.Execution, error)
}

// Config configures a Scheduler.
type Config struct {
	Location     *time.Location // wall clock for daily/weekly/monthly; default UTC
	DueTolerance time.Duration
	Backoff      engine.BackoffPolicy // default engine.TaskRetryBackoff
	Metrics      *telemetry.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
	NewID        func() string
}

// ScheduleStatus is a snapshot of a task's scheduling state.
type ScheduleStatus struct {
	TaskID     string            `json:"task_id"`
	Status     schema.TaskStatus `json:"status"`
	NextRun    *time.Time        `json:"next_run,omitempty"`
	LastRun    *time.Time        `json:"last_run,omitempty"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	Pending    bool              `json:"pending"`
	Repeating  bool              `json:"repeating"`
}

// Scheduler turns tasks into executions at their next occurrence and applies
// the retry policy to failed runs.
type Scheduler struct {
	store  store.Store
	queue  Enqueuer
	hub    streaming.EventHub
	jobs   *JobRunner
	cfg    Config
	logger *slog.Logger

	// mu serializes read-modify-write cycles on task records.
	mu sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // task IDs currently executing (dedup)

	runMu   sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, queue Enqueuer, hub streaming.EventHub, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DueTolerance <= 0 {
		cfg.DueTolerance = DefaultDueTolerance
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = engine.TaskRetryBackoff
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
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    s,
		queue:    queue,
		hub:      hub,
		jobs:     NewJobRunner(cfg.Location, cfg.Now, cfg.Logger),
		cfg:      cfg,
		logger:   cfg.Logger,
		inflight: make(map[string]struct{}),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
}

func jobKey(taskID string) string {
	return "task:" + taskID
}

// Schedule validates the task, computes its next run and registers its jobs.
// New tasks are created; existing ones are overwritten. An invalid task is
// rejected before anything is persisted.
func (s *Scheduler) Schedule(ctx context.Context, task *schema.Task) (*schema.Task, error) {
	if err := validateTask(task); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := task.Clone()
	now := s.cfg.Now()
	if t.ID == "" {
		t.ID = s.cfg.NewID()
	}
	exists := true
	if prev, err := s.store.GetTask(ctx, t.ID); err == nil {
		t.CreatedAt = prev.CreatedAt
	} else {
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil, err
		}
		exists = false
		t.CreatedAt = now
	}
	t.Status = schema.TaskStatusPending

	if err := s.schedule(ctx, t, now, false); err != nil {
		return nil, err
	}
	t.UpdatedAt = now
	var err error
	if exists {
		err = s.store.SaveTask(ctx, t)
	} else {
		err = s.store.CreateTask(ctx, t)
	}
	if err != nil {
		s.jobs.Remove(jobKey(t.ID))
		return nil, err
	}
	return t, nil
}

func validateTask(t *schema.Task) error {
	if t == nil {
		return schema.NewError(schema.ErrCodeValidation, "task is nil")
	}
	return t.Validate()
}

// schedule computes the first NextRun after from and (re)registers the task's
// jobs. keepStatus leaves a failed task failed while still moving its NextRun
// forward. The caller persists t.
func (s *Scheduler) schedule(ctx context.Context, t *schema.Task, from time.Time, keepStatus bool) error {
	log := logging.LogWith(logging.WithTaskID(ctx, t.ID), s.logger)
	next, err := NextRun(t.Schedule, t.LastRun, from, s.cfg.Location)
	if err != nil {
		return err
	}
	if next == nil {
		s.jobs.Remove(jobKey(t.ID))
		t.NextRun = nil
		if !keepStatus {
			t.Status = schema.TaskStatusCompleted
		}
		log.Info("schedule has no further occurrence")
		return nil
	}

	t.NextRun = next
	if !keepStatus {
		t.Status = schema.TaskStatusScheduled
	}
	if err := s.register(t); err != nil {
		return err
	}
	log.Info("task scheduled", "next_run", next.Format(time.RFC3339), "type", t.Schedule.Type)
	return nil
}

// register installs the one-shot job at t.NextRun and, for recurring
// schedules, the repeating cron entry.
func (s *Scheduler) register(t *schema.Task) error {
	key := jobKey(t.ID)
	fire := s.fire(t.ID, t.WorkflowID, t.ProfileID)
	spec := CronSpec(t.Schedule)
	if spec == "" {
		// Drops a cron entry left from an earlier recurring schedule.
		s.jobs.Remove(key)
	}
	if t.NextRun != nil {
		s.jobs.Once(key, *t.NextRun, fire)
	}
	if spec != "" {
		if err := s.jobs.Repeat(key, spec, fire); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron spec %q: %v", spec, err).WithCause(err)
		}
	}
	return nil
}

func (s *Scheduler) fire(taskID, workflowID, profileID string) func() {
	return func() {
		s.runMu.Lock()
		if s.stopped {
			s.runMu.Unlock()
			return
		}
		s.wg.Add(1)
		s.runMu.Unlock()
		defer s.wg.Done()

		if err := s.OnTaskDue(s.baseCtx, taskID, workflowID, profileID); err != nil {
			s.logger.Error("scheduled run failed", "task_id", taskID, "error", err)
		}
	}
}

// Reschedule drops the task's jobs and schedules it again from scratch.
func (s *Scheduler) Reschedule(ctx context.Context, task *schema.Task) (*schema.Task, error) {
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if task.ID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "reschedule requires a task id")
	}
	if _, err := s.store.GetTask(ctx, task.ID); err != nil {
		return nil, err
	}
	s.jobs.Remove(jobKey(task.ID))
	t := task.Clone()
	t.RetryCount = 0
	return s.Schedule(ctx, t)
}

// Remove cancels the task's jobs and marks it cancelled.
func (s *Scheduler) Remove(ctx context.Context, taskID string) error {
	return s.update(ctx, taskID, func(t *schema.Task) error {
		s.jobs.Remove(jobKey(t.ID))
		t.Status = schema.TaskStatusCancelled
		t.NextRun = nil
		logging.LogWith(logging.WithTaskID(ctx, t.ID), s.logger).Info("task removed")
		return nil
	})
}

// Status reports the scheduling state of a task.
func (s *Scheduler) Status(ctx context.Context, taskID string) (*ScheduleStatus, error) {
	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	key := jobKey(taskID)
	return &ScheduleStatus{
		TaskID:     t.ID,
		Status:     t.Status,
		NextRun:    t.NextRun,
		LastRun:    t.LastRun,
		RetryCount: t.RetryCount,
		MaxRetries: t.MaxRetries,
		Pending:    s.jobs.Pending(key),
		Repeating:  s.jobs.Repeating(key),
	}, nil
}

// HandleCompletion records a successful run. One-shot tasks complete;
// recurring tasks are scheduled for their next occurrence.
func (s *Scheduler) HandleCompletion(ctx context.Context, taskID string) error {
	return s.update(ctx, taskID, func(t *schema.Task) error {
		now := s.cfg.Now()
		// A run fired within the due tolerance consumes the occurrence it
		// was scheduled for.
		from := now
		if t.NextRun != nil && t.NextRun.After(from) {
			from = *t.NextRun
		}
		t.LastRun = &now
		t.RetryCount = 0
		if !t.Schedule.Recurring() {
			s.jobs.Remove(jobKey(t.ID))
			t.Status = schema.TaskStatusCompleted
			t.NextRun = nil
			return nil
		}
		return s.schedule(ctx, t, from, false)
	})
}

// HandleFailure records a failed run. While retries remain the task is
// retried after an exponential delay; afterwards it is marked failed.
// Recurring tasks keep a NextRun so the series continues.
func (s *Scheduler) HandleFailure(ctx context.Context, taskID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return s.update(ctx, taskID, func(t *schema.Task) error {
		log := logging.LogWith(logging.WithTaskID(ctx, t.ID), s.logger)
		now := s.cfg.Now()

		if t.RetryCount < t.MaxRetries {
			delay := engine.ComputeBackoff(s.cfg.Backoff, t.RetryCount)
			t.RetryCount++
			t.ErrorLogs = append(t.ErrorLogs, fmt.Sprintf("Retry %d/%d: %s", t.RetryCount, t.MaxRetries, msg))
			t.Status = schema.TaskStatusPending
			next := now.Add(delay)
			t.NextRun = &next
			s.jobs.Once(jobKey(t.ID), next, s.fire(t.ID, t.WorkflowID, t.ProfileID))
			s.cfg.Metrics.TaskRetry()
			log.Warn("task run failed, retry scheduled", "retry", t.RetryCount, "max_retries", t.MaxRetries, "delay", delay)
			return nil
		}

		exhausted := schema.NewErrorf(schema.ErrCodeScheduleExhausted, "failed after %d retries: %s", t.MaxRetries, msg)
		t.ErrorLogs = append(t.ErrorLogs, exhausted.Error())
		t.Status = schema.TaskStatusFailed
		t.RetryCount = 0
		log.Error("task failed", "error", msg)
		if !t.Schedule.Recurring() {
			s.jobs.Remove(jobKey(t.ID))
			t.NextRun = nil
			return nil
		}
		return s.schedule(ctx, t, now, true)
	})
}

// OnTaskDue runs one occurrence of a task: it enqueues an execution, waits
// for its outcome and applies HandleCompletion or HandleFailure. Overlapping
// firings of the same task and firings well ahead of NextRun are skipped.
func (s *Scheduler) OnTaskDue(ctx context.Context, taskID, workflowID, profileID string) error {
	if !s.tryAcquire(taskID) {
		s.logger.Debug("task already running, skipping", "task_id", taskID)
		return nil
	}
	defer s.releaseTask(taskID)

	ctx = logging.WithTaskID(ctx, taskID)
	log := logging.LogWith(ctx, s.logger)

	due := true
	err := s.update(ctx, taskID, func(t *schema.Task) error {
		switch t.Status {
		case schema.TaskStatusCancelled, schema.TaskStatusCompleted:
			due = false
			return errSkipTask
		}
		if t.NextRun != nil && t.NextRun.Sub(s.cfg.Now()) > s.cfg.DueTolerance {
			due = false
			return errSkipTask
		}
		t.Status = schema.TaskStatusRunning
		return nil
	})
	if !due {
		log.Debug("task not due, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: streaming.CompletionEvents})
	if err != nil {
		return err
	}
	defer unsubscribe()

	exec, err := s.queue.Enqueue(ctx, workflowID, profileID, false)
	if err != nil {
		s.cfg.Metrics.TaskRun("failed")
		return s.HandleFailure(context.WithoutCancel(ctx), taskID, err)
	}
	log.Info("task execution queued", "execution_id", exec.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			c := ev.Completion
			if c == nil || c.ExecutionID != exec.ID {
				continue
			}
			switch c.Status {
			case schema.ExecutionStatusCompleted:
				s.cfg.Metrics.TaskRun("completed")
				return s.HandleCompletion(context.WithoutCancel(ctx), taskID)
			case schema.ExecutionStatusFailed, schema.ExecutionStatusStopped:
				s.cfg.Metrics.TaskRun("failed")
				reason := c.Error
				if reason == "" {
					reason = "execution " + string(c.Status)
				}
				return s.HandleFailure(context.WithoutCancel(ctx), taskID, errors.New(reason))
			default:
				log.Debug("execution paused, waiting for outcome", "execution_id", exec.ID)
			}
		}
	}
}

var errSkipTask = errors.New("task not due")

// update loads a task, applies fn and saves it under mu. When fn fails
// nothing is saved.
func (s *Scheduler) update(ctx context.Context, taskID string, fn func(*schema.Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	t.UpdatedAt = s.cfg.Now()
	return s.store.SaveTask(ctx, t)
}

// Start re-registers the jobs of every active task and starts the cron
// runner. Tasks interrupted mid-run are due again immediately. Recurring
// tasks that exhausted their retries keep their series.
func (s *Scheduler) Start(ctx context.Context) error {
	listed, err := s.store.ListTasks(ctx, store.TaskFilter{Statuses: []schema.TaskStatus{
		schema.TaskStatusPending, schema.TaskStatusScheduled, schema.TaskStatusRunning, schema.TaskStatusFailed,
	}})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	tasks := slices.DeleteFunc(listed, func(t *schema.Task) bool {
		return t.Status == schema.TaskStatusFailed && (t.NextRun == nil || CronSpec(t.Schedule) == "")
	})

	for _, t := range tasks {
		var regErr error
		if t.NextRun != nil {
			regErr = s.register(t)
		} else {
			regErr = s.update(ctx, t.ID, func(cur *schema.Task) error {
				return s.schedule(ctx, cur, s.cfg.Now(), false)
			})
		}
		if regErr != nil {
			s.logger.Error("failed to restore task", "task_id", t.ID, "error", regErr)
		}
	}

	s.jobs.Start()
	s.logger.Info("scheduler started", "tasks", len(tasks))
	return nil
}

// Stop cancels waiting runs, stops all jobs and waits for in-flight firings.
func (s *Scheduler) Stop() error {
	s.runMu.Lock()
	if s.stopped {
		s.runMu.Unlock()
		return nil
	}
	s.stopped = true
	s.runMu.Unlock()

	s.cancel()
	s.jobs.Stop()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// tryAcquire returns true and marks the task as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(taskID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[taskID]; ok {
		return false
	}
	s.inflight[taskID] = struct{}{}
	return true
}

// releaseTask removes the task from the in-flight set.
func (s *Scheduler) releaseTask(taskID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, taskID)
}

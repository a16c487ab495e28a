package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/streaming"
	"github.com/rendis/autoflow/pkg/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeQueue completes every enqueued execution immediately by publishing
// the configured outcome, preceded by any extra statuses in prelude.
type fakeQueue struct {
	hub     *streaming.MemoryHub
	calls   atomic.Int32
	status  schema.ExecutionStatus
	errMsg  string
	err     error
	prelude []schema.ExecutionStatus
}

func (q *fakeQueue) Enqueue(ctx context.Context, workflowID, profileID string, _ bool) (*schema.Execution, error) {
	n := q.calls.Add(1)
	if q.err != nil {
		return nil, q.err
	}
	id := fmt.Sprintf("exec-%d", n)
	for _, st := range append(append([]schema.ExecutionStatus(nil), q.prelude...), q.status) {
		c := &streaming.Completion{ExecutionID: id, WorkflowID: workflowID, ProfileID: profileID, Status: st}
		if st == schema.ExecutionStatusFailed {
			c.Error = q.errMsg
		}
		if err := q.hub.Publish(ctx, streaming.StreamEvent{
			ExecutionID: id,
			EventType:   schema.ExecutionEventType(st),
			Completion:  c,
		}); err != nil {
			return nil, err
		}
	}
	return &schema.Execution{ID: id, WorkflowID: workflowID, ProfileID: profileID}, nil
}

type schedFixture struct {
	sched *Scheduler
	store *store.MemoryStore
	queue *fakeQueue
	clock *fakeClock
}

func newSchedFixture(t *testing.T, now time.Time) *schedFixture {
	t.Helper()
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	q := &fakeQueue{hub: hub, status: schema.ExecutionStatusCompleted}
	clock := &fakeClock{now: now}
	var n int
	s := NewScheduler(st, q, hub, Config{
		Logger: slog.New(slog.DiscardHandler),
		Now:    clock.Now,
		NewID: func() string {
			n++
			return fmt.Sprintf("task-%d", n)
		},
	})
	t.Cleanup(func() { _ = s.Stop() })
	return &schedFixture{sched: s, store: st, queue: q, clock: clock}
}

func dailyTask(maxRetries int) *schema.Task {
	return &schema.Task{
		Name:       "nightly scrape",
		WorkflowID: "wf-1",
		ProfileID:  "p1",
		Schedule:   schema.TaskSchedule{Type: schema.ScheduleDaily, Time: tod("09:00")},
		MaxRetries: maxRetries,
	}
}

func (f *schedFixture) task(t *testing.T, id string) *schema.Task {
	t.Helper()
	task, err := f.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestScheduler_ScheduleDaily(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T10:00:00Z"))
	ctx := context.Background()

	task, err := f.sched.Schedule(ctx, dailyTask(0))
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, schema.TaskStatusScheduled, task.Status)
	require.NotNil(t, task.NextRun)
	assert.Equal(t, at("2026-04-03T09:00:00Z"), *task.NextRun)

	status, err := f.sched.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusScheduled, status.Status)
	assert.True(t, status.Pending)
	assert.True(t, status.Repeating)
	assert.Equal(t, task.NextRun, status.NextRun)
}

func TestScheduler_ScheduleRejectsInvalid(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T10:00:00Z"))
	ctx := context.Background()

	bad := dailyTask(0)
	bad.Schedule = schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("09:00")}
	_, err := f.sched.Schedule(ctx, bad)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), err)

	noWorkflow := dailyTask(0)
	noWorkflow.WorkflowID = ""
	_, err = f.sched.Schedule(ctx, noWorkflow)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), err)

	tasks, err := f.store.ListTasks(ctx, store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestScheduler_RetryBackoffAndExhaustion(t *testing.T) {
	now := at("2026-04-02T10:00:00Z")
	f := newSchedFixture(t, now)
	ctx := context.Background()

	task, err := f.sched.Schedule(ctx, dailyTask(2))
	require.NoError(t, err)

	require.NoError(t, f.sched.HandleFailure(ctx, task.ID, fmt.Errorf("boom")))
	got := f.task(t, task.ID)
	assert.Equal(t, schema.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, now.Add(time.Minute), *got.NextRun)
	assert.Equal(t, []string{"Retry 1/2: boom"}, got.ErrorLogs)

	require.NoError(t, f.sched.HandleFailure(ctx, task.ID, fmt.Errorf("boom")))
	got = f.task(t, task.ID)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, now.Add(2*time.Minute), *got.NextRun)

	require.NoError(t, f.sched.HandleFailure(ctx, task.ID, fmt.Errorf("boom")))
	got = f.task(t, task.ID)
	assert.Equal(t, schema.TaskStatusFailed, got.Status)
	assert.Zero(t, got.RetryCount)
	require.NotNil(t, got.NextRun, "recurring tasks keep their next occurrence")
	assert.Equal(t, at("2026-04-03T09:00:00Z"), *got.NextRun)
	require.Len(t, got.ErrorLogs, 3)
	assert.Contains(t, got.ErrorLogs[2], schema.ErrCodeScheduleExhausted)
}

func TestScheduler_OnceExhaustionClearsNextRun(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T10:00:00Z"))
	ctx := context.Background()

	task := dailyTask(0)
	task.Schedule = schema.TaskSchedule{Type: schema.ScheduleOnce, StartDate: ptr(at("2026-04-02T11:00:00Z"))}
	task, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	require.NoError(t, f.sched.HandleFailure(ctx, task.ID, fmt.Errorf("boom")))
	got := f.task(t, task.ID)
	assert.Equal(t, schema.TaskStatusFailed, got.Status)
	assert.Nil(t, got.NextRun)

	status, err := f.sched.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, status.Pending)
	assert.False(t, status.Repeating)
}

func TestScheduler_HandleCompletion(t *testing.T) {
	now := at("2026-04-02T10:00:00Z")
	f := newSchedFixture(t, now)
	ctx := context.Background()

	once := dailyTask(0)
	once.Schedule = schema.TaskSchedule{Type: schema.ScheduleOnce, StartDate: ptr(now.Add(time.Hour))}
	once, err := f.sched.Schedule(ctx, once)
	require.NoError(t, err)

	require.NoError(t, f.sched.HandleCompletion(ctx, once.ID))
	got := f.task(t, once.ID)
	assert.Equal(t, schema.TaskStatusCompleted, got.Status)
	assert.Nil(t, got.NextRun)
	assert.Equal(t, now, *got.LastRun)

	daily, err := f.sched.Schedule(ctx, dailyTask(1))
	require.NoError(t, err)
	require.NoError(t, f.sched.HandleFailure(ctx, daily.ID, fmt.Errorf("flaky")))
	require.NoError(t, f.sched.HandleCompletion(ctx, daily.ID))
	got = f.task(t, daily.ID)
	assert.Equal(t, schema.TaskStatusScheduled, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Equal(t, at("2026-04-03T09:00:00Z"), *got.NextRun)
}

func TestScheduler_OnTaskDue_Completes(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T08:59:30Z"))
	ctx := context.Background()
	f.queue.prelude = []schema.ExecutionStatus{schema.ExecutionStatusPaused}

	task, err := f.sched.Schedule(ctx, dailyTask(0))
	require.NoError(t, err)
	require.Equal(t, at("2026-04-02T09:00:00Z"), *task.NextRun)

	require.NoError(t, f.sched.OnTaskDue(ctx, task.ID, task.WorkflowID, task.ProfileID))

	got := f.task(t, task.ID)
	assert.Equal(t, int32(1), f.queue.calls.Load())
	assert.Equal(t, schema.TaskStatusScheduled, got.Status)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, at("2026-04-03T09:00:00Z"), *got.NextRun, "the occurrence that ran is consumed")
}

func TestScheduler_OnTaskDue_FailureSchedulesRetry(t *testing.T) {
	now := at("2026-04-02T09:00:00Z")
	f := newSchedFixture(t, now)
	ctx := context.Background()
	f.queue.status = schema.ExecutionStatusFailed
	f.queue.errMsg = "[DRIVER_FAILED] click #next: element not found"

	task, err := f.sched.Schedule(ctx, dailyTask(3))
	require.NoError(t, err)
	// Scheduled at exactly 09:00 the next occurrence is tomorrow; fire a
	// retry-style run by moving NextRun into range.
	require.NoError(t, f.sched.update(ctx, task.ID, func(tk *schema.Task) error {
		tk.NextRun = &now
		return nil
	}))

	require.NoError(t, f.sched.OnTaskDue(ctx, task.ID, task.WorkflowID, task.ProfileID))

	got := f.task(t, task.ID)
	assert.Equal(t, schema.TaskStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, now.Add(time.Minute), *got.NextRun)
	assert.Equal(t, []string{"Retry 1/3: [DRIVER_FAILED] click #next: element not found"}, got.ErrorLogs)
}

func TestScheduler_OnTaskDue_EnqueueError(t *testing.T) {
	now := at("2026-04-02T09:00:00Z")
	f := newSchedFixture(t, now)
	ctx := context.Background()
	f.queue.err = schema.NewError(schema.ErrCodeNotFound, "workflow wf-1 not found")

	task := dailyTask(0)
	task.Schedule = schema.TaskSchedule{Type: schema.ScheduleOnce, StartDate: ptr(now.Add(30 * time.Second))}
	task, err := f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	require.NoError(t, f.sched.OnTaskDue(ctx, task.ID, task.WorkflowID, task.ProfileID))
	got := f.task(t, task.ID)
	assert.Equal(t, schema.TaskStatusFailed, got.Status)
	require.Len(t, got.ErrorLogs, 1)
	assert.Contains(t, got.ErrorLogs[0], "workflow wf-1 not found")
}

func TestScheduler_OnTaskDue_SkipsWhenNotDue(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T10:00:00Z"))
	ctx := context.Background()

	task, err := f.sched.Schedule(ctx, dailyTask(0))
	require.NoError(t, err)

	require.NoError(t, f.sched.OnTaskDue(ctx, task.ID, task.WorkflowID, task.ProfileID))
	assert.Zero(t, f.queue.calls.Load())
	assert.Equal(t, schema.TaskStatusScheduled, f.task(t, task.ID).Status)

	require.NoError(t, f.sched.Remove(ctx, task.ID))
	f.clock.Set(at("2026-04-03T09:00:00Z"))
	require.NoError(t, f.sched.OnTaskDue(ctx, task.ID, task.WorkflowID, task.ProfileID))
	assert.Zero(t, f.queue.calls.Load(), "cancelled tasks never run")
}

func TestScheduler_OnTaskDue_Dedup(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T09:00:00Z"))
	require.True(t, f.sched.tryAcquire("task-x"))
	defer f.sched.releaseTask("task-x")

	require.NoError(t, f.sched.OnTaskDue(context.Background(), "task-x", "wf-1", "p1"))
	assert.Zero(t, f.queue.calls.Load())
}

func TestScheduler_RemoveAndReschedule(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T10:00:00Z"))
	ctx := context.Background()

	task, err := f.sched.Schedule(ctx, dailyTask(0))
	require.NoError(t, err)

	require.NoError(t, f.sched.Remove(ctx, task.ID))
	status, err := f.sched.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCancelled, status.Status)
	assert.Nil(t, status.NextRun)
	assert.False(t, status.Pending)
	assert.False(t, status.Repeating)

	task.Schedule = schema.TaskSchedule{Type: schema.ScheduleWeekly, Time: tod("09:00"), DaysOfWeek: []int{1, 3}}
	re, err := f.sched.Reschedule(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusScheduled, re.Status)
	assert.Equal(t, at("2026-04-06T09:00:00Z"), *re.NextRun)
	assert.Equal(t, task.CreatedAt, re.CreatedAt)

	_, err = f.sched.Reschedule(ctx, &schema.Task{ID: "missing", WorkflowID: "wf", ProfileID: "p", Schedule: re.Schedule})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound), err)

	err = f.sched.Remove(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound), err)
}

func TestScheduler_StartRestoresJobs(t *testing.T) {
	f := newSchedFixture(t, at("2026-04-02T10:00:00Z"))
	ctx := context.Background()

	next := at("2026-04-03T09:00:00Z")
	stored := dailyTask(0)
	stored.ID = "restored"
	stored.Status = schema.TaskStatusScheduled
	stored.NextRun = &next
	require.NoError(t, f.store.CreateTask(ctx, stored))

	unscheduled := dailyTask(0)
	unscheduled.ID = "fresh"
	unscheduled.Status = schema.TaskStatusPending
	require.NoError(t, f.store.CreateTask(ctx, unscheduled))

	exhausted := dailyTask(2)
	exhausted.ID = "exhausted"
	exhausted.Status = schema.TaskStatusFailed
	exhausted.NextRun = &next
	require.NoError(t, f.store.CreateTask(ctx, exhausted))

	finished := dailyTask(0)
	finished.ID = "finished-once"
	finished.Schedule = schema.TaskSchedule{Type: schema.ScheduleOnce, StartDate: ptr(next)}
	finished.Status = schema.TaskStatusFailed
	finished.NextRun = &next
	require.NoError(t, f.store.CreateTask(ctx, finished))

	require.NoError(t, f.sched.Start(ctx))

	once, err := f.sched.Status(ctx, "finished-once")
	require.NoError(t, err)
	assert.False(t, once.Pending, "a failed once task stays down")
	assert.False(t, once.Repeating)

	failed, err := f.sched.Status(ctx, "exhausted")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusFailed, failed.Status)

	for _, id := range []string{"restored", "fresh", "exhausted"} {
		status, err := f.sched.Status(ctx, id)
		require.NoError(t, err)
		assert.True(t, status.Pending, id)
		assert.True(t, status.Repeating, id)
		assert.Equal(t, next, *status.NextRun, id)
	}
}

func TestScheduler_ScheduleAsOnceDropsCronEntry(t *testing.T) {
	now := at("2026-04-02T10:00:00Z")
	f := newSchedFixture(t, now)
	ctx := context.Background()

	task, err := f.sched.Schedule(ctx, dailyTask(0))
	require.NoError(t, err)
	status, err := f.sched.Status(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, status.Repeating)

	task.Schedule = schema.TaskSchedule{Type: schema.ScheduleOnce, StartDate: ptr(now.Add(time.Hour))}
	_, err = f.sched.Schedule(ctx, task)
	require.NoError(t, err)

	status, err = f.sched.Status(ctx, task.ID)
	require.NoError(t, err)
	assert.False(t, status.Repeating)
	assert.True(t, status.Pending)
	assert.Equal(t, now.Add(time.Hour), *status.NextRun)
}

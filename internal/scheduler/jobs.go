package scheduler

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobRunner runs deferred work for scheduled tasks: one-shot timers for the
// next occurrence and repeating cron entries for recurring schedules. Both are
// keyed, and registering a key again replaces the previous job of that kind.
type JobRunner struct {
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	timers  map[string]*oneShot
	entries map[string]cron.EntryID
}

type oneShot struct {
	timer *time.Timer
}

// NewJobRunner creates a JobRunner whose cron entries are evaluated in loc.
func NewJobRunner(loc *time.Location, now func() time.Time, logger *slog.Logger) *JobRunner {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &JobRunner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cl)),
			cron.WithLogger(cl),
		),
		logger:  logger,
		now:     now,
		timers:  make(map[string]*oneShot),
		entries: make(map[string]cron.EntryID),
	}
}

// Once runs fn at the given time. A time in the past fires immediately.
func (r *JobRunner) Once(key string, at time.Time, fn func()) {
	delay := at.Sub(r.now())
	if delay < 0 {
		delay = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.timers[key]; ok {
		prev.timer.Stop()
	}
	job := &oneShot{}
	job.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.timers[key] == job {
			delete(r.timers, key)
		}
		r.mu.Unlock()
		r.safeRun(key, fn)
	})
	r.timers[key] = job
}

// Repeat registers fn under a cron spec.
func (r *JobRunner) Repeat(key, spec string, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.entries[key]; ok {
		r.cron.Remove(id)
		delete(r.entries, key)
	}
	id, err := r.cron.AddFunc(spec, func() { r.safeRun(key, fn) })
	if err != nil {
		return err
	}
	r.entries[key] = id
	return nil
}

// Remove cancels both the one-shot and the repeating job of key.
func (r *JobRunner) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.timers[key]; ok {
		job.timer.Stop()
		delete(r.timers, key)
	}
	if id, ok := r.entries[key]; ok {
		r.cron.Remove(id)
		delete(r.entries, key)
	}
}

// Pending reports whether a one-shot job is registered for key.
func (r *JobRunner) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Repeating reports whether a cron entry is registered for key.
func (r *JobRunner) Repeating(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

// NextCron returns the next activation of key's cron entry, if any.
func (r *JobRunner) NextCron(key string) (time.Time, bool) {
	r.mu.Lock()
	id, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return r.cron.Entry(id).Next, true
}

// Start starts the cron scheduler.
func (r *JobRunner) Start() {
	r.cron.Start()
}

// Stop stops every timer and the cron scheduler, waiting for running cron
// jobs to return.
func (r *JobRunner) Stop() {
	r.mu.Lock()
	for key, job := range r.timers {
		job.timer.Stop()
		delete(r.timers, key)
	}
	r.mu.Unlock()
	<-r.cron.Stop().Done()
}

func (r *JobRunner) safeRun(key string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("scheduled job panic recovered", "job", key, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

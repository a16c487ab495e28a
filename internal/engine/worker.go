package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// PoolStats is a snapshot of WorkerPool counters.
type PoolStats struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool runs execution loops on a bounded number of goroutines. Work is
// keyed by execution ID and two loops with the same key never overlap: a
// later submission waits for the earlier one to return. A panicking loop is
// recovered and reported to the panic handler.
type WorkerPool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]chan struct{}
	onPanic func(key string, recovered any)
	done    chan struct{}
	closed  bool

	active, completed, failed, panics atomic.Int64
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		sem:     make(chan struct{}, size),
		logger:  logger,
		running: make(map[string]chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnPanic registers fn to be called with the key and recovered value of a
// panicking loop.
func (p *WorkerPool) OnPanic(fn func(key string, recovered any)) {
	p.mu.Lock()
	p.onPanic = fn
	p.mu.Unlock()
}

// Submit runs fn on a pool goroutine. It blocks while the pool is full and
// gives up when ctx ends or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if p.isClosed() {
		return ErrPoolShutdown
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Registration and wg.Add happen under mu so Shutdown's Wait sees them.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	prev := p.running[key]
	finished := make(chan struct{})
	p.running[key] = finished
	onPanic := p.onPanic
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go func() {
		defer p.finish(key, finished)
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
				p.logger.Error("execution loop panic recovered", "key", key, "panic", r, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(key, r)
				}
			}
		}()

		if prev != nil {
			<-prev
		}
		if err := fn(ctx); err != nil {
			p.failed.Add(1)
			p.logger.Debug("execution loop returned error", "key", key, "error", err)
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

func (p *WorkerPool) finish(key string, finished chan struct{}) {
	p.mu.Lock()
	if p.running[key] == finished {
		delete(p.running, key)
	}
	p.mu.Unlock()
	close(finished)
	p.active.Add(-1)
	<-p.sem
	p.wg.Done()
}

// Active reports whether a loop for key is running or waiting to run.
func (p *WorkerPool) Active(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.running[key]
	return ok
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects new work and waits for submitted loops to return.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats returns the current counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *WorkerPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

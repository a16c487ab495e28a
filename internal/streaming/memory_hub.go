package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBuffer            = 64
	defaultCompletionTimeout = 5 * time.Second
)

type subscriber struct {
	ch     chan StreamEvent
	done   chan struct{}
	filter EventFilter
}

// MemoryHub is an in-process EventHub. Step and lifecycle events are dropped
// when a subscriber's buffer is full. Events carrying a Completion wait up to
// the completion timeout, since the scheduler and the MCP notifier act on them.
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64

	buffer            int
	completionTimeout time.Duration
	onDrop            func(StreamEvent)
	dropped           atomic.Uint64
}

// MemoryHubOption configures a MemoryHub.
type MemoryHubOption func(*MemoryHub)

// WithBuffer sets the channel capacity of each subscription.
func WithBuffer(n int) MemoryHubOption {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithCompletionTimeout bounds how long Publish waits on a full subscriber
// for an event that carries a Completion.
func WithCompletionTimeout(d time.Duration) MemoryHubOption {
	return func(h *MemoryHub) {
		if d > 0 {
			h.completionTimeout = d
		}
	}
}

// WithDropHook is called once per subscriber that missed an event.
func WithDropHook(fn func(StreamEvent)) MemoryHubOption {
	return func(h *MemoryHub) { h.onDrop = fn }
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub(opts ...MemoryHubOption) *MemoryHub {
	h := &MemoryHub{
		subs:              make(map[uint64]*subscriber),
		buffer:            defaultBuffer,
		completionTimeout: defaultCompletionTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers event to every matching subscriber.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if matchFilter(sub.filter, event) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
			continue
		case <-sub.done:
			continue
		default:
		}
		if event.Completion == nil || !h.await(ctx, sub, event) {
			h.drop(event)
		}
	}
	return nil
}

// await blocks until sub accepts event, unsubscribes, or the wait expires.
func (h *MemoryHub) await(ctx context.Context, sub *subscriber, event StreamEvent) bool {
	timer := time.NewTimer(h.completionTimeout)
	defer timer.Stop()
	select {
	case sub.ch <- event:
		return true
	case <-sub.done:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

func (h *MemoryHub) drop(event StreamEvent) {
	h.dropped.Add(1)
	if h.onDrop != nil {
		h.onDrop(event)
	}
}

// Subscribe registers a filtered subscription. The cancel function is
// idempotent and is also invoked when ctx ends. The channel is never closed;
// consumers select on their own context.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	sub := &subscriber{
		ch:     make(chan StreamEvent, h.buffer),
		done:   make(chan struct{}),
		filter: filter,
	}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.done)
		})
	}
	context.AfterFunc(ctx, cancel)

	return sub.ch, cancel, nil
}

// Subscribers returns the number of live subscriptions.
func (h *MemoryHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}

func matchFilter(f EventFilter, e StreamEvent) bool {
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	if f.TaskID != "" && f.TaskID != e.TaskID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.EventType)
}

// Package task provides the cooperative-cancellation wrapper used by every
// long-running loop in the substrate: sessions, channel loops and protocol
// supervisors all stop through the same idiom.
package task

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrStopped is the result reported by a task that exited because Stop was
// called. Callers use it to tell a deliberate shutdown apart from a failure.
var ErrStopped = errors.New("service stopped")

// Task wraps a single long-running loop. The loop receives a context and is
// expected to unwind promptly once it is cancelled.
type Task struct {
	name string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool

	stopOnce sync.Once
}

func New(name string) *Task {
	return &Task{name: name, done: make(chan struct{})}
}

func (t *Task) Name() string { return t.name }

// Start spawns run on its own goroutine. When run returns, onResult is
// invoked exactly once with the outcome; a return caused by cancellation is
// reported as ErrStopped regardless of what the loop itself returned.
// onResult may be nil. Start panics if called twice.
func (t *Task) Start(ctx context.Context, run func(ctx context.Context) error, onResult func(error)) {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		panic("task: " + t.name + " restarted")
	}
	t.started = true
	tctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		defer close(t.done)
		err := run(tctx)
		if tctx.Err() != nil || errors.Is(err, context.Canceled) {
			err = ErrStopped
		}
		if err != nil && !errors.Is(err, ErrStopped) {
			zap.L().Debug("task finished with error", zap.String("task", t.name), zap.Error(err))
		}
		if onResult != nil {
			onResult(err)
		}
	}()
}

// Stop signals cancellation and waits for the loop to finish. It is
// idempotent and safe to call concurrently; every caller returns only after
// the task has fully unwound.
func (t *Task) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		started := t.started
		t.stopped = true
		t.mu.Unlock()
		if !started {
			close(t.done)
			return
		}
		cancel()
	})
	<-t.done
}

// Done is closed once the loop has fully finished.
func (t *Task) Done() <-chan struct{} { return t.done }

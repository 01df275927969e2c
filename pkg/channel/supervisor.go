package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Supervisor owns the protocol tasks attached to one channel. Stop cancels
// their shared context and joins every task, so no protocol goroutine can
// outlive its channel.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func newSupervisor(log *zap.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

// Spawn runs fn under the supervisor. A task registered after Stop is
// discarded. fn must return promptly once its context is cancelled.
func (s *Supervisor) Spawn(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.log.Debug("discarding task on stopped supervisor", zap.String("task", name))
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Debug("protocol task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Stop cancels every supervised task and waits for all of them to return.
// Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

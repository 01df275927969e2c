package p2p

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/task"
)

// SlotState is the observable state of one outbound connection slot.
type SlotState int32

const (
	// SlotIdle means the slot is waiting to retry, typically because the
	// host pool is exhausted or the last attempt failed.
	SlotIdle SlotState = iota
	SlotDialing
	SlotConnected
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotDialing:
		return "dialing"
	case SlotConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// outboundSession maintains N independent connection slots. Each slot is
// its own stoppable task looping pull-address, dial, register, wait for
// disconnect. Pool exhaustion is recoverable: the slot idles with backoff
// instead of terminating.
type outboundSession struct {
	p     *P2P
	slots []*outboundSlot
	log   *zap.Logger
}

type outboundSlot struct {
	id    int
	state atomic.Int32
	tk    *task.Task
}

func newOutboundSession(p *P2P) *outboundSession {
	s := &outboundSession{p: p, log: p.log.Named("outbound")}
	for i := 0; i < p.settings.OutboundSlots; i++ {
		s.slots = append(s.slots, &outboundSlot{id: i, tk: task.New("outbound-slot")})
	}
	return s
}

func (s *outboundSession) start(ctx context.Context) {
	for _, slot := range s.slots {
		slot := slot
		slot.tk.Start(ctx, func(ctx context.Context) error {
			return s.runSlot(ctx, slot)
		}, nil)
	}
}

func (s *outboundSession) stop() {
	for _, slot := range s.slots {
		slot.tk.Stop()
	}
}

func (s *outboundSession) states() []SlotState {
	out := make([]SlotState, len(s.slots))
	for i, slot := range s.slots {
		out[i] = SlotState(slot.state.Load())
	}
	return out
}

func (s *outboundSession) runSlot(ctx context.Context, slot *outboundSlot) error {
	log := s.log.With(zap.Int("slot", slot.id))
	backoff := s.p.settings.OutboundRetry
	for {
		addr, ok := s.p.pool.LoadSingle()
		if !ok {
			slot.state.Store(int32(SlotIdle))
			log.Debug("host pool exhausted, backing off", zap.Duration("wait", backoff))
			if !sleepCtx(ctx, jitter(backoff)) {
				return task.ErrStopped
			}
			backoff = nextBackoff(backoff, s.p.settings.OutboundRetry)
			continue
		}

		if !s.p.claimAddr(addr) {
			// Another slot already serves this peer; the pool has
			// nothing else for us right now.
			slot.state.Store(int32(SlotIdle))
			if !sleepCtx(ctx, jitter(backoff)) {
				return task.ErrStopped
			}
			backoff = nextBackoff(backoff, s.p.settings.OutboundRetry)
			continue
		}

		slot.state.Store(int32(SlotDialing))
		ch, err := s.p.connector.Connect(ctx, addr)
		if err != nil {
			s.p.releaseAddr(addr)
			if ctx.Err() != nil {
				return task.ErrStopped
			}
			s.p.pool.MarkFailed(addr)
			slot.state.Store(int32(SlotIdle))
			log.Debug("dial failed", zap.String("addr", addr), zap.Error(err))
			if !sleepCtx(ctx, jitter(backoff)) {
				return task.ErrStopped
			}
			backoff = nextBackoff(backoff, s.p.settings.OutboundRetry)
			continue
		}

		if err := s.p.registerChannel(ctx, ch, protocol.SessionOutbound); err != nil {
			s.p.releaseAddr(addr)
			if ctx.Err() != nil {
				return task.ErrStopped
			}
			s.p.pool.MarkFailed(addr)
			slot.state.Store(int32(SlotIdle))
			if !sleepCtx(ctx, jitter(backoff)) {
				return task.ErrStopped
			}
			backoff = nextBackoff(backoff, s.p.settings.OutboundRetry)
			continue
		}

		s.p.pool.MarkGood(addr)
		s.p.releaseAddr(addr)
		slot.state.Store(int32(SlotConnected))
		backoff = s.p.settings.OutboundRetry
		log.Info("slot connected", zap.String("addr", addr), zap.String("channel", ch.ID()))

		select {
		case <-ch.Done():
			slot.state.Store(int32(SlotIdle))
			log.Debug("slot disconnected", zap.String("addr", addr))
		case <-ctx.Done():
			ch.Stop()
			return task.ErrStopped
		}
	}
}

const maxBackoff = 60 * time.Second

func nextBackoff(cur, base time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		next = maxBackoff
	}
	if next < base {
		next = base
	}
	return next
}

// jitter spreads retries so slots sharing a backoff schedule do not dial
// in lockstep.
func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

// sleepCtx waits d; false means the context was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

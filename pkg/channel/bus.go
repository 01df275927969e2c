package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

// maxHeld bounds the pre-activation backlog. Before a channel is Active the
// only legitimate traffic is the handshake, so the bound is small.
const maxHeld = 32

// Bus routes inbound envelopes to per-type subscriber queues. One bus per
// channel; the read loop is its only producer, so deliveries to any single
// subscriber arrive in wire order.
//
// Until the channel activates, envelopes for types with no subscription yet
// are held rather than dropped. Both peers fire their version announcement
// the moment the link is up, and the receiving side may not have subscribed
// yet; the held envelopes are replayed, in order, to the first subscriber
// of their type. Activation drops whatever is still unclaimed.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*pubsub.Publisher[wire.Envelope]
	held   []wire.Envelope
	hold   bool
	closed bool
	log    *zap.Logger
}

func newBus(log *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[string]*pubsub.Publisher[wire.Envelope]),
		hold:   true,
		log:    log,
	}
}

// AddDispatch declares interest in a message type. Idempotent; registering
// a type twice yields the same topic.
func (b *Bus) AddDispatch(typ string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.topics[typ]; !ok {
		b.topics[typ] = pubsub.NewPublisher[wire.Envelope]()
	}
}

// Subscribe declares interest in typ and returns a delivery queue for it.
// Held envelopes of that type are replayed into the new subscription.
func (b *Bus) Subscribe(typ string, buffer int) *pubsub.Subscription[wire.Envelope] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		// A dead subscription: its queue is already closed.
		p := pubsub.NewPublisher[wire.Envelope]()
		s := p.Subscribe(buffer)
		p.Close()
		return s
	}
	p, ok := b.topics[typ]
	if !ok {
		p = pubsub.NewPublisher[wire.Envelope]()
		b.topics[typ] = p
	}
	sub := p.Subscribe(buffer)
	if len(b.held) > 0 {
		rest := b.held[:0]
		for _, e := range b.held {
			if e.Type == typ {
				p.TryNotify(e)
				continue
			}
			rest = append(rest, e)
		}
		b.held = rest
	}
	return sub
}

// Dispatch hands an envelope to every subscriber of its type, suspending
// while any subscriber queue is full. Envelopes with no registered type are
// held pre-activation and dropped with a debug log afterwards; the
// connection stays healthy either way.
func (b *Bus) Dispatch(ctx context.Context, e wire.Envelope) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	p, ok := b.topics[e.Type]
	if !ok {
		if b.hold && len(b.held) < maxHeld {
			b.held = append(b.held, e)
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()
		b.log.Debug("dropping message with no dispatcher", zap.String("type", e.Type))
		return nil
	}
	holding := b.hold
	if !holding {
		b.mu.Unlock()
	} else {
		// Keep the lock pre-activation so a concurrent Subscribe cannot
		// interleave its replay with this delivery. Queues are empty at
		// this point, so the notify cannot suspend for long.
		defer b.mu.Unlock()
	}
	if err := p.Notify(ctx, e); err != nil && err != pubsub.ErrClosed {
		return err
	}
	return nil
}

// Release ends the pre-activation hold. Unclaimed envelopes are dropped.
func (b *Bus) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = false
	for _, e := range b.held {
		b.log.Debug("dropping message with no dispatcher", zap.String("type", e.Type))
	}
	b.held = nil
}

// Close tears down every topic, closing all subscriber queues.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.held = nil
	for _, p := range b.topics {
		p.Close()
	}
}

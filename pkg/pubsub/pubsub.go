// Package pubsub implements a generic bounded fan-out broadcast primitive.
// It backs the per-channel dispatch bus as well as higher-level change
// notifications (new connections, host pool updates).
package pubsub

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Receive once a subscription has ended.
var ErrClosed = errors.New("subscription closed")

// Subscription is one receiver attached to a Publisher. It stays valid until
// Unsubscribe is called or the Publisher is closed.
type Subscription[T any] struct {
	id   uint64
	ch   chan T
	quit chan struct{}
	pub  *Publisher[T]

	// sendMu serializes senders against the close of ch. quit is closed
	// first so a suspended sender always wakes up and releases the lock.
	sendMu sync.Mutex
	dead   bool

	once sync.Once
}

func (s *Subscription[T]) ID() uint64 { return s.id }

// C is the delivery queue. It is closed when the subscription ends; values
// buffered before the close are still readable.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Receive blocks for the next value or until ctx is done.
func (s *Subscription[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Unsubscribe detaches the subscription and closes its queue. Subsequent
// Notify calls silently skip it. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		if s.pub != nil {
			s.pub.remove(s.id)
		}
		s.sendMu.Lock()
		s.dead = true
		close(s.ch)
		s.sendMu.Unlock()
	})
}

// Publisher fans values out to all live subscriptions.
type Publisher[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []*Subscription[T]
	closed bool
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{}
}

// Subscribe allocates a new subscription with the given delivery queue
// depth. A buffer of 0 makes every delivery a rendezvous.
func (p *Publisher[T]) Subscribe(buffer int) *Subscription[T] {
	p.mu.Lock()
	p.nextID++
	s := &Subscription[T]{
		id:   p.nextID,
		ch:   make(chan T, buffer),
		quit: make(chan struct{}),
		pub:  p,
	}
	closed := p.closed
	if !closed {
		p.subs = append(p.subs, s)
	}
	p.mu.Unlock()
	if closed {
		s.Unsubscribe()
	}
	return s
}

// Notify delivers v to every live subscription, suspending while a
// receiver's queue is full. A subscriber that unsubscribed mid-flight is
// skipped with a debug trace and does not abort delivery to the others.
// Returns ctx.Err if cancelled while suspended.
func (p *Publisher[T]) Notify(ctx context.Context, v T) error {
	return p.NotifyExclude(ctx, v)
}

// NotifyExclude is Notify skipping the listed subscriber ids. Used to avoid
// echoing a value back to the subscription it originated from.
func (p *Publisher[T]) NotifyExclude(ctx context.Context, v T, exclude ...uint64) error {
	for _, s := range p.snapshot() {
		if containsID(exclude, s.id) {
			continue
		}
		if err := s.deliver(ctx, v, true); err != nil {
			return err
		}
	}
	return nil
}

// TryNotify delivers without blocking, dropping the value for any subscriber
// whose queue is full. Used for advisory change notifications where losing
// an update is acceptable.
func (p *Publisher[T]) TryNotify(v T) {
	for _, s := range p.snapshot() {
		_ = s.deliver(context.Background(), v, false)
	}
}

func (s *Subscription[T]) deliver(ctx context.Context, v T, block bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.dead {
		zap.L().Debug("pubsub: subscriber gone, delivery skipped", zap.Uint64("sub", s.id))
		return nil
	}
	if !block {
		select {
		case s.ch <- v:
		default:
			zap.L().Debug("pubsub: subscriber queue full, notification dropped", zap.Uint64("sub", s.id))
		}
		return nil
	}
	select {
	case s.ch <- v:
		return nil
	case <-s.quit:
		zap.L().Debug("pubsub: subscriber gone, delivery skipped", zap.Uint64("sub", s.id))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends every subscription. Further Subscribe calls return an already
// closed subscription and Notify becomes a no-op.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	subs := append([]*Subscription[T](nil), p.subs...)
	p.closed = true
	p.mu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Len reports the number of live subscriptions.
func (p *Publisher[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher[T]) snapshot() []*Subscription[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Subscription[T], len(p.subs))
	copy(out, p.subs)
	return out
}

func (p *Publisher[T]) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.id == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

func containsID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Package channel owns one established duplex link: its read loop, bounded
// write queue, per-link dispatch bus and the supervisor for protocol tasks
// attached to it.
package channel

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/metrics"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/task"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

// State tracks the channel lifecycle:
// Created → HandshakePending → Active → Stopping → Stopped.
type State int32

const (
	StateCreated State = iota
	StateHandshakePending
	StateActive
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateHandshakePending:
		return "handshake-pending"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options tunes per-channel queue depths. Zero values select defaults.
type Options struct {
	// WriteQueue bounds the outbound send queue (default 64). A full
	// queue back-pressures Send callers.
	WriteQueue int
	// SubscriberQueue is the delivery queue depth handed to Subscribe
	// (default 32).
	SubscriberQueue int
}

func (o Options) withDefaults() Options {
	if o.WriteQueue <= 0 {
		o.WriteQueue = 64
	}
	if o.SubscriberQueue <= 0 {
		o.SubscriberQueue = 32
	}
	return o
}

// Channel is one established link. Both loops start immediately on New;
// protocol activation is driven externally by the owning session once the
// handshake succeeds.
type Channel struct {
	id   string
	url  string
	st   transport.Stream
	bus  *Bus
	wr   *wire.Writer
	sup  *Supervisor
	opts Options
	log  *zap.Logger

	sendQ chan wire.Envelope

	// loopCtx cancels the read/write loops; stopped is the broadcast,
	// single-shot stop signal observable by anyone holding the channel.
	loopCtx  context.Context
	loopStop context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
	stopDone chan struct{}
	loops    sync.WaitGroup

	state atomic.Int32

	errMu sync.Mutex
	err   error
}

// New wraps an established stream. url is the remote peer URL the stream
// was dialed to or accepted as.
func New(st transport.Stream, url string, opts Options) *Channel {
	opts = opts.withDefaults()
	c := &Channel{
		id:       uuid.NewString(),
		url:      url,
		st:       st,
		wr:       wire.NewWriter(st),
		opts:     opts,
		sendQ:    make(chan wire.Envelope, opts.WriteQueue),
		stopped:  make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	c.log = zap.L().With(zap.String("channel", c.id), zap.String("remote", url))
	c.bus = newBus(c.log)
	c.sup = newSupervisor(c.log)
	c.loopCtx, c.loopStop = context.WithCancel(context.Background())
	c.state.Store(int32(StateCreated))

	c.loops.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c
}

func (c *Channel) ID() string        { return c.id }
func (c *Channel) RemoteURL() string { return c.url }
func (c *Channel) State() State      { return State(c.state.Load()) }

// Done fires when the stop signal has been broadcast. Teardown may still be
// in flight; Stop is the joining call.
func (c *Channel) Done() <-chan struct{} { return c.stopped }

// Err reports why the channel stopped: nil for a deliberate stop or clean
// remote disconnect, wire.ErrMalformedFrame for an undecodable frame, the
// underlying I/O error otherwise.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// BeginHandshake marks the handshake as running on this channel.
func (c *Channel) BeginHandshake() {
	c.state.CompareAndSwap(int32(StateCreated), int32(StateHandshakePending))
}

// Activate transitions the channel to Active, enabling protocol start.
// Called exactly once by the owning session after the handshake succeeds.
func (c *Channel) Activate() {
	if c.state.CompareAndSwap(int32(StateHandshakePending), int32(StateActive)) {
		metrics.ActiveChannels.Inc()
		c.log.Debug("channel active")
	}
}

// Send enqueues an envelope onto the bounded write queue. It suspends while
// the queue is full (back-pressure) and fails with task.ErrStopped once the
// channel is stopping.
func (c *Channel) Send(ctx context.Context, e wire.Envelope) error {
	select {
	case <-c.stopped:
		return task.ErrStopped
	default:
	}
	select {
	case c.sendQ <- e:
		return nil
	case <-c.stopped:
		return task.ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddDispatch registers interest in a message type on this channel's bus.
func (c *Channel) AddDispatch(typ string) { c.bus.AddDispatch(typ) }

// Subscribe registers interest in typ and returns a delivery queue for it.
func (c *Channel) Subscribe(typ string) *pubsub.Subscription[wire.Envelope] {
	return c.bus.Subscribe(typ, c.opts.SubscriberQueue)
}

// Bus exposes the channel's dispatch bus.
func (c *Channel) Bus() *Bus { return c.bus }

// Spawn registers a protocol task with this channel's supervisor. The task
// is cancelled, then joined, when the channel stops.
func (c *Channel) Spawn(name string, fn func(ctx context.Context) error) {
	c.sup.Spawn(name, fn)
}

// Stop broadcasts the stop signal, cancels every supervised protocol task,
// closes the stream and joins both loops. It is idempotent; every caller
// returns only once teardown has fully completed.
//
// Must not be called synchronously from a supervised task (the supervisor
// join would wait on the caller); use StopAsync there.
func (c *Channel) Stop() {
	c.stopOnce.Do(func() {
		wasActive := c.state.Swap(int32(StateStopping)) == int32(StateActive)
		close(c.stopped)
		go func() {
			c.sup.Stop()
			c.loopStop()
			_ = c.st.Close()
			c.loops.Wait()
			c.bus.Close()
			if wasActive {
				metrics.ActiveChannels.Dec()
			}
			c.state.Store(int32(StateStopped))
			c.log.Debug("channel stopped", zap.Error(c.Err()))
			close(c.stopDone)
		}()
	})
	<-c.stopDone
}

// StopAsync triggers Stop without waiting for teardown. Safe to call from
// supervised protocol tasks and from the channel's own loops.
func (c *Channel) StopAsync() { go c.Stop() }

func (c *Channel) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// readLoop deserializes frames and fans them out through the bus. Dispatch
// applies back-pressure: a full subscriber queue suspends this loop rather
// than dropping, preserving per-type FIFO delivery.
func (c *Channel) readLoop() {
	defer c.loops.Done()
	r := wire.NewReader(c.st)
	for {
		env, err := r.ReadEnvelope()
		if err != nil {
			select {
			case <-c.stopped:
				return
			default:
			}
			switch {
			case errors.Is(err, io.EOF):
				c.log.Debug("remote closed connection")
			case errors.Is(err, wire.ErrMalformedFrame):
				c.log.Warn("stopping channel on malformed frame", zap.Error(err))
				c.setErr(err)
			default:
				c.log.Debug("read failed", zap.Error(err))
				c.setErr(err)
			}
			c.StopAsync()
			return
		}
		metrics.MessagesIn.Inc()
		metrics.BytesIn.Add(float64(len(env.Payload)))
		if err := c.bus.Dispatch(c.loopCtx, env); err != nil {
			return // cancelled during a suspended delivery
		}
	}
}

// writeLoop drains the send queue onto the stream. Exactly one consumer.
func (c *Channel) writeLoop() {
	defer c.loops.Done()
	for {
		select {
		case <-c.loopCtx.Done():
			return
		case e := <-c.sendQ:
			if err := c.wr.WriteEnvelope(e); err != nil {
				select {
				case <-c.stopped:
				default:
					c.log.Debug("write failed", zap.Error(err))
					c.setErr(err)
					c.StopAsync()
				}
				return
			}
			metrics.MessagesOut.Inc()
			metrics.BytesOut.Add(float64(len(e.Payload)))
		}
	}
}

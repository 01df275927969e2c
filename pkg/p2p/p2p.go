// Package p2p composes the substrate: host pool, handshake, the three
// sessions and the protocol registry, behind one start/stop entry point.
package p2p

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/handshake"
	"github.com/darkrenaissance/darkfi-sub017/pkg/hostpool"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocols/peerdisc"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/task"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/quic"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/tcp"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/tlstcp"
	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

// Option customizes a node beyond Settings.
type Option func(*P2P)

// WithTransports replaces the default transport set. Used by tests to run
// whole nodes over in-process pipes.
func WithTransports(reg *transport.Registry) Option {
	return func(p *P2P) { p.transports = reg }
}

// WithChannelOptions overrides per-channel queue tuning.
func WithChannelOptions(opts channel.Options) Option {
	return func(p *P2P) { p.chanOpts = opts }
}

// WithCompat replaces the handshake compatibility check.
func WithCompat(fn handshake.CompatFunc) Option {
	return func(p *P2P) { p.compat = fn }
}

// P2P is the top-level substrate object. Register protocols, then Start.
type P2P struct {
	settings   Settings
	transports *transport.Registry
	registry   *protocol.Registry
	pool       *hostpool.Pool
	hs         *handshake.Handshake
	connector  *Connector
	compat     handshake.CompatFunc
	chanOpts   channel.Options
	log        *zap.Logger

	inbound  *inboundSession
	outbound *outboundSession
	seedTask *task.Task

	mu       sync.Mutex
	started  bool
	stopping bool
	channels map[string]*channel.Channel
	dialing  map[string]struct{}
	events   *pubsub.Publisher[ChannelEvent]
}

// New validates settings and assembles an unstarted node. The default
// transport set serves tcp, tcp+tls (self-signed identity) and quic.
func New(settings Settings, opts ...Option) (*P2P, error) {
	settings = settings.withDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	p := &P2P{
		settings: settings,
		registry: protocol.NewRegistry(),
		pool:     hostpool.New(hostpool.Options{}),
		channels: make(map[string]*channel.Channel),
		dialing:  make(map[string]struct{}),
		events:   pubsub.NewPublisher[ChannelEvent](),
		log:      zap.L().Named("p2p"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.transports == nil {
		reg := transport.NewRegistry()
		reg.Register(tcp.New())
		tls, err := tlstcp.New(tlstcp.Options{})
		if err != nil {
			return nil, fmt.Errorf("%w: tls transport: %v", ErrOperationFailed, err)
		}
		reg.Register(tls)
		reg.Register(quic.New(tls.ServerTLS()))
		p.transports = reg
	}

	p.hs = handshake.New(handshake.Version{
		Protocol: settings.ProtocolVersion,
		App:      settings.AppVersion,
	}, settings.HandshakeTimeout, p.compat)
	p.connector = NewConnector(p.transports, p.chanOpts, settings.DialTimeout)

	// Address discovery is part of the substrate itself.
	p.registry.Register(protocol.SessionInbound|protocol.SessionOutbound,
		peerdisc.NewFactory(p.pool, settings.External))
	p.registry.Register(protocol.SessionSeed,
		peerdisc.NewSeedFactory(p.pool, settings.External))

	return p, nil
}

// Registry is where external collaborators attach their protocol factories
// before Start.
func (p *P2P) Registry() *protocol.Registry { return p.registry }

// HostPool exposes the address store.
func (p *P2P) HostPool() *hostpool.Pool { return p.pool }

// ListenURLs reports the bound inbound addresses, useful when listening on
// an ephemeral port. Empty before Start or without an inbound session.
func (p *P2P) ListenURLs() []string {
	if p.inbound == nil {
		return nil
	}
	return p.inbound.listenURLs()
}

// OutboundSlotStates snapshots every outbound slot's state.
func (p *P2P) OutboundSlotStates() []SlotState {
	if p.outbound == nil {
		return nil
	}
	return p.outbound.states()
}

// Start boots the host pool with static peers, binds the inbound session,
// spins up the outbound slots, and kicks off the one-shot seed bootstrap
// interleaved with both. Session startup failures abort Start; the seed
// session's per-seed failures do not.
func (p *P2P) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("%w: already started", ErrOperationFailed)
	}
	p.started = true
	p.mu.Unlock()

	for _, addr := range p.settings.Peers {
		p.pool.Store(addr)
	}

	if len(p.settings.Inbound) > 0 {
		p.inbound = newInboundSession(p)
		if err := p.inbound.start(ctx); err != nil {
			return err
		}
	}
	if p.settings.OutboundSlots > 0 {
		p.outbound = newOutboundSession(p)
		p.outbound.start(ctx)
	}
	if len(p.settings.Seeds) > 0 {
		p.seedTask = task.New("seed-session")
		seed := newSeedSession(p)
		p.seedTask.Start(ctx, seed.run, nil)
	}

	p.log.Info("p2p started",
		zap.Strings("listen", p.ListenURLs()),
		zap.Int("outbound_slots", p.settings.OutboundSlots),
		zap.Int("seeds", len(p.settings.Seeds)))
	return nil
}

// Stop tears down every session, then every remaining channel, and joins
// all of it before returning. Idempotent.
func (p *P2P) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	p.mu.Unlock()

	if p.inbound != nil {
		p.inbound.stop()
	}
	if p.outbound != nil {
		p.outbound.stop()
	}
	if p.seedTask != nil {
		p.seedTask.Stop()
	}

	for _, ch := range p.Channels() {
		ch.Stop()
	}
	p.events.Close()
	p.pool.Close()
	p.log.Info("p2p stopped")
}

// Broadcast sends an envelope on every currently active channel. Per-peer
// failures are logged and do not abort delivery to the rest.
func (p *P2P) Broadcast(ctx context.Context, e wire.Envelope) {
	p.BroadcastExclude(ctx, e)
}

// BroadcastExclude is Broadcast minus the named channel ids, used to avoid
// echoing a message back to the channel it arrived on.
func (p *P2P) BroadcastExclude(ctx context.Context, e wire.Envelope, exclude ...string) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, ch := range p.Channels() {
		if _, ok := skip[ch.ID()]; ok {
			continue
		}
		if ch.State() != channel.StateActive {
			continue
		}
		if err := ch.Send(ctx, e); err != nil {
			p.log.Debug("broadcast send failed",
				zap.String("channel", ch.ID()), zap.Error(err))
		}
	}
}

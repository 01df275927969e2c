package p2p

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
)

// ChannelEventKind tags connection-set change notifications.
type ChannelEventKind int

const (
	ChannelAdded ChannelEventKind = iota
	ChannelRemoved
)

// ChannelEvent is published when a channel joins or leaves the node's
// connection set.
type ChannelEvent struct {
	Kind ChannelEventKind
	Ch   *channel.Channel
}

// registerChannel runs the shared activation flow used by every session:
// handshake, protocol attachment, activation, then tracking until the stop
// signal fires. Failure during the handshake stops the channel and returns
// without any protocol ever having observed it.
func (p *P2P) registerChannel(ctx context.Context, ch *channel.Channel, kind protocol.Mask) error {
	log := p.log.With(zap.String("channel", ch.ID()),
		zap.String("remote", ch.RemoteURL()), zap.Stringer("session", kind))
	log.Debug("registering channel")

	remote, err := p.hs.Run(ctx, ch)
	if err != nil {
		log.Debug("handshake failed", zap.Error(err))
		ch.Stop()
		return err
	}

	// Protocols are constructed before activation but started only after,
	// so nothing outside the handshake can observe pre-active traffic.
	protos, err := p.registry.Attach(kind, ch)
	if err != nil {
		ch.Stop()
		return err
	}

	ch.Activate()
	for _, proto := range protos {
		if err := proto.Start(); err != nil {
			log.Warn("protocol failed to start", zap.String("protocol", proto.Name()), zap.Error(err))
		}
	}
	// Every protocol has its subscriptions in place; stop holding early
	// traffic for types nobody claimed.
	ch.Bus().Release()

	if err := p.addChannel(ch); err != nil {
		ch.Stop()
		return err
	}
	log.Info("channel active", zap.String("remote_app", remote.App))

	go func() {
		<-ch.Done()
		p.removeChannel(ch)
		log.Debug("channel removed")
	}()
	return nil
}

func (p *P2P) addChannel(ch *channel.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return fmt.Errorf("%w: node is stopping", ErrOperationFailed)
	}
	p.channels[ch.ID()] = ch
	p.events.TryNotify(ChannelEvent{Kind: ChannelAdded, Ch: ch})
	return nil
}

func (p *P2P) removeChannel(ch *channel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[ch.ID()]; !ok {
		return
	}
	delete(p.channels, ch.ID())
	p.events.TryNotify(ChannelEvent{Kind: ChannelRemoved, Ch: ch})
}

// claimAddr reserves addr for one dialer. It fails when another slot is
// already dialing it or an established channel already points there, so two
// slots never burn their capacity on the same peer.
func (p *P2P) claimAddr(addr string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.dialing[addr]; ok {
		return false
	}
	for _, ch := range p.channels {
		if ch.RemoteURL() == addr {
			return false
		}
	}
	p.dialing[addr] = struct{}{}
	return true
}

func (p *P2P) releaseAddr(addr string) {
	p.mu.Lock()
	delete(p.dialing, addr)
	p.mu.Unlock()
}

// SubscribeEvents delivers connection-set changes. Best-effort: a slow
// observer misses events rather than stalling registration.
func (p *P2P) SubscribeEvents(buffer int) *pubsub.Subscription[ChannelEvent] {
	return p.events.Subscribe(buffer)
}

// Channels snapshots the current connection set.
func (p *P2P) Channels() []*channel.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*channel.Channel, 0, len(p.channels))
	for _, ch := range p.channels {
		out = append(out, ch)
	}
	return out
}

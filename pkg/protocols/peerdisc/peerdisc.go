// Package peerdisc implements address exchange: peers answer getaddrs
// queries from their host pool and absorb addrs announcements into it. The
// seed variant fires one query and stops its channel once answered, which
// is the whole point of a seed connection.
package peerdisc

import (
	"context"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/codec"
	"github.com/darkrenaissance/darkfi-sub017/pkg/hostpool"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

const (
	TypeGetAddrs = "getaddrs"
	TypeAddrs    = "addrs"
)

// DefaultLimit bounds how many addresses one reply may carry.
const DefaultLimit = 256

// GetAddrs asks a peer for known addresses.
type GetAddrs struct {
	Limit uint32 `cbor:"limit"`
}

// Addrs is the reply, also sent unsolicited by peers announcing hosts.
type Addrs struct {
	Addrs []string `cbor:"addrs"`
}

// NewFactory serves address queries on long-lived channels and stores any
// announced addresses. self is this node's external address; it is never
// stored from an announcement and never handed out as part of a reply when
// empty.
func NewFactory(pool *hostpool.Pool, self string) protocol.Factory {
	return func(ch *channel.Channel) (protocol.Protocol, error) {
		return &proto{ch: ch, pool: pool, self: self, log: zap.L().Named("peerdisc")}, nil
	}
}

// NewSeedFactory is the one-shot bootstrap variant: query the seed, store
// the reply, announce ourselves, then stop the channel.
func NewSeedFactory(pool *hostpool.Pool, self string) protocol.Factory {
	return func(ch *channel.Channel) (protocol.Protocol, error) {
		return &proto{ch: ch, pool: pool, self: self, oneShot: true,
			log: zap.L().Named("peerdisc.seed")}, nil
	}
}

type proto struct {
	ch      *channel.Channel
	pool    *hostpool.Pool
	self    string
	oneShot bool
	cdc     codec.Codec
	log     *zap.Logger
}

func (p *proto) Name() string {
	if p.oneShot {
		return "peerdisc.seed"
	}
	return "peerdisc"
}

func (p *proto) Start() error {
	p.cdc = codec.CBOR()
	if p.oneShot {
		subAddrs := p.ch.Subscribe(TypeAddrs)
		p.ch.Spawn("peerdisc.bootstrap", func(ctx context.Context) error {
			defer subAddrs.Unsubscribe()
			return p.bootstrap(ctx, subAddrs)
		})
		return nil
	}
	subGet := p.ch.Subscribe(TypeGetAddrs)
	p.ch.Spawn("peerdisc.serve", func(ctx context.Context) error {
		defer subGet.Unsubscribe()
		return p.serve(ctx, subGet)
	})
	subAddrs := p.ch.Subscribe(TypeAddrs)
	p.ch.Spawn("peerdisc.absorb", func(ctx context.Context) error {
		defer subAddrs.Unsubscribe()
		return p.absorb(ctx, subAddrs)
	})
	return nil
}

// bootstrap runs the seed exchange. The channel is stopped when done; the
// seed session observes the stop signal and treats the attempt as
// complete.
func (p *proto) bootstrap(ctx context.Context, sub *pubsub.Subscription[wire.Envelope]) error {
	if p.self != "" {
		announce, err := p.cdc.Marshal(Addrs{Addrs: []string{p.self}})
		if err != nil {
			return err
		}
		if err := p.ch.Send(ctx, wire.Envelope{Type: TypeAddrs, Payload: announce}); err != nil {
			return err
		}
	}
	query, err := p.cdc.Marshal(GetAddrs{Limit: DefaultLimit})
	if err != nil {
		return err
	}
	if err := p.ch.Send(ctx, wire.Envelope{Type: TypeGetAddrs, Payload: query}); err != nil {
		return err
	}
	env, err := sub.Receive(ctx)
	if err != nil {
		if err == pubsub.ErrClosed || ctx.Err() != nil {
			return nil
		}
		return err
	}
	n := p.store(env.Payload)
	p.log.Info("seed bootstrap complete",
		zap.String("remote", p.ch.RemoteURL()), zap.Int("addrs", n))
	p.ch.StopAsync()
	return nil
}

func (p *proto) serve(ctx context.Context, sub *pubsub.Subscription[wire.Envelope]) error {
	for {
		env, err := sub.Receive(ctx)
		if err != nil {
			if err == pubsub.ErrClosed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var req GetAddrs
		if err := p.cdc.Unmarshal(env.Payload, &req); err != nil {
			p.log.Debug("ignoring malformed getaddrs", zap.Error(err))
			continue
		}
		limit := int(req.Limit)
		if limit <= 0 || limit > DefaultLimit {
			limit = DefaultLimit
		}
		addrs := p.pool.Addrs()
		if len(addrs) > limit {
			addrs = addrs[:limit]
		}
		reply, err := p.cdc.Marshal(Addrs{Addrs: addrs})
		if err != nil {
			return err
		}
		if err := p.ch.Send(ctx, wire.Envelope{Type: TypeAddrs, Payload: reply}); err != nil {
			return err
		}
	}
}

func (p *proto) absorb(ctx context.Context, sub *pubsub.Subscription[wire.Envelope]) error {
	for {
		env, err := sub.Receive(ctx)
		if err != nil {
			if err == pubsub.ErrClosed || ctx.Err() != nil {
				return nil
			}
			return err
		}
		p.store(env.Payload)
	}
}

// store decodes an addrs payload into the pool, skipping our own address.
// Returns how many entries were new.
func (p *proto) store(payload []byte) int {
	var msg Addrs
	if err := p.cdc.Unmarshal(payload, &msg); err != nil {
		p.log.Debug("ignoring malformed addrs", zap.Error(err))
		return 0
	}
	stored := 0
	for _, addr := range msg.Addrs {
		if addr == "" || addr == p.self {
			continue
		}
		if p.pool.Store(addr) {
			stored++
		}
	}
	return stored
}

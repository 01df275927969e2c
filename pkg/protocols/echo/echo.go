// Package echo is a trivial request/reply protocol, mainly useful for
// connectivity checks and tests.
package echo

import (
	"context"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

const (
	TypeRequest = "echo.req"
	TypeReply   = "echo.rep"
)

// NewFactory registers the responder side: every echo.req is answered with
// an echo.rep carrying the identical payload.
func NewFactory() protocol.Factory {
	return func(ch *channel.Channel) (protocol.Protocol, error) {
		return &proto{ch: ch, log: zap.L().Named("echo")}, nil
	}
}

type proto struct {
	ch  *channel.Channel
	log *zap.Logger
}

func (p *proto) Name() string { return "echo" }

func (p *proto) Start() error {
	sub := p.ch.Subscribe(TypeRequest)
	p.ch.Spawn("echo.respond", func(ctx context.Context) error {
		defer sub.Unsubscribe()
		for {
			env, err := sub.Receive(ctx)
			if err != nil {
				if err == pubsub.ErrClosed || ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := p.ch.Send(ctx, wire.Envelope{Type: TypeReply, Payload: env.Payload}); err != nil {
				return err
			}
		}
	})
	return nil
}

// Ping sends one request and waits for the matching reply. Intended for
// callers outside the protocol loop, such as health checks.
func Ping(ctx context.Context, ch *channel.Channel, payload []byte) ([]byte, error) {
	sub := ch.Subscribe(TypeReply)
	defer sub.Unsubscribe()
	if err := ch.Send(ctx, wire.Envelope{Type: TypeRequest, Payload: payload}); err != nil {
		return nil, err
	}
	env, err := sub.Receive(ctx)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

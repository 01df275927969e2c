package p2p

import (
	"context"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/task"
)

// inboundSession owns one acceptor per configured listen URL and registers
// every accepted channel.
type inboundSession struct {
	p         *P2P
	acceptors []*Acceptor
	tasks     []*task.Task
	log       *zap.Logger
}

func newInboundSession(p *P2P) *inboundSession {
	return &inboundSession{p: p, log: p.log.Named("inbound")}
}

// start binds every listen URL. Any bind failure unwinds the already-bound
// listeners and fails the whole session.
func (s *inboundSession) start(ctx context.Context) error {
	for _, url := range s.p.settings.Inbound {
		acc := NewAcceptor(s.p.transports, s.p.chanOpts)
		sub := acc.Subscribe(8)
		if err := acc.Start(ctx, url); err != nil {
			sub.Unsubscribe()
			acc.Stop()
			s.stop()
			return err
		}
		s.acceptors = append(s.acceptors, acc)

		tk := task.New("inbound:" + url)
		s.tasks = append(s.tasks, tk)
		tk.Start(ctx, func(ctx context.Context) error {
			return s.consume(ctx, sub)
		}, nil)
	}
	return nil
}

// consume registers accepted channels off the acceptor's queue. Each
// registration runs on its own goroutine so one slow handshake does not
// stall further accepts.
func (s *inboundSession) consume(ctx context.Context, sub *pubsub.Subscription[*channel.Channel]) error {
	defer sub.Unsubscribe()
	for {
		ch, err := sub.Receive(ctx)
		if err != nil {
			if err == pubsub.ErrClosed || ctx.Err() != nil {
				return task.ErrStopped
			}
			return err
		}
		go func() {
			if err := s.p.registerChannel(ctx, ch, protocol.SessionInbound); err != nil {
				s.log.Debug("inbound registration failed",
					zap.String("remote", ch.RemoteURL()), zap.Error(err))
			}
		}()
	}
}

// listenURLs reports the actually bound addresses.
func (s *inboundSession) listenURLs() []string {
	urls := make([]string, 0, len(s.acceptors))
	for _, acc := range s.acceptors {
		urls = append(urls, acc.ListenURL())
	}
	return urls
}

func (s *inboundSession) stop() {
	for _, acc := range s.acceptors {
		acc.Stop()
	}
	for _, tk := range s.tasks {
		tk.Stop()
	}
}

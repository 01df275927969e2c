package p2p

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
)

// seedSession is the one-shot bootstrap: dial every configured seed
// concurrently, let the seed-mask protocols (address discovery) run, then
// tear the connection down. It completes once every attempt has finished,
// success or failure.
type seedSession struct {
	p   *P2P
	log *zap.Logger
}

func newSeedSession(p *P2P) *seedSession {
	return &seedSession{p: p, log: p.log.Named("seed")}
}

func (s *seedSession) run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, seed := range s.p.settings.Seeds {
		wg.Add(1)
		go func(seed string) {
			defer wg.Done()
			s.attempt(ctx, seed)
		}(seed)
	}
	wg.Wait()
	s.log.Debug("seed session complete", zap.Int("seeds", len(s.p.settings.Seeds)))
	return nil
}

// attempt runs one seed exchange. The discovery protocol stops the channel
// itself once it has its answer; the grace timer bounds a seed that
// accepted the handshake but never replies.
func (s *seedSession) attempt(ctx context.Context, seed string) {
	ch, err := s.p.connector.Connect(ctx, seed)
	if err != nil {
		s.log.Warn("seed unreachable", zap.String("seed", seed), zap.Error(err))
		return
	}
	if err := s.p.registerChannel(ctx, ch, protocol.SessionSeed); err != nil {
		s.log.Warn("seed registration failed", zap.String("seed", seed), zap.Error(err))
		return
	}

	grace := 2 * s.p.settings.HandshakeTimeout
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-ch.Done():
	case <-timer.C:
		s.log.Debug("seed exchange timed out", zap.String("seed", seed))
	case <-ctx.Done():
	}
	ch.Stop()
}

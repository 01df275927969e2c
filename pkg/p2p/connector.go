package p2p

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/metrics"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

// Connector turns a dial into a ready channel. Transport errors pass
// through unmodified so callers can tell timeout from refused from
// unsupported scheme.
type Connector struct {
	transports  *transport.Registry
	chanOpts    channel.Options
	dialTimeout time.Duration
	log         *zap.Logger
}

func NewConnector(transports *transport.Registry, chanOpts channel.Options, dialTimeout time.Duration) *Connector {
	return &Connector{
		transports:  transports,
		chanOpts:    chanOpts,
		dialTimeout: dialTimeout,
		log:         zap.L().Named("connector"),
	}
}

// Connect dials url within the configured timeout and wraps the stream in
// a channel. The channel's loops are already running on return.
func (c *Connector) Connect(ctx context.Context, url string) (*channel.Channel, error) {
	st, err := c.transports.Dial(ctx, url, c.dialTimeout)
	if err != nil {
		metrics.DialFailures.Inc()
		c.log.Debug("dial failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	ch := channel.New(st, url, c.chanOpts)
	c.log.Debug("connected", zap.String("url", url), zap.String("channel", ch.ID()))
	return ch, nil
}

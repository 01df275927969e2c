package p2p

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
	"github.com/darkrenaissance/darkfi-sub017/pkg/task"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

// Acceptor binds one listen URL and publishes a channel for every accepted
// stream. The inbound session subscribes and drives registration.
type Acceptor struct {
	transports *transport.Registry
	chanOpts   channel.Options
	pub        *pubsub.Publisher[*channel.Channel]
	tk         *task.Task
	ln         transport.Listener
	scheme     string
	log        *zap.Logger
}

func NewAcceptor(transports *transport.Registry, chanOpts channel.Options) *Acceptor {
	return &Acceptor{
		transports: transports,
		chanOpts:   chanOpts,
		pub:        pubsub.NewPublisher[*channel.Channel](),
		tk:         task.New("acceptor"),
		log:        zap.L().Named("acceptor"),
	}
}

// Subscribe delivers accepted channels. Must be called before Start so no
// accept is lost.
func (a *Acceptor) Subscribe(buffer int) *pubsub.Subscription[*channel.Channel] {
	return a.pub.Subscribe(buffer)
}

// Start binds url and runs the accept loop. Bind failure is returned
// immediately and fails the owning session.
func (a *Acceptor) Start(ctx context.Context, url string) error {
	scheme, _, err := transport.SplitURL(url)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	ln, err := a.transports.Listen(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: bind %s: %v", ErrOperationFailed, url, err)
	}
	a.ln = ln
	a.scheme = scheme
	a.log.Info("listening", zap.String("url", a.ListenURL()))

	a.tk.Start(ctx, a.acceptLoop, func(err error) {
		if err != nil && err != task.ErrStopped {
			a.log.Warn("accept loop terminated", zap.Error(err))
		}
	})
	return nil
}

// ListenURL reports the bound address as a dialable URL. With an ephemeral
// port in the listen URL this carries the real port.
func (a *Acceptor) ListenURL() string {
	if a.ln == nil {
		return ""
	}
	return a.scheme + "://" + a.ln.Addr().String()
}

func (a *Acceptor) acceptLoop(ctx context.Context) error {
	for {
		st, err := a.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return task.ErrStopped
			}
			return err
		}
		url := a.scheme + "://" + st.RemoteAddr().String()
		ch := channel.New(st, url, a.chanOpts)
		a.log.Debug("accepted connection", zap.String("remote", url), zap.String("channel", ch.ID()))
		if err := a.pub.Notify(ctx, ch); err != nil {
			ch.Stop()
			if ctx.Err() != nil {
				return task.ErrStopped
			}
			return err
		}
	}
}

// Stop closes the listener and joins the accept loop.
func (a *Acceptor) Stop() {
	if a.ln != nil {
		_ = a.ln.Close()
	}
	a.tk.Stop()
	a.pub.Close()
}

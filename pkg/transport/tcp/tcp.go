// Package tcp implements the plain stream transport for tcp:// URLs.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

// Transport dials and listens plain TCP streams.
type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Schemes() []string { return []string{"tcp"} }

func (t *Transport) Listen(ctx context.Context, hostport string) (transport.Listener, error) {
	l, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}
	tl := NewListener(l)
	go func() { <-ctx.Done(); _ = tl.Close() }()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, hostport string, timeout time.Duration) (transport.Stream, error) {
	d := &net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, transport.WrapDialErr(err)
	}
	return c, nil
}

// Listener adapts a net.Listener to the context-aware Accept contract.
// Exported so the TLS upgrade can reuse it around a wrapped net.Listener.
type Listener struct {
	l         net.Listener
	newCh     chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewListener(l net.Listener) *Listener {
	tl := &Listener{l: l, newCh: make(chan net.Conn), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	return tl
}

func (l *Listener) Addr() net.Addr { return l.l.Addr() }

func (l *Listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("tcp: listener closed")
	case c := <-l.newCh:
		return c, nil
	}
}

func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return l.l.Close()
}

func (l *Listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		select {
		case l.newCh <- c:
		case <-l.closeCh:
			_ = c.Close()
			return
		}
	}
}

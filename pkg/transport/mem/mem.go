// Package mem is an in-process transport over net.Pipe for mem:// URLs.
// Listener names are scoped to the Transport instance, so tests can build
// isolated networks by sharing one instance between nodes.
package mem

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

// Transport wires dials to listeners by name.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Schemes() []string { return []string{"mem"} }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists: " + name)
	}
	l := &listener{t: t, name: name, newCh: make(chan transport.Stream), closeCh: make(chan struct{})}
	t.listeners[name] = l
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, timeout time.Duration) (transport.Stream, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener: " + name)
	}
	c1, c2 := net.Pipe()
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case l.newCh <- namedStream{Conn: c1, name: name}:
		return namedStream{Conn: c2, name: name}, nil
	case <-l.closeCh:
		_ = c1.Close()
		_ = c2.Close()
		return nil, errors.New("mem: listener closed: " + name)
	case <-dctx.Done():
		_ = c1.Close()
		_ = c2.Close()
		return nil, transport.WrapDialErr(dctx.Err())
	}
}

type listener struct {
	t       *Transport
	name    string
	newCh     chan transport.Stream
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("mem: listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closeCh)
		l.t.mu.Lock()
		delete(l.t.listeners, l.name)
		l.t.mu.Unlock()
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

// namedStream gives pipe ends a stable address for logging.
type namedStream struct {
	net.Conn
	name string
}

func (s namedStream) LocalAddr() net.Addr  { return memAddr(s.name) }
func (s namedStream) RemoteAddr() net.Addr { return memAddr(s.name) }

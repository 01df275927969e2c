// Package quic implements the stream transport for quic:// URLs. Each QUIC
// connection carries exactly one bidirectional stream (the dialer opens it,
// the listener accepts it); multiplexing is deliberately not exposed, the
// substrate runs one logical stream per link.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

const alpnProto = "darkfi-p2p"

// Transport dials and listens QUIC sessions.
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// New builds a QUIC transport using the given TLS server configuration. The
// certificate requirements match the tcp+tls transport; callers typically
// share one config between both. A nil conf yields a dial-only transport:
// Listen fails for lack of a certificate.
func New(serverConf *tls.Config) *Transport {
	conf := serverConf.Clone()
	if conf == nil {
		conf = &tls.Config{}
	}
	conf.NextProtos = []string{alpnProto}
	conf.MinVersion = tls.VersionTLS13
	return &Transport{tlsConf: conf, quicConf: &quicgo.Config{}}
}

func (t *Transport) Schemes() []string { return []string{"quic"} }

func (t *Transport) Listen(ctx context.Context, hostport string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(hostport, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, newCh: make(chan transport.Stream), closeCh: make(chan struct{})}
	go ql.acceptLoop(ctx)
	go func() { <-ctx.Done(); _ = ql.Close() }()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, hostport string, timeout time.Duration) (transport.Stream, error) {
	dctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conf := &tls.Config{
		InsecureSkipVerify: true, // NOTE: peer identity is established at the application layer.
		NextProtos:         []string{alpnProto},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(dctx, hostport, conf, t.quicConf)
	if err != nil {
		return nil, transport.WrapDialErr(err)
	}
	st, err := c.OpenStreamSync(dctx)
	if err != nil {
		_ = c.CloseWithError(0, "")
		return nil, transport.WrapDialErr(err)
	}
	// The stream only becomes visible to the peer once data flows; the
	// handshake's version message follows immediately, so the listener's
	// AcceptStream completes then.
	return &stream{c: c, st: st}, nil
}

type listener struct {
	l       *quicgo.Listener
	newCh     chan transport.Stream
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("quic: listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return l.l.Close()
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		go func(c quicgo.Connection) {
			st, err := c.AcceptStream(ctx)
			if err != nil {
				_ = c.CloseWithError(0, fmt.Sprintf("accept stream: %v", err))
				return
			}
			select {
			case l.newCh <- &stream{c: c, st: st}:
			case <-l.closeCh:
				_ = c.CloseWithError(0, "listener closed")
			}
		}(c)
	}
}

// stream adapts one QUIC bidirectional stream plus its parent connection to
// the transport.Stream contract; closing the stream closes the connection.
type stream struct {
	c  quicgo.Connection
	st quicgo.Stream
}

func (s *stream) Read(p []byte) (int, error)  { return s.st.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.st.Write(p) }
func (s *stream) LocalAddr() net.Addr         { return s.c.LocalAddr() }
func (s *stream) RemoteAddr() net.Addr        { return s.c.RemoteAddr() }

func (s *stream) Close() error {
	_ = s.st.Close()
	return s.c.CloseWithError(0, "")
}

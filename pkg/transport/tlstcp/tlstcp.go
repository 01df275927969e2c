// Package tlstcp implements the TLS-upgraded stream transport for
// tcp+tls:// URLs. It wraps the plain TCP listener/stream with a TLS
// negotiation step; a failed negotiation surfaces as transport.ErrTLS and
// the underlying socket is closed.
package tlstcp

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

const alpnProto = "darkfi-p2p"

// Options carries certificate material. With empty paths an ephemeral
// self-signed certificate is generated; peer identity is then established at
// the application layer, not by PKI.
type Options struct {
	CertFile string
	KeyFile  string
	// HandshakeTimeout bounds the per-connection negotiation on the
	// accept path (default 10s).
	HandshakeTimeout time.Duration
}

// Transport dials and listens TLS-upgraded TCP streams.
type Transport struct {
	serverConf *tls.Config
	hsTimeout  time.Duration
}

func New(opts Options) (*Transport, error) {
	var cert tls.Certificate
	var err error
	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err = tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	} else {
		cert, err = selfSignedCert()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrTLS, err)
	}
	hst := opts.HandshakeTimeout
	if hst <= 0 {
		hst = 10 * time.Second
	}
	return &Transport{
		serverConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpnProto},
			MinVersion:   tls.VersionTLS13,
		},
		hsTimeout: hst,
	}, nil
}

func (t *Transport) Schemes() []string { return []string{"tcp+tls"} }

// ServerTLS clones the server-side TLS configuration so other transports
// (QUIC) can present the same identity.
func (t *Transport) ServerTLS() *tls.Config { return t.serverConf.Clone() }

func (t *Transport) Listen(ctx context.Context, hostport string) (transport.Listener, error) {
	l, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, hsTimeout: t.hsTimeout, conf: t.serverConf, newCh: make(chan transport.Stream), closeCh: make(chan struct{})}
	go tl.acceptLoop()
	go func() { <-ctx.Done(); _ = tl.Close() }()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, hostport string, timeout time.Duration) (transport.Stream, error) {
	d := &net.Dialer{Timeout: timeout}
	raw, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, transport.WrapDialErr(err)
	}
	conf := &tls.Config{
		InsecureSkipVerify: true, // NOTE: peer identity is established at the application layer.
		NextProtos:         []string{alpnProto},
		MinVersion:         tls.VersionTLS13,
	}
	tc := tls.Client(raw, conf)
	hctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := tc.HandshakeContext(hctx); err != nil {
		_ = raw.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", transport.ErrConnectTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", transport.ErrTLS, err)
	}
	return tc, nil
}

type listener struct {
	l         net.Listener
	conf      *tls.Config
	hsTimeout time.Duration
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
		return nil, errors.New("tlstcp: listener closed")
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() { close(l.closeCh) })
	return l.l.Close()
}

// acceptLoop upgrades each raw socket before handing it out, so one failed
// negotiation kills only that socket, never the listener.
func (l *listener) acceptLoop() {
	for {
		raw, err := l.l.Accept()
		if err != nil {
			return
		}
		go func(raw net.Conn) {
			tc := tls.Server(raw, l.conf)
			hctx, cancel := context.WithTimeout(context.Background(), l.hsTimeout)
			defer cancel()
			if err := tc.HandshakeContext(hctx); err != nil {
				zap.L().Debug("tls negotiation failed on accept",
					zap.String("remote", raw.RemoteAddr().String()), zap.Error(err))
				_ = raw.Close()
				return
			}
			select {
			case l.newCh <- tc:
			case <-l.closeCh:
				_ = tc.Close()
			}
		}(raw)
	}
}

// selfSignedCert generates a short-lived self-signed certificate for nodes
// without configured material.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

// Package transport abstracts dialing and listening on peer URLs. Each
// implementation serves one or more URL schemes; the Registry routes a URL
// to the transport that owns its scheme. Transports carry no per-connection
// state and hide scheme-specific setup (TLS negotiation, QUIC streams)
// behind the Stream interface.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnsupportedScheme reports a URL whose scheme no registered
	// transport serves. There is no fallback.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	// ErrConnectTimeout reports a dial that did not complete within its
	// timeout. The in-flight attempt is aborted best-effort.
	ErrConnectTimeout = errors.New("connection timeout")
	// ErrTLS reports a failed TLS negotiation; the underlying socket is
	// closed before it surfaces.
	ErrTLS = errors.New("tls negotiation failed")
)

// Stream is one established duplex link. net.Conn satisfies it directly.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// Listener accepts inbound streams.
type Listener interface {
	// Accept blocks until an inbound stream is available or ctx is done.
	Accept(ctx context.Context) (Stream, error)
	// Addr returns the bound local address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport provides dialing and listening for its schemes.
type Transport interface {
	// Schemes lists the URL schemes this transport serves.
	Schemes() []string
	// Listen binds the host:port part of a URL.
	Listen(ctx context.Context, hostport string) (Listener, error)
	// Dial races connection setup against timeout; on expiry it returns
	// ErrConnectTimeout and aborts the attempt best-effort.
	Dial(ctx context.Context, hostport string, timeout time.Duration) (Stream, error)
}

// SplitURL parses a peer URL into its scheme and host:port part.
func SplitURL(raw string) (scheme, hostport string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("parse url %q: missing scheme or host", raw)
	}
	return u.Scheme, u.Host, nil
}

// Registry maps URL schemes to transports.
type Registry struct {
	mu       sync.RWMutex
	byScheme map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{byScheme: make(map[string]Transport)}
}

// Register claims every scheme of t, replacing previous owners.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range t.Schemes() {
		r.byScheme[s] = t
	}
}

// Lookup returns the transport serving scheme.
func (r *Registry) Lookup(scheme string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byScheme[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return t, nil
}

// Schemes lists all registered schemes, sorted.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byScheme))
	for s := range r.byScheme {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Listen resolves the URL's scheme and binds its address.
func (r *Registry) Listen(ctx context.Context, rawurl string) (Listener, error) {
	scheme, hostport, err := SplitURL(rawurl)
	if err != nil {
		return nil, err
	}
	t, err := r.Lookup(scheme)
	if err != nil {
		return nil, err
	}
	return t.Listen(ctx, hostport)
}

// Dial resolves the URL's scheme and dials its address.
func (r *Registry) Dial(ctx context.Context, rawurl string, timeout time.Duration) (Stream, error) {
	scheme, hostport, err := SplitURL(rawurl)
	if err != nil {
		return nil, err
	}
	t, err := r.Lookup(scheme)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, hostport, timeout)
}

// WrapDialErr maps timeout-shaped dial failures onto ErrConnectTimeout so
// callers can branch on the taxonomy; other errors pass through unchanged.
func WrapDialErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}
	return err
}

// Package handshake implements the mandatory version/verack exchange that
// gates every channel. No other protocol may receive traffic until it has
// completed.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/codec"
	"github.com/darkrenaissance/darkfi-sub017/pkg/metrics"
	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

// Message types claimed by the handshake. Nothing else may subscribe to
// these.
const (
	TypeVersion = "version"
	TypeVerack  = "verack"
)

// ErrChannelTimeout is returned when the peer does not complete the
// exchange within the configured deadline.
var ErrChannelTimeout = errors.New("channel handshake timed out")

// ErrIncompatible is returned when the compatibility check rejects the
// remote's announced version.
var ErrIncompatible = errors.New("incompatible peer version")

// Version is the announcement each side sends first. Features carries
// free-form capability flags for future gating.
type Version struct {
	Protocol  uint32            `cbor:"protocol"`
	App       string            `cbor:"app"`
	Features  map[string]uint32 `cbor:"features,omitempty"`
	Timestamp int64             `cbor:"timestamp"`
}

// CompatFunc decides whether a remote announcement is acceptable. Returning
// an error aborts the handshake before verack is sent.
type CompatFunc func(local, remote Version) error

// MajorCompat accepts any peer announcing the same protocol major version
// (high 16 bits).
func MajorCompat(local, remote Version) error {
	if local.Protocol>>16 != remote.Protocol>>16 {
		return fmt.Errorf("%w: local protocol %#x, remote %#x",
			ErrIncompatible, local.Protocol, remote.Protocol)
	}
	return nil
}

// Handshake runs the version/verack exchange on channels. One instance is
// shared by all sessions of a node.
type Handshake struct {
	local   Version
	timeout time.Duration
	compat  CompatFunc
	cdc     codec.Codec
	log     *zap.Logger
}

// New builds a handshake runner. timeout bounds the whole exchange; compat
// may be nil, in which case MajorCompat applies.
func New(local Version, timeout time.Duration, compat CompatFunc) *Handshake {
	if compat == nil {
		compat = MajorCompat
	}
	return &Handshake{
		local:   local,
		timeout: timeout,
		compat:  compat,
		cdc:     codec.CBOR(),
		log:     zap.L().Named("handshake"),
	}
}

// Run executes the exchange on ch and returns the remote's announcement.
// Both directions proceed concurrently: we send our version and wait for
// the peer's verack, while a companion goroutine waits for the peer's
// version, checks compatibility and replies with our verack. The channel is
// left in HandshakePending; activation is the caller's decision.
//
// On deadline expiry the error is ErrChannelTimeout. Run never stops the
// channel itself.
func (h *Handshake) Run(ctx context.Context, ch *channel.Channel) (Version, error) {
	ch.BeginHandshake()

	subVersion := ch.Subscribe(TypeVersion)
	defer subVersion.Unsubscribe()
	subVerack := ch.Subscribe(TypeVerack)
	defer subVerack.Unsubscribe()

	hctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var remote Version
	ackSent := make(chan error, 1)
	go func() {
		env, err := subVersion.Receive(hctx)
		if err != nil {
			ackSent <- err
			return
		}
		if err := h.cdc.Unmarshal(env.Payload, &remote); err != nil {
			ackSent <- fmt.Errorf("decode version: %w", err)
			return
		}
		if err := h.compat(h.local, remote); err != nil {
			ackSent <- err
			return
		}
		ackSent <- ch.Send(hctx, wire.Envelope{Type: TypeVerack})
	}()

	announce := h.local
	announce.Timestamp = time.Now().Unix()
	payload, err := h.cdc.Marshal(announce)
	if err != nil {
		return Version{}, fmt.Errorf("encode version: %w", err)
	}
	if err := ch.Send(hctx, wire.Envelope{Type: TypeVersion, Payload: payload}); err != nil {
		return Version{}, h.classify(err)
	}
	if _, err := subVerack.Receive(hctx); err != nil {
		return Version{}, h.classify(err)
	}
	if err := <-ackSent; err != nil {
		return Version{}, h.classify(err)
	}

	h.log.Debug("handshake complete",
		zap.String("channel", ch.ID()),
		zap.Uint32("remote_protocol", remote.Protocol),
		zap.String("remote_app", remote.App))
	return remote, nil
}

func (h *Handshake) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.HandshakeFailures.Inc()
		return ErrChannelTimeout
	}
	metrics.HandshakeFailures.Inc()
	return err
}

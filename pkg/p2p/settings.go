package p2p

import (
	"fmt"
	"time"

	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
)

// Settings is the network configuration surface consumed by the node and
// its sessions.
type Settings struct {
	// Inbound lists listen URLs. Empty disables the inbound session.
	Inbound []string
	// External is the advertised address announced during discovery.
	// Optional.
	External string

	// OutboundSlots is the number of outbound connection slots. Zero
	// disables the outbound session (seed-only node).
	OutboundSlots int
	// Seeds are bootstrap addresses dialed once at startup.
	Seeds []string
	// RequireSeeds fails startup when the seed list is empty. Off by
	// default: a node may rely on static peers or inbound discovery.
	RequireSeeds bool
	// Peers are static addresses inserted into the host pool at startup.
	Peers []string

	// HandshakeTimeout bounds the version/verack exchange per channel.
	HandshakeTimeout time.Duration
	// DialTimeout bounds each outbound connection attempt.
	DialTimeout time.Duration
	// OutboundRetry is the base delay before an outbound slot retries
	// after pool exhaustion or a failed attempt. Jittered exponential
	// backoff is applied on consecutive failures.
	OutboundRetry time.Duration

	// AppVersion and ProtocolVersion are announced in the handshake.
	AppVersion      string
	ProtocolVersion uint32
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultDialTimeout      = 10 * time.Second
	defaultOutboundRetry    = 2 * time.Second
	defaultProtocolVersion  = 0x0001_0000
)

func (s Settings) withDefaults() Settings {
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = defaultHandshakeTimeout
	}
	if s.DialTimeout <= 0 {
		s.DialTimeout = defaultDialTimeout
	}
	if s.OutboundRetry <= 0 {
		s.OutboundRetry = defaultOutboundRetry
	}
	if s.ProtocolVersion == 0 {
		s.ProtocolVersion = defaultProtocolVersion
	}
	return s
}

// Validate rejects settings a node cannot start with. An empty host pool
// is not one of them: outbound slots idle and retry until discovery fills
// the pool.
func (s Settings) Validate() error {
	if s.OutboundSlots < 0 {
		return fmt.Errorf("%w: negative outbound slot count %d", ErrOperationFailed, s.OutboundSlots)
	}
	if s.RequireSeeds && len(s.Seeds) == 0 {
		return fmt.Errorf("%w: seeding required but seed list is empty", ErrOperationFailed)
	}
	for _, u := range append(append(append([]string{}, s.Inbound...), s.Seeds...), s.Peers...) {
		if _, _, err := transport.SplitURL(u); err != nil {
			return fmt.Errorf("%w: %v", ErrOperationFailed, err)
		}
	}
	return nil
}

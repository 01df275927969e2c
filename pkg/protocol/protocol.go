// Package protocol defines the extension surface: external subsystems
// register factories here and get attached to channels without the
// substrate knowing their message types.
package protocol

import (
	"fmt"
	"sync"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
)

// Mask selects which session kinds a protocol applies to.
type Mask uint8

const (
	SessionInbound Mask = 1 << iota
	SessionOutbound
	SessionSeed

	SessionAll = SessionInbound | SessionOutbound | SessionSeed
)

func (m Mask) String() string {
	switch m {
	case SessionInbound:
		return "inbound"
	case SessionOutbound:
		return "outbound"
	case SessionSeed:
		return "seed"
	case SessionAll:
		return "all"
	default:
		return fmt.Sprintf("mask(%#x)", uint8(m))
	}
}

// Protocol is one running instance attached to one channel. Start is
// called once the channel is Active; it registers subscriptions and spawns
// its loops via the channel's supervisor, which cancels them on channel
// stop. Implementations must be safe under abrupt cancellation.
type Protocol interface {
	Name() string
	Start() error
}

// Factory builds a protocol instance for a freshly handshaken channel.
// Shared dependencies (host pool, application state) are captured in the
// closure at registration time.
type Factory func(ch *channel.Channel) (Protocol, error)

type registration struct {
	mask    Mask
	factory Factory
}

// Registry holds the protocol factories registered before the node starts.
type Registry struct {
	mu      sync.RWMutex
	entries []registration
}

func NewRegistry() *Registry { return &Registry{} }

// Register adds a factory for every session kind in mask.
func (r *Registry) Register(mask Mask, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, registration{mask: mask, factory: factory})
}

// Attach constructs every protocol whose mask matches kind for ch. The
// instances are returned unstarted; the session starts them only once the
// channel transitions to Active.
func (r *Registry) Attach(kind Mask, ch *channel.Channel) ([]Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Protocol
	for _, reg := range r.entries {
		if reg.mask&kind == 0 {
			continue
		}
		p, err := reg.factory(ch)
		if err != nil {
			return nil, fmt.Errorf("attach protocol for %s session: %w", kind, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Len reports the number of registered factories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Package hostpool maintains the set of known peer addresses feeding the
// outbound session: selection, failure tracking with backoff blacklisting,
// and change notifications for observers.
package hostpool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/codec"
	"github.com/darkrenaissance/darkfi-sub017/pkg/memkv"
	"github.com/darkrenaissance/darkfi-sub017/pkg/pubsub"
)

const keyPrefix = "host/"

// Record is what the pool knows about one peer address. Persisted as JSON
// in the backing store so it stays inspectable.
type Record struct {
	Addr         string `json:"addr"`
	LastSeen     int64  `json:"last_seen"`
	LastTried    int64  `json:"last_tried"`
	Failures     int    `json:"failures"`
	BlockedUntil int64  `json:"blocked_until,omitempty"`
}

// EventKind tags pool change notifications.
type EventKind int

const (
	EventStored EventKind = iota
	EventRemoved
	EventFailed
)

// Event is published on every pool mutation.
type Event struct {
	Kind EventKind
	Addr string
}

// Options tunes failure handling. Zero values select defaults.
type Options struct {
	// MaxFailures evicts an address after this many consecutive dial or
	// handshake failures (default 5).
	MaxFailures int
	// BackoffBase is the blacklist duration after the first failure;
	// it doubles per failure up to 64x (default 10s).
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 10 * time.Second
	}
	return o
}

// Pool is safe for concurrent use by many outbound slots. Selection
// serializes on an internal mutex so two slots never pick the same address
// in one instant.
type Pool struct {
	opts   Options
	store  *memkv.Store
	events *pubsub.Publisher[Event]
	cdc    codec.Codec
	log    *zap.Logger

	selMu sync.Mutex
	now   func() time.Time
}

func New(opts Options) *Pool {
	return &Pool{
		opts:   opts.withDefaults(),
		store:  memkv.New(memkv.Options{}),
		events: pubsub.NewPublisher[Event](),
		cdc:    codec.JSON(),
		log:    zap.L().Named("hostpool"),
		now:    time.Now,
	}
}

// Subscribe delivers pool change events. Notifications are best-effort:
// a full observer queue drops, it never stalls pool mutations.
func (p *Pool) Subscribe(buffer int) *pubsub.Subscription[Event] {
	return p.events.Subscribe(buffer)
}

// Store inserts or refreshes an address. Reports whether the address was
// new to the pool.
func (p *Pool) Store(addr string) bool {
	if addr == "" {
		return false
	}
	created := false
	p.store.Update(keyPrefix+addr, func(old []byte) []byte {
		rec := Record{Addr: addr}
		if old != nil {
			if err := p.cdc.Unmarshal(old, &rec); err != nil {
				p.log.Warn("discarding corrupt host record", zap.String("addr", addr), zap.Error(err))
				rec = Record{Addr: addr}
			}
		} else {
			created = true
		}
		rec.LastSeen = p.now().Unix()
		return p.mustEncode(rec)
	})
	if created {
		p.log.Debug("stored host", zap.String("addr", addr))
		p.events.TryNotify(Event{Kind: EventStored, Addr: addr})
	}
	return created
}

// Remove evicts an address unconditionally.
func (p *Pool) Remove(addr string) {
	if p.store.Delete(keyPrefix + addr) {
		p.log.Debug("removed host", zap.String("addr", addr))
		p.events.TryNotify(Event{Kind: EventRemoved, Addr: addr})
	}
}

// Contains reports whether addr is currently in the pool.
func (p *Pool) Contains(addr string) bool {
	_, ok := p.store.Get(keyPrefix + addr)
	return ok
}

// LoadSingle picks the least-recently-tried address that is not currently
// blacklisted, marks it tried, and returns it. ok is false when and only
// when no eligible address exists.
func (p *Pool) LoadSingle() (addr string, ok bool) {
	p.selMu.Lock()
	defer p.selMu.Unlock()

	now := p.now().Unix()
	var best Record
	found := false
	for _, key := range p.store.Keys(keyPrefix) {
		raw, exists := p.store.Get(key)
		if !exists {
			continue
		}
		var rec Record
		if err := p.cdc.Unmarshal(raw, &rec); err != nil {
			p.store.Delete(key)
			continue
		}
		if rec.BlockedUntil > now {
			continue
		}
		if !found || rec.LastTried < best.LastTried {
			best = rec
			found = true
		}
	}
	if !found {
		return "", false
	}

	p.store.Update(keyPrefix+best.Addr, func(old []byte) []byte {
		if old == nil {
			return nil
		}
		var rec Record
		if err := p.cdc.Unmarshal(old, &rec); err != nil {
			return nil
		}
		rec.LastTried = now
		return p.mustEncode(rec)
	})
	return best.Addr, true
}

// MarkFailed records a dial or handshake failure. The address is
// blacklisted with exponential backoff and evicted once MaxFailures is
// reached.
func (p *Pool) MarkFailed(addr string) {
	evicted := false
	p.store.Update(keyPrefix+addr, func(old []byte) []byte {
		if old == nil {
			return nil
		}
		var rec Record
		if err := p.cdc.Unmarshal(old, &rec); err != nil {
			return nil
		}
		rec.Failures++
		if rec.Failures >= p.opts.MaxFailures {
			evicted = true
			return nil
		}
		shift := rec.Failures - 1
		if shift > 6 {
			shift = 6
		}
		rec.BlockedUntil = p.now().Add(p.opts.BackoffBase << shift).Unix()
		return p.mustEncode(rec)
	})
	if evicted {
		p.log.Debug("evicted host after repeated failures", zap.String("addr", addr))
		p.events.TryNotify(Event{Kind: EventRemoved, Addr: addr})
	} else {
		p.events.TryNotify(Event{Kind: EventFailed, Addr: addr})
	}
}

// MarkGood clears failure state after a successful handshake.
func (p *Pool) MarkGood(addr string) {
	p.store.Update(keyPrefix+addr, func(old []byte) []byte {
		if old == nil {
			return nil
		}
		var rec Record
		if err := p.cdc.Unmarshal(old, &rec); err != nil {
			return nil
		}
		rec.Failures = 0
		rec.BlockedUntil = 0
		rec.LastSeen = p.now().Unix()
		return p.mustEncode(rec)
	})
}

// Addrs snapshots every known address, blacklisted or not. Used by address
// exchange protocols answering peer queries.
func (p *Pool) Addrs() []string {
	keys := p.store.Keys(keyPrefix)
	addrs := make([]string, 0, len(keys))
	for _, key := range keys {
		addrs = append(addrs, key[len(keyPrefix):])
	}
	return addrs
}

// Len reports the pool size.
func (p *Pool) Len() int { return p.store.Len() }

// Close releases the backing store and the event publisher.
func (p *Pool) Close() {
	p.events.Close()
	p.store.Close()
}

func (p *Pool) mustEncode(rec Record) []byte {
	b, err := p.cdc.Marshal(rec)
	if err != nil {
		// Record is a plain struct of scalars; this cannot fail.
		panic(err)
	}
	return b
}

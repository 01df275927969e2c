// Package memkv is a small sharded in-memory key/value store with TTL
// expiry. It backs the host pool's persisted records; a disk-backed KV can
// be swapped in behind the same surface later.
package memkv

import (
	"strings"
	"sync"
	"time"
)

// Options tunes the store. Zero values select safe defaults.
type Options struct {
	// Shards is the number of lock shards (default 32).
	Shards int
	// SweepInterval is how often the janitor scans for expired keys
	// (default 1s).
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 32
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Second
	}
	return o
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano, 0 = no expiry
}

type shard struct {
	mu sync.RWMutex
	m  map[string]entry
}

// Store is safe for concurrent use.
type Store struct {
	opts    Options
	shards  []shard
	closeCh chan struct{}
	wg      sync.WaitGroup
	nowFn   func() time.Time
}

func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]entry)
	}
	s.wg.Add(1)
	go s.janitor()
	return s
}

// Close stops the janitor. The store remains readable afterwards.
func (s *Store) Close() {
	select {
	case <-s.closeCh:
	default:
		close(s.closeCh)
	}
	s.wg.Wait()
}

// fnv-1a, keeps shard selection allocation-free.
func (s *Store) shardFor(key string) *shard {
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

func (s *Store) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.nowFn().Add(ttl).UnixNano()
}

// Set stores a copy of val under key. Returns true if the key was created.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, existed := sh.m[key]
	sh.m[key] = entry{val: cloneBytes(val), expireAt: s.expiry(ttl)}
	return !existed
}

// Get returns a copy of the value, or false if absent or expired.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok || s.expired(e) {
		return nil, false
	}
	return cloneBytes(e.val), true
}

// Update applies fn to the current value (nil when absent) and stores its
// result, keeping any existing expiry. A nil result deletes the key. The
// whole read-modify-write is atomic with respect to other mutations of the
// same key.
func (s *Store) Update(key string, fn func(old []byte) []byte) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	var old []byte
	var expireAt int64
	if e, ok := sh.m[key]; ok && !s.expired(e) {
		old = e.val
		expireAt = e.expireAt
	}
	next := fn(cloneBytes(old))
	if next == nil {
		delete(sh.m, key)
		return
	}
	sh.m[key] = entry{val: cloneBytes(next), expireAt: expireAt}
}

// Delete removes the key; reports whether it was present.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.m[key]
	delete(sh.m, key)
	return ok
}

// Expire (re)sets the TTL on an existing key.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok || s.expired(e) {
		return false
	}
	e.expireAt = s.expiry(ttl)
	sh.m[key] = e
	return true
}

// Keys returns a snapshot of live keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if strings.HasPrefix(k, prefix) && !s.expired(e) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len reports the number of live keys.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.m {
			if !s.expired(e) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) expired(e entry) bool {
	return e.expireAt != 0 && e.expireAt <= s.nowFn().UnixNano()
}

func (s *Store) janitor() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-t.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.nowFn().UnixNano()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expireAt != 0 && e.expireAt <= now {
				delete(sh.m, k)
			}
		}
		sh.mu.Unlock()
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

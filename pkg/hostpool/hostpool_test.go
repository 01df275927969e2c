package hostpool

import (
	"testing"
	"time"
)

func TestLoadSingleEmptyPool(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	if addr, ok := p.LoadSingle(); ok {
		t.Fatalf("LoadSingle on empty pool returned %q", addr)
	}
	if !p.Store("tcp://10.0.0.1:1000") {
		t.Fatalf("Store of new address returned false")
	}
	addr, ok := p.LoadSingle()
	if !ok || addr != "tcp://10.0.0.1:1000" {
		t.Fatalf("LoadSingle = %q, %v", addr, ok)
	}
}

func TestLeastRecentlyTriedSelection(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	p.Store("tcp://a:1")
	p.Store("tcp://b:1")

	first, ok := p.LoadSingle()
	if !ok {
		t.Fatal("pool unexpectedly empty")
	}
	now = now.Add(time.Second)
	second, ok := p.LoadSingle()
	if !ok {
		t.Fatal("pool unexpectedly empty")
	}
	if first == second {
		t.Fatalf("expected rotation across addresses, got %q twice", first)
	}
	// both tried now; the earlier-tried one comes around again
	now = now.Add(time.Second)
	third, ok := p.LoadSingle()
	if !ok || third != first {
		t.Fatalf("LoadSingle = %q, want %q", third, first)
	}
}

func TestMarkFailedBlacklistsAndEvicts(t *testing.T) {
	p := New(Options{MaxFailures: 3, BackoffBase: 10 * time.Second})
	defer p.Close()

	now := time.Unix(5000, 0)
	p.now = func() time.Time { return now }

	p.Store("tcp://flaky:1")
	p.MarkFailed("tcp://flaky:1")

	if addr, ok := p.LoadSingle(); ok {
		t.Fatalf("blacklisted address selected: %q", addr)
	}
	// past the backoff window it becomes eligible again
	now = now.Add(11 * time.Second)
	if _, ok := p.LoadSingle(); !ok {
		t.Fatal("address still blocked after backoff elapsed")
	}

	p.MarkFailed("tcp://flaky:1")
	p.MarkFailed("tcp://flaky:1")
	if p.Contains("tcp://flaky:1") {
		t.Fatal("address not evicted after MaxFailures")
	}
	if n := p.Len(); n != 0 {
		t.Fatalf("Len = %d after eviction, want 0", n)
	}
}

func TestMarkGoodClearsFailureState(t *testing.T) {
	p := New(Options{MaxFailures: 3, BackoffBase: time.Hour})
	defer p.Close()

	p.Store("tcp://peer:1")
	p.MarkFailed("tcp://peer:1")
	if _, ok := p.LoadSingle(); ok {
		t.Fatal("expected address blocked")
	}
	p.MarkGood("tcp://peer:1")
	if _, ok := p.LoadSingle(); !ok {
		t.Fatal("expected address eligible after MarkGood")
	}
}

func TestEvents(t *testing.T) {
	p := New(Options{MaxFailures: 1})
	defer p.Close()

	sub := p.Subscribe(8)
	defer sub.Unsubscribe()

	p.Store("tcp://x:1")
	if ev := <-sub.C(); ev.Kind != EventStored || ev.Addr != "tcp://x:1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	// MaxFailures=1 evicts on the first failure
	p.MarkFailed("tcp://x:1")
	if ev := <-sub.C(); ev.Kind != EventRemoved || ev.Addr != "tcp://x:1" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

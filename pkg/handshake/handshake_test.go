package handshake

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
)

func TestExchangeCompletes(t *testing.T) {
	a, b := net.Pipe()
	chA := channel.New(a, "mem://a", channel.Options{})
	chB := channel.New(b, "mem://b", channel.Options{})
	defer chA.Stop()
	defer chB.Stop()

	hsA := New(Version{Protocol: 0x0001_0000, App: "alpha"}, 2*time.Second, nil)
	hsB := New(Version{Protocol: 0x0001_0002, App: "beta"}, 2*time.Second, nil)

	type result struct {
		remote Version
		err    error
	}
	resA := make(chan result, 1)
	go func() {
		r, err := hsA.Run(context.Background(), chA)
		resA <- result{r, err}
	}()
	remoteOfB, err := hsB.Run(context.Background(), chB)
	if err != nil {
		t.Fatalf("side B handshake: %v", err)
	}
	ra := <-resA
	if ra.err != nil {
		t.Fatalf("side A handshake: %v", ra.err)
	}

	if remoteOfB.App != "alpha" || ra.remote.App != "beta" {
		t.Fatalf("announcements crossed wrong: B sees %q, A sees %q", remoteOfB.App, ra.remote.App)
	}
	if chA.State() != channel.StateHandshakePending {
		t.Fatalf("activation is the session's call, state = %v", chA.State())
	}
}

func TestSilentPeerTimesOut(t *testing.T) {
	a, b := net.Pipe()
	ch := channel.New(a, "mem://a", channel.Options{})
	defer ch.Stop()

	// drain the raw side so our version frame is written, then go silent
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := b.Read(buf); err != nil {
				return
			}
		}
	}()
	defer b.Close()

	const timeout = 300 * time.Millisecond
	hs := New(Version{Protocol: 1, App: "x"}, timeout, nil)

	start := time.Now()
	_, err := hs.Run(context.Background(), ch)
	if !errors.Is(err, ErrChannelTimeout) {
		t.Fatalf("expected ErrChannelTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > timeout+500*time.Millisecond {
		t.Fatalf("timeout took %v, bound was %v", elapsed, timeout)
	}
}

func TestIncompatibleMajorRejected(t *testing.T) {
	a, b := net.Pipe()
	chA := channel.New(a, "mem://a", channel.Options{})
	chB := channel.New(b, "mem://b", channel.Options{})
	defer chA.Stop()
	defer chB.Stop()

	hsA := New(Version{Protocol: 0x0001_0000, App: "old"}, time.Second, nil)
	hsB := New(Version{Protocol: 0x0002_0000, App: "new"}, time.Second, nil)

	errs := make(chan error, 2)
	go func() {
		_, err := hsA.Run(context.Background(), chA)
		errs <- err
	}()
	go func() {
		_, err := hsB.Run(context.Background(), chB)
		errs <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			t.Fatal("expected handshake rejection across major versions")
		}
	}
}

func TestMajorCompat(t *testing.T) {
	local := Version{Protocol: 0x0001_0005}
	if err := MajorCompat(local, Version{Protocol: 0x0001_0009}); err != nil {
		t.Fatalf("same major rejected: %v", err)
	}
	if err := MajorCompat(local, Version{Protocol: 0x0002_0000}); !errors.Is(err, ErrIncompatible) {
		t.Fatalf("cross major accepted: %v", err)
	}
}

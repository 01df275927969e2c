package tcp

import (
	"context"
	"testing"
	"time"
)

func TestRoundTrip(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		st, err := ln.Accept(ctx)
		if err != nil {
			accepted <- err
			return
		}
		defer st.Close()
		buf := make([]byte, 3)
		if _, err := st.Read(buf); err != nil {
			accepted <- err
			return
		}
		_, err = st.Write(buf)
		accepted <- err
	}()

	st, err := tr.Dial(ctx, ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer st.Close()

	if _, err := st.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 3)
	if _, err := st.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "abc" {
		t.Fatalf("echo mismatch: %q", buf)
	}
	if err := <-accepted; err != nil {
		t.Fatalf("accept side: %v", err)
	}
}

func TestAcceptUnblocksOnClose(t *testing.T) {
	tr := New()
	ctx := context.Background()

	ln, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_, _ = ln.Accept(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	_ = ln.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Accept did not unblock after Close")
	}
}

package mem

import (
	"context"
	"testing"
	"time"
)

func TestDialListenRoundTrip(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := tr.Listen(ctx, "alpha")
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
		buf := make([]byte, 5)
		if _, err := st.Read(buf); err != nil {
			accepted <- err
			return
		}
		_, err = st.Write(buf)
		accepted <- err
	}()

	st, err := tr.Dial(ctx, "alpha", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer st.Close()

	if _, err := st.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := st.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("echo mismatch: %q", buf)
	}
	if err := <-accepted; err != nil {
		t.Fatalf("accept side: %v", err)
	}
}

func TestDialWithoutListener(t *testing.T) {
	tr := New()
	if _, err := tr.Dial(context.Background(), "ghost", 50*time.Millisecond); err == nil {
		t.Fatal("expected error dialing a name nobody listens on")
	}
}

func TestInstanceIsolation(t *testing.T) {
	a, b := New(), New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := a.Listen(ctx, "shared"); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if _, err := b.Dial(ctx, "shared", 50*time.Millisecond); err == nil {
		t.Fatal("listener leaked across transport instances")
	}
}

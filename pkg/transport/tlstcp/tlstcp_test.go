package tlstcp

import (
	"context"
	"testing"
	"time"
)

func TestSelfSignedRoundTrip(t *testing.T) {
	tr, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
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
		buf := make([]byte, 6)
		if _, err := st.Read(buf); err != nil {
			accepted <- err
			return
		}
		_, err = st.Write(buf)
		accepted <- err
	}()

	st, err := tr.Dial(ctx, ln.Addr().String(), 3*time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer st.Close()

	if _, err := st.Write([]byte("secret")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 6)
	if _, err := st.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "secret" {
		t.Fatalf("echo mismatch: %q", buf)
	}
	if err := <-accepted; err != nil {
		t.Fatalf("accept side: %v", err)
	}
}

func TestServerTLSIsCloned(t *testing.T) {
	tr, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conf := tr.ServerTLS()
	if conf == nil || len(conf.Certificates) == 0 {
		t.Fatal("ServerTLS missing certificate")
	}
	conf.NextProtos = nil
	if got := tr.ServerTLS(); len(got.NextProtos) == 0 {
		t.Fatal("mutating the clone leaked into the transport config")
	}
}

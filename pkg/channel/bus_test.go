package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/wire"
)

func TestBusHoldsEarlyTraffic(t *testing.T) {
	b := newBus(zap.NewNop())
	defer b.Close()

	// No subscription yet; a fresh bus holds instead of dropping.
	if err := b.Dispatch(context.Background(), wire.Envelope{Type: "version", Payload: []byte("v1")}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	sub := b.Subscribe("version", 4)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := sub.Receive(ctx)
	if err != nil {
		t.Fatalf("held envelope not replayed: %v", err)
	}
	if string(env.Payload) != "v1" {
		t.Fatalf("got %q", env.Payload)
	}
}

func TestBusReplayPreservesOrder(t *testing.T) {
	b := newBus(zap.NewNop())
	defer b.Close()

	for _, p := range []string{"a", "b", "c"} {
		if err := b.Dispatch(context.Background(), wire.Envelope{Type: "version", Payload: []byte(p)}); err != nil {
			t.Fatalf("dispatch %q: %v", p, err)
		}
	}

	sub := b.Subscribe("version", 8)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{"a", "b", "c"} {
		env, err := sub.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %q: %v", want, err)
		}
		if string(env.Payload) != want {
			t.Fatalf("got %q, want %q", env.Payload, want)
		}
	}
}

func TestBusReleaseDropsUnclaimed(t *testing.T) {
	b := newBus(zap.NewNop())
	defer b.Close()

	if err := b.Dispatch(context.Background(), wire.Envelope{Type: "stale"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	b.Release()

	sub := b.Subscribe("stale", 4)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("envelope survived release: %v", err)
	}
}

func TestBusDropsAfterRelease(t *testing.T) {
	b := newBus(zap.NewNop())
	defer b.Close()
	b.Release()

	// Unregistered type after release is discarded, never held.
	if err := b.Dispatch(context.Background(), wire.Envelope{Type: "noop"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	sub := b.Subscribe("noop", 4)
	defer sub.Unsubscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := sub.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("discarded envelope delivered: %v", err)
	}
}

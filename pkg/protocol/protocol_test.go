package protocol

import (
	"net"
	"testing"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
)

type fake struct{ name string }

func (f *fake) Name() string { return f.name }
func (f *fake) Start() error { return nil }

func testChannel(t *testing.T) *channel.Channel {
	t.Helper()
	a, b := net.Pipe()
	ch := channel.New(a, "mem://t", channel.Options{})
	t.Cleanup(func() {
		ch.Stop()
		_ = b.Close()
	})
	return ch
}

func TestAttachByMask(t *testing.T) {
	r := NewRegistry()
	r.Register(SessionInbound|SessionOutbound, func(ch *channel.Channel) (Protocol, error) {
		return &fake{name: "relay"}, nil
	})
	r.Register(SessionSeed, func(ch *channel.Channel) (Protocol, error) {
		return &fake{name: "bootstrap"}, nil
	})
	r.Register(SessionAll, func(ch *channel.Channel) (Protocol, error) {
		return &fake{name: "everywhere"}, nil
	})

	ch := testChannel(t)

	out, err := r.Attach(SessionOutbound, ch)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if len(out) != 2 || out[0].Name() != "relay" || out[1].Name() != "everywhere" {
		names := make([]string, len(out))
		for i, p := range out {
			names[i] = p.Name()
		}
		t.Fatalf("outbound attach = %v", names)
	}

	out, err = r.Attach(SessionSeed, ch)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if len(out) != 2 || out[0].Name() != "bootstrap" {
		t.Fatalf("seed attach got %d protocols", len(out))
	}

	if r.Len() != 3 {
		t.Fatalf("Len = %d", r.Len())
	}
}

package p2p

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/darkrenaissance/darkfi-sub017/pkg/channel"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocols/echo"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/mem"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/tcp"
)

func tcpOnly() *transport.Registry {
	reg := transport.NewRegistry()
	reg.Register(tcp.New())
	return reg
}

func memShared(t *testing.T) (*transport.Registry, *transport.Registry) {
	t.Helper()
	shared := mem.New()
	a, b := transport.NewRegistry(), transport.NewRegistry()
	a.Register(shared)
	b.Register(shared)
	return a, b
}

func fastSettings(s Settings) Settings {
	s.HandshakeTimeout = 2 * time.Second
	s.DialTimeout = 2 * time.Second
	s.OutboundRetry = 30 * time.Millisecond
	return s
}

func TestEndToEndEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	server, err := New(fastSettings(Settings{
		Inbound: []string{"tcp://127.0.0.1:0"},
	}), WithTransports(tcpOnly()))
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	server.Registry().Register(protocol.SessionInbound, echo.NewFactory())
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start: %v", err)
	}
	defer server.Stop()

	urls := server.ListenURLs()
	if len(urls) != 1 {
		t.Fatalf("ListenURLs = %v", urls)
	}

	client, err := New(fastSettings(Settings{
		OutboundSlots: 1,
		Peers:         []string{urls[0]},
	}), WithTransports(tcpOnly()))
	if err != nil {
		t.Fatalf("client New: %v", err)
	}
	events := client.SubscribeEvents(4)
	defer events.Unsubscribe()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	defer client.Stop()

	var ch *channel.Channel
	for ch == nil {
		ev, err := events.Receive(ctx)
		if err != nil {
			t.Fatalf("waiting for connection: %v", err)
		}
		if ev.Kind == ChannelAdded {
			ch = ev.Ch
		}
	}

	reply, err := echo.Ping(ctx, ch, []byte{0xDE, 0xAD, 0xBF})
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(reply) != 3 || reply[0] != 0xDE || reply[1] != 0xAD || reply[2] != 0xBF {
		t.Fatalf("echo reply = %x", reply)
	}
}

func TestOutboundSlotsIdleUntilPoolFilled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	regA, regB := memShared(t)

	dialer, err := New(fastSettings(Settings{
		OutboundSlots: 2,
	}), WithTransports(regB))
	if err != nil {
		t.Fatalf("dialer New: %v", err)
	}
	if err := dialer.Start(ctx); err != nil {
		t.Fatalf("dialer Start: %v", err)
	}
	defer dialer.Stop()

	// empty pool: both slots settle into idle, zero connections
	time.Sleep(200 * time.Millisecond)
	for i, st := range dialer.OutboundSlotStates() {
		if st != SlotIdle {
			t.Fatalf("slot %d = %v with empty pool, want idle", i, st)
		}
	}
	if n := len(dialer.Channels()); n != 0 {
		t.Fatalf("%d channels with empty pool", n)
	}

	listener, err := New(fastSettings(Settings{
		Inbound: []string{"mem://hub"},
	}), WithTransports(regA))
	if err != nil {
		t.Fatalf("listener New: %v", err)
	}
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("listener Start: %v", err)
	}
	defer listener.Stop()

	dialer.HostPool().Store("mem://hub")

	deadline := time.Now().Add(5 * time.Second)
	for {
		states := dialer.OutboundSlotStates()
		connected, idle := 0, 0
		for _, st := range states {
			switch st {
			case SlotConnected:
				connected++
			case SlotIdle:
				idle++
			}
		}
		if connected == 1 && idle == 1 && len(dialer.Channels()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slots never settled: states=%v channels=%d", states, len(dialer.Channels()))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSeedBootstrapFillsPool(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	regA, regB := memShared(t)

	seed, err := New(fastSettings(Settings{
		Inbound: []string{"mem://seed"},
	}), WithTransports(regA))
	if err != nil {
		t.Fatalf("seed New: %v", err)
	}
	if err := seed.Start(ctx); err != nil {
		t.Fatalf("seed Start: %v", err)
	}
	defer seed.Stop()
	seed.HostPool().Store("mem://somepeer")

	node, err := New(fastSettings(Settings{
		Seeds: []string{"mem://seed"},
	}), WithTransports(regB))
	if err != nil {
		t.Fatalf("node New: %v", err)
	}
	events := node.SubscribeEvents(4)
	defer events.Unsubscribe()
	if err := node.Start(ctx); err != nil {
		t.Fatalf("node Start: %v", err)
	}
	defer node.Stop()

	// the seed connection comes and goes; what persists is the pool entry
	sawAdd, sawRemove := false, false
	for !(sawAdd && sawRemove) {
		ev, err := events.Receive(ctx)
		if err != nil {
			t.Fatalf("waiting for seed exchange: %v", err)
		}
		switch ev.Kind {
		case ChannelAdded:
			sawAdd = true
		case ChannelRemoved:
			sawRemove = true
		}
	}
	if !node.HostPool().Contains("mem://somepeer") {
		t.Fatal("seed's addresses not absorbed into the pool")
	}
	if n := len(node.Channels()); n != 0 {
		t.Fatalf("%d channels still open after one-shot seed session", n)
	}
}

func TestValidateSettings(t *testing.T) {
	if _, err := New(Settings{RequireSeeds: true}); !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("RequireSeeds with empty list = %v, want ErrOperationFailed", err)
	}
	if _, err := New(Settings{OutboundSlots: -1}); !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("negative slots = %v, want ErrOperationFailed", err)
	}
	if _, err := New(Settings{Peers: []string{"not-a-url"}}); !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("bad peer url = %v, want ErrOperationFailed", err)
	}
}

func TestInboundBindFailure(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register(mem.New())

	node, err := New(Settings{Inbound: []string{"quic://127.0.0.1:0"}}, WithTransports(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := node.Start(context.Background()); !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("Start with unbindable listener = %v, want ErrOperationFailed", err)
	}
}

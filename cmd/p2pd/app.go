package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/darkrenaissance/darkfi-sub017/pkg/config"
	"github.com/darkrenaissance/darkfi-sub017/pkg/observability"
	"github.com/darkrenaissance/darkfi-sub017/pkg/p2p"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocol"
	"github.com/darkrenaissance/darkfi-sub017/pkg/protocols/echo"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/quic"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/tcp"
	"github.com/darkrenaissance/darkfi-sub017/pkg/transport/tlstcp"
)

const appVersion = "0.1.0"

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 1
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("p2pd started", zap.String("app", cfg.AppName), zap.String("version", appVersion))
	zap.L().Info("effective configuration", zap.Any("config", cfg))

	transports, err := buildTransports(cfg.Net)
	if err != nil {
		zap.L().Error("failed to build transports", zap.Error(err))
		return 1
	}

	node, err := p2p.New(cfg.Net.Settings(appVersion), p2p.WithTransports(transports))
	if err != nil {
		zap.L().Error("invalid network settings", zap.Error(err))
		return 1
	}
	node.Registry().Register(protocol.SessionInbound|protocol.SessionOutbound, echo.NewFactory())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		zap.L().Error("failed to start node", zap.Error(err))
		return 1
	}

	<-ctx.Done()
	zap.L().Info("shutting down")
	node.Stop()
	return 0
}

// buildTransports assembles the transport set from the configured TLS
// material. tcp+tls and quic share one server identity.
func buildTransports(net config.NetConfig) (*transport.Registry, error) {
	reg := transport.NewRegistry()
	reg.Register(tcp.New())
	tls, err := tlstcp.New(tlstcp.Options{CertFile: net.TLSCert, KeyFile: net.TLSKey})
	if err != nil {
		return nil, err
	}
	reg.Register(tls)
	reg.Register(quic.New(tls.ServerTLS()))
	return reg, nil
}

package config

import (
	"time"

	"github.com/darkrenaissance/darkfi-sub017/pkg/p2p"
)

// NetConfig is the YAML shape of the p2p settings surface.
// Example:
// net:
//   inbound: ["tcp://0.0.0.0:26661", "tcp+tls://0.0.0.0:26662"]
//   external_addr: "tcp://203.0.113.5:26661"
//   outbound_slots: 8
//   seeds: ["tcp://seed.example.org:26661"]
//   peers: ["tcp://10.0.0.2:26661"]
type NetConfig struct {
	Inbound  []string `mapstructure:"inbound"`
	External string   `mapstructure:"external_addr"`

	OutboundSlots int      `mapstructure:"outbound_slots"`
	Seeds         []string `mapstructure:"seeds"`
	Peers         []string `mapstructure:"peers"`

	HandshakeTimeoutSeconds int `mapstructure:"handshake_timeout_seconds"`
	DialTimeoutSeconds      int `mapstructure:"dial_timeout_seconds"`
	OutboundRetrySeconds    int `mapstructure:"outbound_retry_seconds"`

	// TLSCert/TLSKey configure the tcp+tls and quic listeners. Empty
	// means an ephemeral self-signed certificate.
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`
}

// Settings converts the YAML shape into the substrate's settings.
func (n NetConfig) Settings(appVersion string) p2p.Settings {
	return p2p.Settings{
		Inbound:          n.Inbound,
		External:         n.External,
		OutboundSlots:    n.OutboundSlots,
		Seeds:            n.Seeds,
		Peers:            n.Peers,
		HandshakeTimeout: time.Duration(n.HandshakeTimeoutSeconds) * time.Second,
		DialTimeout:      time.Duration(n.DialTimeoutSeconds) * time.Second,
		OutboundRetry:    time.Duration(n.OutboundRetrySeconds) * time.Second,
		AppVersion:       appVersion,
	}
}

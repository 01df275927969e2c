// Package metrics exposes the substrate's Prometheus instrumentation.
// Collectors register on the default registry; embedders expose them with
// promhttp if desired.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "active_channels",
		Help: "Channels currently in the Active state.",
	})
	MessagesIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "messages_in_total",
		Help: "Envelopes decoded from the wire.",
	})
	MessagesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "messages_out_total",
		Help: "Envelopes written to the wire.",
	})
	BytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "bytes_in_total",
		Help: "Payload bytes decoded from the wire.",
	})
	BytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "bytes_out_total",
		Help: "Payload bytes written to the wire.",
	})
	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "handshake_failures_total",
		Help: "Channels dropped before reaching Active.",
	})
	DialFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "darkfi", Subsystem: "p2p",
		Name: "dial_failures_total",
		Help: "Outbound dial attempts that failed.",
	})
)

// Package metrics wires the daemon's prometheus registry: gauges and
// counters per subsystem (no histograms), following the label-vector-with-a-
// shared-prefix pattern used throughout the reference daemon's own
// liveness metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelDeviceID   = "device_id"
	LabelPacketType = "packet_type"
	LabelReason     = "reason"
	LabelPlugin     = "plugin"
	LabelTransport  = "transport"
)

var (
	DevicesDiscovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_devices_discovered_total",
			Help: "Count of Discovered/Updated events emitted by the discovery listener.",
		},
		[]string{LabelDeviceID},
	)

	DiscoveryTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_discovery_timeouts_total",
			Help: "Count of freshness-map entries reaped by the discovery timeout sweep.",
		},
		[]string{LabelDeviceID},
	)

	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cconnectd_connections_active",
			Help: "Current number of established TLS sessions.",
		},
	)

	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_connection_attempts_total",
			Help: "Count of outbound connection attempts by transport and outcome.",
		},
		[]string{LabelTransport, "outcome"},
	)

	PacketsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_packets_dispatched_total",
			Help: "Count of inbound packets routed to at least one plugin, by type.",
		},
		[]string{LabelPacketType},
	)

	PluginDispatchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_plugin_dispatch_errors_total",
			Help: "Count of plugin handler errors during dispatch, by plugin.",
		},
		[]string{LabelPlugin},
	)

	ResourceRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_resource_rejections_total",
			Help: "Count of operations rejected by the resource manager, by reason.",
		},
		[]string{LabelReason},
	)

	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_reconnect_attempts_total",
			Help: "Count of scheduled reconnect attempts, by device.",
		},
		[]string{LabelDeviceID},
	)

	PacketRetryDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cconnectd_packet_retry_drops_total",
			Help: "Count of packets dropped after exhausting retry attempts.",
		},
	)

	TransferBytesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cconnectd_transfer_bytes_received_total",
			Help: "Bytes received over bulk-transfer side-channels, by device.",
		},
		[]string{LabelDeviceID},
	)
)

// Package prometheus implements pkg/metrics on the Prometheus client.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/tcpcmd/pkg/metrics"
)

// Commands above this value are reported as "other" to bound label
// cardinality; extension ranges can be arbitrarily wide.
const maxLabelledCmd = 1 << 16

// unknownCmd is the cmd label of packets without a handler.
const unknownCmd = "unknown"

type commandMetrics struct {
	packets          *prometheus.CounterVec
	packetDuration   *prometheus.HistogramVec
	transfers        *prometheus.CounterVec
	transferBytes    prometheus.Counter
	connAccepted     *prometheus.CounterVec
	connClosed       *prometheus.CounterVec
	connForceClosed  prometheus.Counter
	connActive       prometheus.Gauge
	extensionsLoaded prometheus.Gauge
}

// NewCommandMetrics returns a Prometheus-backed CommandMetrics, or nil if
// metrics.InitRegistry has not been called.
func NewCommandMetrics() metrics.CommandMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &commandMetrics{
		packets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpcmd_packets_total",
			Help: "Packets dispatched by command and status",
		}, []string{"cmd", "status"}),
		packetDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tcpcmd_packet_duration_milliseconds",
			Help:    "Handler execution time in milliseconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 50, 100, 500},
		}, []string{"cmd"}),
		transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpcmd_transfers_total",
			Help: "Transfer requests by outcome",
		}, []string{"outcome"}),
		transferBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "tcpcmd_transfer_bytes_total",
			Help: "Payload bytes forwarded by transfer",
		}),
		connAccepted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpcmd_connections_accepted_total",
			Help: "Accepted connections by network",
		}, []string{"network"}),
		connClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpcmd_connections_closed_total",
			Help: "Closed connections by network",
		}, []string{"network"}),
		connForceClosed: f.NewCounter(prometheus.CounterOpts{
			Name: "tcpcmd_connections_force_closed_total",
			Help: "Connections closed by the shutdown timeout",
		}),
		connActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "tcpcmd_connections_active",
			Help: "Currently open connections",
		}),
		extensionsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "tcpcmd_extensions_loaded",
			Help: "Extension modules loaded at startup",
		}),
	}
}

func cmdLabel(cmd uint32) string {
	if cmd >= maxLabelledCmd {
		return "other"
	}
	return strconv.FormatUint(uint64(cmd), 10)
}

// RecordPacket labels unknown commands with a single value so that peers
// sending unregistered commands cannot grow the series count.
func (m *commandMetrics) RecordPacket(cmd uint32, status string, d time.Duration) {
	if status == metrics.PacketUnknown {
		m.packets.WithLabelValues(unknownCmd, status).Inc()
		return
	}
	label := cmdLabel(cmd)
	m.packets.WithLabelValues(label, status).Inc()
	m.packetDuration.WithLabelValues(label).Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *commandMetrics) RecordTransfer(outcome string, bytes int) {
	m.transfers.WithLabelValues(outcome).Inc()
	if outcome == metrics.TransferDelivered && bytes > 0 {
		m.transferBytes.Add(float64(bytes))
	}
}

func (m *commandMetrics) RecordConnectionAccepted(network string) {
	m.connAccepted.WithLabelValues(network).Inc()
}

func (m *commandMetrics) RecordConnectionClosed(network string) {
	m.connClosed.WithLabelValues(network).Inc()
}

func (m *commandMetrics) RecordConnectionForceClosed() { m.connForceClosed.Inc() }

func (m *commandMetrics) SetActiveConnections(n int32) { m.connActive.Set(float64(n)) }

func (m *commandMetrics) SetExtensions(n int) { m.extensionsLoaded.Set(float64(n)) }

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NFSMetrics records RPC traffic for the NFS, MOUNT and portmap programs.
//
// Example usage:
//
//	m := metrics.NewNFSMetrics()
//	m.RecordRequestStart("nfs", "LOOKUP")
//	defer m.RecordRequestEnd("nfs", "LOOKUP")
type NFSMetrics interface {
	// RecordRequest records a completed call. status is the protocol
	// status name ("NFS3_OK", "NFS3ERR_NOENT", "GARBAGE_ARGS", ...).
	RecordRequest(program, procedure string, duration time.Duration, status string)

	RecordRequestStart(program, procedure string)
	RecordRequestEnd(program, procedure string)

	// RecordBytesTransferred records payload bytes; direction is "read" or
	// "write".
	RecordBytesTransferred(direction string, bytes int64)

	// RecordRejected counts calls refused before dispatch, by reason
	// ("rate_limited", "auth", "prog_unavail", ...).
	RecordRejected(reason string)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()

	// RecordDroppedPacket counts UDP datagrams dropped on a full queue.
	RecordDroppedPacket()
}

type nfsMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    *prometheus.GaugeVec
	bytesTransferred    *prometheus.CounterVec
	rejectedTotal       *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	droppedPackets      prometheus.Counter
}

// NewNFSMetrics returns Prometheus-backed metrics, or a no-op
// implementation when InitRegistry has not been called.
func NewNFSMetrics() NFSMetrics {
	if !IsEnabled() {
		return NoopNFSMetrics{}
	}

	reg := GetRegistry()

	return &nfsMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total RPC calls by program, procedure and status",
			},
			[]string{"program", "procedure", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Duration of RPC calls in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"program", "procedure"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rpc_requests_in_flight",
				Help:      "RPC calls currently being processed",
			},
			[]string{"program", "procedure"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_transferred_total",
				Help:      "Payload bytes moved by READ and WRITE",
			},
			[]string{"direction"},
		),
		rejectedTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_rejected_total",
				Help:      "RPC calls refused before reaching a procedure",
			},
			[]string{"reason"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tcp_active_connections",
				Help:      "Current number of TCP connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tcp_connections_accepted_total",
				Help:      "TCP connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tcp_connections_closed_total",
				Help:      "TCP connections closed",
			},
		),
		droppedPackets: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "udp_dropped_packets_total",
				Help:      "UDP datagrams dropped because the worker queue was full",
			},
		),
	}
}

func (m *nfsMetrics) RecordRequest(program, procedure string, duration time.Duration, status string) {
	m.requestsTotal.WithLabelValues(program, procedure, status).Inc()
	m.requestDuration.WithLabelValues(program, procedure).Observe(duration.Seconds())
}

func (m *nfsMetrics) RecordRequestStart(program, procedure string) {
	m.requestsInFlight.WithLabelValues(program, procedure).Inc()
}

func (m *nfsMetrics) RecordRequestEnd(program, procedure string) {
	m.requestsInFlight.WithLabelValues(program, procedure).Dec()
}

func (m *nfsMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *nfsMetrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

func (m *nfsMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *nfsMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *nfsMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *nfsMetrics) RecordDroppedPacket() {
	m.droppedPackets.Inc()
}

// NoopNFSMetrics discards everything.
type NoopNFSMetrics struct{}

func (NoopNFSMetrics) RecordRequest(string, string, time.Duration, string) {}
func (NoopNFSMetrics) RecordRequestStart(string, string)                   {}
func (NoopNFSMetrics) RecordRequestEnd(string, string)                     {}
func (NoopNFSMetrics) RecordBytesTransferred(string, int64)                {}
func (NoopNFSMetrics) RecordRejected(string)                               {}
func (NoopNFSMetrics) SetActiveConnections(int32)                          {}
func (NoopNFSMetrics) RecordConnectionAccepted()                           {}
func (NoopNFSMetrics) RecordConnectionClosed()                             {}
func (NoopNFSMetrics) RecordDroppedPacket()                                {}

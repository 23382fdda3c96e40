package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics tracks DFS broker request handling. Nil-safe.
type BrokerMetrics struct {
	RequestsTotal       *prometheus.CounterVec
	ProtocolErrorsTotal prometheus.Counter
	OpenFilesGauge      prometheus.Gauge
	DurationHistogram   *prometheus.HistogramVec
}

// NewBrokerMetrics creates broker metrics registered against the
// process registry, or nil when metrics are disabled.
func NewBrokerMetrics() *BrokerMetrics {
	reg := Registerer()
	if reg == nil {
		return nil
	}

	m := &BrokerMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "requests_total",
			Help:      "Broker requests by operation and status",
		}, []string{"op", "status"}),
		ProtocolErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "protocol_errors_total",
			Help:      "Requests rejected before dispatch due to decode failure",
		}),
		OpenFilesGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "open_files",
			Help:      "File descriptors currently open in the broker",
		}),
		DurationHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "request_duration_seconds",
			Help:      "Broker request latency by operation",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
	}

	register(reg, m.RequestsTotal, m.ProtocolErrorsTotal,
		m.OpenFilesGauge, m.DurationHistogram)
	return m
}

func (m *BrokerMetrics) RecordRequest(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(op, status).Inc()
	m.DurationHistogram.WithLabelValues(op).Observe(d.Seconds())
}

func (m *BrokerMetrics) RecordProtocolError(op string) {
	if m == nil {
		return
	}
	m.ProtocolErrorsTotal.Inc()
	m.RequestsTotal.WithLabelValues(op, "PROTOCOL_ERROR").Inc()
}

func (m *BrokerMetrics) RecordOpen() {
	if m == nil {
		return
	}
	m.OpenFilesGauge.Inc()
}

func (m *BrokerMetrics) RecordClose() {
	if m == nil {
		return
	}
	m.OpenFilesGauge.Dec()
}

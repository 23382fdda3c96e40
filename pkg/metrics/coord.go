package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics tracks session lifecycle. All methods are nil-safe.
type SessionMetrics struct {
	CreatedTotal      prometheus.Counter
	DestroyedTotal    *prometheus.CounterVec
	ActiveGauge       prometheus.Gauge
	KeepaliveTotal    *prometheus.CounterVec
	DurationHistogram prometheus.Histogram
}

// NewSessionMetrics creates session metrics registered against the
// process registry, or nil when metrics are disabled.
func NewSessionMetrics() *SessionMetrics {
	reg := Registerer()
	if reg == nil {
		return nil
	}

	m := &SessionMetrics{
		CreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		}),
		DestroyedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "destroyed_total",
			Help:      "Total number of sessions destroyed",
		}, []string{"reason"}),
		ActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of live sessions",
		}),
		KeepaliveTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "keepalive_total",
			Help:      "Keepalive requests by result",
		}, []string{"result"}),
		DurationHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "Session lifetimes in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 20),
		}),
	}

	register(reg, m.CreatedTotal, m.DestroyedTotal, m.ActiveGauge,
		m.KeepaliveTotal, m.DurationHistogram)
	return m
}

func (m *SessionMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.CreatedTotal.Inc()
	m.ActiveGauge.Inc()
}

func (m *SessionMetrics) RecordDestroyed(reason string, lifetime time.Duration) {
	if m == nil {
		return
	}
	m.DestroyedTotal.WithLabelValues(reason).Inc()
	m.ActiveGauge.Dec()
	m.DurationHistogram.Observe(lifetime.Seconds())
}

func (m *SessionMetrics) RecordKeepalive(result string) {
	if m == nil {
		return
	}
	m.KeepaliveTotal.WithLabelValues(result).Inc()
}

// LockMetrics tracks the lock state machine. All methods are nil-safe.
type LockMetrics struct {
	GrantsTotal   *prometheus.CounterVec
	ReleasesTotal prometheus.Counter
	DeniedTotal   prometheus.Counter
	PendingGauge  prometheus.Gauge
	HeldGauge     prometheus.Gauge
	WaitHistogram prometheus.Histogram
}

// NewLockMetrics creates lock metrics registered against the process
// registry, or nil when metrics are disabled.
func NewLockMetrics() *LockMetrics {
	reg := Registerer()
	if reg == nil {
		return nil
	}

	m := &LockMetrics{
		GrantsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "grants_total",
			Help:      "Lock grants by mode and whether they waited",
		}, []string{"mode", "waited"}),
		ReleasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "releases_total",
			Help:      "Total lock releases",
		}),
		DeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "denied_total",
			Help:      "Malformed lock requests denied",
		}),
		PendingGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "pending",
			Help:      "Lock requests currently queued",
		}),
		HeldGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "held",
			Help:      "Handles currently holding a lock",
		}),
		WaitHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "locks",
			Name:      "wait_seconds",
			Help:      "Time pending lock requests waited before grant",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	register(reg, m.GrantsTotal, m.ReleasesTotal, m.DeniedTotal,
		m.PendingGauge, m.HeldGauge, m.WaitHistogram)
	return m
}

func (m *LockMetrics) RecordGrant(mode string, waited bool, wait time.Duration) {
	if m == nil {
		return
	}
	w := "false"
	if waited {
		w = "true"
		m.PendingGauge.Dec()
		m.WaitHistogram.Observe(wait.Seconds())
	}
	m.GrantsTotal.WithLabelValues(mode, w).Inc()
	m.HeldGauge.Inc()
}

func (m *LockMetrics) RecordPending() {
	if m == nil {
		return
	}
	m.PendingGauge.Inc()
}

func (m *LockMetrics) RecordCancelled() {
	if m == nil {
		return
	}
	m.PendingGauge.Dec()
}

func (m *LockMetrics) RecordRelease() {
	if m == nil {
		return
	}
	m.ReleasesTotal.Inc()
	m.HeldGauge.Dec()
}

func (m *LockMetrics) RecordDenied() {
	if m == nil {
		return
	}
	m.DeniedTotal.Inc()
}

// NotifyMetrics tracks notification fan-out and delivery. Nil-safe.
type NotifyMetrics struct {
	PublishedTotal *prometheus.CounterVec
	DeliveredTotal prometheus.Counter
	ReplayedTotal  prometheus.Counter
	DiscardedTotal prometheus.Counter
	QueuedGauge    prometheus.Gauge
}

// NewNotifyMetrics creates notification metrics registered against the
// process registry, or nil when metrics are disabled.
func NewNotifyMetrics() *NotifyMetrics {
	reg := Registerer()
	if reg == nil {
		return nil
	}

	m := &NotifyMetrics{
		PublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "Notifications enqueued by kind",
		}, []string{"kind"}),
		DeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "delivered_total",
			Help:      "Notifications pushed to connected clients",
		}),
		ReplayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "replayed_total",
			Help:      "Notifications replayed after reconnect",
		}),
		DiscardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "discarded_total",
			Help:      "Notifications discarded with their session",
		}),
		QueuedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "queued",
			Help:      "Notifications currently queued across all outboxes",
		}),
	}

	register(reg, m.PublishedTotal, m.DeliveredTotal, m.ReplayedTotal,
		m.DiscardedTotal, m.QueuedGauge)
	return m
}

func (m *NotifyMetrics) RecordPublished(kind string) {
	if m == nil {
		return
	}
	m.PublishedTotal.WithLabelValues(kind).Inc()
	m.QueuedGauge.Inc()
}

func (m *NotifyMetrics) RecordDelivered(n int) {
	if m == nil {
		return
	}
	m.DeliveredTotal.Add(float64(n))
}

func (m *NotifyMetrics) RecordReplayed(n int) {
	if m == nil {
		return
	}
	m.ReplayedTotal.Add(float64(n))
}

func (m *NotifyMetrics) RecordAcked(n int) {
	if m == nil {
		return
	}
	m.QueuedGauge.Sub(float64(n))
}

func (m *NotifyMetrics) RecordDiscarded(n int) {
	if m == nil {
		return
	}
	m.DiscardedTotal.Add(float64(n))
	m.QueuedGauge.Sub(float64(n))
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics tracks the per-session state the server keeps between
// requests.
type CacheMetrics interface {
	// SetSessions reports the live sessions of one credential kind
	// ("null" or "unix").
	SetSessions(kind string, count int)

	// RecordSessionClosed counts torn-down sessions by reason ("idle",
	// "disconnect", "shutdown").
	RecordSessionClosed(reason string)

	// RecordExpired counts entries closed by a sweep; cache is "openfile"
	// or "cursor".
	RecordExpired(cache string, count int)
}

type cacheMetrics struct {
	sessions       *prometheus.GaugeVec
	sessionsClosed *prometheus.CounterVec
	expired        *prometheus.CounterVec
}

// NewCacheMetrics returns Prometheus-backed cache metrics, or a no-op
// implementation when metrics are disabled.
func NewCacheMetrics() CacheMetrics {
	if !IsEnabled() {
		return NoopCacheMetrics{}
	}

	reg := GetRegistry()

	return &cacheMetrics{
		sessions: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions",
				Help:      "Live client sessions by credential kind",
			},
			[]string{"kind"},
		),
		sessionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_closed_total",
				Help:      "Sessions torn down by reason",
			},
			[]string{"reason"},
		),
		expired: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_expired_total",
				Help:      "Open files and search cursors closed after their lease ran out",
			},
			[]string{"cache"},
		),
	}
}

func (m *cacheMetrics) SetSessions(kind string, count int) {
	m.sessions.WithLabelValues(kind).Set(float64(count))
}

func (m *cacheMetrics) RecordSessionClosed(reason string) {
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *cacheMetrics) RecordExpired(cache string, count int) {
	if count > 0 {
		m.expired.WithLabelValues(cache).Add(float64(count))
	}
}

type NoopCacheMetrics struct{}

func (NoopCacheMetrics) SetSessions(string, int)     {}
func (NoopCacheMetrics) RecordSessionClosed(string)  {}
func (NoopCacheMetrics) RecordExpired(string, int)   {}

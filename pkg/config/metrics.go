package config

import (
	"github.com/marmos91/nfsd/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NFSMetrics is the collector for the adapter and handlers (never nil)
	NFSMetrics metrics.NFSMetrics

	// CacheMetrics is the collector for sessions, open files and cursors (never nil)
	CacheMetrics metrics.CacheMetrics
}

// InitializeMetrics creates the metrics components.
//
// When metrics are enabled the global Prometheus registry is initialized and
// Prometheus-backed collectors are returned along with the HTTP server.
// Otherwise the server is nil and the collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			NFSMetrics:   metrics.NoopNFSMetrics{},
			CacheMetrics: metrics.NoopCacheMetrics{},
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:       metrics.NewServer(metrics.ServerConfig{Address: cfg.Metrics.Address}),
		NFSMetrics:   metrics.NewNFSMetrics(),
		CacheMetrics: metrics.NewCacheMetrics(),
	}
}

package config

import (
	"strings"
	"time"

	"github.com/marmos91/nfsd/internal/protocol/nfs/cursor"
	"github.com/marmos91/nfsd/pkg/adapter/nfs"
	"github.com/marmos91/nfsd/pkg/openfile"
	"github.com/marmos91/nfsd/pkg/session"
)

const (
	// DefaultAnonymousID is nobody/nogroup.
	DefaultAnonymousID = 65534

	DefaultPortmapPort    = 111
	DefaultMetricsAddress = ":9090"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Driver options are left alone: each driver factory owns its defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyNFSDefaults(&cfg.NFS)
	applySessionsDefaults(&cfg.Sessions)
	applyCacheDefaults(&cfg.Cache)
	applyPortmapDefaults(&cfg.Portmap)
	applyMetricsDefaults(&cfg.Metrics)

	if len(cfg.Shares) == 0 {
		cfg.Shares = []ShareConfig{defaultShare()}
	}
	applyShareDefaults(cfg.Shares)
}

func defaultShare() ShareConfig {
	return ShareConfig{
		Name:   "export",
		Driver: "memory",
		IdentityMapping: IdentityMappingConfig{
			MapPrivilegedToAnonymous: true,
		},
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyNFSDefaults mirrors the adapter's own defaults so that a written
// sample config shows the values actually in effect.
func applyNFSDefaults(cfg *nfs.NFSConfig) {
	if cfg.Port == 0 {
		cfg.Port = nfs.DefaultPort
	}
	if !cfg.UDP && !cfg.TCP {
		cfg.UDP, cfg.TCP = true, true
	}
	if cfg.Workers == 0 {
		cfg.Workers = nfs.DefaultWorkers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = nfs.DefaultQueueSize
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = nfs.DefaultMaxRecordSize
	}

	// MaxConnections defaults to 0 (unlimited)

	if cfg.Timeouts.Read == 0 {
		cfg.Timeouts.Read = 30 * time.Second
	}
	if cfg.Timeouts.Write == 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Idle == 0 {
		cfg.Timeouts.Idle = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = 5 * time.Minute
	}
}

func applySessionsDefaults(cfg *SessionsConfig) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = session.DefaultIdleTimeout
	}
	if cfg.IdleSweep == 0 {
		cfg.IdleSweep = session.DefaultIdleSweepInterval
	}
	if cfg.AnonymousUID == 0 {
		cfg.AnonymousUID = DefaultAnonymousID
	}
	if cfg.AnonymousGID == 0 {
		cfg.AnonymousGID = DefaultAnonymousID
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.OpenFiles.Lease == 0 {
		cfg.OpenFiles.Lease = openfile.DefaultLease
	}
	if cfg.OpenFiles.Sweep == 0 {
		cfg.OpenFiles.Sweep = openfile.DefaultSweepInterval
	}
	if cfg.OpenFiles.MaxEntries == 0 {
		cfg.OpenFiles.MaxEntries = openfile.DefaultMaxEntries
	}

	if cfg.Cursors.Lease == 0 {
		cfg.Cursors.Lease = cursor.DefaultLease
	}
	if cfg.Cursors.Sweep == 0 {
		cfg.Cursors.Sweep = session.DefaultCursorSweep
	}
	if cfg.Cursors.MaxSlots == 0 {
		cfg.Cursors.MaxSlots = cursor.MaxSlots
	}
}

func applyPortmapDefaults(cfg *PortmapConfig) {
	// Enabled defaults to false
	if cfg.Port == 0 {
		cfg.Port = DefaultPortmapPort
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultMetricsAddress
	}
}

func applyShareDefaults(shares []ShareConfig) {
	for i := range shares {
		share := &shares[i]

		if share.Driver == "" {
			share.Driver = "memory"
		}
		if share.Options == nil {
			share.Options = make(map[string]any)
		}
		if share.AllowedClients == nil {
			share.AllowedClients = []string{}
		}
		if share.DeniedClients == nil {
			share.DeniedClients = []string{}
		}
		if share.ReadOnlyClients == nil {
			share.ReadOnlyClients = []string{}
		}

		if share.IdentityMapping.AnonymousUID == 0 {
			share.IdentityMapping.AnonymousUID = DefaultAnonymousID
		}
		if share.IdentityMapping.AnonymousGID == 0 {
			share.IdentityMapping.AnonymousGID = DefaultAnonymousID
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Shares: []ShareConfig{defaultShare()},
	}
	ApplyDefaults(cfg)
	return cfg
}

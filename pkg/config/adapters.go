package config

import (
	"context"
	"fmt"

	"github.com/marmos91/nfsd/internal/protocol/nfs"
	mount "github.com/marmos91/nfsd/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/v3/handlers"
	"github.com/marmos91/nfsd/internal/protocol/portmap"
	"github.com/marmos91/nfsd/internal/ratelimiter"
	"github.com/marmos91/nfsd/pkg/adapter"
	nfsAdapter "github.com/marmos91/nfsd/pkg/adapter/nfs"
	"github.com/marmos91/nfsd/pkg/openfile"
	"github.com/marmos91/nfsd/pkg/session"
)

// Services are the long-running components of one nfsd process, wired
// together from the configuration.
type Services struct {
	Shares   *Shares
	Sessions *session.Manager

	Dispatcher *nfs.Dispatcher

	// Adapters are the protocol servers to run; the NFS adapter is always
	// first.
	Adapters []adapter.Adapter

	// Portmap is nil unless the embedded portmapper is enabled.
	Portmap *portmap.Server
}

// CreateServices builds the session manager, the dispatcher and the
// protocol adapters on top of an initialized share registry.
//
// Nothing is started: the caller runs the adapters and the portmapper and
// calls Close once they have returned.
func CreateServices(cfg *Config, shares *Shares, m *MetricsResult) (*Services, error) {
	if shares == nil || shares.Registry == nil {
		return nil, fmt.Errorf("share registry is not initialized")
	}
	if m == nil {
		m = &MetricsResult{}
	}

	sessions := session.NewManager(shares.Registry, session.DefaultAuthenticator{
		AllowNull:    !cfg.Sessions.RequireUnixAuth,
		AnonymousUID: cfg.Sessions.AnonymousUID,
		AnonymousGID: cfg.Sessions.AnonymousGID,
	}, session.Options{
		IdleTimeout:       cfg.Sessions.IdleTimeout,
		IdleSweepInterval: cfg.Sessions.IdleSweep,
		CursorLease:       cfg.Cache.Cursors.Lease,
		CursorSweep:       cfg.Cache.Cursors.Sweep,
		MaxCursorSlots:    cfg.Cache.Cursors.MaxSlots,
		OpenFiles: openfile.Options{
			Lease:         cfg.Cache.OpenFiles.Lease,
			SweepInterval: cfg.Cache.OpenFiles.Sweep,
			MaxEntries:    cfg.Cache.OpenFiles.MaxEntries,
		},
		Metrics: m.CacheMetrics,
	})

	var limiter *ratelimiter.RateLimiter
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 || rl.PerClientRequestsPerSecond > 0 {
		limiter = ratelimiter.New(ratelimiter.Config{
			RequestsPerSecond:          rl.RequestsPerSecond,
			Burst:                      rl.Burst,
			PerClientRequestsPerSecond: rl.PerClientRequestsPerSecond,
			PerClientBurst:             rl.PerClientBurst,
		})
	}

	dispatcher := nfs.NewDispatcher(nfs.Config{
		Handler:  handlers.NewDefaultNFSHandler(m.NFSMetrics),
		Mount:    mount.NewHandler(shares.Registry),
		Sessions: sessions,
		Limiter:  limiter,
		Metrics:  m.NFSMetrics,
	})

	nfsServer := nfsAdapter.New(cfg.NFS, dispatcher, sessions, m.NFSMetrics)

	s := &Services{
		Shares:     shares,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Adapters:   []adapter.Adapter{nfsServer},
	}

	if cfg.Portmap.Enabled {
		s.Portmap = portmap.NewServer(portmap.ServerConfig{
			Port:        cfg.Portmap.Port,
			IdleTimeout: cfg.Portmap.IdleTimeout,
		})
		nfsServer.SetPortmap(s.Portmap.Registry())
	}

	return s, nil
}

// Close tears down every session and then closes the share drivers.
func (s *Services) Close(ctx context.Context) error {
	s.Sessions.Close(ctx)
	return s.Shares.Close()
}

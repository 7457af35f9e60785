package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/share"
)

// Shares is the share registry built from the shares section together
// with the drivers that hold resources until shutdown.
type Shares struct {
	Registry *share.Registry

	closers []io.Closer
}

// InitializeShares creates one driver per configured share, registers the
// shares with a client-ACL registry and performs the first scan.
//
// On error every driver opened so far is closed again.
func InitializeShares(ctx context.Context, cfg *Config) (*Shares, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if len(cfg.Shares) == 0 {
		return nil, fmt.Errorf("no shares configured")
	}

	s := &Shares{}
	defs := make(share.StaticSource, 0, len(cfg.Shares))
	for i := range cfg.Shares {
		sc := &cfg.Shares[i]

		d, err := CreateDisk(ctx, sc)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("share %q: %w", sc.Name, err)
		}
		if c, ok := d.(io.Closer); ok {
			s.closers = append(s.closers, c)
		}

		defs = append(defs, shareDefinition(sc, d))
		logger.Debug("Share %q: driver=%s read_only=%v", sc.Name, sc.Driver, sc.ReadOnly)
	}

	s.Registry = share.NewRegistry(defs, share.ClientACL{})
	if err := s.Registry.Rescan(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if n := s.Registry.Count(); n != len(defs) {
		_ = s.Close()
		return nil, fmt.Errorf("registered %d of %d shares; check the log for collisions", n, len(defs))
	}

	logger.Info("Registered %d share(s)", s.Registry.Count())
	return s, nil
}

func shareDefinition(sc *ShareConfig, d disk.Interface) share.Definition {
	return share.Definition{
		Name:                     sc.Name,
		Disk:                     d,
		ReadOnly:                 sc.ReadOnly,
		AllowedClients:           sc.AllowedClients,
		DeniedClients:            sc.DeniedClients,
		ReadOnlyClients:          sc.ReadOnlyClients,
		RequireAuth:              sc.RequireAuth,
		MapAllToAnonymous:        sc.IdentityMapping.MapAllToAnonymous,
		MapPrivilegedToAnonymous: sc.IdentityMapping.MapPrivilegedToAnonymous,
		AnonymousUID:             sc.IdentityMapping.AnonymousUID,
		AnonymousGID:             sc.IdentityMapping.AnonymousGID,
	}
}

// Close closes the drivers that need it, in reverse order of creation.
func (s *Shares) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

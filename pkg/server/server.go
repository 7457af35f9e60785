// Package server runs the protocol adapters of one nfsd process together
// with its auxiliary listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/portmap"
	"github.com/marmos91/nfsd/pkg/adapter"
	"github.com/marmos91/nfsd/pkg/metrics"
)

// Options configures a Server.
type Options struct {
	// Portmap is started before the adapters so that their registrations
	// are answerable as soon as they are made. Nil disables it.
	Portmap *portmap.Server

	// Metrics serves /metrics. Nil disables it.
	Metrics *metrics.Server

	// ShutdownTimeout bounds Stop. Zero means 30s.
	ShutdownTimeout time.Duration
}

// Server coordinates the lifecycle of multiple protocol adapters.
//
// Lifecycle:
//  1. New creates the server
//  2. AddAdapter registers each adapter
//  3. Serve starts everything and blocks until the context is cancelled or
//     one component fails, at which point all others are stopped
//
// A Server can only be served once.
type Server struct {
	opts Options

	adapters []adapter.Adapter

	mu        sync.RWMutex
	serveOnce sync.Once
	served    bool
}

func New(opts Options) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		opts:     opts,
		adapters: make([]adapter.Adapter, 0, 2),
	}
}

// AddAdapter registers a protocol adapter. Two adapters may not serve the
// same protocol or port.
//
// It panics when called after Serve.
func (s *Server) AddAdapter(a adapter.Adapter) error {
	if a == nil {
		panic("adapter cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		panic("cannot add adapter after Serve() has been called")
	}

	protocol := a.Protocol()
	port := a.Port()
	for _, existing := range s.adapters {
		if existing.Protocol() == protocol {
			return fmt.Errorf("adapter for protocol %s already registered", protocol)
		}
		if port > 0 && existing.Port() == port {
			return fmt.Errorf("port %d already in use by %s adapter", port, existing.Protocol())
		}
	}

	s.adapters = append(s.adapters, a)
	logger.Info("Registered %s adapter on port %d", protocol, port)
	return nil
}

// Adapters returns a copy of the registered adapters.
func (s *Server) Adapters() []adapter.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adapters := make([]adapter.Adapter, len(s.adapters))
	copy(adapters, s.adapters)
	return adapters
}

// Serve runs every component until ctx is cancelled (returning nil) or one
// of them fails (returning its error once the rest have stopped).
func (s *Server) Serve(ctx context.Context) error {
	err := errors.New("Serve() has already been called on this server instance")
	s.serveOnce.Do(func() {
		s.mu.Lock()
		s.served = true
		s.mu.Unlock()
		err = s.serve(ctx)
	})
	return err
}

func (s *Server) serve(ctx context.Context) error {
	adapters := s.Adapters()
	if len(adapters) == 0 {
		return fmt.Errorf("no adapters registered; call AddAdapter() before Serve()")
	}

	logger.Info("Starting nfsd with %d adapter(s)", len(adapters))
	startTime := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	if pm := s.opts.Portmap; pm != nil {
		if err := pm.Listen(); err != nil {
			return fmt.Errorf("portmap: %w", err)
		}
		g.Go(func() error {
			if err := pm.Serve(gctx); err != nil {
				return fmt.Errorf("portmap: %w", err)
			}
			return nil
		})
	}

	if ms := s.opts.Metrics; ms != nil {
		g.Go(func() error {
			return ms.Serve(gctx)
		})
	}

	for _, a := range adapters {
		g.Go(func() error {
			protocol := a.Protocol()
			if err := a.Serve(gctx); err != nil {
				logger.Error("%s adapter failed: %v", protocol, err)
				return fmt.Errorf("%s adapter: %w", protocol, err)
			}
			logger.Info("%s adapter stopped", protocol)
			return nil
		})
	}

	logger.Debug("All components started in %v", time.Since(startTime))

	err := g.Wait()
	if err != nil {
		logger.Error("nfsd stopped with error: %v", err)
		return err
	}

	logger.Info("nfsd stopped gracefully (reason: %v)", context.Cause(ctx))
	return nil
}

// Stop asks every adapter to shut down, in reverse order of registration.
// Serve returns once they have.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	adapters := s.Adapters()
	logger.Info("Initiating graceful shutdown of %d adapter(s)", len(adapters))

	var errs []error
	for i := len(adapters) - 1; i >= 0; i-- {
		a := adapters[i]
		if err := a.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s adapter: %v", a.Protocol(), err)
			errs = append(errs, fmt.Errorf("%s: %w", a.Protocol(), err))
		}
	}
	if pm := s.opts.Portmap; pm != nil {
		pm.Stop()
	}
	if ms := s.opts.Metrics; ms != nil {
		if err := ms.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

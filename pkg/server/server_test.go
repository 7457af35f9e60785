package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/internal/protocol/portmap"
)

type fakeAdapter struct {
	protocol string
	port     int
	err      error

	started  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newFakeAdapter(protocol string, port int, err error) *fakeAdapter {
	return &fakeAdapter{
		protocol: protocol,
		port:     port,
		err:      err,
		started:  make(chan struct{}),
		stop:     make(chan struct{}),
	}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	close(f.started)
	if f.err != nil {
		return f.err
	}
	select {
	case <-ctx.Done():
	case <-f.stop:
	}
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.stopOnce.Do(func() { close(f.stop) })
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func serveAsync(ctx context.Context, s *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestAddAdapter(t *testing.T) {
	s := New(Options{})
	require.NoError(t, s.AddAdapter(newFakeAdapter("NFS", 2049, nil)))

	err := s.AddAdapter(newFakeAdapter("NFS", 3049, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = s.AddAdapter(newFakeAdapter("SMB", 2049, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 2049")

	assert.Len(t, s.Adapters(), 1)
	assert.Panics(t, func() { _ = s.AddAdapter(nil) })
}

func TestServe(t *testing.T) {
	t.Run("no adapters", func(t *testing.T) {
		err := New(Options{}).Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no adapters")
	})

	t.Run("cancel stops everything", func(t *testing.T) {
		pm := portmap.NewServer(portmap.ServerConfig{Port: 0})
		s := New(Options{Portmap: pm})
		a := newFakeAdapter("NFS", 2049, nil)
		require.NoError(t, s.AddAdapter(a))

		ctx, cancel := context.WithCancel(context.Background())
		done := serveAsync(ctx, s)
		<-a.started
		assert.NotEmpty(t, pm.Addr())

		cancel()
		assert.NoError(t, wait(t, done))

		err := s.Serve(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already been called")
		assert.Panics(t, func() { _ = s.AddAdapter(newFakeAdapter("SMB", 445, nil)) })
	})

	t.Run("failing adapter stops the others", func(t *testing.T) {
		s := New(Options{})
		healthy := newFakeAdapter("NFS", 2049, nil)
		broken := newFakeAdapter("SMB", 445, errors.New("bind failed"))
		require.NoError(t, s.AddAdapter(healthy))
		require.NoError(t, s.AddAdapter(broken))

		err := wait(t, serveAsync(context.Background(), s))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SMB adapter")
		assert.Contains(t, err.Error(), "bind failed")
	})

	t.Run("stop", func(t *testing.T) {
		pm := portmap.NewServer(portmap.ServerConfig{Port: 0})
		s := New(Options{Portmap: pm, ShutdownTimeout: time.Second})
		a := newFakeAdapter("NFS", 2049, nil)
		require.NoError(t, s.AddAdapter(a))

		done := serveAsync(context.Background(), s)
		<-a.started
		require.NoError(t, s.Stop())
		assert.NoError(t, wait(t, done))
	})
}

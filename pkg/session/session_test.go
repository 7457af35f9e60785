package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/disk/memory"
	"github.com/marmos91/nfsd/pkg/share"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type denyAll struct{}

func (denyAll) Permission(context.Context, *share.Details, share.Client) share.Permission {
	return share.NoAccess
}

func newManager(t *testing.T, acl share.ACLManager) (*Manager, *memory.Driver, *fakeClock) {
	t.Helper()
	drv := memory.New(memory.Options{})
	reg := share.NewRegistry(share.StaticSource{{Name: "export", Disk: drv}}, acl)
	clock := &fakeClock{now: time.Unix(5000, 0)}
	m := NewManager(reg, DefaultAuthenticator{AllowNull: true, AnonymousUID: 65534, AnonymousGID: 65534}, Options{
		IdleTimeout:       time.Minute,
		IdleSweepInterval: time.Hour,
		CursorSweep:       time.Hour,
		Now:               clock.Now,
	})
	t.Cleanup(func() { m.Close(context.Background()) })
	return m, drv, clock
}

func unixCred(proto, addr string, uid uint32) Credential {
	return Credential{Kind: KindUnix, Protocol: proto, Addr: addr, MachineName: "client", UID: uid, GID: uid}
}

func TestCredentialKey(t *testing.T) {
	a := unixCred("udp", "10.0.0.1:800", 1000)
	b := unixCred("udp", "10.0.0.1:800", 1001)
	c := unixCred("tcp", "10.0.0.1:800", 1000)
	n := Credential{Kind: KindNull, Protocol: "udp", Addr: "10.0.0.1:800"}

	assert.NotEqual(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.NotEqual(t, a.Key(), n.Key())
	assert.Equal(t, a.Key(), unixCred("udp", "10.0.0.1:800", 1000).Key())
	assert.Equal(t, "10.0.0.1", a.ClientIP())
}

func TestDefaultAuthenticator(t *testing.T) {
	ctx := context.Background()

	id, err := DefaultAuthenticator{}.Authenticate(ctx, unixCred("tcp", "10.0.0.1:1", 42))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), id.UID)
	assert.Equal(t, "unix:42@client", id.Name)

	_, err = DefaultAuthenticator{}.Authenticate(ctx, Credential{Kind: KindNull})
	assert.ErrorIs(t, err, ErrAuthFailed)

	id, err = DefaultAuthenticator{AllowNull: true, AnonymousUID: 65534}.Authenticate(ctx, Credential{Kind: KindNull, Addr: "10.0.0.2:5"})
	require.NoError(t, err)
	assert.Equal(t, uint32(65534), id.UID)
}

func TestFindOrCreate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, nil)

	s1, err := m.FindOrCreate(ctx, unixCred("udp", "10.0.0.1:800", 1000))
	require.NoError(t, err)
	s2, err := m.FindOrCreate(ctx, unixCred("udp", "10.0.0.1:800", 1000))
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	s3, err := m.FindOrCreate(ctx, unixCred("udp", "10.0.0.1:800", 0))
	require.NoError(t, err)
	assert.NotSame(t, s1, s3)

	nullSess, err := m.FindOrCreate(ctx, Credential{Kind: KindNull, Protocol: "udp", Addr: "10.0.0.1:800"})
	require.NoError(t, err)
	assert.NotSame(t, s1, nullSess)
	assert.True(t, nullSess.Client().Anonymous)
	assert.Equal(t, 3, m.Count())

	_, err = m.FindOrCreate(ctx, Credential{Kind: Kind(7)})
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestTreeConnection(t *testing.T) {
	ctx := context.Background()
	shareID := handle.ShareIDForName("export")

	t.Run("cloned once per session", func(t *testing.T) {
		m, _, _ := newManager(t, nil)
		s, err := m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.1:900", 1000))
		require.NoError(t, err)

		s.Lock()
		defer s.Unlock()
		tc1, err := s.TreeConnection(ctx, shareID)
		require.NoError(t, err)
		tc2, err := s.TreeConnection(ctx, shareID)
		require.NoError(t, err)
		assert.Same(t, tc1, tc2)
		assert.True(t, tc1.HasWriteAccess())

		_, err = s.TreeConnection(ctx, shareID+1)
		assert.ErrorIs(t, err, share.ErrBadHandle)
	})

	t.Run("denied is bad handle", func(t *testing.T) {
		m, _, _ := newManager(t, denyAll{})
		s, err := m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.1:900", 1000))
		require.NoError(t, err)

		s.Lock()
		defer s.Unlock()
		_, err = s.TreeConnection(ctx, shareID)
		assert.ErrorIs(t, err, share.ErrBadHandle)
	})
}

func TestTransactionScope(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t, nil)
	s, err := m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.1:900", 1000))
	require.NoError(t, err)

	s.Lock()
	reqCtx := s.Begin(ctx)
	assert.Equal(t, uint32(1000), disk.IdentityFrom(reqCtx).UID)
	scope := disk.ScopeFrom(reqCtx)
	require.NotNil(t, scope)
	require.NoError(t, s.EndTransaction(true))
	require.NoError(t, s.EndTransaction(true), "ending twice is harmless")
	s.Unlock()

	_, err = scope.Join(ctx, "k", nil)
	assert.ErrorIs(t, err, disk.ErrScopeEnded)

	var seen *disk.Identity
	require.NoError(t, s.RunAs(ctx, func(ctx context.Context) error {
		seen = disk.IdentityFrom(ctx)
		assert.NotNil(t, disk.ScopeFrom(ctx))
		return nil
	}))
	assert.Same(t, s.Identity, seen)
}

func TestSweepIdle(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t, nil)

	udp, err := m.FindOrCreate(ctx, unixCred("udp", "10.0.0.1:800", 1000))
	require.NoError(t, err)
	_, err = m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.1:801", 1000))
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Equal(t, 0, m.SweepIdle(ctx))

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, m.SweepIdle(ctx), "only the UDP session expires")
	assert.Equal(t, 1, m.Count())

	again, err := m.FindOrCreate(ctx, unixCred("udp", "10.0.0.1:800", 1000))
	require.NoError(t, err)
	assert.NotSame(t, udp, again)
}

func TestCloseConnectionCascades(t *testing.T) {
	ctx := context.Background()
	m, drv, _ := newManager(t, nil)
	shareID := handle.ShareIDForName("export")

	f, err := drv.CreateFile(ctx, "/file")
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	s, err := m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.9:700", 1000))
	require.NoError(t, err)
	other, err := m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.9:701", 1000))
	require.NoError(t, err)

	s.Lock()
	tc, err := s.TreeConnection(ctx, shareID)
	require.NoError(t, err)
	_, err = s.Files().FindOrOpen(ctx, s, handle.PackFileHandle(shareID, 0, f.FileID()), tc, true)
	require.NoError(t, err)
	search, err := drv.StartSearch(ctx, "/", "*")
	require.NoError(t, err)
	s.Cursors().Allocate("/", search, 0)
	s.Unlock()

	assert.Equal(t, 1, m.CloseConnection(ctx, "tcp", "10.0.0.9:700"))
	assert.Equal(t, 0, s.Files().Len())
	assert.Equal(t, 0, s.Cursors().Len())
	assert.Equal(t, 1, m.Count())

	m.Close(ctx)
	assert.Equal(t, 0, m.Count())
	assert.Equal(t, 0, other.Files().Len())

	_, err = m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.9:700", 1000))
	assert.Error(t, err)
}

func TestAcquireSkipsRetiredSession(t *testing.T) {
	ctx := context.Background()
	m, drv, _ := newManager(t, nil)
	shareID := handle.ShareIDForName("export")
	cred := unixCred("tcp", "10.0.0.9:700", 1000)

	f, err := drv.CreateFile(ctx, "/file")
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	old, err := m.FindOrCreate(ctx, cred)
	require.NoError(t, err)

	// A request holds the session while a second one looks it up and the
	// connection closes underneath both.
	old.Lock()
	acquired := make(chan *Session, 1)
	go func() {
		s, err := m.Acquire(ctx, cred)
		assert.NoError(t, err)
		acquired <- s
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan int, 1)
	go func() { closed <- m.CloseConnection(ctx, "tcp", "10.0.0.9:700") }()
	assert.Eventually(t, old.Retired, time.Second, time.Millisecond)
	old.Unlock()

	var s *Session
	select {
	case s = <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("Acquire did not return")
	}
	require.NotNil(t, s)
	defer s.Unlock()

	assert.NotSame(t, old, s)
	assert.False(t, s.Retired())
	assert.Equal(t, 1, <-closed)

	tc, err := s.TreeConnection(ctx, shareID)
	require.NoError(t, err)
	_, err = s.Files().FindOrOpen(ctx, s, handle.PackFileHandle(shareID, 0, f.FileID()), tc, true)
	assert.NoError(t, err, "the fresh session's open-file cache is usable")
}

func TestSweepCursors(t *testing.T) {
	ctx := context.Background()
	m, drv, clock := newManager(t, nil)

	s, err := m.FindOrCreate(ctx, unixCred("tcp", "10.0.0.1:900", 1000))
	require.NoError(t, err)

	s.Lock()
	search, err := drv.StartSearch(ctx, "/", "*")
	require.NoError(t, err)
	s.Cursors().Allocate("/", search, 0)
	s.Unlock()

	assert.Equal(t, 0, m.SweepCursors())
	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.SweepCursors())
}

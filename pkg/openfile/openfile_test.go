package openfile

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/disk/memory"
	"github.com/marmos91/nfsd/pkg/share"
)

// recordingOwner counts the closes it was asked to run.
type recordingOwner struct {
	mu   sync.Mutex
	runs int
}

func (o *recordingOwner) RunAs(ctx context.Context, fn func(ctx context.Context) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
	return fn(ctx)
}

func (o *recordingOwner) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runs
}

// busyFile reports pending I/O while busy is set.
type busyFile struct {
	disk.NetworkFile
	busy   atomic.Bool
	closed atomic.Bool
}

func (f *busyFile) HasPendingIO() bool { return f.busy.Load() }

func (f *busyFile) Close(ctx context.Context) error {
	f.closed.Store(true)
	return f.NetworkFile.Close(ctx)
}

type fixture struct {
	conn  *share.TreeConnection
	drv   *memory.Driver
	clock *fakeClock
	cache *Cache
}

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

func newFixture(t *testing.T, maxEntries int) *fixture {
	t.Helper()
	drv := memory.New(memory.Options{})
	r := share.NewRegistry(share.StaticSource{{Name: "s", Disk: drv}}, nil)
	conn, err := r.Connect(context.Background(), handle.ShareIDForName("s"), share.Client{})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := New(Options{
		Lease:         DefaultLease,
		SweepInterval: time.Hour,
		MaxEntries:    maxEntries,
		Now:           clock.Now,
	})
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return &fixture{conn: conn, drv: drv, clock: clock, cache: c}
}

func (f *fixture) createFile(t *testing.T, path string) []byte {
	t.Helper()
	nf, err := f.drv.CreateFile(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, nf.Close(context.Background()))
	return handle.PackFileHandle(f.conn.Share.ID, 0, nf.FileID())
}

func TestFindOrOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	owner := &recordingOwner{}
	h := f.createFile(t, "/a")

	first, err := f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
	require.NoError(t, err)
	assert.True(t, first.ReadOnly())
	assert.Equal(t, 1, f.cache.Len())

	t.Run("hit returns the same file", func(t *testing.T) {
		again, err := f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
		require.NoError(t, err)
		assert.Same(t, first, again)
	})

	t.Run("write reopens a read-only file", func(t *testing.T) {
		rw, err := f.cache.FindOrOpen(ctx, owner, h, f.conn, false)
		require.NoError(t, err)
		assert.False(t, rw.ReadOnly())
		assert.NotSame(t, first, rw)
		assert.Equal(t, 1, f.cache.Len())

		ro, err := f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
		require.NoError(t, err)
		assert.Same(t, rw, ro, "a writable file also serves reads")
	})

	t.Run("directory handle", func(t *testing.T) {
		_, err := f.cache.FindOrOpen(ctx, owner, handle.PackDirectoryHandle(f.conn.Share.ID, 0), f.conn, true)
		assert.ErrorIs(t, err, disk.ErrIsDirectory)
	})

	t.Run("unknown id is stale", func(t *testing.T) {
		_, err := f.cache.FindOrOpen(ctx, owner, handle.PackFileHandle(f.conn.Share.ID, 0, 999), f.conn, true)
		assert.ErrorIs(t, err, share.ErrStale)
	})
}

func TestSweepHonoursLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	owner := &recordingOwner{}
	h := f.createFile(t, "/a")

	_, err := f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
	require.NoError(t, err)

	f.clock.Advance(DefaultLease - time.Second)
	assert.Equal(t, 0, f.cache.Sweep(ctx))

	// A hit renews the lease.
	_, err = f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
	require.NoError(t, err)
	f.clock.Advance(DefaultLease - time.Second)
	assert.Equal(t, 0, f.cache.Sweep(ctx))

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, f.cache.Sweep(ctx))
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, 1, owner.count(), "expired files are closed through their owner")
}

func TestSweepExtendsPendingIO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	owner := &recordingOwner{}
	h := f.createFile(t, "/busy")

	nf, err := f.drv.OpenFile(ctx, "/busy", false)
	require.NoError(t, err)
	bf := &busyFile{NetworkFile: nf}
	bf.busy.Store(true)
	require.NoError(t, f.cache.Insert(ctx, owner, h, f.conn, bf))

	for i := 0; i < 3; i++ {
		f.clock.Advance(2 * DefaultLease)
		assert.Equal(t, 0, f.cache.Sweep(ctx))
		assert.False(t, bf.closed.Load())
	}

	bf.busy.Store(false)
	f.clock.Advance(2 * DefaultLease)
	assert.Equal(t, 1, f.cache.Sweep(ctx))
	assert.True(t, bf.closed.Load())
}

func TestEvictionSkipsPendingIO(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	owner := &recordingOwner{}

	hBusy := f.createFile(t, "/busy")
	nf, err := f.drv.OpenFile(ctx, "/busy", false)
	require.NoError(t, err)
	busy := &busyFile{NetworkFile: nf}
	busy.busy.Store(true)
	require.NoError(t, f.cache.Insert(ctx, owner, hBusy, f.conn, busy))

	hIdle := f.createFile(t, "/idle")
	_, err = f.cache.FindOrOpen(ctx, owner, hIdle, f.conn, true)
	require.NoError(t, err)

	hNew := f.createFile(t, "/new")
	_, err = f.cache.FindOrOpen(ctx, owner, hNew, f.conn, true)
	require.NoError(t, err)

	assert.Equal(t, 2, f.cache.Len())
	_, ok := f.cache.Get(hBusy)
	assert.True(t, ok)
	_, ok = f.cache.Get(hIdle)
	assert.False(t, ok)
	assert.False(t, busy.closed.Load())
}

func TestRemoveAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	owner := &recordingOwner{}
	h := f.createFile(t, "/a")
	h2 := f.createFile(t, "/b")

	_, err := f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
	require.NoError(t, err)
	_, err = f.cache.FindOrOpen(ctx, owner, h2, f.conn, true)
	require.NoError(t, err)

	key, err := KeyFor(h)
	require.NoError(t, err)
	require.NoError(t, f.cache.Remove(ctx, key))
	require.NoError(t, f.cache.Remove(ctx, key), "removing twice is harmless")
	assert.Equal(t, 1, f.cache.Len())

	require.NoError(t, f.cache.Close(ctx))
	assert.Equal(t, 0, f.cache.Len())
	assert.Equal(t, 0, owner.count(), "Close uses the caller's context")
	require.NoError(t, f.cache.Close(ctx))

	_, err = f.cache.FindOrOpen(ctx, owner, h, f.conn, true)
	assert.Error(t, err)
}

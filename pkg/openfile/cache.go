// Package openfile keeps driver file handles open between NFS requests.
//
// NFSv3 has no OPEN or CLOSE, so every READ and WRITE names a file by
// handle only. The cache opens a file on first use and closes it once it
// has been idle for a lease period, unless the file still has I/O in
// flight.
package openfile

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/metrics"
	"github.com/marmos91/nfsd/pkg/share"
)

const (
	DefaultLease         = 5 * time.Second
	DefaultSweepInterval = 1250 * time.Millisecond
	DefaultMaxEntries    = 1024
)

// Owner is the session that last used an entry. Expired files are closed
// on its behalf.
type Owner interface {
	// RunAs calls fn under the owner's lock with a context carrying the
	// owner's identity and transaction scope, and ends that scope.
	RunAs(ctx context.Context, fn func(ctx context.Context) error) error
}

// Key identifies a cached file across shares.
type Key struct {
	ShareID uint32
	FileID  uint32
}

// KeyFor returns the cache key of a file handle.
func KeyFor(h []byte) (Key, error) {
	if handle.TypeOf(h) != handle.TypeFile {
		return Key{}, fmt.Errorf("handle %s is not a file: %w", handle.String(h), disk.ErrIsDirectory)
	}
	return Key{ShareID: uint32(handle.UnpackShareID(h)), FileID: uint32(handle.UnpackFileID(h))}, nil
}

type Options struct {
	Lease         time.Duration
	SweepInterval time.Duration
	// MaxEntries bounds the cache; the least recently used idle file is
	// closed to make room.
	MaxEntries int
	Now        func() time.Time
	Metrics    metrics.CacheMetrics
}

type entry struct {
	key     Key
	file    disk.NetworkFile
	conn    *share.TreeConnection
	owner   Owner
	expires time.Time
}

// Cache is safe for concurrent use. Request handlers call it with their
// session locked; the sweeper takes the cache lock first and only locks
// the owner after releasing it.
type Cache struct {
	opts Options

	mu      sync.Mutex
	entries map[Key]*list.Element
	lru     *list.List
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a cache and starts its sweeper.
func New(opts Options) *Cache {
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopCacheMetrics{}
	}

	c := &Cache{
		opts:    opts,
		entries: make(map[Key]*list.Element),
		lru:     list.New(),
		stop:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweeper()
	return c
}

// FindOrOpen returns the open file behind h, opening it through conn's
// driver on a miss. A file cached read-only is reopened when write access
// is requested. Every hit renews the lease and records owner.
func (c *Cache) FindOrOpen(ctx context.Context, owner Owner, h []byte, conn *share.TreeConnection, readOnly bool) (disk.NetworkFile, error) {
	key, err := KeyFor(h)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("open-file cache closed")
	}

	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		if readOnly || !e.file.ReadOnly() {
			e.owner = owner
			e.expires = c.opts.Now().Add(c.opts.Lease)
			c.lru.MoveToFront(elem)
			return e.file, nil
		}

		logger.Debug("Reopening %s for write", e.file.Path())
		c.lru.Remove(elem)
		delete(c.entries, key)
		if err := e.file.Close(ctx); err != nil {
			logger.Warn("Close before reopen failed: path=%s error=%v", e.file.Path(), err)
		}
	}

	path, err := share.PathForHandle(ctx, h, conn)
	if err != nil {
		return nil, err
	}
	file, err := conn.Disk.OpenFile(ctx, path, readOnly)
	if err != nil {
		return nil, err
	}

	c.insertLocked(ctx, key, file, conn, owner)
	return file, nil
}

// Insert caches a file the caller already opened, such as one returned by
// CreateFile. A previous entry for the same key is closed.
func (c *Cache) Insert(ctx context.Context, owner Owner, h []byte, conn *share.TreeConnection, file disk.NetworkFile) error {
	key, err := KeyFor(h)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("open-file cache closed")
	}
	if elem, ok := c.entries[key]; ok {
		old := elem.Value.(*entry)
		c.lru.Remove(elem)
		delete(c.entries, key)
		if old.file != file {
			_ = old.file.Close(ctx)
		}
	}
	c.insertLocked(ctx, key, file, conn, owner)
	return nil
}

func (c *Cache) insertLocked(ctx context.Context, key Key, file disk.NetworkFile, conn *share.TreeConnection, owner Owner) {
	for c.lru.Len() >= c.opts.MaxEntries && c.evictLocked(ctx) {
	}
	e := &entry{
		key:     key,
		file:    file,
		conn:    conn,
		owner:   owner,
		expires: c.opts.Now().Add(c.opts.Lease),
	}
	c.entries[key] = c.lru.PushFront(e)
}

// evictLocked closes the least recently used file without pending I/O.
func (c *Cache) evictLocked(ctx context.Context) bool {
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		e := elem.Value.(*entry)
		if e.file.HasPendingIO() {
			continue
		}
		c.lru.Remove(elem)
		delete(c.entries, e.key)
		if err := e.file.Close(ctx); err != nil {
			logger.Warn("Close of evicted file failed: path=%s error=%v", e.file.Path(), err)
		}
		return true
	}
	return false
}

// Get returns the cached file for h without opening or renewing it.
func (c *Cache) Get(h []byte) (disk.NetworkFile, bool) {
	key, err := KeyFor(h)
	if err != nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*entry).file, true
}

// Remove closes and forgets the file of key, if cached.
func (c *Cache) Remove(ctx context.Context, key Key) error {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := elem.Value.(*entry).file.Close(ctx); err != nil {
		return fmt.Errorf("close %d/%d: %w", key.ShareID, key.FileID, err)
	}
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Sweep closes every expired entry. Entries with I/O in flight get a new
// lease instead. It returns the number of files closed.
func (c *Cache) Sweep(ctx context.Context) int {
	now := c.opts.Now()

	var expired []*entry
	c.mu.Lock()
	for elem := c.lru.Front(); elem != nil; {
		next := elem.Next()
		e := elem.Value.(*entry)
		if now.After(e.expires) {
			if e.file.HasPendingIO() {
				e.expires = now.Add(c.opts.Lease)
			} else {
				c.lru.Remove(elem)
				delete(c.entries, e.key)
				expired = append(expired, e)
			}
		}
		elem = next
	}
	c.mu.Unlock()

	for _, e := range expired {
		closeFn := func(ctx context.Context) error { return e.file.Close(ctx) }
		var err error
		if e.owner != nil {
			err = e.owner.RunAs(ctx, closeFn)
		} else {
			err = closeFn(ctx)
		}
		if err != nil {
			logger.Warn("Close of expired file failed: path=%s error=%v", e.file.Path(), err)
		} else {
			logger.Debug("Closed idle file: path=%s", e.file.Path())
		}
	}
	c.opts.Metrics.RecordExpired("openfile", len(expired))
	return len(expired)
}

func (c *Cache) sweeper() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep(context.Background())
		}
	}
}

// Close stops the sweeper and closes every file with ctx, regardless of
// leases or pending I/O. The caller supplies the identity and transaction
// scope through ctx. Close is idempotent.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for c.lru.Len() > 0 {
		elem := c.lru.Back()
		e := elem.Value.(*entry)
		if err := e.file.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", e.file.Path(), err))
		}
		c.lru.Remove(elem)
		delete(c.entries, e.key)
	}
	return errors.Join(errs...)
}

// Package badger implements a persistent disk driver on BadgerDB.
//
// Every object gets a stable 32-bit id that survives restarts, so the driver
// implements disk.FileIDInterface and handles stay valid after the server's
// path caches are lost. Mutations join the request's disk.Scope and are
// committed or rolled back together when the request ends.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/disk"
)

// DefaultCapacity is the reported size when Options.Capacity is zero.
const DefaultCapacity = 1 << 40

// Options configures a Driver.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps the database in memory only.
	InMemory bool `mapstructure:"in_memory"`

	// Capacity is the size reported to FSSTAT.
	Capacity uint64 `mapstructure:"capacity"`

	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`
}

// Driver is a disk.Interface backed by BadgerDB.
type Driver struct {
	db       *badger.DB
	seq      *badger.Sequence
	capacity uint64
	now      func() time.Time
}

// Open opens (or creates) the database described by opts.
func Open(ctx context.Context, opts Options) (*Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("badger driver: path is required")
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)

	blockCacheMB := opts.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := opts.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	bopts = bopts.WithBlockCacheSize(blockCacheMB << 20).WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", opts.Path, err)
	}

	seq, err := db.GetSequence([]byte(keySequenceID), 128)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open id sequence: %w", err)
	}

	d := &Driver{db: db, seq: seq, capacity: opts.Capacity, now: time.Now}
	if d.capacity == 0 {
		d.capacity = DefaultCapacity
	}

	if err := d.initRoot(); err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}

	logger.Info("badger driver opened: path=%q in_memory=%v", opts.Path, opts.InMemory)
	return d, nil
}

// Close releases the sequence lease and closes the database.
func (d *Driver) Close() error {
	if err := d.seq.Release(); err != nil {
		logger.Warn("badger driver: release sequence: %v", err)
	}
	return d.db.Close()
}

func (d *Driver) initRoot() error {
	return d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(keyNode(0))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check root: %w", err)
		}
		now := d.now()
		return putRecord(txn, &record{ID: 0, Type: disk.TypeDirectory, Mode: 0755, Atime: now, Mtime: now, Ctime: now})
	})
}

// ============================================================================
// Transactions
// ============================================================================

type transaction struct {
	txn *badger.Txn
}

func (t *transaction) Commit() error {
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (t *transaction) Rollback() {
	t.txn.Discard()
}

func (d *Driver) BeginTransaction(context.Context) (disk.Transaction, error) {
	return &transaction{txn: d.db.NewTransaction(true)}, nil
}

// update runs fn inside the request transaction when ctx carries a scope,
// or in a transaction of its own otherwise.
func (d *Driver) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if scope := disk.ScopeFrom(ctx); scope != nil {
		t, err := scope.Join(ctx, d, d)
		if err == nil {
			return fn(t.(*transaction).txn)
		}
		if !errors.Is(err, disk.ErrScopeEnded) {
			return err
		}
	}
	return d.db.Update(fn)
}

func (d *Driver) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if scope := disk.ScopeFrom(ctx); scope != nil {
		t, err := scope.Join(ctx, d, d)
		if err == nil {
			return fn(t.(*transaction).txn)
		}
		if !errors.Is(err, disk.ErrScopeEnded) {
			return err
		}
	}
	return d.db.View(fn)
}

// ============================================================================
// Record helpers
// ============================================================================

func getRecord(txn *badger.Txn, id uint32) (*record, error) {
	item, err := txn.Get(keyNode(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("id %d: %w", id, disk.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node %d: %w", id, err)
	}
	var r *record
	err = item.Value(func(val []byte) error {
		r, err = decodeRecord(val)
		return err
	})
	return r, err
}

func putRecord(txn *badger.Txn, r *record) error {
	data, err := encodeRecord(r)
	if err != nil {
		return err
	}
	if err := txn.Set(keyNode(r.ID), data); err != nil {
		return mapTxnError(fmt.Errorf("set node %d: %w", r.ID, err))
	}
	return nil
}

func lookupChild(txn *badger.Txn, parent uint32, name string) (uint32, error) {
	item, err := txn.Get(keyChild(parent, name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, fmt.Errorf("%s: %w", name, disk.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("get child %s: %w", name, err)
	}
	var id uint32
	err = item.Value(func(val []byte) error {
		id, err = decodeID(val)
		return err
	})
	return id, err
}

func hasChildren(txn *badger.Txn, id uint32) bool {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyChildPrefix(id)
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Rewind()
	return it.Valid()
}

func listChildren(txn *badger.Txn, id uint32) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	prefix := keyChildPrefix(id)
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var names []string
	for it.Rewind(); it.Valid(); it.Next() {
		names = append(names, string(it.Item().Key()[len(prefix):]))
	}
	return names
}

func (d *Driver) walk(txn *badger.Txn, p string) (*record, error) {
	p = disk.Clean(p)
	r, err := getRecord(txn, 0)
	if err != nil || p == disk.Root {
		return r, err
	}
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if r.Type != disk.TypeDirectory {
			return nil, fmt.Errorf("%s: %w", p, disk.ErrNotDirectory)
		}
		id, err := lookupChild(txn, r.ID, part)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if r, err = getRecord(txn, id); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (d *Driver) pathOf(txn *badger.Txn, r *record) (string, error) {
	var parts []string
	for r.ID != 0 {
		parts = append(parts, r.Name)
		parent, err := getRecord(txn, r.Parent)
		if err != nil {
			return "", err
		}
		r = parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/"), nil
}

func (d *Driver) nextID() (uint32, error) {
	for {
		id, err := d.seq.Next()
		if err != nil {
			return 0, fmt.Errorf("next id: %w", err)
		}
		if uint32(id) != 0 {
			return uint32(id), nil
		}
	}
}

func (d *Driver) insert(ctx context.Context, txn *badger.Txn, p string, typ disk.FileType) (*record, error) {
	p = disk.Clean(p)
	if p == disk.Root {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrExists)
	}
	name := disk.Base(p)
	if len(name) > disk.MaxNameLength {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrNameTooLong)
	}
	parent, err := d.walk(txn, disk.Parent(p))
	if err != nil {
		return nil, err
	}
	if parent.Type != disk.TypeDirectory {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrNotDirectory)
	}
	if _, err := lookupChild(txn, parent.ID, name); err == nil {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrExists)
	}

	id, err := d.nextID()
	if err != nil {
		return nil, err
	}
	now := d.now()
	r := &record{ID: id, Parent: parent.ID, Name: name, Type: typ, Mode: 0644, Atime: now, Mtime: now, Ctime: now}
	if typ == disk.TypeDirectory {
		r.Mode = 0755
	}
	if ident := disk.IdentityFrom(ctx); ident != nil {
		r.UID, r.GID = ident.UID, ident.GID
	}
	if err := putRecord(txn, r); err != nil {
		return nil, err
	}
	if err := txn.Set(keyChild(parent.ID, name), encodeID(id)); err != nil {
		return nil, mapTxnError(fmt.Errorf("link %s: %w", p, err))
	}
	parent.Mtime, parent.Ctime = now, now
	if err := putRecord(txn, parent); err != nil {
		return nil, err
	}
	return r, nil
}

func (d *Driver) unlink(txn *badger.Txn, r *record) error {
	if err := txn.Delete(keyChild(r.Parent, r.Name)); err != nil {
		return mapTxnError(err)
	}
	if err := txn.Delete(keyNode(r.ID)); err != nil {
		return mapTxnError(err)
	}
	if err := txn.Delete(keyData(r.ID)); err != nil {
		return mapTxnError(err)
	}
	parent, err := getRecord(txn, r.Parent)
	if err != nil {
		return err
	}
	now := d.now()
	parent.Mtime, parent.Ctime = now, now
	return putRecord(txn, parent)
}

func mapTxnError(err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return fmt.Errorf("%w: %v", disk.ErrDiskFull, err)
	}
	return err
}

// ============================================================================
// disk.Interface
// ============================================================================

func (d *Driver) FileExists(ctx context.Context, p string) (disk.FileStatus, error) {
	status := disk.StatusNotExist
	err := d.view(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if errors.Is(err, disk.ErrNotFound) || errors.Is(err, disk.ErrNotDirectory) {
			return nil
		}
		if err != nil {
			return err
		}
		status = disk.StatusFile
		if r.Type == disk.TypeDirectory {
			status = disk.StatusDirectory
		}
		return nil
	})
	return status, err
}

func (d *Driver) GetFileInformation(ctx context.Context, p string) (*disk.FileInfo, error) {
	var info *disk.FileInfo
	err := d.view(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if err != nil {
			return err
		}
		info = r.info()
		return nil
	})
	return info, err
}

func (d *Driver) SetFileInformation(ctx context.Context, p string, attrs *disk.SetAttrs) error {
	if attrs.IsEmpty() {
		return nil
	}
	return d.update(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if err != nil {
			return err
		}
		if attrs.Mode != nil {
			r.Mode = *attrs.Mode & 07777
		}
		if attrs.UID != nil {
			r.UID = *attrs.UID
		}
		if attrs.GID != nil {
			r.GID = *attrs.GID
		}
		if attrs.AccessTime != nil {
			r.Atime = *attrs.AccessTime
		}
		if attrs.ModifyTime != nil {
			r.Mtime = *attrs.ModifyTime
		}
		r.Ctime = d.now()
		return putRecord(txn, r)
	})
}

func (d *Driver) OpenFile(ctx context.Context, p string, readOnly bool) (disk.NetworkFile, error) {
	var f *file
	err := d.view(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if err != nil {
			return err
		}
		if r.Type == disk.TypeDirectory {
			return fmt.Errorf("open %s: %w", p, disk.ErrIsDirectory)
		}
		f = &file{d: d, id: r.ID, path: disk.Clean(p), readOnly: readOnly}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Driver) CreateFile(ctx context.Context, p string) (disk.NetworkFile, error) {
	var f *file
	err := d.update(ctx, func(txn *badger.Txn) error {
		r, err := d.insert(ctx, txn, p, disk.TypeFile)
		if err != nil {
			return err
		}
		f = &file{d: d, id: r.ID, path: disk.Clean(p)}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	return f, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) error {
	err := d.update(ctx, func(txn *badger.Txn) error {
		_, err := d.insert(ctx, txn, p, disk.TypeDirectory)
		return err
	})
	if err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (d *Driver) DeleteFile(ctx context.Context, p string) error {
	return d.update(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if err != nil {
			return err
		}
		if r.Type == disk.TypeDirectory {
			return fmt.Errorf("remove %s: %w", p, disk.ErrIsDirectory)
		}
		return d.unlink(txn, r)
	})
}

func (d *Driver) DeleteDirectory(ctx context.Context, p string) error {
	return d.update(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if err != nil {
			return err
		}
		switch {
		case r.ID == 0:
			return fmt.Errorf("rmdir %s: %w", p, disk.ErrAccessDenied)
		case r.Type != disk.TypeDirectory:
			return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotDirectory)
		case hasChildren(txn, r.ID):
			return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotEmpty)
		}
		return d.unlink(txn, r)
	})
}

func (d *Driver) RenameFile(ctx context.Context, oldPath, newPath string) error {
	return d.update(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, oldPath)
		if err != nil {
			return err
		}
		if r.ID == 0 {
			return fmt.Errorf("rename %s: %w", oldPath, disk.ErrAccessDenied)
		}
		if r.Type == disk.TypeDirectory && disk.IsWithin(newPath, oldPath) {
			return fmt.Errorf("rename %s into itself: %w", oldPath, disk.ErrInvalid)
		}
		newParent, err := d.walk(txn, disk.Parent(newPath))
		if err != nil {
			return err
		}
		if newParent.Type != disk.TypeDirectory {
			return fmt.Errorf("rename to %s: %w", newPath, disk.ErrNotDirectory)
		}
		name := disk.Base(newPath)
		if len(name) > disk.MaxNameLength {
			return fmt.Errorf("rename to %s: %w", newPath, disk.ErrNameTooLong)
		}
		if _, err := lookupChild(txn, newParent.ID, name); err == nil {
			return fmt.Errorf("rename to %s: %w", newPath, disk.ErrExists)
		}

		now := d.now()
		if err := txn.Delete(keyChild(r.Parent, r.Name)); err != nil {
			return mapTxnError(err)
		}
		oldParent, err := getRecord(txn, r.Parent)
		if err != nil {
			return err
		}
		oldParent.Mtime, oldParent.Ctime = now, now
		if err := putRecord(txn, oldParent); err != nil {
			return err
		}
		if newParent.ID == oldParent.ID {
			newParent = oldParent
		}

		r.Parent, r.Name, r.Ctime = newParent.ID, name, now
		if err := putRecord(txn, r); err != nil {
			return err
		}
		if err := txn.Set(keyChild(newParent.ID, name), encodeID(r.ID)); err != nil {
			return mapTxnError(err)
		}
		newParent.Mtime, newParent.Ctime = now, now
		return putRecord(txn, newParent)
	})
}

func (d *Driver) StartSearch(ctx context.Context, dir string, pattern string) (disk.SearchContext, error) {
	var names []string
	base := disk.Clean(dir)
	err := d.view(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, base)
		if err != nil {
			return err
		}
		if r.Type != disk.TypeDirectory {
			return fmt.Errorf("search %s: %w", dir, disk.ErrNotDirectory)
		}
		names = listChildren(txn, r.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	stat := func(name string) (*disk.FileInfo, error) {
		return d.GetFileInformation(context.Background(), disk.Join(base, name))
	}
	return disk.NewListSearch(names, pattern, stat, nil), nil
}

// ============================================================================
// Optional interfaces
// ============================================================================

func (d *Driver) CreateSymbolicLink(ctx context.Context, p, target string) error {
	return d.update(ctx, func(txn *badger.Txn) error {
		r, err := d.insert(ctx, txn, p, disk.TypeSymlink)
		if err != nil {
			return fmt.Errorf("symlink %s: %w", p, err)
		}
		r.Target = target
		r.Mode = 0777
		r.Size = uint64(len(target))
		return putRecord(txn, r)
	})
}

func (d *Driver) ReadSymbolicLink(ctx context.Context, p string) (string, error) {
	var target string
	err := d.view(ctx, func(txn *badger.Txn) error {
		r, err := d.walk(txn, p)
		if err != nil {
			return err
		}
		if r.Type != disk.TypeSymlink {
			return fmt.Errorf("readlink %s: %w", p, disk.ErrInvalid)
		}
		target = r.Target
		return nil
	})
	return target, err
}

// BuildPathForFileID resolves fileID from its stored parent chain.
func (d *Driver) BuildPathForFileID(ctx context.Context, _, fileID uint32) (string, error) {
	var p string
	err := d.view(ctx, func(txn *badger.Txn) error {
		r, err := getRecord(txn, fileID)
		if err != nil {
			return err
		}
		p, err = d.pathOf(txn, r)
		return err
	})
	return p, err
}

func (d *Driver) DiskInfo(context.Context) (*disk.DiskInfo, error) {
	lsm, vlog := d.db.Size()
	used := uint64(lsm + vlog)
	info := &disk.DiskInfo{TotalBytes: d.capacity, TotalFiles: uint64(^uint32(0))}
	if used < d.capacity {
		info.FreeBytes = d.capacity - used
	}
	info.FreeFiles = info.TotalFiles
	return info, nil
}

var (
	_ disk.Interface              = (*Driver)(nil)
	_ disk.SymbolicLinkInterface  = (*Driver)(nil)
	_ disk.FileIDInterface        = (*Driver)(nil)
	_ disk.DiskSizeInterface      = (*Driver)(nil)
	_ disk.TransactionalInterface = (*Driver)(nil)
)

// Package memory implements an in-memory disk driver.
//
// Directory children are kept in a google/btree ordered by name, so
// directory enumeration is stable and sorted. File ids are allocated
// sequentially; the root directory always has id 0.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/marmos91/nfsd/pkg/disk"
)

const (
	btreeDegree = 16

	// DefaultCapacity is the reported size of a driver without a capacity.
	DefaultCapacity = 1 << 30

	// DefaultMaxFiles is the reported file slot count without a limit.
	DefaultMaxFiles = 1 << 20
)

// Options configures a Driver.
type Options struct {
	// Capacity limits the total bytes stored; 0 means DefaultCapacity.
	Capacity uint64 `mapstructure:"capacity"`

	// MaxFiles limits the number of objects; 0 means DefaultMaxFiles.
	MaxFiles uint64 `mapstructure:"max_files"`
}

type node struct {
	id     uint32
	name   string
	typ    disk.FileType
	parent *node

	children *btree.BTree
	data     []byte
	target   string

	mode uint32
	uid  uint32
	gid  uint32

	atime time.Time
	mtime time.Time
	ctime time.Time
}

// child is the btree item stored in a directory.
type child struct {
	name string
	n    *node
}

func (c child) Less(than btree.Item) bool {
	return c.name < than.(child).name
}

// Driver is a thread-safe in-memory filesystem.
type Driver struct {
	mu     sync.RWMutex
	root   *node
	byID   map[uint32]*node
	nextID uint32
	used   uint64

	opts Options
	now  func() time.Time
}

// New returns an empty driver holding only the root directory.
func New(opts Options) *Driver {
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxFiles == 0 {
		opts.MaxFiles = DefaultMaxFiles
	}

	d := &Driver{
		byID:   make(map[uint32]*node),
		nextID: 1,
		opts:   opts,
		now:    time.Now,
	}
	now := d.now()
	d.root = &node{
		id:       0,
		name:     "",
		typ:      disk.TypeDirectory,
		children: btree.New(btreeDegree),
		mode:     0755,
		atime:    now,
		mtime:    now,
		ctime:    now,
	}
	d.byID[0] = d.root
	return d
}

// SetClock replaces the time source. Tests use it to control mtimes.
func (d *Driver) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// ============================================================================
// Views
// ============================================================================

type baseView struct {
	disk.Interface
	disk.DiskSizeInterface
}

type linkView struct {
	baseView
	disk.SymbolicLinkInterface
}

type idView struct {
	baseView
	disk.FileIDInterface
}

// Restrict returns d exposing only the optional interfaces requested. A
// share backed by Restrict(false, ...) relies on the server's path cache
// to resolve ids.
func (d *Driver) Restrict(fileIDs, symlinks bool) disk.Interface {
	base := baseView{Interface: d, DiskSizeInterface: d}
	switch {
	case fileIDs && symlinks:
		return d
	case fileIDs:
		return idView{baseView: base, FileIDInterface: d}
	case symlinks:
		return linkView{baseView: base, SymbolicLinkInterface: d}
	default:
		return base
	}
}

// ============================================================================
// Tree helpers (callers hold d.mu)
// ============================================================================

func (d *Driver) walk(p string) (*node, error) {
	p = disk.Clean(p)
	n := d.root
	if p == disk.Root {
		return n, nil
	}
	for _, part := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		if n.typ != disk.TypeDirectory {
			return nil, fmt.Errorf("%s: %w", p, disk.ErrNotDirectory)
		}
		item := n.children.Get(child{name: part})
		if item == nil {
			return nil, fmt.Errorf("%s: %w", p, disk.ErrNotFound)
		}
		n = item.(child).n
	}
	return n, nil
}

func (d *Driver) parentOf(p string) (*node, string, error) {
	p = disk.Clean(p)
	if p == disk.Root {
		return nil, "", fmt.Errorf("%s: %w", p, disk.ErrExists)
	}
	parent, err := d.walk(disk.Parent(p))
	if err != nil {
		return nil, "", err
	}
	if parent.typ != disk.TypeDirectory {
		return nil, "", fmt.Errorf("%s: %w", p, disk.ErrNotDirectory)
	}
	name := disk.Base(p)
	if len(name) > disk.MaxNameLength {
		return nil, "", fmt.Errorf("%s: %w", p, disk.ErrNameTooLong)
	}
	return parent, name, nil
}

func (d *Driver) pathOf(n *node) string {
	if n == d.root {
		return disk.Root
	}
	var parts []string
	for cur := n; cur != nil && cur != d.root; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func (d *Driver) insert(ctx context.Context, p string, typ disk.FileType) (*node, error) {
	parent, name, err := d.parentOf(p)
	if err != nil {
		return nil, err
	}
	if parent.children.Has(child{name: name}) {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrExists)
	}
	if uint64(len(d.byID)) >= d.opts.MaxFiles {
		return nil, fmt.Errorf("%s: %w", p, disk.ErrDiskFull)
	}

	now := d.now()
	n := &node{
		id:     d.nextID,
		name:   name,
		typ:    typ,
		parent: parent,
		mode:   0644,
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
	if typ == disk.TypeDirectory {
		n.children = btree.New(btreeDegree)
		n.mode = 0755
	}
	if id := disk.IdentityFrom(ctx); id != nil {
		n.uid, n.gid = id.UID, id.GID
	}
	d.nextID++
	d.byID[n.id] = n
	parent.children.ReplaceOrInsert(child{name: name, n: n})
	parent.mtime, parent.ctime = now, now
	return n, nil
}

func (d *Driver) unlink(n *node) {
	now := d.now()
	n.parent.children.Delete(child{name: n.name})
	n.parent.mtime, n.parent.ctime = now, now
	d.used -= uint64(len(n.data))
	delete(d.byID, n.id)
}

func (d *Driver) info(n *node) *disk.FileInfo {
	fi := &disk.FileInfo{
		Name:       n.name,
		FileID:     n.id,
		Type:       n.typ,
		Mode:       n.mode,
		UID:        n.uid,
		GID:        n.gid,
		AccessTime: n.atime,
		ModifyTime: n.mtime,
		ChangeTime: n.ctime,
	}
	switch n.typ {
	case disk.TypeFile:
		fi.Size = uint64(len(n.data))
		fi.AllocationSize = uint64(cap(n.data))
	case disk.TypeSymlink:
		fi.Size = uint64(len(n.target))
	}
	return fi
}

// ============================================================================
// disk.Interface
// ============================================================================

func (d *Driver) FileExists(_ context.Context, p string) (disk.FileStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.walk(p)
	if err != nil {
		return disk.StatusNotExist, nil
	}
	if n.typ == disk.TypeDirectory {
		return disk.StatusDirectory, nil
	}
	return disk.StatusFile, nil
}

func (d *Driver) GetFileInformation(_ context.Context, p string) (*disk.FileInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.walk(p)
	if err != nil {
		return nil, err
	}
	return d.info(n), nil
}

func (d *Driver) SetFileInformation(_ context.Context, p string, attrs *disk.SetAttrs) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.walk(p)
	if err != nil {
		return err
	}
	if attrs.IsEmpty() {
		return nil
	}
	if attrs.Mode != nil {
		n.mode = *attrs.Mode & 07777
	}
	if attrs.UID != nil {
		n.uid = *attrs.UID
	}
	if attrs.GID != nil {
		n.gid = *attrs.GID
	}
	if attrs.AccessTime != nil {
		n.atime = *attrs.AccessTime
	}
	if attrs.ModifyTime != nil {
		n.mtime = *attrs.ModifyTime
	}
	n.ctime = d.now()
	return nil
}

func (d *Driver) OpenFile(_ context.Context, p string, readOnly bool) (disk.NetworkFile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.walk(p)
	if err != nil {
		return nil, err
	}
	if n.typ == disk.TypeDirectory {
		return nil, fmt.Errorf("open %s: %w", p, disk.ErrIsDirectory)
	}
	return &file{d: d, n: n, path: disk.Clean(p), readOnly: readOnly}, nil
}

func (d *Driver) CreateFile(ctx context.Context, p string) (disk.NetworkFile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.insert(ctx, p, disk.TypeFile)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	return &file{d: d, n: n, path: disk.Clean(p)}, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.insert(ctx, p, disk.TypeDirectory); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, err)
	}
	return nil
}

func (d *Driver) DeleteFile(_ context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.walk(p)
	if err != nil {
		return err
	}
	if n.typ == disk.TypeDirectory {
		return fmt.Errorf("remove %s: %w", p, disk.ErrIsDirectory)
	}
	d.unlink(n)
	return nil
}

func (d *Driver) DeleteDirectory(_ context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.walk(p)
	if err != nil {
		return err
	}
	switch {
	case n == d.root:
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrAccessDenied)
	case n.typ != disk.TypeDirectory:
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotDirectory)
	case n.children.Len() > 0:
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotEmpty)
	}
	d.unlink(n)
	return nil
}

func (d *Driver) RenameFile(_ context.Context, oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.walk(oldPath)
	if err != nil {
		return err
	}
	if n == d.root {
		return fmt.Errorf("rename %s: %w", oldPath, disk.ErrAccessDenied)
	}
	if n.typ == disk.TypeDirectory && disk.IsWithin(newPath, oldPath) {
		return fmt.Errorf("rename %s into itself: %w", oldPath, disk.ErrInvalid)
	}
	parent, name, err := d.parentOf(newPath)
	if err != nil {
		return err
	}
	if parent.children.Has(child{name: name}) {
		return fmt.Errorf("rename to %s: %w", newPath, disk.ErrExists)
	}

	now := d.now()
	n.parent.children.Delete(child{name: n.name})
	n.parent.mtime, n.parent.ctime = now, now
	n.name = name
	n.parent = parent
	n.ctime = now
	parent.children.ReplaceOrInsert(child{name: name, n: n})
	parent.mtime, parent.ctime = now, now
	return nil
}

func (d *Driver) StartSearch(_ context.Context, dir string, pattern string) (disk.SearchContext, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.walk(dir)
	if err != nil {
		return nil, err
	}
	if n.typ != disk.TypeDirectory {
		return nil, fmt.Errorf("search %s: %w", dir, disk.ErrNotDirectory)
	}

	names := make([]string, 0, n.children.Len())
	n.children.Ascend(func(i btree.Item) bool {
		names = append(names, i.(child).name)
		return true
	})

	base := disk.Clean(dir)
	stat := func(name string) (*disk.FileInfo, error) {
		return d.GetFileInformation(context.Background(), disk.Join(base, name))
	}
	return disk.NewListSearch(names, pattern, stat, nil), nil
}

// ============================================================================
// Optional interfaces
// ============================================================================

func (d *Driver) CreateSymbolicLink(ctx context.Context, p, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.insert(ctx, p, disk.TypeSymlink)
	if err != nil {
		return fmt.Errorf("symlink %s: %w", p, err)
	}
	n.target = target
	n.mode = 0777
	return nil
}

func (d *Driver) ReadSymbolicLink(_ context.Context, p string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, err := d.walk(p)
	if err != nil {
		return "", err
	}
	if n.typ != disk.TypeSymlink {
		return "", fmt.Errorf("readlink %s: %w", p, disk.ErrInvalid)
	}
	return n.target, nil
}

// BuildPathForFileID resolves fileID wherever it currently lives; dirID is
// not checked so handles survive renames across directories.
func (d *Driver) BuildPathForFileID(_ context.Context, _, fileID uint32) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n, ok := d.byID[fileID]
	if !ok {
		return "", fmt.Errorf("file id %d: %w", fileID, disk.ErrNotFound)
	}
	return d.pathOf(n), nil
}

func (d *Driver) DiskInfo(context.Context) (*disk.DiskInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info := &disk.DiskInfo{
		TotalBytes: d.opts.Capacity,
		TotalFiles: d.opts.MaxFiles,
	}
	if d.used < d.opts.Capacity {
		info.FreeBytes = d.opts.Capacity - d.used
	}
	if files := uint64(len(d.byID)); files < d.opts.MaxFiles {
		info.FreeFiles = d.opts.MaxFiles - files
	}
	return info, nil
}

var (
	_ disk.Interface             = (*Driver)(nil)
	_ disk.SymbolicLinkInterface = (*Driver)(nil)
	_ disk.FileIDInterface       = (*Driver)(nil)
	_ disk.DiskSizeInterface     = (*Driver)(nil)
)

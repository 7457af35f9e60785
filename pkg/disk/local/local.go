//go:build linux

// Package local implements a disk driver over a directory of the host
// filesystem.
//
// File ids are the low 32 bits of the inode number; the share root always
// reports id 0. The host cannot map an inode back to a path, so shares on
// this driver resolve handles through the server's path cache.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/disk"
)

// Options configures a Driver.
type Options struct {
	// Root is the host directory exported by the share.
	Root string `mapstructure:"root" validate:"required"`
}

// Driver serves a host directory.
type Driver struct {
	root string
}

// New returns a driver rooted at opts.Root, which must be an existing directory.
func New(opts Options) (*Driver, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("local driver root %q: %w", opts.Root, err)
	}
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("local driver root %q: %w", root, mapError(err))
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("local driver root %q: %w", root, disk.ErrNotDirectory)
	}
	logger.Info("local driver opened: root=%s", root)
	return &Driver{root: root}, nil
}

func (d *Driver) full(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(disk.Clean(p)))
}

// mapError translates host errors into driver sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var target error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		target = disk.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		target = disk.ErrExists
	case errors.Is(err, unix.ENOTDIR):
		target = disk.ErrNotDirectory
	case errors.Is(err, unix.EISDIR):
		target = disk.ErrIsDirectory
	case errors.Is(err, unix.ENOTEMPTY):
		target = disk.ErrNotEmpty
	case errors.Is(err, fs.ErrPermission):
		target = disk.ErrAccessDenied
	case errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EDQUOT):
		target = disk.ErrDiskFull
	case errors.Is(err, unix.EROFS):
		target = disk.ErrReadOnly
	case errors.Is(err, unix.ENAMETOOLONG):
		target = disk.ErrNameTooLong
	default:
		return err
	}
	return fmt.Errorf("%w: %v", target, err)
}

func (d *Driver) stat(p string) (*disk.FileInfo, error) {
	full := d.full(p)
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return nil, mapError(&fs.PathError{Op: "lstat", Path: p, Err: err})
	}

	info := &disk.FileInfo{
		Name:           filepath.Base(full),
		FileID:         uint32(st.Ino),
		Size:           uint64(st.Size),
		AllocationSize: uint64(st.Blocks) * 512,
		Mode:           uint32(st.Mode) & 07777,
		UID:            st.Uid,
		GID:            st.Gid,
		AccessTime:     time.Unix(st.Atim.Unix()),
		ModifyTime:     time.Unix(st.Mtim.Unix()),
		ChangeTime:     time.Unix(st.Ctim.Unix()),
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		info.Type = disk.TypeDirectory
	case unix.S_IFLNK:
		info.Type = disk.TypeSymlink
	default:
		info.Type = disk.TypeFile
	}
	if disk.Clean(p) == disk.Root {
		info.FileID = 0
		info.Name = ""
	}
	return info, nil
}

func (d *Driver) FileExists(_ context.Context, p string) (disk.FileStatus, error) {
	info, err := d.stat(p)
	if errors.Is(err, disk.ErrNotFound) || errors.Is(err, disk.ErrNotDirectory) {
		return disk.StatusNotExist, nil
	}
	if err != nil {
		return disk.StatusNotExist, err
	}
	if info.IsDirectory() {
		return disk.StatusDirectory, nil
	}
	return disk.StatusFile, nil
}

func (d *Driver) GetFileInformation(_ context.Context, p string) (*disk.FileInfo, error) {
	return d.stat(p)
}

func (d *Driver) SetFileInformation(_ context.Context, p string, attrs *disk.SetAttrs) error {
	if attrs.IsEmpty() {
		return nil
	}
	full := d.full(p)
	if attrs.Mode != nil {
		if err := os.Chmod(full, fs.FileMode(*attrs.Mode&0777)); err != nil {
			return mapError(err)
		}
	}
	if attrs.UID != nil || attrs.GID != nil {
		uid, gid := -1, -1
		if attrs.UID != nil {
			uid = int(*attrs.UID)
		}
		if attrs.GID != nil {
			gid = int(*attrs.GID)
		}
		if err := os.Lchown(full, uid, gid); err != nil {
			return mapError(err)
		}
	}
	if attrs.AccessTime != nil || attrs.ModifyTime != nil {
		ts := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
		if attrs.AccessTime != nil {
			ts[0] = unix.NsecToTimespec(attrs.AccessTime.UnixNano())
		}
		if attrs.ModifyTime != nil {
			ts[1] = unix.NsecToTimespec(attrs.ModifyTime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, full, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return mapError(&fs.PathError{Op: "utimes", Path: p, Err: err})
		}
	}
	return nil
}

func (d *Driver) open(p string, flag int, perm fs.FileMode, readOnly bool) (*file, error) {
	f, err := os.OpenFile(d.full(p), flag, perm)
	if err != nil {
		return nil, mapError(err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, mapError(err)
	}
	if st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", p, disk.ErrIsDirectory)
	}
	var ino uint64
	if sys, ok := st.Sys().(*unix.Stat_t); ok {
		ino = sys.Ino
	}
	return &file{f: f, id: uint32(ino), path: disk.Clean(p), readOnly: readOnly}, nil
}

func (d *Driver) OpenFile(_ context.Context, p string, readOnly bool) (disk.NetworkFile, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	return d.open(p, flag, 0, readOnly)
}

func (d *Driver) CreateFile(ctx context.Context, p string) (disk.NetworkFile, error) {
	f, err := d.open(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644, false)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	d.chownTo(ctx, p)
	return f, nil
}

func (d *Driver) CreateDirectory(ctx context.Context, p string) error {
	if err := os.Mkdir(d.full(p), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", p, mapError(err))
	}
	d.chownTo(ctx, p)
	return nil
}

// chownTo hands a new object to the caller's identity when the process is
// allowed to. Failures are logged only.
func (d *Driver) chownTo(ctx context.Context, p string) {
	id := disk.IdentityFrom(ctx)
	if id == nil || os.Geteuid() != 0 {
		return
	}
	if err := os.Lchown(d.full(p), int(id.UID), int(id.GID)); err != nil {
		logger.Debug("local driver: chown %s to %d:%d: %v", p, id.UID, id.GID, err)
	}
}

func (d *Driver) DeleteFile(_ context.Context, p string) error {
	info, err := d.stat(p)
	if err != nil {
		return err
	}
	if info.IsDirectory() {
		return fmt.Errorf("remove %s: %w", p, disk.ErrIsDirectory)
	}
	return mapError(os.Remove(d.full(p)))
}

func (d *Driver) DeleteDirectory(_ context.Context, p string) error {
	if disk.Clean(p) == disk.Root {
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrAccessDenied)
	}
	info, err := d.stat(p)
	if err != nil {
		return err
	}
	if !info.IsDirectory() {
		return fmt.Errorf("rmdir %s: %w", p, disk.ErrNotDirectory)
	}
	if err := unix.Rmdir(d.full(p)); err != nil {
		return mapError(&fs.PathError{Op: "rmdir", Path: p, Err: err})
	}
	return nil
}

func (d *Driver) RenameFile(_ context.Context, oldPath, newPath string) error {
	if _, err := d.stat(newPath); err == nil {
		return fmt.Errorf("rename to %s: %w", newPath, disk.ErrExists)
	}
	if err := os.Rename(d.full(oldPath), d.full(newPath)); err != nil {
		return mapError(err)
	}
	return nil
}

func (d *Driver) StartSearch(_ context.Context, dir string, pattern string) (disk.SearchContext, error) {
	entries, err := os.ReadDir(d.full(dir))
	if err != nil {
		return nil, mapError(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	base := disk.Clean(dir)
	stat := func(name string) (*disk.FileInfo, error) {
		return d.stat(disk.Join(base, name))
	}
	return disk.NewListSearch(names, pattern, stat, nil), nil
}

func (d *Driver) CreateSymbolicLink(_ context.Context, p, target string) error {
	if err := os.Symlink(target, d.full(p)); err != nil {
		return fmt.Errorf("symlink %s: %w", p, mapError(err))
	}
	return nil
}

func (d *Driver) ReadSymbolicLink(_ context.Context, p string) (string, error) {
	target, err := os.Readlink(d.full(p))
	if errors.Is(err, unix.EINVAL) {
		return "", fmt.Errorf("readlink %s: %w", p, disk.ErrInvalid)
	}
	if err != nil {
		return "", mapError(err)
	}
	return target, nil
}

func (d *Driver) DiskInfo(context.Context) (*disk.DiskInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(d.root, &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", d.root, err)
	}
	bsize := uint64(st.Bsize)
	return &disk.DiskInfo{
		TotalBytes: uint64(st.Blocks) * bsize,
		FreeBytes:  uint64(st.Bavail) * bsize,
		TotalFiles: uint64(st.Files),
		FreeFiles:  uint64(st.Ffree),
	}, nil
}

// ============================================================================
// Open files
// ============================================================================

type file struct {
	f        *os.File
	id       uint32
	path     string
	readOnly bool
	pending  atomic.Int32
}

func (f *file) FileID() uint32     { return f.id }
func (f *file) Path() string       { return f.path }
func (f *file) ReadOnly() bool     { return f.readOnly }
func (f *file) HasPendingIO() bool { return f.pending.Load() > 0 }

func (f *file) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	f.pending.Add(1)
	defer f.pending.Add(-1)
	n, err := f.f.ReadAt(p, off)
	return n, mapEOF(err)
}

func (f *file) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, fmt.Errorf("write %s: %w", f.path, disk.ErrReadOnly)
	}
	f.pending.Add(1)
	defer f.pending.Add(-1)
	n, err := f.f.WriteAt(p, off)
	return n, mapError(err)
}

func (f *file) Truncate(_ context.Context, size int64) error {
	if f.readOnly {
		return fmt.Errorf("truncate %s: %w", f.path, disk.ErrReadOnly)
	}
	return mapError(f.f.Truncate(size))
}

func (f *file) Flush(context.Context) error {
	if f.readOnly {
		return nil
	}
	return mapError(f.f.Sync())
}

func (f *file) Close(context.Context) error {
	return mapError(f.f.Close())
}

// mapEOF keeps io.EOF untouched so callers can detect the end of file.
func mapEOF(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	return mapError(err)
}

var (
	_ disk.Interface             = (*Driver)(nil)
	_ disk.SymbolicLinkInterface = (*Driver)(nil)
	_ disk.DiskSizeInterface     = (*Driver)(nil)
)

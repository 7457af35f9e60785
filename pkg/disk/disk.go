package disk

import (
	"context"
	"time"
)

// ============================================================================
// Driver Contract
// ============================================================================

// Interface is the narrow filesystem contract the NFS server drives.
//
// All paths are share-relative, slash separated and absolute within the
// share: "/" is the share root, "/docs/a.txt" a file below it. Drivers never
// see file handles; translating between handles and paths is the server's job.
//
// Implementations must be safe for concurrent use. Errors should wrap the
// sentinels in errors.go so the server can map them to NFS status codes.
type Interface interface {
	// FileExists reports whether path is missing, a file or a directory.
	// A missing path is StatusNotExist with a nil error.
	FileExists(ctx context.Context, path string) (FileStatus, error)

	// GetFileInformation returns the metadata for path.
	GetFileInformation(ctx context.Context, path string) (*FileInfo, error)

	// SetFileInformation applies the non-nil fields of attrs to path.
	SetFileInformation(ctx context.Context, path string, attrs *SetAttrs) error

	// OpenFile opens an existing regular file.
	OpenFile(ctx context.Context, path string, readOnly bool) (NetworkFile, error)

	// CreateFile creates an empty regular file and returns it opened for writing.
	// It fails with ErrExists when path is already present.
	CreateFile(ctx context.Context, path string) (NetworkFile, error)

	// CreateDirectory creates an empty directory.
	CreateDirectory(ctx context.Context, path string) error

	// DeleteFile removes a regular file or symbolic link.
	DeleteFile(ctx context.Context, path string) error

	// DeleteDirectory removes an empty directory.
	DeleteDirectory(ctx context.Context, path string) error

	// RenameFile moves oldPath to newPath. Renaming a directory moves its
	// whole subtree. It fails with ErrExists when newPath is present.
	RenameFile(ctx context.Context, oldPath, newPath string) error

	// StartSearch begins an enumeration of the entries of directory dir
	// whose names match the glob pattern ("*" for all).
	StartSearch(ctx context.Context, dir string, pattern string) (SearchContext, error)
}

// SymbolicLinkInterface is implemented by drivers that store symbolic links.
type SymbolicLinkInterface interface {
	CreateSymbolicLink(ctx context.Context, path, target string) error
	ReadSymbolicLink(ctx context.Context, path string) (string, error)
}

// FileIDInterface is implemented by drivers that can turn an id back into a
// path without the server's path cache. Shares backed by such a driver
// survive server restarts without stale handles.
type FileIDInterface interface {
	// BuildPathForFileID returns the path of fileID inside directory dirID.
	// Callers resolving a directory pass its id as both arguments.
	BuildPathForFileID(ctx context.Context, dirID, fileID uint32) (string, error)
}

// DiskSizeInterface is implemented by drivers that can report capacity.
type DiskSizeInterface interface {
	DiskInfo(ctx context.Context) (*DiskInfo, error)
}

// TransactionalInterface is implemented by drivers whose mutations must be
// grouped per request. The driver joins the request's Scope (see
// WithScope) and the server commits or rolls back the scope once the
// request finishes.
type TransactionalInterface interface {
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is one driver-level unit of work.
type Transaction interface {
	Commit() error
	Rollback()
}

// NetworkFile is an open regular file.
type NetworkFile interface {
	// FileID is the driver id of the file.
	FileID() uint32

	// Path is the share-relative path the file was opened with.
	Path() string

	// ReadOnly reports whether the file was opened without write access.
	ReadOnly() bool

	// ReadAt reads up to len(p) bytes at off. Reading at or past the end of
	// the file returns io.EOF together with the bytes read.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// WriteAt writes p at off, extending the file when needed.
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)

	// Truncate sets the file size.
	Truncate(ctx context.Context, size int64) error

	// Flush pushes buffered writes to stable storage.
	Flush(ctx context.Context) error

	// HasPendingIO reports whether an operation on the file is still in
	// flight. Open files reporting pending I/O are never closed by the
	// server's expiry sweep.
	HasPendingIO() bool

	// Close flushes and releases the file.
	Close(ctx context.Context) error
}

// SearchContext is a resumable enumeration of one directory.
//
// ResumeID counts the entries returned so far: after the k-th call to Next
// (starting at 1) it returns k. RestartAt(n) repositions the enumeration so
// that the next entry returned is the (n+1)-th.
type SearchContext interface {
	// Next returns the next entry, or false when the enumeration is exhausted.
	Next() (*FileInfo, bool)

	// HasMore reports whether Next would return another entry.
	HasMore() bool

	ResumeID() uint32

	// RestartAt repositions the enumeration. It returns false when
	// resumeID lies beyond the end of the listing.
	RestartAt(resumeID uint32) bool

	Close()
}

// ============================================================================
// Metadata
// ============================================================================

// FileType is the kind of object stored at a path.
type FileType int

const (
	TypeFile FileType = iota
	TypeDirectory
	TypeSymlink
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// FileStatus is the result of FileExists.
type FileStatus int

const (
	StatusNotExist FileStatus = iota
	StatusFile
	StatusDirectory
)

// FileInfo is the driver metadata of one path.
//
// Zero values mean "not provided": a zero Mode makes the server report its
// default mode for the type, and zero times are reported as the epoch.
type FileInfo struct {
	Name   string
	FileID uint32
	Type   FileType

	Size uint64

	// AllocationSize is the space used on disk, when the driver knows it.
	AllocationSize uint64

	// Mode holds permission bits only (no type bits).
	Mode uint32
	UID  uint32
	GID  uint32

	AccessTime time.Time
	ModifyTime time.Time
	ChangeTime time.Time
}

// IsDirectory reports whether the entry is a directory.
func (fi *FileInfo) IsDirectory() bool {
	return fi != nil && fi.Type == TypeDirectory
}

// SetAttrs carries the attributes to change. Nil fields are left alone.
type SetAttrs struct {
	Mode       *uint32
	UID        *uint32
	GID        *uint32
	AccessTime *time.Time
	ModifyTime *time.Time
}

// IsEmpty reports whether no attribute is set.
func (a *SetAttrs) IsEmpty() bool {
	return a == nil || (a.Mode == nil && a.UID == nil && a.GID == nil && a.AccessTime == nil && a.ModifyTime == nil)
}

// DiskInfo reports the capacity of the backing store.
type DiskInfo struct {
	TotalBytes uint64
	FreeBytes  uint64
	TotalFiles uint64
	FreeFiles  uint64
}

// MaxNameLength is the longest path component any driver accepts.
const MaxNameLength = 255

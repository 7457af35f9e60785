package disk

import "errors"

// ============================================================================
// Standard Driver Errors
// ============================================================================

// Drivers wrap these sentinels with context so protocol handlers can map them
// to wire status codes with errors.Is:
//
//	if !exists {
//	    return fmt.Errorf("stat %s: %w", path, disk.ErrNotFound)
//	}
//
// Any error that does not wrap one of these is reported to clients as a
// server fault.
var (
	// ErrNotFound indicates the path does not exist.
	ErrNotFound = errors.New("no such file or directory")

	// ErrExists indicates a create or rename target already exists.
	ErrExists = errors.New("file exists")

	// ErrNotDirectory indicates a directory operation on a non-directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory indicates a file operation on a directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrNotEmpty indicates removal of a directory that still has children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrAccessDenied indicates the caller's identity may not perform the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrDiskFull indicates the backing store is out of space or quota.
	ErrDiskFull = errors.New("disk full")

	// ErrReadOnly indicates a mutation on a read-only driver or open file.
	ErrReadOnly = errors.New("read-only file system")

	// ErrNotSupported indicates the driver does not implement the operation.
	ErrNotSupported = errors.New("operation not supported")

	// ErrNameTooLong indicates a path component longer than MaxNameLength.
	ErrNameTooLong = errors.New("file name too long")

	// ErrInvalid indicates an argument the driver cannot act on, such as
	// reading a link that is not a symbolic link.
	ErrInvalid = errors.New("invalid argument")
)

package xdr

import (
	"context"
	"errors"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/cursor"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/share"
)

// ============================================================================
// Error Mapping - Driver and Resolution Errors → NFS Status Codes
// ============================================================================

// MapOption adjusts MapErrorToNFSStatus for one call site.
type MapOption int

const (
	// DiskFullAsQuota reports disk.ErrDiskFull as NFS3ERR_DQUOT instead of
	// NFS3ERR_NOSPC. SETATTR uses it.
	DiskFullAsQuota MapOption = iota + 1
)

// MapErrorToNFSStatus is the single translation point from Go errors to
// nfsstat3.
//
// Client errors (missing files, stale handles, permission) are logged at
// warning level; anything unrecognized is a server fault and is logged as
// an error.
func MapErrorToNFSStatus(err error, clientIP string, operation string, opts ...MapOption) uint32 {
	if err == nil {
		return types.NFS3OK
	}

	status, known := statusFor(err, opts)
	if !known {
		logger.Error("%s failed: %v client=%s", operation, err, clientIP)
		return types.NFS3ErrServerFault
	}

	if status == types.NFS3ErrNoEnt {
		logger.Debug("%s failed: %v client=%s", operation, err, clientIP)
	} else {
		logger.Warn("%s failed: %v client=%s", operation, err, clientIP)
	}
	return status
}

func statusFor(err error, opts []MapOption) (uint32, bool) {
	switch {
	case errors.Is(err, share.ErrBadHandle):
		return types.NFS3ErrBadHandle, true
	case errors.Is(err, share.ErrStale):
		return types.NFS3ErrStale, true
	case errors.Is(err, cursor.ErrBadCookie):
		return types.NFS3ErrBadCookie, true
	case errors.Is(err, disk.ErrAccessDenied):
		return types.NFS3ErrAcces, true
	case errors.Is(err, disk.ErrDiskFull):
		for _, o := range opts {
			if o == DiskFullAsQuota {
				return types.NFS3ErrDQuot, true
			}
		}
		return types.NFS3ErrNoSpc, true
	case errors.Is(err, disk.ErrExists):
		return types.NFS3ErrExist, true
	case errors.Is(err, disk.ErrNotDirectory):
		return types.NFS3ErrNotDir, true
	case errors.Is(err, disk.ErrIsDirectory):
		return types.NFS3ErrIsDir, true
	case errors.Is(err, disk.ErrNotEmpty):
		return types.NFS3ErrNotEmpty, true
	case errors.Is(err, disk.ErrNotFound):
		return types.NFS3ErrNoEnt, true
	case errors.Is(err, disk.ErrReadOnly):
		return types.NFS3ErrRofs, true
	case errors.Is(err, disk.ErrNotSupported):
		return types.NFS3ErrNotSupp, true
	case errors.Is(err, disk.ErrNameTooLong):
		return types.NFS3ErrNameTooLong, true
	case errors.Is(err, disk.ErrInvalid):
		return types.NFS3ErrInval, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return types.NFS3ErrIO, true
	}
	return 0, false
}

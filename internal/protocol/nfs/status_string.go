package nfs

import (
	"fmt"

	mount "github.com/marmos91/nfsd/internal/protocol/nfs/mount/handlers"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
)

// NFSStatusToString converts an nfsstat3 to its RFC 1813 name for use as a
// metric label. Unknown codes become "UNKNOWN_<code>".
func NFSStatusToString(status uint32) string {
	switch status {
	case types.NFS3OK:
		return "NFS3_OK"
	case types.NFS3ErrPerm:
		return "NFS3ERR_PERM"
	case types.NFS3ErrNoEnt:
		return "NFS3ERR_NOENT"
	case types.NFS3ErrIO:
		return "NFS3ERR_IO"
	case types.NFS3ErrNXIO:
		return "NFS3ERR_NXIO"
	case types.NFS3ErrAcces:
		return "NFS3ERR_ACCES"
	case types.NFS3ErrExist:
		return "NFS3ERR_EXIST"
	case types.NFS3ErrXDev:
		return "NFS3ERR_XDEV"
	case types.NFS3ErrNoDev:
		return "NFS3ERR_NODEV"
	case types.NFS3ErrNotDir:
		return "NFS3ERR_NOTDIR"
	case types.NFS3ErrIsDir:
		return "NFS3ERR_ISDIR"
	case types.NFS3ErrInval:
		return "NFS3ERR_INVAL"
	case types.NFS3ErrFBig:
		return "NFS3ERR_FBIG"
	case types.NFS3ErrNoSpc:
		return "NFS3ERR_NOSPC"
	case types.NFS3ErrRofs:
		return "NFS3ERR_ROFS"
	case types.NFS3ErrMlink:
		return "NFS3ERR_MLINK"
	case types.NFS3ErrNameTooLong:
		return "NFS3ERR_NAMETOOLONG"
	case types.NFS3ErrNotEmpty:
		return "NFS3ERR_NOTEMPTY"
	case types.NFS3ErrDQuot:
		return "NFS3ERR_DQUOT"
	case types.NFS3ErrStale:
		return "NFS3ERR_STALE"
	case types.NFS3ErrRemote:
		return "NFS3ERR_REMOTE"
	case types.NFS3ErrBadHandle:
		return "NFS3ERR_BADHANDLE"
	case types.NFS3ErrNotSync:
		return "NFS3ERR_NOT_SYNC"
	case types.NFS3ErrBadCookie:
		return "NFS3ERR_BAD_COOKIE"
	case types.NFS3ErrNotSupp:
		return "NFS3ERR_NOTSUPP"
	case types.NFS3ErrTooSmall:
		return "NFS3ERR_TOOSMALL"
	case types.NFS3ErrServerFault:
		return "NFS3ERR_SERVERFAULT"
	case types.NFS3ErrBadType:
		return "NFS3ERR_BADTYPE"
	case types.NFS3ErrJukebox:
		return "NFS3ERR_JUKEBOX"
	default:
		return fmt.Sprintf("UNKNOWN_%d", status)
	}
}

// MountStatusToString converts a mountstat3 to a metric label. Unknown codes
// become "MOUNT_UNKNOWN_<code>".
func MountStatusToString(status uint32) string {
	switch status {
	case mount.MountOK:
		return "MOUNT_OK"
	case mount.MountErrPerm:
		return "MOUNT_ERR_PERM"
	case mount.MountErrNoEnt:
		return "MOUNT_ERR_NOENT"
	case mount.MountErrIO:
		return "MOUNT_ERR_IO"
	case mount.MountErrAccess:
		return "MOUNT_ERR_ACCESS"
	case mount.MountErrNotDir:
		return "MOUNT_ERR_NOTDIR"
	case mount.MountErrInval:
		return "MOUNT_ERR_INVAL"
	case mount.MountErrNameTooLong:
		return "MOUNT_ERR_NAMETOOLONG"
	case mount.MountErrNotSupp:
		return "MOUNT_ERR_NOTSUPP"
	case mount.MountErrServerFault:
		return "MOUNT_ERR_SERVERFAULT"
	default:
		return fmt.Sprintf("MOUNT_UNKNOWN_%d", status)
	}
}

package xdr

import (
	"time"

	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/disk"
)

// FileInfoToNFSAttr converts driver metadata to NFS fattr3 format.
//
// Per RFC 1813 Section 2.3.1 (fattr3). The conversion:
//   - maps driver types to NF3REG, NF3DIR and NF3LNK
//   - adds the file type bits to the permission bits, defaulting to 0777
//     when the driver reports none
//   - reports directories with a nominal size of 512 and 1024 bytes used
//   - offsets the file id by types.FileIDOffset
//   - uses the share id as fsid
//   - packs whole seconds; a zero time packs as 0
func FileInfoToNFSAttr(info *disk.FileInfo, shareID uint32) *types.NFSFileAttr {
	if info == nil {
		return nil
	}

	attr := &types.NFSFileAttr{
		Nlink:  1,
		UID:    info.UID,
		GID:    info.GID,
		Fsid:   uint64(shareID),
		Fileid: FileIDToWire(info.FileID),
		Atime:  TimeToTimeVal(info.AccessTime),
		Mtime:  TimeToTimeVal(info.ModifyTime),
		Ctime:  TimeToTimeVal(info.ChangeTime),
	}

	perm := info.Mode & 07777
	switch info.Type {
	case disk.TypeDirectory:
		attr.Type = types.NF3DIR
		attr.Mode = types.DefaultDirMode
		if perm != 0 {
			attr.Mode = 040000 | perm
		}
		attr.Size = types.DirectorySize
		attr.Used = types.DirectoryUsed
	case disk.TypeSymlink:
		attr.Type = types.NF3LNK
		attr.Mode = types.DefaultLinkMode
		if perm != 0 {
			attr.Mode = 0120000 | perm
		}
		attr.Size = info.Size
		attr.Used = info.Size
	default:
		attr.Type = types.NF3REG
		attr.Mode = types.DefaultFileMode
		if perm != 0 {
			attr.Mode = 0100000 | perm
		}
		attr.Size = info.Size
		attr.Used = info.AllocationSize
		if attr.Used == 0 {
			attr.Used = info.Size
		}
	}

	return attr
}

// FileIDToWire returns the fileid3 clients see for a driver id.
func FileIDToWire(id uint32) uint64 {
	return uint64(id) + types.FileIDOffset
}

// ============================================================================
// Weak Cache Consistency (WCC) Support
// ============================================================================

// CaptureWccAttr captures pre-operation attributes for WCC data.
//
// Per RFC 1813 Section 1.4.7 the pre_op_attr holds size, mtime and ctime,
// enough for a client to tell whether its cache survived the operation.
// Call it BEFORE the mutation. A nil info yields nil, which packs as absent.
func CaptureWccAttr(info *disk.FileInfo) *types.WccAttr {
	if info == nil {
		return nil
	}

	size := info.Size
	if info.IsDirectory() {
		size = types.DirectorySize
	}
	return &types.WccAttr{
		Size:  size,
		Mtime: TimeToTimeVal(info.ModifyTime),
		Ctime: TimeToTimeVal(info.ChangeTime),
	}
}

// ============================================================================
// SETATTR Conversion
// ============================================================================

// ToDiskSetAttrs converts a decoded sattr3 to the driver's change set.
// Server-time requests take now. Size is not part of the result; it is
// applied through the open file.
func ToDiskSetAttrs(sa *types.SetAttrs, now time.Time) *disk.SetAttrs {
	if sa == nil {
		return &disk.SetAttrs{}
	}

	out := &disk.SetAttrs{
		Mode: sa.Mode,
		UID:  sa.UID,
		GID:  sa.GID,
	}
	if mode := sa.Mode; mode != nil {
		perm := *mode & 07777
		out.Mode = &perm
	}

	switch {
	case sa.SetAtimeServer:
		t := now
		out.AccessTime = &t
	case sa.Atime != nil:
		t := TimeValToTime(*sa.Atime)
		out.AccessTime = &t
	}

	switch {
	case sa.SetMtimeServer:
		t := now
		out.ModifyTime = &t
	case sa.Mtime != nil:
		t := TimeValToTime(*sa.Mtime)
		out.ModifyTime = &t
	}

	return out
}

// ============================================================================
// Time Conversion
// ============================================================================

// TimeToTimeVal converts t to whole-second nfstime3. The zero time and
// times before the epoch pack as 0.
func TimeToTimeVal(t time.Time) types.TimeVal {
	if t.IsZero() || t.Unix() < 0 {
		return types.TimeVal{}
	}
	return types.TimeVal{Seconds: uint32(t.Unix())}
}

func TimeValToTime(tv types.TimeVal) time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

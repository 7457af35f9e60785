package share

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/pkg/disk"
)

// PathForHandle resolves a handle of conn's share to a share path.
//
// Share handles are the root. Directory and file handles are looked up in
// the share's path cache; on a miss a driver with id support resolves the
// id and the result is memoized. Without id support only the root directory
// (id 0) can be rebuilt; any other miss is ErrStale.
func PathForHandle(ctx context.Context, h []byte, conn *TreeConnection) (string, error) {
	if !handle.IsValid(h) {
		return "", fmt.Errorf("handle %x: %w", h, ErrBadHandle)
	}
	if uint32(handle.UnpackShareID(h)) != conn.Share.ID {
		return "", fmt.Errorf("handle %s not in share %s: %w", handle.String(h), conn.Share.Name, ErrBadHandle)
	}

	if handle.TypeOf(h) == handle.TypeShare {
		return disk.Root, nil
	}

	dirID := uint32(handle.UnpackDirectoryID(h))
	id := dirID
	if fid := handle.UnpackFileID(h); fid != handle.Absent {
		id = uint32(fid)
	}

	cache := conn.Share.Paths
	if p, ok := cache.FindPath(id); ok {
		return p, nil
	}

	if resolver, ok := conn.Disk.(disk.FileIDInterface); ok && conn.Share.FileIDSupport {
		p, err := resolver.BuildPathForFileID(ctx, dirID, id)
		if errors.Is(err, disk.ErrNotFound) {
			return "", fmt.Errorf("id %d: %w", id, ErrStale)
		}
		if err != nil {
			return "", err
		}
		cache.AddPath(id, p)
		return p, nil
	}

	if handle.TypeOf(h) == handle.TypeDir && dirID == 0 {
		cache.AddPath(0, disk.Root)
		return disk.Root, nil
	}
	return "", fmt.Errorf("id %d: %w", id, ErrStale)
}

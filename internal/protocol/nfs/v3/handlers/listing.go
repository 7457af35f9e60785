package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/cursor"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/disk"
)

// ============================================================================
// Directory Listing
// ============================================================================

const (
	// listHeaderSize is the reply space reserved for everything around
	// the entries: RPC header, status, attributes, verifier and eof.
	listHeaderSize = 108

	readDirEntrySize     = 24
	readDirPlusEntrySize = 200
)

// listEntry is one entry selected for a READDIR or READDIRPLUS reply.
type listEntry struct {
	info   *disk.FileInfo
	name   string
	cookie uint64
}

// listing is one page of a directory listing.
type listing struct {
	dirInfo  *disk.FileInfo
	entries  []listEntry
	verifier uint64
	eof      bool
}

// listLimits bounds a page: at most maxEntries entries whose estimated
// size, at entrySize plus the padded name each, fits in budget bytes.
type listLimits struct {
	maxEntries uint32
	budget     uint32
	entrySize  uint32
}

func (l listLimits) cost(name string) uint32 {
	return l.entrySize + (uint32(len(name))+3)&^3
}

// list continues the listing of the target directory from cookie.
//
// The search lives in the session's cursor table between calls. An entry
// that does not fit is pushed back so the next page starts with it. Once
// the search is exhausted its slot is released. A first entry too large
// for an empty page is NFS3ERR_TOOSMALL.
func (t *target) list(ctx *NFSHandlerContext, dirInfo *disk.FileInfo, cookie, verifier uint64, limits listLimits) (*listing, uint32, error) {
	table := ctx.Session.Cursors()
	pos, err := cursor.Resume(t.ctx, table, t.conn.Disk, t.path, dirInfo, cookie, verifier)
	if err != nil {
		return nil, 0, err
	}
	c := pos.Cursor

	out := &listing{dirInfo: dirInfo, verifier: pos.Verifier}
	used := uint32(listHeaderSize)
	add := func(info *disk.FileInfo, name string, cookie uint64) {
		out.entries = append(out.entries, listEntry{info: info, name: name, cookie: cookie})
		used += limits.cost(name)
	}

	if pos.EmitDot {
		add(dirInfo, ".", c.Cookie(cursor.DotResumeID))
	}
	if pos.EmitDotDot {
		parentInfo := dirInfo
		if t.path != disk.Root {
			if pi, err := t.stat(disk.Parent(t.path)); err == nil {
				parentInfo = pi
			}
		}
		add(parentInfo, "..", c.Cookie(cursor.DotDotResumeID))
	}

	for uint32(len(out.entries)) < limits.maxEntries {
		info, ok := c.Search.Next()
		if !ok {
			break
		}
		if used+limits.cost(info.Name) > limits.budget {
			c.Unread()
			break
		}
		add(info, info.Name, c.Cookie(c.Search.ResumeID()))

		if !t.conn.Share.FileIDSupport {
			if _, ok := t.conn.Share.Paths.FindPath(info.FileID); !ok {
				t.conn.Share.Paths.AddPath(info.FileID, disk.Join(t.path, info.Name))
			}
		}
	}

	if len(out.entries) == 0 && c.Search.HasMore() {
		return nil, types.NFS3ErrTooSmall, nil
	}

	out.eof = !c.Search.HasMore()
	if out.eof {
		table.Release(c.Slot)
	}

	logger.Debug("Listing %s: entries=%d bytes=%d eof=%v slot=%d", t.path, len(out.entries), used, out.eof, c.Slot)
	return out, types.NFS3OK, nil
}

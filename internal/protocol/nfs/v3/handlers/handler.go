// Package handlers implements the NFSv3 procedures of RFC 1813.
//
// Every procedure has a Request type decoded from XDR, a Response type
// that encodes itself, and a method on DefaultNFSHandler. Handlers report
// protocol failures in the response status and return a Go error only
// when they cannot produce a response at all.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/metrics"
	"github.com/marmos91/nfsd/pkg/session"
	"github.com/marmos91/nfsd/pkg/share"
)

type NFSHandler interface {
	Null(ctx *NFSHandlerContext, req *NullRequest) (*NullResponse, error)
	GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) (*GetAttrResponse, error)
	SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) (*SetAttrResponse, error)
	Lookup(ctx *NFSHandlerContext, req *LookupRequest) (*LookupResponse, error)
	Access(ctx *NFSHandlerContext, req *AccessRequest) (*AccessResponse, error)
	ReadLink(ctx *NFSHandlerContext, req *ReadLinkRequest) (*ReadLinkResponse, error)
	Read(ctx *NFSHandlerContext, req *ReadRequest) (*ReadResponse, error)
	Write(ctx *NFSHandlerContext, req *WriteRequest) (*WriteResponse, error)
	Create(ctx *NFSHandlerContext, req *CreateRequest) (*CreateResponse, error)
	Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*MkdirResponse, error)
	Symlink(ctx *NFSHandlerContext, req *SymlinkRequest) (*SymlinkResponse, error)
	Mknod(ctx *NFSHandlerContext, req *MknodRequest) (*MknodResponse, error)
	Remove(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error)
	Rmdir(ctx *NFSHandlerContext, req *RmdirRequest) (*RmdirResponse, error)
	Rename(ctx *NFSHandlerContext, req *RenameRequest) (*RenameResponse, error)
	Link(ctx *NFSHandlerContext, req *LinkRequest) (*LinkResponse, error)
	ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) (*ReadDirResponse, error)
	ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error)
	FsStat(ctx *NFSHandlerContext, req *FsStatRequest) (*FsStatResponse, error)
	FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) (*FsInfoResponse, error)
	PathConf(ctx *NFSHandlerContext, req *PathConfRequest) (*PathConfResponse, error)
	Commit(ctx *NFSHandlerContext, req *CommitRequest) (*CommitResponse, error)
}

// DefaultNFSHandler serves the procedures against the shares of a session.
type DefaultNFSHandler struct {
	// WriteVerifier is returned by WRITE and COMMIT. It changes on every
	// server start so clients resend unstable writes after a restart.
	WriteVerifier uint64

	Metrics metrics.NFSMetrics

	// Now is the clock used for SET_TO_SERVER_TIME.
	Now func() time.Time
}

// NewDefaultNFSHandler returns a handler whose write verifier is the
// current time.
func NewDefaultNFSHandler(m metrics.NFSMetrics) *DefaultNFSHandler {
	if m == nil {
		m = metrics.NoopNFSMetrics{}
	}
	return &DefaultNFSHandler{
		WriteVerifier: uint64(time.Now().UnixNano()),
		Metrics:       m,
		Now:           time.Now,
	}
}

// NFSHandlerContext carries the per-call state every procedure needs.
// The dispatcher holds Session's lock while a handler runs.
type NFSHandlerContext struct {
	// Context carries the session identity and transaction scope.
	Context context.Context

	// ClientAddr is the caller's ip:port.
	ClientAddr string

	AuthFlavor uint32

	Session *session.Session
}

// NFSResponseBase is embedded by every response.
type NFSResponseBase struct {
	Status uint32
}

func (r *NFSResponseBase) GetStatus() uint32 {
	return r.Status
}

func (r *NFSResponseBase) SetStatus(status uint32) {
	r.Status = status
}

// ============================================================================
// Handle Resolution
// ============================================================================

// target is a handle resolved to a path within a tree connection.
type target struct {
	conn *share.TreeConnection
	path string

	// ctx carries the identity mapped for conn's share.
	ctx context.Context
}

// access is what a procedure needs from the tree connection of a handle.
type access int

const (
	accessAny access = iota
	accessRead
	accessWrite
)

// resolve turns a handle into a tree connection and path. Malformed
// handles fail with share.ErrBadHandle before anything else happens. The
// connection is checked for need before the path is looked up, so a stale
// handle on a share the caller may not use reports the access failure.
func resolve(ctx *NFSHandlerContext, h []byte, need access) (*target, error) {
	if !handle.IsValid(h) {
		return nil, share.ErrBadHandle
	}

	conn, err := ctx.Session.TreeConnection(ctx.Context, uint32(handle.UnpackShareID(h)))
	if err != nil {
		return nil, err
	}
	switch {
	case need >= accessRead && !conn.HasReadAccess():
		return nil, fmt.Errorf("share %s: %w", conn.Share.Name, disk.ErrAccessDenied)
	case need == accessWrite && !conn.HasWriteAccess():
		return nil, fmt.Errorf("share %s: %w", conn.Share.Name, disk.ErrReadOnly)
	}
	dctx := disk.WithIdentity(ctx.Context, conn.Share.ApplyIdentityMapping(ctx.Session.Identity))

	path, err := share.PathForHandle(dctx, h, conn)
	if err != nil {
		return nil, err
	}
	return &target{conn: conn, path: path, ctx: dctx}, nil
}

// stat returns the driver metadata of path.
func (t *target) stat(path string) (*disk.FileInfo, error) {
	return t.conn.Disk.GetFileInformation(t.ctx, path)
}

// attr returns the wire attributes of path, or nil when they cannot be
// read. It is used for the optional post-op attributes.
func (t *target) attr(path string) *types.NFSFileAttr {
	info, err := t.stat(path)
	if err != nil {
		return nil
	}
	return xdr.FileInfoToNFSAttr(info, t.conn.Share.ID)
}

// wcc returns the pre-op snapshot of path, or nil.
func (t *target) wcc(path string) *types.WccAttr {
	info, err := t.stat(path)
	if err != nil {
		return nil
	}
	return xdr.CaptureWccAttr(info)
}

// childHandle returns the handle of an entry of the directory dirID and
// remembers its path.
func (t *target) childHandle(dirID uint32, path string, info *disk.FileInfo) []byte {
	t.conn.Share.Paths.AddPath(info.FileID, path)
	if info.IsDirectory() {
		return handle.PackDirectoryHandle(t.conn.Share.ID, info.FileID)
	}
	return handle.PackFileHandle(t.conn.Share.ID, dirID, info.FileID)
}

// forget drops the cached state of path and, for directories, of
// everything below it.
func (t *target) forget(path string, info *disk.FileInfo) {
	if info == nil {
		return
	}
	t.conn.Share.Paths.DeletePath(info.FileID)
	if info.IsDirectory() {
		t.conn.Share.Paths.DeletePrefix(path)
	}
}

// cancelled reports whether the request context is done.
func cancelled(ctx *NFSHandlerContext) bool {
	select {
	case <-ctx.Context.Done():
		return true
	default:
		return false
	}
}

// dir stats the target and checks it is a directory.
func (t *target) dir() (*disk.FileInfo, error) {
	info, err := t.stat(t.path)
	if err != nil {
		return nil, err
	}
	if !info.IsDirectory() {
		return nil, fmt.Errorf("%s: %w", t.path, disk.ErrNotDirectory)
	}
	return info, nil
}

// child validates a client supplied name and returns its path below the
// target directory.
func (t *target) child(name string) (string, error) {
	if err := disk.ValidateName(name); err != nil {
		return "", err
	}
	return disk.Join(t.path, name), nil
}

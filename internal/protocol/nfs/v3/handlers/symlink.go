package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk"
)

// SymlinkRequest creates a symbolic link named Name pointing at Target.
//
// RFC 1813 Section 3.3.10
type SymlinkRequest struct {
	DirHandle []byte
	Name      string
	Attr      *types.SetAttrs
	Target    string
}

type SymlinkResponse = CreateResponse

// Symlink stores a link through drivers implementing
// disk.SymbolicLinkInterface and answers NFS3ERR_NOTSUPP elsewhere.
func (h *DefaultNFSHandler) Symlink(ctx *NFSHandlerContext, req *SymlinkRequest) (*SymlinkResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("SYMLINK: name=%q target=%q client=%s", req.Name, req.Target, clientIP)

	t, dirInfo, resp := h.prepareCreate(ctx, req.DirHandle, "SYMLINK")
	if resp != nil {
		return resp, nil
	}
	fail := t.createFailure(dirInfo)

	links, ok := t.conn.Disk.(disk.SymbolicLinkInterface)
	if !ok || !t.conn.Share.SymlinkSupport {
		return fail(types.NFS3ErrNotSupp), nil
	}

	path, err := t.child(req.Name)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "SYMLINK")), nil
	}
	if req.Target == "" {
		return fail(types.NFS3ErrInval), nil
	}

	if err := links.CreateSymbolicLink(t.ctx, path, req.Target); err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "SYMLINK")), nil
	}
	if sa := xdr.ToDiskSetAttrs(req.Attr, h.Now()); !sa.IsEmpty() {
		if err := t.conn.Disk.SetFileInformation(t.ctx, path, sa); err != nil {
			logger.Warn("SYMLINK attributes not applied: path=%s error=%v", path, err)
		}
	}

	info, err := t.stat(path)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "SYMLINK")), nil
	}

	logger.Debug("SYMLINK successful: path=%s id=%d client=%s", path, info.FileID, clientIP)
	return t.created(dirInfo, t.childHandle(dirInfo.FileID, path, info), info), nil
}

func DecodeSymlinkRequest(data []byte) (*SymlinkRequest, error) {
	reader := bytes.NewReader(data)
	args, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode SYMLINK: %w", err)
	}
	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode SYMLINK attributes: %w", err)
	}
	target, err := xdr.DecodeString(reader)
	if err != nil {
		return nil, fmt.Errorf("decode SYMLINK target: %w", err)
	}
	return &SymlinkRequest{DirHandle: args.DirHandle, Name: args.Name, Attr: attr, Target: target}, nil
}

package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// MkdirRequest creates a directory.
//
// RFC 1813 Section 3.3.9
type MkdirRequest struct {
	DirHandle []byte
	Name      string
	Attr      *types.SetAttrs
}

type MkdirResponse = CreateResponse

// Mkdir creates an empty directory and applies the requested attributes.
// A size in the attributes is ignored.
func (h *DefaultNFSHandler) Mkdir(ctx *NFSHandlerContext, req *MkdirRequest) (*MkdirResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("MKDIR: name=%q client=%s", req.Name, clientIP)

	t, dirInfo, resp := h.prepareCreate(ctx, req.DirHandle, "MKDIR")
	if resp != nil {
		return resp, nil
	}
	fail := t.createFailure(dirInfo)

	path, err := t.child(req.Name)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "MKDIR")), nil
	}

	if err := t.conn.Disk.CreateDirectory(t.ctx, path); err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "MKDIR")), nil
	}
	if sa := xdr.ToDiskSetAttrs(req.Attr, h.Now()); !sa.IsEmpty() {
		if err := t.conn.Disk.SetFileInformation(t.ctx, path, sa); err != nil {
			return fail(xdr.MapErrorToNFSStatus(err, clientIP, "MKDIR")), nil
		}
	}

	info, err := t.stat(path)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "MKDIR")), nil
	}

	logger.Debug("MKDIR successful: path=%s id=%d client=%s", path, info.FileID, clientIP)
	return t.created(dirInfo, t.childHandle(dirInfo.FileID, path, info), info), nil
}

func DecodeMkdirRequest(data []byte) (*MkdirRequest, error) {
	reader := bytes.NewReader(data)
	args, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode MKDIR: %w", err)
	}
	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode MKDIR attributes: %w", err)
	}
	return &MkdirRequest{DirHandle: args.DirHandle, Name: args.Name, Attr: attr}, nil
}

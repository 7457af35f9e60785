package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// RmdirRequest deletes an empty directory.
//
// RFC 1813 Section 3.3.13
type RmdirRequest struct {
	DirHandle []byte
	Name      string
}

type RmdirResponse = RemoveResponse

// Rmdir deletes an empty directory and forgets the cached paths below it.
func (h *DefaultNFSHandler) Rmdir(ctx *NFSHandlerContext, req *RmdirRequest) (*RmdirResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("RMDIR: name=%q client=%s", req.Name, clientIP)

	t, reply, resp := prepareRemove(ctx, req.DirHandle, "RMDIR")
	if resp != nil {
		return resp, nil
	}

	path, err := t.child(req.Name)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RMDIR")), nil
	}
	info, err := t.stat(path)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RMDIR")), nil
	}
	if !info.IsDirectory() {
		return reply(types.NFS3ErrNotDir), nil
	}

	if err := t.conn.Disk.DeleteDirectory(t.ctx, path); err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RMDIR")), nil
	}
	t.forget(path, info)

	logger.Debug("RMDIR successful: path=%s client=%s", path, clientIP)
	return reply(types.NFS3OK), nil
}

func DecodeRmdirRequest(data []byte) (*RmdirRequest, error) {
	args, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode RMDIR: %w", err)
	}
	return &RmdirRequest{DirHandle: args.DirHandle, Name: args.Name}, nil
}

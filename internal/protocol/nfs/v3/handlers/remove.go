package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/openfile"
)

// RemoveRequest deletes a file or symbolic link.
//
// RFC 1813 Section 3.3.12:
//
//	REMOVE3res NFSPROC3_REMOVE(REMOVE3args) = 12;
type RemoveRequest struct {
	DirHandle []byte
	Name      string
}

// RemoveResponse carries the directory's wcc data in both arms. RMDIR
// replies have the same shape.
type RemoveResponse struct {
	NFSResponseBase
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Remove deletes a non-directory. An open copy of the file held by the
// session is closed first and its path is forgotten.
func (h *DefaultNFSHandler) Remove(ctx *NFSHandlerContext, req *RemoveRequest) (*RemoveResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("REMOVE: name=%q client=%s", req.Name, clientIP)

	t, reply, resp := prepareRemove(ctx, req.DirHandle, "REMOVE")
	if resp != nil {
		return resp, nil
	}

	path, err := t.child(req.Name)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "REMOVE")), nil
	}
	info, err := t.stat(path)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "REMOVE")), nil
	}
	if info.IsDirectory() {
		return reply(types.NFS3ErrIsDir), nil
	}

	key := openfile.Key{ShareID: t.conn.Share.ID, FileID: info.FileID}
	if err := ctx.Session.Files().Remove(t.ctx, key); err != nil {
		logger.Warn("REMOVE: close of open file failed: path=%s error=%v", path, err)
	}

	if err := t.conn.Disk.DeleteFile(t.ctx, path); err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "REMOVE")), nil
	}
	t.forget(path, info)

	logger.Debug("REMOVE successful: path=%s id=%d client=%s", path, info.FileID, clientIP)
	return reply(types.NFS3OK), nil
}

// prepareRemove resolves the directory of a REMOVE or RMDIR and checks
// write access. reply builds replies with the directory's wcc data.
func prepareRemove(ctx *NFSHandlerContext, dirHandle []byte, proc string) (*target, func(uint32) *RemoveResponse, *RemoveResponse) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)

	if cancelled(ctx) {
		return nil, nil, &RemoveResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}
	}

	t, err := resolve(ctx, dirHandle, accessWrite)
	if err != nil {
		return nil, nil, &RemoveResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, proc)}}
	}

	dirInfo, err := t.dir()
	if err != nil {
		return nil, nil, &RemoveResponse{
			NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, proc)},
			DirAfter:        t.attr(t.path),
		}
	}

	before := xdr.CaptureWccAttr(dirInfo)
	reply := func(status uint32) *RemoveResponse {
		return &RemoveResponse{NFSResponseBase: NFSResponseBase{Status: status}, DirBefore: before, DirAfter: t.attr(t.path)}
	}
	return t, reply, nil
}

func DecodeRemoveRequest(data []byte) (*RemoveRequest, error) {
	args, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode REMOVE: %w", err)
	}
	return &RemoveRequest{DirHandle: args.DirHandle, Name: args.Name}, nil
}

func (resp *RemoveResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode directory wcc: %w", err)
	}
	return buf.Bytes(), nil
}

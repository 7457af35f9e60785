package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/openfile"
)

// RenameRequest moves FromName in FromDir to ToName in ToDir.
//
// RFC 1813 Section 3.3.14:
//
//	RENAME3res NFSPROC3_RENAME(RENAME3args) = 14;
type RenameRequest struct {
	FromDir  []byte
	FromName string
	ToDir    []byte
	ToName   string
}

type RenameResponse struct {
	NFSResponseBase
	FromBefore *types.WccAttr
	FromAfter  *types.NFSFileAttr
	ToBefore   *types.WccAttr
	ToAfter    *types.NFSFileAttr
}

// Rename moves an object within one share. Renames across shares answer
// NFS3ERR_XDEV and an existing destination answers NFS3ERR_EXIST.
//
// The object keeps its id, so its handle stays valid: the new path is
// recorded for it and cached paths below a renamed directory are dropped.
func (h *DefaultNFSHandler) Rename(ctx *NFSHandlerContext, req *RenameRequest) (*RenameResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("RENAME: from=%q to=%q client=%s", req.FromName, req.ToName, clientIP)

	if cancelled(ctx) {
		return &RenameResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	from, err := resolve(ctx, req.FromDir, accessWrite)
	if err != nil {
		return &RenameResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")}}, nil
	}
	to, err := resolve(ctx, req.ToDir, accessAny)
	if err != nil {
		return &RenameResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")}}, nil
	}

	fromBefore, toBefore := from.wcc(from.path), to.wcc(to.path)
	reply := func(status uint32) *RenameResponse {
		return &RenameResponse{
			NFSResponseBase: NFSResponseBase{Status: status},
			FromBefore:      fromBefore,
			FromAfter:       from.attr(from.path),
			ToBefore:        toBefore,
			ToAfter:         to.attr(to.path),
		}
	}

	if from.conn.Share.ID != to.conn.Share.ID {
		return reply(types.NFS3ErrXDev), nil
	}
	for _, dir := range []*target{from, to} {
		if _, err := dir.dir(); err != nil {
			return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")), nil
		}
	}

	oldPath, err := from.child(req.FromName)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")), nil
	}
	newPath, err := to.child(req.ToName)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")), nil
	}

	info, err := from.stat(oldPath)
	if err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")), nil
	}
	if oldPath == newPath {
		return reply(types.NFS3OK), nil
	}

	if !info.IsDirectory() {
		key := openfile.Key{ShareID: from.conn.Share.ID, FileID: info.FileID}
		if err := ctx.Session.Files().Remove(from.ctx, key); err != nil {
			logger.Warn("RENAME: close of open file failed: path=%s error=%v", oldPath, err)
		}
	}

	if err := from.conn.Disk.RenameFile(from.ctx, oldPath, newPath); err != nil {
		return reply(xdr.MapErrorToNFSStatus(err, clientIP, "RENAME")), nil
	}
	from.forget(oldPath, info)
	from.conn.Share.Paths.AddPath(info.FileID, newPath)

	logger.Debug("RENAME successful: %s -> %s client=%s", oldPath, newPath, clientIP)
	return reply(types.NFS3OK), nil
}

func DecodeRenameRequest(data []byte) (*RenameRequest, error) {
	reader := bytes.NewReader(data)
	from, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode RENAME from: %w", err)
	}
	to, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode RENAME to: %w", err)
	}
	return &RenameRequest{FromDir: from.DirHandle, FromName: from.Name, ToDir: to.DirHandle, ToName: to.Name}, nil
}

func (resp *RenameResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeWccData(&buf, resp.FromBefore, resp.FromAfter); err != nil {
		return nil, fmt.Errorf("encode source wcc: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.ToBefore, resp.ToAfter); err != nil {
		return nil, fmt.Errorf("encode destination wcc: %w", err)
	}
	return buf.Bytes(), nil
}

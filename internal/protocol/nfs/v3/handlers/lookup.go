package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// LookupRequest resolves one name inside a directory.
//
// RFC 1813 Section 3.3.3:
//
//	LOOKUP3res NFSPROC3_LOOKUP(LOOKUP3args) = 3;
type LookupRequest struct {
	DirHandle []byte
	Name      string
}

// LookupResponse carries the object's handle and attributes on success.
// DirAttr is sent in both arms.
type LookupResponse struct {
	NFSResponseBase
	Handle  []byte
	Attr    *types.NFSFileAttr
	DirAttr *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Lookup returns the handle of Name within the directory. "." names the
// directory itself and ".." its parent; the parent of a share root is the
// root. The path of the result is remembered in the share's path cache so
// later requests on the handle resolve without the driver.
func (h *DefaultNFSHandler) Lookup(ctx *NFSHandlerContext, req *LookupRequest) (*LookupResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("LOOKUP: name=%q client=%s", req.Name, clientIP)

	if cancelled(ctx) {
		return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	t, err := resolve(ctx, req.DirHandle, accessAny)
	if err != nil {
		return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "LOOKUP")}}, nil
	}

	dirInfo, err := t.dir()
	if err != nil {
		return &LookupResponse{
			NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "LOOKUP")},
			DirAttr:         t.attr(t.path),
		}, nil
	}
	dirAttr := xdr.FileInfoToNFSAttr(dirInfo, t.conn.Share.ID)

	var path string
	switch req.Name {
	case ".":
		path = t.path
	case "..":
		path = disk.Parent(t.path)
	default:
		if path, err = t.child(req.Name); err != nil {
			return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "LOOKUP")}, DirAttr: dirAttr}, nil
		}
	}

	info, err := t.stat(path)
	if err != nil {
		return &LookupResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "LOOKUP")}, DirAttr: dirAttr}, nil
	}

	fh := t.childHandle(dirInfo.FileID, path, info)
	logger.Debug("LOOKUP successful: path=%s id=%d client=%s", path, info.FileID, clientIP)

	return &LookupResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Handle:          fh,
		Attr:            xdr.FileInfoToNFSAttr(info, t.conn.Share.ID),
		DirAttr:         dirAttr,
	}, nil
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeLookupRequest(data []byte) (*LookupRequest, error) {
	args, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode LOOKUP: %w", err)
	}
	return &LookupRequest{DirHandle: args.DirHandle, Name: args.Name}, nil
}

func (resp *LookupResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)

	if resp.Status == types.NFS3OK {
		xdr.WriteOpaque(&buf, resp.Handle)
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode object attributes: %w", err)
		}
	}
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode directory attributes: %w", err)
	}
	return buf.Bytes(), nil
}

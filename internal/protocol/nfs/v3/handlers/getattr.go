package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// GetAttrRequest asks for the attributes of one object.
//
// RFC 1813 Section 3.3.1:
//
//	GETATTR3res NFSPROC3_GETATTR(GETATTR3args) = 1;
type GetAttrRequest struct {
	Handle []byte
}

// GetAttrResponse carries the fattr3 of the object when Status is NFS3OK
// and nothing otherwise.
type GetAttrResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// GetAttr returns the attributes of a share root, directory or file.
//
// The tree connection must grant read access; a connection without it
// gets NFS3ERR_ACCES and no attributes.
func (h *DefaultNFSHandler) GetAttr(ctx *NFSHandlerContext, req *GetAttrRequest) (*GetAttrResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("GETATTR: handle=%s client=%s", handle.String(req.Handle), clientIP)

	if cancelled(ctx) {
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	t, err := resolve(ctx, req.Handle, accessRead)
	if err != nil {
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "GETATTR")}}, nil
	}

	info, err := t.stat(t.path)
	if err != nil {
		return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "GETATTR")}}, nil
	}

	attr := xdr.FileInfoToNFSAttr(info, t.conn.Share.ID)
	logger.Debug("GETATTR successful: path=%s type=%d size=%d client=%s", t.path, attr.Type, attr.Size, clientIP)

	return &GetAttrResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3OK}, Attr: attr}, nil
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeGetAttrRequest(data []byte) (*GetAttrRequest, error) {
	h, err := decodeHandleOnly(data, "GETATTR")
	if err != nil {
		return nil, err
	}
	return &GetAttrRequest{Handle: h}, nil
}

func (resp *GetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)

	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}
	if err := xdr.EncodeFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return buf.Bytes(), nil
}

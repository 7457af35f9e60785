package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// AccessRequest asks which of the requested rights the caller holds.
//
// RFC 1813 Section 3.3.4
type AccessRequest struct {
	Handle []byte
	Access uint32
}

type AccessResponse struct {
	NFSResponseBase
	Attr   *types.NFSFileAttr
	Access uint32
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Access grants rights from the tree connection's coarse permission: a
// writable connection holds every right, a read-only one READ, LOOKUP and
// EXECUTE. The reply is the requested mask restricted to those rights.
func (h *DefaultNFSHandler) Access(ctx *NFSHandlerContext, req *AccessRequest) (*AccessResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("ACCESS: requested=0x%x client=%s", req.Access, clientIP)

	t, err := resolve(ctx, req.Handle, accessAny)
	if err != nil {
		return &AccessResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "ACCESS")}}, nil
	}

	info, err := t.stat(t.path)
	if err != nil {
		return &AccessResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "ACCESS")}}, nil
	}

	var mask uint32
	switch {
	case t.conn.HasWriteAccess():
		mask = types.AccessAll
	case t.conn.HasReadAccess():
		mask = types.AccessReadOnly
	}

	granted := req.Access & mask
	logger.Debug("ACCESS successful: path=%s requested=0x%x granted=0x%x client=%s", t.path, req.Access, granted, clientIP)

	return &AccessResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            xdr.FileInfoToNFSAttr(info, t.conn.Share.ID),
		Access:          granted,
	}, nil
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeAccessRequest(data []byte) (*AccessRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode ACCESS handle: %w", err)
	}
	access, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode ACCESS mask: %w", err)
	}
	return &AccessRequest{Handle: h, Access: access}, nil
}

func (resp *AccessResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status == types.NFS3OK {
		xdr.WriteUint32(&buf, resp.Access)
	}
	return buf.Bytes(), nil
}

package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// LinkRequest would create a hard link to Handle.
//
// RFC 1813 Section 3.3.15
type LinkRequest struct {
	Handle    []byte
	DirHandle []byte
	Name      string
}

type LinkResponse struct {
	NFSResponseBase
	Attr      *types.NFSFileAttr
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// Link answers NFS3ERR_NOTSUPP. The file's attributes and the directory's
// wcc data are still reported when the handles resolve.
func (h *DefaultNFSHandler) Link(ctx *NFSHandlerContext, req *LinkRequest) (*LinkResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("LINK: name=%q client=%s not supported", req.Name, clientIP)

	resp := &LinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}
	if t, err := resolve(ctx, req.Handle, accessAny); err == nil {
		resp.Attr = t.attr(t.path)
	}
	if d, err := resolve(ctx, req.DirHandle, accessAny); err == nil {
		resp.DirBefore = d.wcc(d.path)
		resp.DirAfter = d.attr(d.path)
	}
	return resp, nil
}

func DecodeLinkRequest(data []byte) (*LinkRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode LINK handle: %w", err)
	}
	args, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode LINK: %w", err)
	}
	return &LinkRequest{Handle: h, DirHandle: args.DirHandle, Name: args.Name}, nil
}

func (resp *LinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode directory wcc: %w", err)
	}
	return buf.Bytes(), nil
}

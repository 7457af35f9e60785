package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk"
)

// ReadLinkRequest asks for the target of a symbolic link.
//
// RFC 1813 Section 3.3.5
type ReadLinkRequest struct {
	Handle []byte
}

type ReadLinkResponse struct {
	NFSResponseBase
	Attr   *types.NFSFileAttr
	Target string
}

// ReadLink returns the stored link target. Drivers without symbolic link
// support answer NFS3ERR_NOTSUPP; objects that are not links answer
// NFS3ERR_INVAL.
func (h *DefaultNFSHandler) ReadLink(ctx *NFSHandlerContext, req *ReadLinkRequest) (*ReadLinkResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READLINK: client=%s", clientIP)

	t, err := resolve(ctx, req.Handle, accessAny)
	if err != nil {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READLINK")}}, nil
	}

	links, ok := t.conn.Disk.(disk.SymbolicLinkInterface)
	if !ok {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
	}

	info, err := t.stat(t.path)
	if err != nil {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READLINK")}}, nil
	}
	attr := xdr.FileInfoToNFSAttr(info, t.conn.Share.ID)
	if info.Type != disk.TypeSymlink {
		logger.Debug("READLINK on non-link: path=%s type=%s client=%s", t.path, info.Type, clientIP)
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrInval}, Attr: attr}, nil
	}

	target, err := links.ReadSymbolicLink(t.ctx, t.path)
	if err != nil {
		return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READLINK")}, Attr: attr}, nil
	}

	logger.Debug("READLINK successful: path=%s target=%s client=%s", t.path, target, clientIP)
	return &ReadLinkResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3OK}, Attr: attr, Target: target}, nil
}

func DecodeReadLinkRequest(data []byte) (*ReadLinkRequest, error) {
	h, err := decodeHandleOnly(data, "READLINK")
	if err != nil {
		return nil, err
	}
	return &ReadLinkRequest{Handle: h}, nil
}

func (resp *ReadLinkResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status == types.NFS3OK {
		xdr.WriteString(&buf, resp.Target)
	}
	return buf.Bytes(), nil
}

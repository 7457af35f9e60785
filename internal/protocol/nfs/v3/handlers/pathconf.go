package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// PathConfRequest asks for the POSIX pathconf values of an object.
//
// RFC 1813 Section 3.3.20
type PathConfRequest struct {
	Handle []byte
}

type PathConfResponse struct {
	NFSResponseBase
	Attr            *types.NFSFileAttr
	Linkmax         uint32
	NameMax         uint32
	NoTrunc         bool
	ChownRestricted bool
	CaseInsensitive bool
	CasePreserving  bool
}

// PathConf returns fixed limits. The object itself must exist.
func (h *DefaultNFSHandler) PathConf(ctx *NFSHandlerContext, req *PathConfRequest) (*PathConfResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("PATHCONF: client=%s", clientIP)

	t, err := resolve(ctx, req.Handle, accessAny)
	if err != nil {
		return &PathConfResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "PATHCONF")}}, nil
	}
	info, err := t.stat(t.path)
	if err != nil {
		return &PathConfResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "PATHCONF")}}, nil
	}

	return &PathConfResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            xdr.FileInfoToNFSAttr(info, t.conn.Share.ID),
		Linkmax:         types.LinkMax,
		NameMax:         types.NameMax,
		NoTrunc:         true,
		ChownRestricted: true,
		CaseInsensitive: true,
		CasePreserving:  true,
	}, nil
}

func DecodePathConfRequest(data []byte) (*PathConfRequest, error) {
	h, err := decodeHandleOnly(data, "PATHCONF")
	if err != nil {
		return nil, err
	}
	return &PathConfRequest{Handle: h}, nil
}

func (resp *PathConfResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}
	xdr.WriteUint32(&buf, resp.Linkmax)
	xdr.WriteUint32(&buf, resp.NameMax)
	xdr.WriteBool(&buf, resp.NoTrunc)
	xdr.WriteBool(&buf, resp.ChownRestricted)
	xdr.WriteBool(&buf, resp.CaseInsensitive)
	xdr.WriteBool(&buf, resp.CasePreserving)
	return buf.Bytes(), nil
}

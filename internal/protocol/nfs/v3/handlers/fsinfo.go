package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// FsInfoRequest asks for the static properties of a share.
//
// RFC 1813 Section 3.3.19
type FsInfoRequest struct {
	Handle []byte
}

// FsInfoResponse is FSINFO3res. All fields except Attr are the server's
// fixed transfer limits.
type FsInfoResponse struct {
	NFSResponseBase
	Attr        *types.NFSFileAttr
	Rtmax       uint32
	Rtpref      uint32
	Rtmult      uint32
	Wtmax       uint32
	Wtpref      uint32
	Wtmult      uint32
	Dtpref      uint32
	Maxfilesize uint64
	TimeDelta   types.TimeVal
	Properties  uint32
}

// FsInfo reports the transfer sizes and capabilities clients negotiate at
// mount time. SYMLINK is advertised only when the share's driver stores
// symbolic links.
func (h *DefaultNFSHandler) FsInfo(ctx *NFSHandlerContext, req *FsInfoRequest) (*FsInfoResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("FSINFO: client=%s", clientIP)

	t, err := resolve(ctx, req.Handle, accessAny)
	if err != nil {
		return &FsInfoResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "FSINFO")}}, nil
	}

	props := uint32(types.FSFHomogeneous | types.FSFCanSetTime)
	if t.conn.Share.SymlinkSupport {
		props |= types.FSFSymlink
	}

	return &FsInfoResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            t.attr(t.path),
		Rtmax:           types.MaxReadSize,
		Rtpref:          types.MaxReadSize,
		Rtmult:          types.SizeMultiple,
		Wtmax:           types.MaxWriteSize,
		Wtpref:          types.MaxWriteSize,
		Wtmult:          types.SizeMultiple,
		Dtpref:          types.DirPreferred,
		Maxfilesize:     types.MaxFileSize,
		TimeDelta:       types.TimeVal{Seconds: 1},
		Properties:      props,
	}, nil
}

func DecodeFsInfoRequest(data []byte) (*FsInfoRequest, error) {
	h, err := decodeHandleOnly(data, "FSINFO")
	if err != nil {
		return nil, err
	}
	return &FsInfoRequest{Handle: h}, nil
}

func (resp *FsInfoResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	for _, v := range []uint32{resp.Rtmax, resp.Rtpref, resp.Rtmult, resp.Wtmax, resp.Wtpref, resp.Wtmult, resp.Dtpref} {
		xdr.WriteUint32(&buf, v)
	}
	xdr.WriteUint64(&buf, resp.Maxfilesize)
	xdr.WriteUint32(&buf, resp.TimeDelta.Seconds)
	xdr.WriteUint32(&buf, resp.TimeDelta.Nseconds)
	xdr.WriteUint32(&buf, resp.Properties)
	return buf.Bytes(), nil
}

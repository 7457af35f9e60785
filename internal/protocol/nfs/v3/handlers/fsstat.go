package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk"
)

// FsStatRequest asks for the dynamic usage of a share.
//
// RFC 1813 Section 3.3.18
type FsStatRequest struct {
	Handle []byte
}

type FsStatResponse struct {
	NFSResponseBase
	Attr     *types.NFSFileAttr
	Tbytes   uint64
	Fbytes   uint64
	Abytes   uint64
	Tfiles   uint64
	Ffiles   uint64
	Afiles   uint64
	Invarsec uint32
}

// FsStat reports capacity from drivers implementing
// disk.DiskSizeInterface. Other drivers report zeros.
func (h *DefaultNFSHandler) FsStat(ctx *NFSHandlerContext, req *FsStatRequest) (*FsStatResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("FSSTAT: client=%s", clientIP)

	t, err := resolve(ctx, req.Handle, accessAny)
	if err != nil {
		return &FsStatResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "FSSTAT")}}, nil
	}

	resp := &FsStatResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3OK}, Attr: t.attr(t.path)}

	sizer, ok := t.conn.Disk.(disk.DiskSizeInterface)
	if !ok {
		return resp, nil
	}
	info, err := sizer.DiskInfo(t.ctx)
	if err != nil {
		return &FsStatResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "FSSTAT")}, Attr: resp.Attr}, nil
	}

	resp.Tbytes = info.TotalBytes
	resp.Fbytes = info.FreeBytes
	resp.Abytes = info.FreeBytes
	resp.Tfiles = info.TotalFiles
	resp.Ffiles = info.FreeFiles
	resp.Afiles = info.FreeFiles

	logger.Debug("FSSTAT successful: share=%s total=%d free=%d client=%s", t.conn.Share.Name, resp.Tbytes, resp.Fbytes, clientIP)
	return resp, nil
}

func DecodeFsStatRequest(data []byte) (*FsStatRequest, error) {
	h, err := decodeHandleOnly(data, "FSSTAT")
	if err != nil {
		return nil, err
	}
	return &FsStatRequest{Handle: h}, nil
}

func (resp *FsStatResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}
	for _, v := range []uint64{resp.Tbytes, resp.Fbytes, resp.Abytes, resp.Tfiles, resp.Ffiles, resp.Afiles} {
		xdr.WriteUint64(&buf, v)
	}
	xdr.WriteUint32(&buf, resp.Invarsec)
	return buf.Bytes(), nil
}

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

// SetAttrRequest changes the attributes of one object.
//
// RFC 1813 Section 3.3.2:
//
//	SETATTR3res NFSPROC3_SETATTR(SETATTR3args) = 2;
type SetAttrRequest struct {
	Handle []byte
	Attr   *types.SetAttrs
	Guard  types.TimeGuard
}

// SetAttrResponse carries wcc data for the object. Failed requests leave
// both halves absent.
type SetAttrResponse struct {
	NFSResponseBase
	Before *types.WccAttr
	After  *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// SetAttr applies mode, owner and times through the driver and a new size
// through the session's open copy of the file.
//
// With the guard set the change applies only when the object's ctime still
// equals the guard time; otherwise the reply is NFS3ERR_NOT_SYNC. A full
// disk is reported as NFS3ERR_DQUOT.
func (h *DefaultNFSHandler) SetAttr(ctx *NFSHandlerContext, req *SetAttrRequest) (*SetAttrResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("SETATTR: guard=%v client=%s", req.Guard.Check, clientIP)

	if cancelled(ctx) {
		return &SetAttrResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	fail := func(err error) (*SetAttrResponse, error) {
		status := xdr.MapErrorToNFSStatus(err, clientIP, "SETATTR", xdr.DiskFullAsQuota)
		return &SetAttrResponse{NFSResponseBase: NFSResponseBase{Status: status}}, nil
	}

	t, err := resolve(ctx, req.Handle, accessWrite)
	if err != nil {
		return fail(err)
	}

	info, err := t.stat(t.path)
	if err != nil {
		return fail(err)
	}
	if req.Guard.Check && xdr.TimeToTimeVal(info.ChangeTime) != req.Guard.Time {
		logger.Debug("SETATTR guard mismatch: path=%s client=%s", t.path, clientIP)
		return &SetAttrResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSync}}, nil
	}
	before := xdr.CaptureWccAttr(info)

	if size := req.Attr.Size; size != nil {
		if info.IsDirectory() {
			return fail(fmt.Errorf("truncate %s: %w", t.path, disk.ErrIsDirectory))
		}
		file, err := ctx.Session.Files().FindOrOpen(t.ctx, ctx.Session, req.Handle, t.conn, false)
		if err != nil {
			return fail(err)
		}
		if err := file.Truncate(t.ctx, int64(*size)); err != nil {
			return fail(err)
		}
	}

	if sa := xdr.ToDiskSetAttrs(req.Attr, h.Now()); !sa.IsEmpty() {
		if err := t.conn.Disk.SetFileInformation(t.ctx, t.path, sa); err != nil {
			return fail(err)
		}
	}

	logger.Debug("SETATTR successful: path=%s client=%s", t.path, clientIP)
	return &SetAttrResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Before:          before,
		After:           t.attr(t.path),
	}, nil
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeSetAttrRequest(data []byte) (*SetAttrRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode SETATTR handle: %w", err)
	}
	attr, err := xdr.DecodeSetAttrs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode SETATTR attributes: %w", err)
	}
	check, err := xdr.DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("decode SETATTR guard: %w", err)
	}
	req := &SetAttrRequest{Handle: h, Attr: attr, Guard: types.TimeGuard{Check: check}}
	if check {
		if req.Guard.Time, err = xdr.DecodeTimeVal(reader); err != nil {
			return nil, fmt.Errorf("decode SETATTR guard time: %w", err)
		}
	}
	return req, nil
}

func (resp *SetAttrResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc: %w", err)
	}
	return buf.Bytes(), nil
}

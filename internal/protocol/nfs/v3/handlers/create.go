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

// CreateRequest creates a regular file.
//
// RFC 1813 Section 3.3.8:
//
//	CREATE3res NFSPROC3_CREATE(CREATE3args) = 8;
type CreateRequest struct {
	DirHandle []byte
	Name      string

	// Mode is UNCHECKED, GUARDED or EXCLUSIVE.
	Mode uint32

	// Attr is sent with UNCHECKED and GUARDED, Verifier with EXCLUSIVE.
	Attr     *types.SetAttrs
	Verifier uint64
}

// CreateResponse is shared by CREATE, MKDIR, SYMLINK and MKNOD.
type CreateResponse struct {
	NFSResponseBase
	Handle    []byte
	Attr      *types.NFSFileAttr
	DirBefore *types.WccAttr
	DirAfter  *types.NFSFileAttr
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Create makes a new regular file and keeps it open in the session's
// open-file cache for the writes that usually follow.
//
// An existing file is truncated in UNCHECKED mode and reported as
// NFS3ERR_EXIST otherwise. EXCLUSIVE mode behaves like GUARDED: drivers
// have nowhere to keep the verifier.
func (h *DefaultNFSHandler) Create(ctx *NFSHandlerContext, req *CreateRequest) (*CreateResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("CREATE: name=%q mode=%d client=%s", req.Name, req.Mode, clientIP)

	t, dirInfo, resp := h.prepareCreate(ctx, req.DirHandle, "CREATE")
	if resp != nil {
		return resp, nil
	}
	fail := t.createFailure(dirInfo)

	path, err := t.child(req.Name)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
	}

	status, err := t.conn.Disk.FileExists(t.ctx, path)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
	}

	var file disk.NetworkFile
	switch {
	case status == disk.StatusDirectory:
		return fail(types.NFS3ErrIsDir), nil
	case status == disk.StatusFile && req.Mode != types.CreateUnchecked:
		return fail(types.NFS3ErrExist), nil
	case status == disk.StatusFile:
		if file, err = t.conn.Disk.OpenFile(t.ctx, path, false); err == nil {
			err = file.Truncate(t.ctx, 0)
		}
	default:
		file, err = t.conn.Disk.CreateFile(t.ctx, path)
	}
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
	}

	if req.Attr != nil {
		if req.Attr.Size != nil {
			err = file.Truncate(t.ctx, int64(*req.Attr.Size))
		}
		if sa := xdr.ToDiskSetAttrs(req.Attr, h.Now()); err == nil && !sa.IsEmpty() {
			err = t.conn.Disk.SetFileInformation(t.ctx, path, sa)
		}
		if err != nil {
			_ = file.Close(t.ctx)
			return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
		}
	}

	info, err := t.stat(path)
	if err != nil {
		_ = file.Close(t.ctx)
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "CREATE")), nil
	}

	fh := t.childHandle(dirInfo.FileID, path, info)
	if err := ctx.Session.Files().Insert(t.ctx, ctx.Session, fh, t.conn, file); err != nil {
		_ = file.Close(t.ctx)
	}

	logger.Debug("CREATE successful: path=%s id=%d client=%s", path, info.FileID, clientIP)
	return t.created(dirInfo, fh, info), nil
}

// prepareCreate resolves the parent directory of a create-style request
// and checks write access. A non-nil response ends the request.
func (h *DefaultNFSHandler) prepareCreate(ctx *NFSHandlerContext, dirHandle []byte, proc string) (*target, *disk.FileInfo, *CreateResponse) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)

	if cancelled(ctx) {
		return nil, nil, &CreateResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}
	}

	t, err := resolve(ctx, dirHandle, accessWrite)
	if err != nil {
		return nil, nil, &CreateResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, proc)}}
	}

	dirInfo, err := t.dir()
	if err != nil {
		return nil, nil, &CreateResponse{
			NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, proc)},
			DirAfter:        t.attr(t.path),
		}
	}
	return t, dirInfo, nil
}

// createFailure returns a constructor of failed replies carrying the
// directory's wcc data.
func (t *target) createFailure(dirInfo *disk.FileInfo) func(status uint32) *CreateResponse {
	before := xdr.CaptureWccAttr(dirInfo)
	return func(status uint32) *CreateResponse {
		return &CreateResponse{
			NFSResponseBase: NFSResponseBase{Status: status},
			DirBefore:       before,
			DirAfter:        t.attr(t.path),
		}
	}
}

func (t *target) created(dirInfo *disk.FileInfo, fh []byte, info *disk.FileInfo) *CreateResponse {
	return &CreateResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Handle:          fh,
		Attr:            xdr.FileInfoToNFSAttr(info, t.conn.Share.ID),
		DirBefore:       xdr.CaptureWccAttr(dirInfo),
		DirAfter:        t.attr(t.path),
	}
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeCreateRequest(data []byte) (*CreateRequest, error) {
	reader := bytes.NewReader(data)
	args, err := decodeDirOpArgs(reader)
	if err != nil {
		return nil, fmt.Errorf("decode CREATE: %w", err)
	}
	mode, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode CREATE mode: %w", err)
	}

	req := &CreateRequest{DirHandle: args.DirHandle, Name: args.Name, Mode: mode}
	switch mode {
	case types.CreateUnchecked, types.CreateGuarded:
		if req.Attr, err = xdr.DecodeSetAttrs(reader); err != nil {
			return nil, fmt.Errorf("decode CREATE attributes: %w", err)
		}
	case types.CreateExclusive:
		if req.Verifier, err = decodeVerifier(reader); err != nil {
			return nil, fmt.Errorf("decode CREATE: %w", err)
		}
	default:
		return nil, fmt.Errorf("invalid CREATE mode %d", mode)
	}
	return req, nil
}

func (resp *CreateResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)

	if resp.Status == types.NFS3OK {
		if err := xdr.EncodeOptionalOpaque(&buf, resp.Handle); err != nil {
			return nil, fmt.Errorf("encode handle: %w", err)
		}
		if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes: %w", err)
		}
	}
	if err := xdr.EncodeWccData(&buf, resp.DirBefore, resp.DirAfter); err != nil {
		return nil, fmt.Errorf("encode directory wcc: %w", err)
	}
	return buf.Bytes(), nil
}

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

// WriteRequest writes Data at Offset.
//
// RFC 1813 Section 3.3.7:
//
//	WRITE3res NFSPROC3_WRITE(WRITE3args) = 7;
type WriteRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32

	// Stable is UNSTABLE, DATA_SYNC or FILE_SYNC.
	Stable uint32
	Data   []byte
}

type WriteResponse struct {
	NFSResponseBase
	Before *types.WccAttr
	After  *types.NFSFileAttr

	Count     uint32
	Committed uint32
	Verifier  uint64
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Write writes through the session's open copy of the file, opening it
// for write on first use. Stable writes are flushed before replying; the
// reply echoes the requested stability.
func (h *DefaultNFSHandler) Write(ctx *NFSHandlerContext, req *WriteRequest) (*WriteResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("WRITE: offset=%d count=%d stable=%d client=%s", req.Offset, req.Count, req.Stable, clientIP)

	if cancelled(ctx) {
		return &WriteResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	t, err := resolve(ctx, req.Handle, accessWrite)
	if err != nil {
		return &WriteResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "WRITE")}}, nil
	}

	before := t.wcc(t.path)
	fail := func(status uint32) *WriteResponse {
		return &WriteResponse{NFSResponseBase: NFSResponseBase{Status: status}, Before: before, After: t.attr(t.path)}
	}

	if req.Offset+uint64(len(req.Data)) > types.MaxFileSize {
		return fail(types.NFS3ErrFBig), nil
	}

	file, err := ctx.Session.Files().FindOrOpen(t.ctx, ctx.Session, req.Handle, t.conn, false)
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "WRITE")), nil
	}

	data := req.Data
	if uint32(len(data)) > req.Count {
		data = data[:req.Count]
	}

	n, err := file.WriteAt(t.ctx, data, int64(req.Offset))
	if err != nil {
		return fail(xdr.MapErrorToNFSStatus(err, clientIP, "WRITE")), nil
	}

	if req.Stable != types.WriteUnstable {
		if err := file.Flush(t.ctx); err != nil {
			return fail(xdr.MapErrorToNFSStatus(err, clientIP, "WRITE")), nil
		}
	}

	h.Metrics.RecordBytesTransferred("write", int64(n))
	logger.Debug("WRITE successful: path=%s offset=%d written=%d client=%s", t.path, req.Offset, n, clientIP)

	return &WriteResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Before:          before,
		After:           t.attr(t.path),
		Count:           uint32(n),
		Committed:       req.Stable,
		Verifier:        h.WriteVerifier,
	}, nil
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeWriteRequest(data []byte) (*WriteRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE handle: %w", err)
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE offset: %w", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE count: %w", err)
	}
	stable, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE stable: %w", err)
	}
	if stable > types.WriteFileSync {
		return nil, fmt.Errorf("invalid WRITE stable_how %d", stable)
	}
	payload, err := xdr.DecodeOpaque(reader)
	if err != nil {
		return nil, fmt.Errorf("decode WRITE data: %w", err)
	}
	return &WriteRequest{Handle: h, Offset: offset, Count: count, Stable: stable, Data: payload}, nil
}

func (resp *WriteResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc: %w", err)
	}
	if resp.Status == types.NFS3OK {
		xdr.WriteUint32(&buf, resp.Count)
		xdr.WriteUint32(&buf, resp.Committed)
		xdr.WriteUint64(&buf, resp.Verifier)
	}
	return buf.Bytes(), nil
}

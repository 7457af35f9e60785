package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk"
)

// ============================================================================
// Request and Response Structures
// ============================================================================

// ReadRequest asks for Count bytes of a regular file starting at Offset.
//
// RFC 1813 Section 3.3.6:
//
//	READ3res NFSPROC3_READ(READ3args) = 6;
type ReadRequest struct {
	Handle []byte
	Offset uint64

	// Count is capped at types.MaxReadSize, the rtmax advertised by FSINFO.
	Count uint32
}

type ReadResponse struct {
	NFSResponseBase
	Attr *types.NFSFileAttr

	// Count is the number of bytes in Data.
	Count uint32
	Eof   bool

	// Data is backed by a pooled buffer that Encode returns to the pool.
	Data []byte
}

// ============================================================================
// Protocol Handler
// ============================================================================

// Read reads from the session's open copy of the file, opening it
// read-only on first use. Eof is set when the read reaches the end of the
// file.
func (h *DefaultNFSHandler) Read(ctx *NFSHandlerContext, req *ReadRequest) (*ReadResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READ: offset=%d count=%d client=%s", req.Offset, req.Count, clientIP)

	if cancelled(ctx) {
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	t, err := resolve(ctx, req.Handle, accessRead)
	if err != nil {
		return &ReadResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READ")}}, nil
	}

	file, err := ctx.Session.Files().FindOrOpen(t.ctx, ctx.Session, req.Handle, t.conn, true)
	if err != nil {
		return &ReadResponse{
			NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READ")},
			Attr:            t.attr(t.path),
		}, nil
	}

	count := min(req.Count, types.MaxReadSize)
	data := readBuffers.Get(count)

	n, err := file.ReadAt(t.ctx, data, int64(req.Offset))
	eof := errors.Is(err, io.EOF) || uint32(n) < count
	if err != nil && !eof {
		readBuffers.Put(data)
		return &ReadResponse{
			NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READ")},
			Attr:            t.attr(t.path),
		}, nil
	}

	info, statErr := t.stat(t.path)
	if statErr == nil && req.Offset+uint64(n) >= info.Size {
		eof = true
	}

	h.Metrics.RecordBytesTransferred("read", int64(n))
	logger.Debug("READ successful: path=%s offset=%d read=%d eof=%v client=%s", t.path, req.Offset, n, eof, clientIP)

	return &ReadResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Attr:            attrOrNil(info, statErr, t.conn.Share.ID),
		Count:           uint32(n),
		Eof:             eof,
		Data:            data[:n],
	}, nil
}

// attrOrNil converts info unless it could not be read.
func attrOrNil(info *disk.FileInfo, err error, shareID uint32) *types.NFSFileAttr {
	if err != nil {
		return nil
	}
	return xdr.FileInfoToNFSAttr(info, shareID)
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeReadRequest(data []byte) (*ReadRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READ handle: %w", err)
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READ offset: %w", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READ count: %w", err)
	}
	return &ReadRequest{Handle: h, Offset: offset, Count: count}, nil
}

// Encode writes the reply and returns Data's buffer to the pool; the
// response must not be used afterwards.
func (resp *ReadResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(resp.Data) + 128)

	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.Attr); err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	if resp.Status == types.NFS3OK {
		xdr.WriteUint32(&buf, resp.Count)
		xdr.WriteBool(&buf, resp.Eof)
		xdr.WriteOpaque(&buf, resp.Data)
	}

	if resp.Data != nil {
		readBuffers.Put(resp.Data)
		resp.Data = nil
	}
	return buf.Bytes(), nil
}

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

// ReadDirRequest asks for the next page of a directory listing.
//
// RFC 1813 Section 3.3.16:
//
//	READDIR3res NFSPROC3_READDIR(READDIR3args) = 16;
type ReadDirRequest struct {
	DirHandle []byte

	// Cookie is 0 for the first page and otherwise the cookie of the last
	// entry received. Verifier is the one returned with that entry.
	Cookie   uint64
	Verifier uint64

	// Count is the maximum reply size in bytes.
	Count uint32
}

type ReadDirResponse struct {
	NFSResponseBase
	DirAttr  *types.NFSFileAttr
	Verifier uint64
	Entries  []types.DirEntry
	Eof      bool
}

// ============================================================================
// Protocol Handler
// ============================================================================

// ReadDir returns names and file ids of a directory, continuing the
// session's search identified by the cookie.
func (h *DefaultNFSHandler) ReadDir(ctx *NFSHandlerContext, req *ReadDirRequest) (*ReadDirResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READDIR: cookie=%x count=%d client=%s", req.Cookie, req.Count, clientIP)

	if cancelled(ctx) {
		return &ReadDirResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	t, err := resolve(ctx, req.DirHandle, accessRead)
	if err != nil {
		return &ReadDirResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READDIR")}}, nil
	}
	dirInfo, err := t.dir()
	if err != nil {
		return &ReadDirResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READDIR")}, DirAttr: t.attr(t.path)}, nil
	}
	dirAttr := xdr.FileInfoToNFSAttr(dirInfo, t.conn.Share.ID)

	page, status, err := t.list(ctx, dirInfo, req.Cookie, req.Verifier, listLimits{
		maxEntries: req.Count,
		budget:     min(req.Count, types.MaxRequestSize),
		entrySize:  readDirEntrySize,
	})
	if err != nil {
		status = xdr.MapErrorToNFSStatus(err, clientIP, "READDIR")
	}
	if status != types.NFS3OK {
		return &ReadDirResponse{NFSResponseBase: NFSResponseBase{Status: status}, DirAttr: dirAttr}, nil
	}

	entries := make([]types.DirEntry, 0, len(page.entries))
	for _, e := range page.entries {
		entries = append(entries, types.DirEntry{
			Fileid: xdr.FileIDToWire(e.info.FileID),
			Name:   e.name,
			Cookie: e.cookie,
		})
	}

	logger.Debug("READDIR successful: path=%s entries=%d eof=%v client=%s", t.path, len(entries), page.eof, clientIP)
	return &ReadDirResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		DirAttr:         dirAttr,
		Verifier:        page.verifier,
		Entries:         entries,
		Eof:             page.eof,
	}, nil
}

// ============================================================================
// XDR Encoding/Decoding
// ============================================================================

func DecodeReadDirRequest(data []byte) (*ReadDirRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIR handle: %w", err)
	}
	cookie, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIR cookie: %w", err)
	}
	verf, err := decodeVerifier(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIR: %w", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIR count: %w", err)
	}
	return &ReadDirRequest{DirHandle: h, Cookie: cookie, Verifier: verf, Count: count}, nil
}

func (resp *ReadDirResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeOptionalFileAttr(&buf, resp.DirAttr); err != nil {
		return nil, fmt.Errorf("encode directory attributes: %w", err)
	}
	if resp.Status != types.NFS3OK {
		return buf.Bytes(), nil
	}

	xdr.WriteUint64(&buf, resp.Verifier)
	for _, e := range resp.Entries {
		xdr.WriteBool(&buf, true)
		xdr.WriteUint64(&buf, e.Fileid)
		xdr.WriteString(&buf, e.Name)
		xdr.WriteUint64(&buf, e.Cookie)
	}
	xdr.WriteBool(&buf, false)
	xdr.WriteBool(&buf, resp.Eof)
	return buf.Bytes(), nil
}

package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ReadDirPlusRequest is READDIR with attributes and handles per entry.
//
// RFC 1813 Section 3.3.17:
//
//	READDIRPLUS3res NFSPROC3_READDIRPLUS(READDIRPLUS3args) = 17;
type ReadDirPlusRequest struct {
	DirHandle []byte
	Cookie    uint64
	Verifier  uint64

	// DirCount bounds the number of entries and MaxCount the reply size.
	DirCount uint32
	MaxCount uint32
}

type ReadDirPlusResponse struct {
	NFSResponseBase
	DirAttr  *types.NFSFileAttr
	Verifier uint64
	Entries  []types.DirEntryPlus
	Eof      bool
}

// ReadDirPlus lists a directory like ReadDir and adds each entry's
// attributes and handle. Directories get directory handles; other entries
// get file handles naming the listed directory as parent.
func (h *DefaultNFSHandler) ReadDirPlus(ctx *NFSHandlerContext, req *ReadDirPlusRequest) (*ReadDirPlusResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("READDIRPLUS: cookie=%x dircount=%d maxcount=%d client=%s", req.Cookie, req.DirCount, req.MaxCount, clientIP)

	if cancelled(ctx) {
		return &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrIO}}, nil
	}

	t, err := resolve(ctx, req.DirHandle, accessRead)
	if err != nil {
		return &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READDIRPLUS")}}, nil
	}
	dirInfo, err := t.dir()
	if err != nil {
		return &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "READDIRPLUS")}, DirAttr: t.attr(t.path)}, nil
	}
	dirAttr := xdr.FileInfoToNFSAttr(dirInfo, t.conn.Share.ID)

	page, status, err := t.list(ctx, dirInfo, req.Cookie, req.Verifier, listLimits{
		maxEntries: req.DirCount,
		budget:     req.MaxCount,
		entrySize:  readDirPlusEntrySize,
	})
	if err != nil {
		status = xdr.MapErrorToNFSStatus(err, clientIP, "READDIRPLUS")
	}
	if status != types.NFS3OK {
		return &ReadDirPlusResponse{NFSResponseBase: NFSResponseBase{Status: status}, DirAttr: dirAttr}, nil
	}

	shareID := t.conn.Share.ID
	entries := make([]types.DirEntryPlus, 0, len(page.entries))
	for _, e := range page.entries {
		var fh []byte
		if e.info.IsDirectory() {
			fh = handle.PackDirectoryHandle(shareID, e.info.FileID)
		} else {
			fh = handle.PackFileHandle(shareID, dirInfo.FileID, e.info.FileID)
		}
		entries = append(entries, types.DirEntryPlus{
			Fileid: xdr.FileIDToWire(e.info.FileID),
			Name:   e.name,
			Cookie: e.cookie,
			Attr:   xdr.FileInfoToNFSAttr(e.info, shareID),
			Handle: fh,
		})
	}

	logger.Debug("READDIRPLUS successful: path=%s entries=%d eof=%v client=%s", t.path, len(entries), page.eof, clientIP)
	return &ReadDirPlusResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		DirAttr:         dirAttr,
		Verifier:        page.verifier,
		Entries:         entries,
		Eof:             page.eof,
	}, nil
}

func DecodeReadDirPlusRequest(data []byte) (*ReadDirPlusRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS handle: %w", err)
	}
	cookie, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS cookie: %w", err)
	}
	verf, err := decodeVerifier(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS: %w", err)
	}
	dirCount, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS dircount: %w", err)
	}
	maxCount, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode READDIRPLUS maxcount: %w", err)
	}
	return &ReadDirPlusRequest{DirHandle: h, Cookie: cookie, Verifier: verf, DirCount: dirCount, MaxCount: maxCount}, nil
}

func (resp *ReadDirPlusResponse) Encode() ([]byte, error) {
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
		if err := xdr.EncodeOptionalFileAttr(&buf, e.Attr); err != nil {
			return nil, fmt.Errorf("encode attributes of %q: %w", e.Name, err)
		}
		if err := xdr.EncodeOptionalOpaque(&buf, e.Handle); err != nil {
			return nil, fmt.Errorf("encode handle of %q: %w", e.Name, err)
		}
	}
	xdr.WriteBool(&buf, false)
	xdr.WriteBool(&buf, resp.Eof)
	return buf.Bytes(), nil
}

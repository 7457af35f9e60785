package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// CommitRequest asks the server to make earlier unstable writes durable.
//
// RFC 1813 Section 3.3.21
type CommitRequest struct {
	Handle []byte
	Offset uint64
	Count  uint32
}

type CommitResponse struct {
	NFSResponseBase
	Before   *types.WccAttr
	After    *types.NFSFileAttr
	Verifier uint64
}

// Commit flushes the file if the session has it open. Files not in the
// open-file cache have nothing buffered.
func (h *DefaultNFSHandler) Commit(ctx *NFSHandlerContext, req *CommitRequest) (*CommitResponse, error) {
	clientIP := xdr.ExtractClientIP(ctx.ClientAddr)
	logger.Debug("COMMIT: offset=%d count=%d client=%s", req.Offset, req.Count, clientIP)

	t, err := resolve(ctx, req.Handle, accessAny)
	if err != nil {
		return &CommitResponse{NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "COMMIT")}}, nil
	}

	before := t.wcc(t.path)

	if file, ok := ctx.Session.Files().Get(req.Handle); ok {
		if err := file.Flush(t.ctx); err != nil {
			return &CommitResponse{
				NFSResponseBase: NFSResponseBase{Status: xdr.MapErrorToNFSStatus(err, clientIP, "COMMIT")},
				Before:          before,
				After:           t.attr(t.path),
			}, nil
		}
	}

	return &CommitResponse{
		NFSResponseBase: NFSResponseBase{Status: types.NFS3OK},
		Before:          before,
		After:           t.attr(t.path),
		Verifier:        h.WriteVerifier,
	}, nil
}

func DecodeCommitRequest(data []byte) (*CommitRequest, error) {
	reader := bytes.NewReader(data)
	h, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return nil, fmt.Errorf("decode COMMIT handle: %w", err)
	}
	offset, err := xdr.DecodeUint64(reader)
	if err != nil {
		return nil, fmt.Errorf("decode COMMIT offset: %w", err)
	}
	count, err := xdr.DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("decode COMMIT count: %w", err)
	}
	return &CommitRequest{Handle: h, Offset: offset, Count: count}, nil
}

func (resp *CommitResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	xdr.WriteUint32(&buf, resp.Status)
	if err := xdr.EncodeWccData(&buf, resp.Before, resp.After); err != nil {
		return nil, fmt.Errorf("encode wcc: %w", err)
	}
	if resp.Status == types.NFS3OK {
		xdr.WriteUint64(&buf, resp.Verifier)
	}
	return buf.Bytes(), nil
}

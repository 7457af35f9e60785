package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// NullRequest is the empty NFSPROC3_NULL argument.
type NullRequest struct{}

type NullResponse struct{}

// Null does nothing. Clients use it to probe the server.
//
// RFC 1813 Section 3.3.0
func (h *DefaultNFSHandler) Null(ctx *NFSHandlerContext, _ *NullRequest) (*NullResponse, error) {
	logger.Debug("NULL: client=%s", xdr.ExtractClientIP(ctx.ClientAddr))
	return &NullResponse{}, nil
}

func DecodeNullRequest([]byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}

package handlers

import (
	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

type NullRequest struct{}

type NullResponse struct {
	MountResponseBase
}

// Null answers MOUNTPROC3_NULL.
func (h *Handler) Null(ctx *MountHandlerContext, _ *NullRequest) (*NullResponse, error) {
	logger.Debug("MOUNT NULL: client=%s", xdr.ExtractClientIP(ctx.ClientAddr))
	return &NullResponse{}, nil
}

func DecodeNullRequest([]byte) (*NullRequest, error) {
	return &NullRequest{}, nil
}

func (resp *NullResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}

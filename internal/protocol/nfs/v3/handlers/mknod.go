package handlers

import (
	"bytes"
	"fmt"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// MknodRequest would create a special file. Only the directory operands
// are decoded; the device data is never used.
//
// RFC 1813 Section 3.3.11
type MknodRequest struct {
	DirHandle []byte
	Name      string
}

type MknodResponse = CreateResponse

// Mknod always answers NFS3ERR_NOTSUPP with absent wcc data.
func (h *DefaultNFSHandler) Mknod(ctx *NFSHandlerContext, req *MknodRequest) (*MknodResponse, error) {
	logger.Debug("MKNOD: name=%q client=%s not supported", req.Name, xdr.ExtractClientIP(ctx.ClientAddr))
	return &MknodResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3ErrNotSupp}}, nil
}

func DecodeMknodRequest(data []byte) (*MknodRequest, error) {
	args, err := decodeDirOpArgs(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode MKNOD: %w", err)
	}
	return &MknodRequest{DirHandle: args.DirHandle, Name: args.Name}, nil
}

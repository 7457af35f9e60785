package handlers

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nfsd/internal/logger"
	nfsxdr "github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

type UmountRequest struct {
	DirPath string
}

type UmountResponse struct {
	MountResponseBase
}

// Umnt forgets one mount record of the caller. Unknown records are not an
// error; the reply is void either way.
func (h *Handler) Umnt(ctx *MountHandlerContext, req *UmountRequest) (*UmountResponse, error) {
	clientIP := nfsxdr.ExtractClientIP(ctx.ClientAddr)

	if h.Registry.RemoveMount(clientIP, ShareName(req.DirPath)) {
		logger.Info("UMNT: path=%s client=%s", req.DirPath, clientIP)
	} else {
		logger.Debug("UMNT: path=%s client=%s (not mounted)", req.DirPath, clientIP)
	}
	return &UmountResponse{}, nil
}

func DecodeUmountRequest(data []byte) (*UmountRequest, error) {
	req := &UmountRequest{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal umount request: %w", err)
	}
	if err := ValidateExportPath(req.DirPath); err != nil {
		return nil, fmt.Errorf("invalid export path: %w", err)
	}
	return req, nil
}

func (resp *UmountResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}

type UmountAllRequest struct{}

type UmountAllResponse struct {
	MountResponseBase
}

// UmntAll forgets every mount record of the caller.
func (h *Handler) UmntAll(ctx *MountHandlerContext, _ *UmountAllRequest) (*UmountAllResponse, error) {
	clientIP := nfsxdr.ExtractClientIP(ctx.ClientAddr)
	n := h.Registry.RemoveAllMounts(clientIP)
	logger.Info("UMNTALL: client=%s removed=%d", clientIP, n)
	return &UmountAllResponse{}, nil
}

func DecodeUmountAllRequest([]byte) (*UmountAllRequest, error) {
	return &UmountAllRequest{}, nil
}

func (resp *UmountAllResponse) Encode() ([]byte, error) {
	return []byte{}, nil
}

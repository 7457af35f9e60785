package handlers

import (
	"bytes"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/nfsd/internal/logger"
	nfsxdr "github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
	"github.com/marmos91/nfsd/pkg/share"
)

// MountRequest is the dirpath argument of MNT.
type MountRequest struct {
	DirPath string
}

type MountResponse struct {
	MountResponseBase

	FileHandle  []byte
	AuthFlavors []int32
}

// SetStatus lets the dispatcher answer a failed MNT with SERVERFAULT. It is
// the only MOUNT reply whose status goes on the wire.
func (resp *MountResponse) SetStatus(status uint32) {
	resp.Status = status
}

// Mount answers MOUNTPROC3_MNT with the share handle of the export.
//
// Unknown exports get NOENT and clients the ACL manager refuses get ACCES.
// The mount is recorded for DUMP; the record has no effect on access.
func (h *Handler) Mount(ctx *MountHandlerContext, req *MountRequest) (*MountResponse, error) {
	clientIP := nfsxdr.ExtractClientIP(ctx.ClientAddr)
	logger.Info("MOUNT: path=%s client=%s auth=%d", req.DirPath, clientIP, ctx.AuthFlavor)

	if err := ctx.Context.Err(); err != nil {
		return &MountResponse{MountResponseBase: MountResponseBase{Status: MountErrServerFault}}, nil
	}

	name := ShareName(req.DirPath)
	tc, err := h.Registry.LookupName(ctx.Context, name)
	if err != nil {
		status := uint32(MountErrServerFault)
		if errors.Is(err, share.ErrShareNotFound) {
			status = MountErrNoEnt
		}
		logger.Warn("MOUNT failed: path=%s client=%s error=%v", req.DirPath, clientIP, err)
		return &MountResponse{MountResponseBase: MountResponseBase{Status: status}}, nil
	}

	perm := h.Registry.Permission(ctx.Context, tc, ctx.Client)
	if perm == share.NoAccess {
		logger.Warn("MOUNT denied: path=%s client=%s", req.DirPath, clientIP)
		return &MountResponse{MountResponseBase: MountResponseBase{Status: MountErrAccess}}, nil
	}

	h.Registry.RecordMount(clientIP, tc.Share.Name)

	logger.Info("MOUNT successful: share=%s client=%s perm=%s", tc.Share.Name, clientIP, perm)
	return &MountResponse{
		FileHandle:  tc.RootHandle(),
		AuthFlavors: []int32{int32(rpc.AuthUnix), int32(rpc.AuthNull)},
	}, nil
}

func DecodeMountRequest(data []byte) (*MountRequest, error) {
	req := &MountRequest{}
	if _, err := xdr.Unmarshal(bytes.NewReader(data), req); err != nil {
		return nil, fmt.Errorf("unmarshal mount request: %w", err)
	}
	if err := ValidateExportPath(req.DirPath); err != nil {
		return nil, fmt.Errorf("invalid export path: %w", err)
	}
	return req, nil
}

// Encode writes mountres3: the status, then on success the handle and the
// accepted auth flavors.
func (resp *MountResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer

	nfsxdr.WriteUint32(&buf, resp.Status)
	if resp.Status != MountOK {
		return buf.Bytes(), nil
	}

	nfsxdr.WriteOpaque(&buf, resp.FileHandle)
	nfsxdr.WriteUint32(&buf, uint32(len(resp.AuthFlavors)))
	for _, flavor := range resp.AuthFlavors {
		nfsxdr.WriteUint32(&buf, uint32(flavor))
	}
	return buf.Bytes(), nil
}

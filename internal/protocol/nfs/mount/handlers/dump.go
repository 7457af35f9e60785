package handlers

import (
	"bytes"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

type DumpRequest struct{}

type DumpEntry struct {
	Hostname  string
	Directory string
}

type DumpResponse struct {
	MountResponseBase

	Entries []DumpEntry
}

// Dump lists the recorded mounts. The list is informational only.
func (h *Handler) Dump(ctx *MountHandlerContext, _ *DumpRequest) (*DumpResponse, error) {
	mounts := h.Registry.ListMounts()

	entries := make([]DumpEntry, 0, len(mounts))
	for _, m := range mounts {
		entries = append(entries, DumpEntry{Hostname: m.ClientAddr, Directory: ExportPath(m.ShareName)})
	}

	logger.Info("DUMP: client=%s mounts=%d", xdr.ExtractClientIP(ctx.ClientAddr), len(entries))
	return &DumpResponse{Entries: entries}, nil
}

func DecodeDumpRequest([]byte) (*DumpRequest, error) {
	return &DumpRequest{}, nil
}

// Encode writes the mountlist as an XDR optional-data list.
func (resp *DumpResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range resp.Entries {
		xdr.WriteBool(&buf, true)
		xdr.WriteString(&buf, e.Hostname)
		xdr.WriteString(&buf, e.Directory)
	}
	xdr.WriteBool(&buf, false)
	return buf.Bytes(), nil
}

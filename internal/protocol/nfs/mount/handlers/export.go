package handlers

import (
	"bytes"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

type ExportRequest struct{}

// ExportEntry is one exportnode: the export path and the client groups
// allowed to mount it. No groups means everyone.
type ExportEntry struct {
	Directory string
	Groups    []string
}

type ExportResponse struct {
	MountResponseBase

	Entries []ExportEntry
}

// Export lists every share of the registry.
func (h *Handler) Export(ctx *MountHandlerContext, _ *ExportRequest) (*ExportResponse, error) {
	shares := h.Registry.List()

	entries := make([]ExportEntry, 0, len(shares))
	for _, d := range shares {
		var groups []string
		for _, c := range d.Definition.AllowedClients {
			if c != "*" {
				groups = append(groups, c)
			}
		}
		entries = append(entries, ExportEntry{Directory: ExportPath(d.Name), Groups: groups})
	}

	logger.Info("EXPORT: client=%s exports=%d", xdr.ExtractClientIP(ctx.ClientAddr), len(entries))
	return &ExportResponse{Entries: entries}, nil
}

func DecodeExportRequest([]byte) (*ExportRequest, error) {
	return &ExportRequest{}, nil
}

// Encode writes exports: a list of exportnode, each with its own list of
// group names.
func (resp *ExportResponse) Encode() ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range resp.Entries {
		xdr.WriteBool(&buf, true)
		xdr.WriteString(&buf, e.Directory)
		for _, g := range e.Groups {
			xdr.WriteBool(&buf, true)
			xdr.WriteString(&buf, g)
		}
		xdr.WriteBool(&buf, false)
	}
	xdr.WriteBool(&buf, false)
	return buf.Bytes(), nil
}

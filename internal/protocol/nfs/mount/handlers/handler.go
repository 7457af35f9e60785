// Package handlers implements the MOUNT v3 program (RFC 1813 Appendix I).
//
// MOUNT hands out the share handle an NFS client starts from and keeps the
// informational mount list reported by DUMP. Exports are the shares of the
// registry; the export path of share "data" is "/data".
package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/nfsd/pkg/share"
)

// Handler serves the MOUNT procedures from a share registry.
type Handler struct {
	Registry *share.Registry
}

func NewHandler(registry *share.Registry) *Handler {
	return &Handler{Registry: registry}
}

// MountHandlerContext is the per-call state of a MOUNT procedure.
type MountHandlerContext struct {
	Context context.Context

	// ClientAddr is the caller's ip:port.
	ClientAddr string

	AuthFlavor uint32

	// Client is what the ACL manager is asked about.
	Client share.Client
}

// MountResponseBase is embedded by responses that carry a status. For the
// procedures without one it stays MountOK so metrics see a success.
type MountResponseBase struct {
	Status uint32
}

func (r *MountResponseBase) GetStatus() uint32 {
	return r.Status
}

// ValidateExportPath checks the dirpath argument of MNT and UMNT.
func ValidateExportPath(path string) error {
	if path == "" {
		return fmt.Errorf("export path cannot be empty")
	}
	if path[0] != '/' {
		return fmt.Errorf("export path must be absolute")
	}
	if len(path) > MaxPathLen {
		return fmt.Errorf("export path too long (max %d)", MaxPathLen)
	}
	return nil
}

// ShareName maps an export path to a share name.
func ShareName(path string) string {
	return strings.Trim(path, "/")
}

// ExportPath maps a share name to its export path.
func ExportPath(name string) string {
	return "/" + name
}

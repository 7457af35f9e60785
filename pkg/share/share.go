// Package share holds the process-wide table of exported shares and the
// per-session tree connections cloned from it.
package share

import (
	"errors"
	"fmt"

	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/pkg/disk"
)

var (
	// ErrBadHandle reports a handle naming an unknown share, a share the
	// caller may not access, or a malformed handle.
	ErrBadHandle = errors.New("bad handle")

	// ErrStale reports a handle whose id can no longer be resolved to a path.
	ErrStale = errors.New("stale handle")

	// ErrShareNotFound reports a share name unknown to the registry.
	ErrShareNotFound = errors.New("share not found")
)

// Permission is the coarse access mask of a tree connection.
type Permission int

const (
	NoAccess Permission = iota
	ReadOnly
	ReadWrite
)

func (p Permission) String() string {
	switch p {
	case NoAccess:
		return "none"
	case ReadOnly:
		return "ro"
	case ReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("Permission(%d)", int(p))
	}
}

// ParsePermission accepts "none", "ro" and "rw".
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "none":
		return NoAccess, nil
	case "ro":
		return ReadOnly, nil
	case "rw", "":
		return ReadWrite, nil
	}
	return NoAccess, fmt.Errorf("unknown permission %q", s)
}

// Definition describes one export as configured.
type Definition struct {
	Name     string
	Disk     disk.Interface
	ReadOnly bool

	// AllowedClients lists IPs or CIDRs that may connect; empty means all.
	AllowedClients []string
	// DeniedClients takes precedence over AllowedClients.
	DeniedClients []string
	// ReadOnlyClients are granted read access only.
	ReadOnlyClients []string

	// RequireAuth rejects AUTH_NULL callers.
	RequireAuth bool

	MapAllToAnonymous        bool
	MapPrivilegedToAnonymous bool
	AnonymousUID             uint32
	AnonymousGID             uint32
}

// Details is the immutable description of a discovered share plus its path
// cache.
type Details struct {
	Name string
	ID   uint32

	// FileIDSupport is true when the driver resolves ids to paths itself.
	FileIDSupport bool

	// SymlinkSupport is true when the driver stores symbolic links.
	SymlinkSupport bool

	Definition Definition
	Paths      *PathCache
}

func newDetails(def Definition) *Details {
	_, ids := def.Disk.(disk.FileIDInterface)
	_, links := def.Disk.(disk.SymbolicLinkInterface)
	return &Details{
		Name:           def.Name,
		ID:             handle.ShareIDForName(def.Name),
		FileIDSupport:  ids,
		SymlinkSupport: links,
		Definition:     def,
		Paths:          NewPathCache(),
	}
}

// TreeConnection binds a share to its driver with an effective permission.
// The registry owns one template per share; sessions own clones.
type TreeConnection struct {
	Share      *Details
	Disk       disk.Interface
	Permission Permission
}

func (t *TreeConnection) HasReadAccess() bool {
	return t.Permission >= ReadOnly
}

func (t *TreeConnection) HasWriteAccess() bool {
	return t.Permission == ReadWrite
}

// Clone returns a connection to the same share with permission p.
func (t *TreeConnection) Clone(p Permission) *TreeConnection {
	return &TreeConnection{Share: t.Share, Disk: t.Disk, Permission: p}
}

// RootHandle returns the share handle clients mount.
func (t *TreeConnection) RootHandle() []byte {
	return handle.PackShareHandle(t.Share.ID)
}

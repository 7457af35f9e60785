package share

import (
	"context"
	"fmt"
	"net"

	"github.com/marmos91/nfsd/pkg/disk"
)

// Client describes the caller asking for a tree connection.
type Client struct {
	// Addr is the caller's IP address without port.
	Addr string

	// Anonymous is true for AUTH_NULL callers.
	Anonymous bool

	Identity *disk.Identity
}

// ACLManager decides the permission a client gets on a share. It is asked
// once per session and share.
type ACLManager interface {
	Permission(ctx context.Context, share *Details, client Client) Permission
}

// ClientACL evaluates the client lists of each share's Definition:
//
//   - a client matching DeniedClients gets NoAccess
//   - when AllowedClients is set, a client outside it gets NoAccess
//   - RequireAuth denies anonymous clients
//   - a client matching ReadOnlyClients, or any client of a read-only share,
//     gets ReadOnly
//   - everyone else gets ReadWrite
type ClientACL struct{}

func (ClientACL) Permission(_ context.Context, share *Details, client Client) Permission {
	def := share.Definition

	if matchesAny(client.Addr, def.DeniedClients) {
		return NoAccess
	}
	if len(def.AllowedClients) > 0 && !matchesAny(client.Addr, def.AllowedClients) {
		return NoAccess
	}
	if def.RequireAuth && client.Anonymous {
		return NoAccess
	}
	if def.ReadOnly || matchesAny(client.Addr, def.ReadOnlyClients) {
		return ReadOnly
	}
	return ReadWrite
}

// matchesAny reports whether addr equals or lies within one of the entries.
// Entries are IPs, CIDRs or "*".
func matchesAny(addr string, entries []string) bool {
	ip := net.ParseIP(addr)
	for _, e := range entries {
		if e == "*" || e == addr {
			return true
		}
		if ip == nil {
			continue
		}
		if _, network, err := net.ParseCIDR(e); err == nil && network.Contains(ip) {
			return true
		}
		if other := net.ParseIP(e); other != nil && other.Equal(ip) {
			return true
		}
	}
	return false
}

// ValidateClientList checks every entry is an IP, a CIDR or "*".
func ValidateClientList(entries []string) error {
	for _, e := range entries {
		if e == "*" || net.ParseIP(e) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(e); err != nil {
			return fmt.Errorf("invalid client %q: not an IP or CIDR", e)
		}
	}
	return nil
}

// ApplyIdentityMapping returns the identity the driver should see for id on
// this share, applying all_squash and root_squash.
func (d *Details) ApplyIdentityMapping(id *disk.Identity) *disk.Identity {
	def := d.Definition
	anonymous := func() *disk.Identity {
		return &disk.Identity{
			UID:  def.AnonymousUID,
			GID:  def.AnonymousGID,
			GIDs: []uint32{def.AnonymousGID},
			Name: fmt.Sprintf("anonymous(%d)", def.AnonymousUID),
		}
	}

	if id == nil || def.MapAllToAnonymous {
		return anonymous()
	}
	if def.MapPrivilegedToAnonymous && id.UID == 0 {
		return anonymous()
	}
	return id
}

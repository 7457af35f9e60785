package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/marmos91/nfsd/pkg/disk"
)

// Kind is the RPC credential flavor a session was authenticated with.
// Sessions of different kinds live in separate tables.
type Kind int

const (
	KindNull Kind = iota
	KindUnix
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindUnix:
		return "unix"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Credential is the decoded RPC credential of a call together with the
// transport endpoint it arrived on.
type Credential struct {
	Kind Kind

	// Protocol is "tcp" or "udp".
	Protocol string

	// Addr is the client's ip:port.
	Addr string

	// AUTH_UNIX fields, zero for KindNull.
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// Key derives the session table key. Null sessions are per endpoint; Unix
// sessions are per endpoint and user.
func (c Credential) Key() string {
	switch c.Kind {
	case KindUnix:
		return c.Protocol + "/" + c.Addr + "/" + strconv.FormatUint(uint64(c.UID), 10) + ":" + strconv.FormatUint(uint64(c.GID), 10)
	default:
		return c.Protocol + "/" + c.Addr
	}
}

// ClientIP returns the address without its port.
func (c Credential) ClientIP() string {
	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return c.Addr
	}
	return host
}

// ErrAuthFailed is returned by authenticators that refuse a credential.
var ErrAuthFailed = errors.New("authentication failed")

// Authenticator maps a credential to the identity drivers act as.
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credential) (*disk.Identity, error)
}

// DefaultAuthenticator trusts AUTH_UNIX credentials as sent and maps
// AUTH_NULL callers to the anonymous identity.
type DefaultAuthenticator struct {
	// AllowNull admits AUTH_NULL callers.
	AllowNull bool

	AnonymousUID uint32
	AnonymousGID uint32
}

func (a DefaultAuthenticator) Authenticate(_ context.Context, cred Credential) (*disk.Identity, error) {
	switch cred.Kind {
	case KindNull:
		if !a.AllowNull {
			return nil, fmt.Errorf("AUTH_NULL from %s: %w", cred.Addr, ErrAuthFailed)
		}
		return &disk.Identity{
			UID:  a.AnonymousUID,
			GID:  a.AnonymousGID,
			GIDs: []uint32{a.AnonymousGID},
			Name: "null@" + cred.ClientIP(),
		}, nil
	case KindUnix:
		gids := append([]uint32(nil), cred.GIDs...)
		return &disk.Identity{
			UID:  cred.UID,
			GID:  cred.GID,
			GIDs: gids,
			Name: fmt.Sprintf("unix:%d@%s", cred.UID, cred.MachineName),
		}, nil
	default:
		return nil, fmt.Errorf("credential kind %v: %w", cred.Kind, ErrAuthFailed)
	}
}

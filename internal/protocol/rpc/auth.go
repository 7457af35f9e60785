package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// UnixAuth is an AUTH_UNIX (AUTH_SYS) credential body.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (u *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s uid=%d gid=%d gids=%v}", u.MachineName, u.UID, u.GID, u.GIDs)
}

// ParseUnixAuth decodes an AUTH_UNIX body (RFC 5531 appendix A).
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty auth body")
	}

	auth := &UnixAuth{}
	reader := bytes.NewReader(body)

	if err := binary.Read(reader, binary.BigEndian, &auth.Stamp); err != nil {
		return nil, fmt.Errorf("read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(reader, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("read machine name length: %w", err)
	}
	if nameLen > 255 {
		return nil, fmt.Errorf("machine name too long: %d", nameLen)
	}

	nameBytes := make([]byte, nameLen+XdrPadding(nameLen))
	if _, err := reader.Read(nameBytes); err != nil && nameLen > 0 {
		return nil, fmt.Errorf("read machine name: %w", err)
	}
	auth.MachineName = string(nameBytes[:nameLen])

	if err := binary.Read(reader, binary.BigEndian, &auth.UID); err != nil {
		return nil, fmt.Errorf("read uid: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &auth.GID); err != nil {
		return nil, fmt.Errorf("read gid: %w", err)
	}

	var gidsLen uint32
	if err := binary.Read(reader, binary.BigEndian, &gidsLen); err != nil {
		return nil, fmt.Errorf("read gids length: %w", err)
	}
	if gidsLen > 16 {
		return nil, fmt.Errorf("too many gids: %d", gidsLen)
	}

	auth.GIDs = make([]uint32, gidsLen)
	for i := range auth.GIDs {
		if err := binary.Read(reader, binary.BigEndian, &auth.GIDs[i]); err != nil {
			return nil, fmt.Errorf("read gid[%d]: %w", i, err)
		}
	}

	return auth, nil
}

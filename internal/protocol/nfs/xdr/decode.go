package xdr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
)

// ============================================================================
// Primitive Readers
// ============================================================================

func DecodeUint32(reader io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func DecodeUint64(reader io.Reader) (uint64, error) {
	var v uint64
	if err := binary.Read(reader, binary.BigEndian, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func DecodeBool(reader io.Reader) (bool, error) {
	v, err := DecodeUint32(reader)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// DecodeOpaque reads variable-length opaque data and skips its padding.
func DecodeOpaque(reader io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	const maxOpaqueLength = 1024 * 1024 // 1 MB
	if length > maxOpaqueLength {
		return nil, fmt.Errorf("opaque length %d exceeds maximum %d", length, maxOpaqueLength)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	padding := (4 - (length % 4)) % 4
	if padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip padding: %w", err)
		}
	}

	return data, nil
}

func DecodeString(reader io.Reader) (string, error) {
	data, err := DecodeOpaque(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeFileHandle reads an nfs_fh3. Lengths of 0 or above
// types.FileHandleMaxSize are rejected here; content checks are left to
// the handle codec.
func DecodeFileHandle(reader io.Reader) ([]byte, error) {
	length, err := DecodeUint32(reader)
	if err != nil {
		return nil, fmt.Errorf("read handle length: %w", err)
	}
	if length == 0 || length > types.FileHandleMaxSize {
		return nil, fmt.Errorf("invalid handle length: %d (max %d)", length, types.FileHandleMaxSize)
	}

	h := make([]byte, length)
	if _, err := io.ReadFull(reader, h); err != nil {
		return nil, fmt.Errorf("read handle: %w", err)
	}
	if padding := (4 - (length % 4)) % 4; padding > 0 {
		if _, err := io.CopyN(io.Discard, reader, int64(padding)); err != nil {
			return nil, fmt.Errorf("skip handle padding: %w", err)
		}
	}
	return h, nil
}

// DecodeFileName reads a filename3 bounded by types.NameMax.
func DecodeFileName(reader io.Reader) (string, error) {
	length, err := DecodeUint32(reader)
	if err != nil {
		return "", fmt.Errorf("read name length: %w", err)
	}
	if length > types.NameMax {
		return "", fmt.Errorf("name length %d exceeds maximum %d", length, types.NameMax)
	}
	name := make([]byte, length+(4-(length%4))%4)
	if _, err := io.ReadFull(reader, name); err != nil {
		return "", fmt.Errorf("read name: %w", err)
	}
	return string(name[:length]), nil
}

func DecodeTimeVal(reader io.Reader) (types.TimeVal, error) {
	var tv types.TimeVal
	if err := binary.Read(reader, binary.BigEndian, &tv.Seconds); err != nil {
		return tv, fmt.Errorf("read seconds: %w", err)
	}
	if err := binary.Read(reader, binary.BigEndian, &tv.Nseconds); err != nil {
		return tv, fmt.Errorf("read nseconds: %w", err)
	}
	return tv, nil
}

// DecodeSetAttrs reads a sattr3 (RFC 1813 Section 2.5.3). Each field is a
// discriminated union; only set fields are non-nil in the result.
func DecodeSetAttrs(reader io.Reader) (*types.SetAttrs, error) {
	attr := &types.SetAttrs{}

	readOptional32 := func(name string) (*uint32, error) {
		set, err := DecodeBool(reader)
		if err != nil {
			return nil, fmt.Errorf("read set_%s: %w", name, err)
		}
		if !set {
			return nil, nil
		}
		v, err := DecodeUint32(reader)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return &v, nil
	}

	var err error
	if attr.Mode, err = readOptional32("mode"); err != nil {
		return nil, err
	}
	if attr.UID, err = readOptional32("uid"); err != nil {
		return nil, err
	}
	if attr.GID, err = readOptional32("gid"); err != nil {
		return nil, err
	}

	setSize, err := DecodeBool(reader)
	if err != nil {
		return nil, fmt.Errorf("read set_size: %w", err)
	}
	if setSize {
		size, err := DecodeUint64(reader)
		if err != nil {
			return nil, fmt.Errorf("read size: %w", err)
		}
		attr.Size = &size
	}

	if attr.Atime, attr.SetAtimeServer, err = decodeSetTime(reader, "atime"); err != nil {
		return nil, err
	}
	if attr.Mtime, attr.SetMtimeServer, err = decodeSetTime(reader, "mtime"); err != nil {
		return nil, err
	}

	return attr, nil
}

// decodeSetTime reads a set_atime or set_mtime union.
func decodeSetTime(reader io.Reader, name string) (*types.TimeVal, bool, error) {
	how, err := DecodeUint32(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read set_%s: %w", name, err)
	}
	switch how {
	case 0: // DONT_CHANGE
		return nil, false, nil
	case 1: // SET_TO_SERVER_TIME
		return nil, true, nil
	case 2: // SET_TO_CLIENT_TIME
		tv, err := DecodeTimeVal(reader)
		if err != nil {
			return nil, false, fmt.Errorf("read %s: %w", name, err)
		}
		return &tv, false, nil
	default:
		return nil, false, fmt.Errorf("invalid set_%s value: %d", name, how)
	}
}

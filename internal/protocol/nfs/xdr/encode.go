package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
)

// ============================================================================
// Primitive Writers
// ============================================================================
//
// Writes into a bytes.Buffer cannot fail, so the primitives return nothing.

func WriteUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func WriteUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func WriteBool(buf *bytes.Buffer, v bool) {
	if v {
		WriteUint32(buf, 1)
		return
	}
	WriteUint32(buf, 0)
}

// WriteOpaque writes variable-length opaque data: length, bytes, padding.
func WriteOpaque(buf *bytes.Buffer, data []byte) {
	WriteUint32(buf, uint32(len(data)))
	buf.Write(data)
	writePadding(buf, uint32(len(data)))
}

func WriteString(buf *bytes.Buffer, s string) {
	WriteUint32(buf, uint32(len(s)))
	buf.WriteString(s)
	writePadding(buf, uint32(len(s)))
}

func writePadding(buf *bytes.Buffer, length uint32) {
	for range (4 - (length % 4)) % 4 {
		buf.WriteByte(0)
	}
}

// ============================================================================
// Optional Values
// ============================================================================

// EncodeOptionalOpaque writes a discriminated opaque value such as
// post_op_fh3: FALSE for empty data, else TRUE followed by the opaque.
func EncodeOptionalOpaque(buf *bytes.Buffer, data []byte) error {
	if len(data) == 0 {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}
	WriteOpaque(buf, data)
	return nil
}

// EncodeOptionalFileAttr writes post_op_attr: FALSE for nil, else TRUE and
// the fattr3.
func EncodeOptionalFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return binary.Write(buf, binary.BigEndian, uint32(0))
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
		return fmt.Errorf("write present flag: %w", err)
	}

	return EncodeFileAttr(buf, attr)
}

// EncodeWccData writes wcc_data: the optional pre-operation wcc_attr
// followed by the optional post-operation fattr3.
//
// Per RFC 1813 Section 2.6 every mutating procedure returns both images so
// clients can detect updates they did not make. Either side packs as
// absent when nil, which is what error paths without a snapshot send.
func EncodeWccData(buf *bytes.Buffer, before *types.WccAttr, after *types.NFSFileAttr) error {
	if before != nil {
		if err := binary.Write(buf, binary.BigEndian, uint32(1)); err != nil {
			return fmt.Errorf("write before present: %w", err)
		}
		if err := encodeWccAttr(buf, before); err != nil {
			return fmt.Errorf("encode before attributes: %w", err)
		}
	} else {
		if err := binary.Write(buf, binary.BigEndian, uint32(0)); err != nil {
			return fmt.Errorf("write before not present: %w", err)
		}
	}

	if err := EncodeOptionalFileAttr(buf, after); err != nil {
		return fmt.Errorf("encode after attributes: %w", err)
	}

	return nil
}

func encodeWccAttr(buf *bytes.Buffer, attr *types.WccAttr) error {
	if attr == nil {
		return fmt.Errorf("wcc_attr is nil")
	}

	WriteUint64(buf, attr.Size)
	encodeTimeVal(buf, attr.Mtime)
	encodeTimeVal(buf, attr.Ctime)
	return nil
}

func encodeTimeVal(buf *bytes.Buffer, tv types.TimeVal) {
	WriteUint32(buf, tv.Seconds)
	WriteUint32(buf, tv.Nseconds)
}

// EncodeFileAttr writes a fattr3 (84 bytes).
func EncodeFileAttr(buf *bytes.Buffer, attr *types.NFSFileAttr) error {
	if attr == nil {
		return fmt.Errorf("file attributes are nil")
	}

	WriteUint32(buf, attr.Type)
	WriteUint32(buf, attr.Mode)
	WriteUint32(buf, attr.Nlink)
	WriteUint32(buf, attr.UID)
	WriteUint32(buf, attr.GID)
	WriteUint64(buf, attr.Size)
	WriteUint64(buf, attr.Used)
	WriteUint32(buf, attr.Rdev.Major)
	WriteUint32(buf, attr.Rdev.Minor)
	WriteUint64(buf, attr.Fsid)
	WriteUint64(buf, attr.Fileid)
	encodeTimeVal(buf, attr.Atime)
	encodeTimeVal(buf, attr.Mtime)
	encodeTimeVal(buf, attr.Ctime)

	return nil
}

// Package handle implements the NFS file handle codec.
//
// Every handle handed to a client is a fixed 32 byte opaque value:
//
//	offset  size  field
//	0       1     version
//	1       1     type (share, directory, file)
//	2       4     share id (hash of the share name)
//	6       4     directory id (directory and file handles)
//	10      4     file id (file handles)
//	14      18    zero padding
//
// The handle type decides which of the id fields carry meaning. The unpack
// functions report Absent for fields the handle type does not carry.
package handle

import (
	"encoding/binary"
	"fmt"

	"github.com/creachadair/cityhash"
)

const (
	// Size is the fixed wire length of every handle.
	Size = 32

	MinVersion = 1
	MaxVersion = 1

	// Version is the version written by the pack functions.
	Version = MaxVersion

	// Absent is returned by the unpack functions when the handle type
	// does not carry the requested field.
	Absent int64 = -1
)

const (
	offVersion = 0
	offType    = 1
	offShare   = 2
	offDir     = 6
	offFile    = 10
)

// Type is the kind of object a handle addresses.
type Type uint8

const (
	TypeUnknown Type = 0
	TypeShare   Type = 1
	TypeDir     Type = 2
	TypeFile    Type = 3
)

func (t Type) String() string {
	switch t {
	case TypeShare:
		return "share"
	case TypeDir:
		return "dir"
	case TypeFile:
		return "file"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsValid reports whether h has the fixed size, a supported version and a
// known type tag.
func IsValid(h []byte) bool {
	if len(h) != Size {
		return false
	}
	if h[offVersion] < MinVersion || h[offVersion] > MaxVersion {
		return false
	}
	switch Type(h[offType]) {
	case TypeShare, TypeDir, TypeFile:
		return true
	}
	return false
}

// TypeOf returns the type tag of h, or TypeUnknown when h is not valid.
func TypeOf(h []byte) Type {
	if !IsValid(h) {
		return TypeUnknown
	}
	return Type(h[offType])
}

func pack(t Type, shareID, dirID, fileID uint32) []byte {
	h := make([]byte, Size)
	h[offVersion] = Version
	h[offType] = byte(t)
	binary.BigEndian.PutUint32(h[offShare:], shareID)
	if t == TypeDir || t == TypeFile {
		binary.BigEndian.PutUint32(h[offDir:], dirID)
	}
	if t == TypeFile {
		binary.BigEndian.PutUint32(h[offFile:], fileID)
	}
	return h
}

// PackShareHandle returns the handle for the root of a share.
func PackShareHandle(shareID uint32) []byte {
	return pack(TypeShare, shareID, 0, 0)
}

// PackDirectoryHandle returns the handle for a directory. The root directory
// of a share has dirID 0.
func PackDirectoryHandle(shareID, dirID uint32) []byte {
	return pack(TypeDir, shareID, dirID, 0)
}

// PackFileHandle returns the handle for a file living in directory dirID.
func PackFileHandle(shareID, dirID, fileID uint32) []byte {
	return pack(TypeFile, shareID, dirID, fileID)
}

// UnpackShareID returns the share id carried by every valid handle.
func UnpackShareID(h []byte) int64 {
	if !IsValid(h) {
		return Absent
	}
	return int64(binary.BigEndian.Uint32(h[offShare:]))
}

// UnpackDirectoryID returns the directory id of directory and file handles.
func UnpackDirectoryID(h []byte) int64 {
	switch TypeOf(h) {
	case TypeDir, TypeFile:
		return int64(binary.BigEndian.Uint32(h[offDir:]))
	}
	return Absent
}

// UnpackFileID returns the file id of file handles.
func UnpackFileID(h []byte) int64 {
	if TypeOf(h) != TypeFile {
		return Absent
	}
	return int64(binary.BigEndian.Uint32(h[offFile:]))
}

// ShareIDForName hashes a share name into the id stored in handles.
func ShareIDForName(name string) uint32 {
	return cityhash.Hash32([]byte(name))
}

// String renders h for log lines.
func String(h []byte) string {
	switch TypeOf(h) {
	case TypeShare:
		return fmt.Sprintf("share:%08x", UnpackShareID(h))
	case TypeDir:
		return fmt.Sprintf("dir:%08x/%d", UnpackShareID(h), UnpackDirectoryID(h))
	case TypeFile:
		return fmt.Sprintf("file:%08x/%d/%d", UnpackShareID(h), UnpackDirectoryID(h), UnpackFileID(h))
	}
	return fmt.Sprintf("invalid:%x", h)
}

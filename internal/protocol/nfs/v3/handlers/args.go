package handlers

import (
	"bytes"
	"fmt"
	"io"

	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
)

// ============================================================================
// Shared Argument Decoding
// ============================================================================

// dirOpArgs is diropargs3: a directory handle and a name within it.
type dirOpArgs struct {
	DirHandle []byte
	Name      string
}

func decodeDirOpArgs(reader io.Reader) (dirOpArgs, error) {
	dir, err := xdr.DecodeFileHandle(reader)
	if err != nil {
		return dirOpArgs{}, fmt.Errorf("decode directory handle: %w", err)
	}
	name, err := xdr.DecodeFileName(reader)
	if err != nil {
		return dirOpArgs{}, fmt.Errorf("decode name: %w", err)
	}
	return dirOpArgs{DirHandle: dir, Name: name}, nil
}

// decodeHandleOnly decodes arguments consisting of a single nfs_fh3.
func decodeHandleOnly(data []byte, proc string) ([]byte, error) {
	h, err := xdr.DecodeFileHandle(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s handle: %w", proc, err)
	}
	return h, nil
}

// decodeVerifier reads a fixed 8-byte cookieverf3, createverf3 or
// writeverf3.
func decodeVerifier(reader io.Reader) (uint64, error) {
	v, err := xdr.DecodeUint64(reader)
	if err != nil {
		return 0, fmt.Errorf("read verifier: %w", err)
	}
	return v, nil
}

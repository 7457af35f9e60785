package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// maxAuthBody is the RFC 5531 limit on credential and verifier bodies.
const maxAuthBody = 400

// ReadCall parses the RPC call header at the start of data.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}
	_, err := xdr.Unmarshal(bytes.NewReader(data), call)
	if err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}

	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}
	if len(call.Cred.Body) > maxAuthBody || len(call.Verf.Body) > maxAuthBody {
		return nil, fmt.Errorf("auth body too large: cred=%d verf=%d", len(call.Cred.Body), len(call.Verf.Body))
	}

	return call, nil
}

// ReadData returns the procedure arguments that follow the call header. The
// result aliases message.
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	// XID, MsgType, RPCVersion, Program, Version, Procedure
	offset := 24

	for _, what := range []string{"credential", "verifier"} {
		if offset+8 > len(message) {
			return nil, fmt.Errorf("truncated %s at offset %d", what, offset)
		}
		offset += 4 // flavor
		n := binary.BigEndian.Uint32(message[offset : offset+4])
		if n > maxAuthBody {
			return nil, fmt.Errorf("%s body too large: %d", what, n)
		}
		offset += 4 + int(n) + int(XdrPadding(n))
	}

	if offset >= len(message) {
		return []byte{}, nil
	}
	return message[offset:], nil
}

// XdrPadding returns the zero bytes needed to align length to 4.
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}

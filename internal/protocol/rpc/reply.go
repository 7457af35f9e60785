package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Reply builders return the bare RPC message. Stream transports wrap it
// with AddRecordMark before writing.

// replyHeaderSize is the encoded size of an accepted reply header with an
// empty AUTH_NULL verifier.
const replyHeaderSize = 24

func acceptedReply(xid, acceptStat uint32, extra int) (*bytes.Buffer, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: acceptStat,
	}

	buf := bytes.NewBuffer(make([]byte, 0, replyHeaderSize+extra))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	return buf, nil
}

// MakeSuccessReply builds an accepted SUCCESS reply carrying data, which
// must already be XDR encoded.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	buf, err := acceptedReply(xid, RPCSuccess, len(data))
	if err != nil {
		return nil, err
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// MakeErrorReply builds an accepted reply with a non-success accept status
// such as PROC_UNAVAIL, GARBAGE_ARGS or SYSTEM_ERR.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	buf, err := acceptedReply(xid, acceptStat, 0)
	if err != nil {
		return nil, fmt.Errorf("marshal error reply: %w", err)
	}
	return buf.Bytes(), nil
}

// MakeProgMismatchReply reports the supported version range of a program.
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	buf, err := acceptedReply(xid, RPCProgMismatch, 8)
	if err != nil {
		return nil, err
	}
	_ = binary.Write(buf, binary.BigEndian, low)
	_ = binary.Write(buf, binary.BigEndian, high)
	return buf.Bytes(), nil
}

// MakeAuthErrorReply builds a MSG_DENIED / AUTH_ERROR reply.
func MakeAuthErrorReply(xid, authStat uint32) ([]byte, error) {
	return deniedReply(xid, RPCAuthError, authStat)
}

// MakeRPCMismatchReply rejects a call whose RPC version is not 2.
func MakeRPCMismatchReply(xid uint32) ([]byte, error) {
	return deniedReply(xid, RPCMismatch, RPCVersion, RPCVersion)
}

func deniedReply(xid, rejectStat uint32, body ...uint32) ([]byte, error) {
	reply := rejectedReply{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgDenied,
		RejectStat: rejectStat,
	}
	buf := bytes.NewBuffer(make([]byte, 0, 16+4*len(body)))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal denied reply: %w", err)
	}
	for _, v := range body {
		_ = binary.Write(buf, binary.BigEndian, v)
	}
	return buf.Bytes(), nil
}

// AddRecordMark prepends a single last-fragment record marker to msg.
func AddRecordMark(msg []byte) []byte {
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out, LastFragmentFlag|uint32(len(msg)))
	copy(out[4:], msg)
	return out
}

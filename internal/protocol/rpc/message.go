package rpc

// RPCCallMessage is the header of an RPC call. Procedure arguments follow
// the verifier on the wire.
type RPCCallMessage struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

// RPCReplyMessage is the header of an accepted reply.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32 // 1 = REPLY
	ReplyState uint32 // 0 = MSG_ACCEPTED
	Verf       OpaqueAuth
	AcceptStat uint32
	// Reply data follows
}

// rejectedReply is the header of a MSG_DENIED reply. The reject body is
// written by hand because its layout depends on RejectStat.
type rejectedReply struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	RejectStat uint32
}

type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}

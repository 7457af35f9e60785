package rpc

// RPC Program Numbers
// These identify the different RPC programs supported by the server.
const (
	// ProgramPortmap is the port mapper program number (RFC 1833)
	ProgramPortmap = 100000

	// ProgramNFS is the NFS version 3 program number (RFC 1813)
	ProgramNFS = 100003

	// ProgramMount is the Mount protocol program number (RFC 1813 Appendix I)
	ProgramMount = 100005
)

// RPCVersion is the only ONC-RPC protocol version accepted.
const RPCVersion = 2

// RPC Message Types
const (
	RPCCall  = 0
	RPCReply = 1
)

// RPC Reply States
const (
	RPCMsgAccepted = 0
	RPCMsgDenied   = 1
)

// RPC Accept Status (RFC 5531 accept_stat)
const (
	RPCSuccess      = 0
	RPCProgUnavail  = 1
	RPCProgMismatch = 2
	RPCProcUnavail  = 3
	RPCGarbageArgs  = 4

	// RPCSystemErr is also sent when the rate limiter refuses a call.
	RPCSystemErr = 5
)

// RPC Reject Status (RFC 5531 reject_stat)
const (
	RPCMismatch  = 0
	RPCAuthError = 1
)

// Auth Status (RFC 5531 auth_stat), carried by AUTH_ERROR rejections.
const (
	AuthOK           = 0
	AuthBadCred      = 1
	AuthRejectedCred = 2
	AuthBadVerf      = 3
	AuthRejectedVerf = 4
	AuthTooWeak      = 5
)

// Authentication flavors.
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// Record marking (RFC 5531 section 11).
const (
	LastFragmentFlag = 0x80000000
	FragmentSizeMask = 0x7FFFFFFF
)

package portmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
)

// procedureHandler runs one procedure. clientIP is used to keep SET and
// UNSET local.
type procedureHandler func(reg *Registry, data []byte, clientIP string) ([]byte, error)

type procedure struct {
	Name    string
	Handler procedureHandler
}

// dispatchTable omits CALLIT (5); forwarding calls turns a portmapper into
// a traffic amplifier.
var dispatchTable = map[uint32]*procedure{
	ProcNull: {
		Name:    "NULL",
		Handler: func(*Registry, []byte, string) ([]byte, error) { return []byte{}, nil },
	},
	ProcSet: {
		Name: "SET",
		Handler: func(reg *Registry, data []byte, clientIP string) ([]byte, error) {
			m, err := DecodeMapping(data)
			if err != nil {
				return nil, err
			}
			return encodeBool(isLocal(clientIP) && reg.Set(*m)), nil
		},
	},
	ProcUnset: {
		Name: "UNSET",
		Handler: func(reg *Registry, data []byte, clientIP string) ([]byte, error) {
			m, err := DecodeMapping(data)
			if err != nil {
				return nil, err
			}
			return encodeBool(isLocal(clientIP) && reg.Unset(m.Prog, m.Vers)), nil
		},
	},
	ProcGetport: {
		Name: "GETPORT",
		Handler: func(reg *Registry, data []byte, _ string) ([]byte, error) {
			m, err := DecodeMapping(data)
			if err != nil {
				return nil, err
			}
			var buf bytes.Buffer
			xdr.WriteUint32(&buf, reg.Getport(m.Prog, m.Vers, m.Prot))
			return buf.Bytes(), nil
		},
	},
	ProcDump: {
		Name: "DUMP",
		Handler: func(reg *Registry, _ []byte, _ string) ([]byte, error) {
			return EncodeDump(reg.Dump()), nil
		},
	},
}

// HandleCall answers one portmap call and returns the reply message
// without record marking.
func HandleCall(reg *Registry, message []byte, clientAddr string) ([]byte, error) {
	call, err := rpc.ReadCall(message)
	if err != nil {
		return nil, fmt.Errorf("parse call: %w", err)
	}

	if call.Program != rpc.ProgramPortmap {
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}
	if call.Version != Version {
		return rpc.MakeProgMismatchReply(call.XID, Version, Version)
	}
	proc, ok := dispatchTable[call.Procedure]
	if !ok {
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	data, err := rpc.ReadData(message, call)
	if err != nil {
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}

	clientIP := xdr.ExtractClientIP(clientAddr)
	logger.Debug("PORTMAP %s: client=%s", proc.Name, clientIP)

	body, err := proc.Handler(reg, data, clientIP)
	if err != nil {
		logger.Debug("PORTMAP %s: client=%s: %v", proc.Name, clientIP, err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}
	return rpc.MakeSuccessReply(call.XID, body)
}

// DecodeMapping reads a mapping argument. Trailing bytes are ignored.
func DecodeMapping(data []byte) (*Mapping, error) {
	if len(data) < MappingSize {
		return nil, fmt.Errorf("mapping too short: %d bytes", len(data))
	}
	return &Mapping{
		Prog: binary.BigEndian.Uint32(data[0:4]),
		Vers: binary.BigEndian.Uint32(data[4:8]),
		Prot: binary.BigEndian.Uint32(data[8:12]),
		Port: binary.BigEndian.Uint32(data[12:16]),
	}, nil
}

// EncodeMapping is the inverse of DecodeMapping.
func EncodeMapping(buf *bytes.Buffer, m Mapping) {
	xdr.WriteUint32(buf, m.Prog)
	xdr.WriteUint32(buf, m.Vers)
	xdr.WriteUint32(buf, m.Prot)
	xdr.WriteUint32(buf, m.Port)
}

// EncodeDump writes pmaplist as an XDR optional-data list.
func EncodeDump(mappings []Mapping) []byte {
	var buf bytes.Buffer
	for _, m := range mappings {
		xdr.WriteBool(&buf, true)
		EncodeMapping(&buf, m)
	}
	xdr.WriteBool(&buf, false)
	return buf.Bytes()
}

func encodeBool(v bool) []byte {
	var buf bytes.Buffer
	xdr.WriteBool(&buf, v)
	return buf.Bytes()
}

func isLocal(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}

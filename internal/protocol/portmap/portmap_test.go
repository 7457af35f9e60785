package portmap

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/internal/protocol/rpc"
)

func callMessage(prog, vers, proc uint32, args []byte) []byte {
	var buf bytes.Buffer
	for _, v := range []uint32{0xabcd, rpc.RPCCall, rpc.RPCVersion, prog, vers, proc, rpc.AuthNull, 0, rpc.AuthNull, 0} {
		xdr.WriteUint32(&buf, v)
	}
	buf.Write(args)
	return buf.Bytes()
}

func mappingArg(m Mapping) []byte {
	var buf bytes.Buffer
	EncodeMapping(&buf, m)
	return buf.Bytes()
}

func acceptStat(t *testing.T, reply []byte) uint32 {
	t.Helper()
	require.GreaterOrEqual(t, len(reply), 24)
	return binary.BigEndian.Uint32(reply[20:24])
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	nfsTCP := Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: ProtoTCP, Port: 2049}

	assert.True(t, r.Set(nfsTCP))
	assert.False(t, r.Set(Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: ProtoTCP, Port: 1}), "already mapped")
	assert.True(t, r.Set(Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: ProtoUDP, Port: 2049}))
	assert.Equal(t, uint32(2049), r.Getport(rpc.ProgramNFS, 3, ProtoTCP))
	assert.Equal(t, uint32(0), r.Getport(rpc.ProgramNFS, 4, ProtoTCP))

	r.RegisterService(rpc.ProgramMount, 3, 2049)
	dump := r.Dump()
	require.Len(t, dump, 4)
	assert.Equal(t, nfsTCP, dump[0])
	assert.Equal(t, uint32(rpc.ProgramMount), dump[3].Prog)
	assert.Equal(t, "100003.3/tcp:2049", dump[0].String())

	assert.True(t, r.Unset(rpc.ProgramNFS, 3))
	assert.False(t, r.Unset(rpc.ProgramNFS, 3))
	assert.Len(t, r.Dump(), 2)
}

func TestHandleCall(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterService(rpc.ProgramNFS, 3, 2049)
	const local = "127.0.0.1:900"

	tests := []struct {
		name   string
		msg    []byte
		client string
		accept uint32
		body   []byte
	}{
		{
			name:   "null",
			msg:    callMessage(rpc.ProgramPortmap, Version, ProcNull, nil),
			client: local,
			body:   []byte{},
		},
		{
			name:   "getport",
			msg:    callMessage(rpc.ProgramPortmap, Version, ProcGetport, mappingArg(Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: ProtoUDP})),
			client: "10.1.1.1:900",
			body:   []byte{0, 0, 0x08, 0x01},
		},
		{
			name:   "getport unknown",
			msg:    callMessage(rpc.ProgramPortmap, Version, ProcGetport, mappingArg(Mapping{Prog: 1, Vers: 1, Prot: ProtoUDP})),
			client: local,
			body:   []byte{0, 0, 0, 0},
		},
		{
			name:   "remote set refused",
			msg:    callMessage(rpc.ProgramPortmap, Version, ProcSet, mappingArg(Mapping{Prog: 7, Vers: 1, Prot: ProtoTCP, Port: 9})),
			client: "10.1.1.1:900",
			body:   []byte{0, 0, 0, 0},
		},
		{
			name:   "local set",
			msg:    callMessage(rpc.ProgramPortmap, Version, ProcSet, mappingArg(Mapping{Prog: 7, Vers: 1, Prot: ProtoTCP, Port: 9})),
			client: local,
			body:   []byte{0, 0, 0, 1},
		},
		{
			name:   "short mapping",
			msg:    callMessage(rpc.ProgramPortmap, Version, ProcGetport, []byte{0, 0}),
			client: local,
			accept: rpc.RPCGarbageArgs,
		},
		{
			name:   "callit unavailable",
			msg:    callMessage(rpc.ProgramPortmap, Version, 5, nil),
			client: local,
			accept: rpc.RPCProcUnavail,
		},
		{
			name:   "wrong program",
			msg:    callMessage(rpc.ProgramNFS, Version, ProcNull, nil),
			client: local,
			accept: rpc.RPCProgUnavail,
		},
		{
			name:   "wrong version",
			msg:    callMessage(rpc.ProgramPortmap, 4, ProcNull, nil),
			client: local,
			accept: rpc.RPCProgMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := HandleCall(reg, tt.msg, tt.client)
			require.NoError(t, err)
			assert.Equal(t, uint32(0xabcd), binary.BigEndian.Uint32(reply[0:4]))
			assert.Equal(t, tt.accept, acceptStat(t, reply))
			if tt.body != nil {
				assert.Equal(t, tt.body, reply[24:])
			}
		})
	}

	assert.Equal(t, uint32(9), reg.Getport(7, 1, ProtoTCP))
}

func TestEncodeDump(t *testing.T) {
	assert.Equal(t, []byte{0, 0, 0, 0}, EncodeDump(nil))

	out := EncodeDump([]Mapping{{Prog: 1, Vers: 2, Prot: ProtoTCP, Port: 3}})
	assert.Len(t, out, 4+MappingSize+4)
	m, err := DecodeMapping(out[4:])
	require.NoError(t, err)
	assert.Equal(t, Mapping{Prog: 1, Vers: 2, Prot: ProtoTCP, Port: 3}, *m)
}

func TestServer(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterService(rpc.ProgramMount, 3, 2049)

	srv := NewServer(ServerConfig{Port: 0, Registry: reg, IdleTimeout: time.Second})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	getport := callMessage(rpc.ProgramPortmap, Version, ProcGetport, mappingArg(Mapping{Prog: rpc.ProgramMount, Vers: 3, Prot: ProtoTCP}))

	t.Run("tcp", func(t *testing.T) {
		conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

		// two calls on one connection
		for i := 0; i < 2; i++ {
			_, err = conn.Write(rpc.AddRecordMark(getport))
			require.NoError(t, err)
			reply, err := rpc.ReadRecord(conn, maxRecordSize)
			require.NoError(t, err)
			assert.Equal(t, uint32(rpc.RPCSuccess), acceptStat(t, reply))
			assert.Equal(t, uint32(2049), binary.BigEndian.Uint32(reply[24:28]))
		}
	})

	t.Run("udp", func(t *testing.T) {
		conn, err := net.Dial("udp", srv.UDPAddr())
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

		_, err = conn.Write(getport)
		require.NoError(t, err)
		buf := make([]byte, 512)
		n, err := conn.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 28, n)
		assert.Equal(t, uint32(2049), binary.BigEndian.Uint32(buf[24:28]))
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

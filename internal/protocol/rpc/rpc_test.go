package rpc

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validAuthUnixCredentials() *UnixAuth {
	return &UnixAuth{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: "testhost",
		UID:         1000,
		GID:         1000,
		GIDs:        []uint32{4, 24, 27, 30},
	}
}

func encodeAuthUnix(auth *UnixAuth) []byte {
	buf := new(bytes.Buffer)

	_ = binary.Write(buf, binary.BigEndian, auth.Stamp)

	nameLen := uint32(len(auth.MachineName))
	_ = binary.Write(buf, binary.BigEndian, nameLen)
	buf.WriteString(auth.MachineName)
	padding := (4 - (nameLen % 4)) % 4
	for i := uint32(0); i < padding; i++ {
		buf.WriteByte(0)
	}

	_ = binary.Write(buf, binary.BigEndian, auth.UID)
	_ = binary.Write(buf, binary.BigEndian, auth.GID)

	_ = binary.Write(buf, binary.BigEndian, uint32(len(auth.GIDs)))
	for _, gid := range auth.GIDs {
		_ = binary.Write(buf, binary.BigEndian, gid)
	}

	return buf.Bytes()
}

// ============================================================================
// ParseUnixAuth Tests
// ============================================================================

func TestParseUnixAuth(t *testing.T) {
	t.Run("ParsesValidCredentials", func(t *testing.T) {
		original := validAuthUnixCredentials()
		body := encodeAuthUnix(original)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, original.Stamp, parsed.Stamp)
		assert.Equal(t, original.MachineName, parsed.MachineName)
		assert.Equal(t, original.UID, parsed.UID)
		assert.Equal(t, original.GID, parsed.GID)
		assert.Equal(t, original.GIDs, parsed.GIDs)
	})

	t.Run("ParsesRootCredentials", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       uint32(time.Now().Unix()),
			MachineName: "testhost",
			UID:         0,
			GID:         0,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), parsed.UID)
		assert.Equal(t, uint32(0), parsed.GID)
		assert.Empty(t, parsed.GIDs)
	})

	t.Run("ParsesWithMaximumGroups", func(t *testing.T) {
		gids := make([]uint32, 16)
		for i := range gids {
			gids[i] = uint32(i + 1000)
		}

		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        gids,
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Len(t, parsed.GIDs, 16)
		assert.Equal(t, gids, parsed.GIDs)
	})

	t.Run("RejectsExcessiveGroups", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(8))
		_, _ = buf.WriteString("testhost")
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(1000))
		_ = binary.Write(buf, binary.BigEndian, uint32(17)) // Too many groups

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many gids")
	})

	t.Run("RejectsLongMachineName", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(12345))
		_ = binary.Write(buf, binary.BigEndian, uint32(256)) // Too long

		_, err := ParseUnixAuth(buf.Bytes())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "machine name too long")
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		_, err := ParseUnixAuth([]byte{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("HandlesEmptyMachineName", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{},
		}
		body := encodeAuthUnix(auth)

		parsed, err := ParseUnixAuth(body)
		require.NoError(t, err)
		assert.Equal(t, "", parsed.MachineName)
	})
}

// ============================================================================
// UnixAuthString Tests
// ============================================================================

func TestUnixAuthString(t *testing.T) {
	t.Run("FormatsCorrectly", func(t *testing.T) {
		auth := &UnixAuth{
			Stamp:       12345,
			MachineName: "testhost",
			UID:         1000,
			GID:         1000,
			GIDs:        []uint32{4, 24, 27, 30},
		}

		str := auth.String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "1000")
		assert.Contains(t, str, "[4 24 27 30]")
	})
}

// ============================================================================
// Call Parsing Tests
// ============================================================================

func encodeCall(t *testing.T, proc uint32, cred []byte, args []byte) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, v := range []uint32{0xCAFE, RPCCall, RPCVersion, ProgramNFS, 3, proc, AuthUnix, uint32(len(cred))} {
		_ = binary.Write(buf, binary.BigEndian, v)
	}
	buf.Write(cred)
	buf.Write(make([]byte, XdrPadding(uint32(len(cred)))))
	_ = binary.Write(buf, binary.BigEndian, AuthNull)
	_ = binary.Write(buf, binary.BigEndian, uint32(0))
	buf.Write(args)
	return buf.Bytes()
}

func TestReadCallAndData(t *testing.T) {
	cred := encodeAuthUnix(&UnixAuth{MachineName: "odd", UID: 7, GID: 8})
	args := []byte{1, 2, 3, 4}
	msg := encodeCall(t, 1, cred, args)

	call, err := ReadCall(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFE), call.XID)
	assert.Equal(t, uint32(ProgramNFS), call.Program)
	assert.Equal(t, AuthUnix, call.GetAuthFlavor())

	auth, err := ParseUnixAuth(call.GetAuthBody())
	require.NoError(t, err)
	assert.Equal(t, "odd", auth.MachineName)
	assert.Equal(t, uint32(7), auth.UID)

	data, err := ReadData(msg, call)
	require.NoError(t, err)
	assert.Equal(t, args, data)

	t.Run("NoArguments", func(t *testing.T) {
		msg := encodeCall(t, 0, nil, nil)
		call, err := ReadCall(msg)
		require.NoError(t, err)
		data, err := ReadData(msg, call)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("TruncatedHeader", func(t *testing.T) {
		_, err := ReadData(msg[:26], call)
		assert.Error(t, err)
	})

	t.Run("RejectsReply", func(t *testing.T) {
		bad := append([]byte(nil), msg...)
		binary.BigEndian.PutUint32(bad[4:], RPCReply)
		_, err := ReadCall(bad)
		assert.Error(t, err)
	})
}

// ============================================================================
// Reply Tests
// ============================================================================

func TestReplies(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		reply, err := MakeSuccessReply(42, []byte{0, 0, 0, 9})
		require.NoError(t, err)
		require.Len(t, reply, replyHeaderSize+4)
		assert.Equal(t, uint32(42), binary.BigEndian.Uint32(reply[0:]))
		assert.Equal(t, uint32(RPCReply), binary.BigEndian.Uint32(reply[4:]))
		assert.Equal(t, uint32(RPCMsgAccepted), binary.BigEndian.Uint32(reply[8:]))
		assert.Equal(t, uint32(RPCSuccess), binary.BigEndian.Uint32(reply[20:]))
		assert.Equal(t, uint32(9), binary.BigEndian.Uint32(reply[24:]))
	})

	t.Run("SystemError", func(t *testing.T) {
		reply, err := MakeErrorReply(1, RPCSystemErr)
		require.NoError(t, err)
		require.Len(t, reply, replyHeaderSize)
		assert.Equal(t, uint32(RPCSystemErr), binary.BigEndian.Uint32(reply[20:]))
	})

	t.Run("ProgMismatch", func(t *testing.T) {
		reply, err := MakeProgMismatchReply(1, 3, 3)
		require.NoError(t, err)
		require.Len(t, reply, replyHeaderSize+8)
		assert.Equal(t, uint32(RPCProgMismatch), binary.BigEndian.Uint32(reply[20:]))
		assert.Equal(t, uint32(3), binary.BigEndian.Uint32(reply[24:]))
		assert.Equal(t, uint32(3), binary.BigEndian.Uint32(reply[28:]))
	})

	t.Run("AuthError", func(t *testing.T) {
		reply, err := MakeAuthErrorReply(5, AuthBadCred)
		require.NoError(t, err)
		require.Len(t, reply, 20)
		assert.Equal(t, uint32(RPCMsgDenied), binary.BigEndian.Uint32(reply[8:]))
		assert.Equal(t, uint32(RPCAuthError), binary.BigEndian.Uint32(reply[12:]))
		assert.Equal(t, uint32(AuthBadCred), binary.BigEndian.Uint32(reply[16:]))
	})

	t.Run("RPCMismatch", func(t *testing.T) {
		reply, err := MakeRPCMismatchReply(5)
		require.NoError(t, err)
		require.Len(t, reply, 24)
		assert.Equal(t, uint32(RPCMismatch), binary.BigEndian.Uint32(reply[12:]))
	})
}

// ============================================================================
// Record Marking Tests
// ============================================================================

func TestRecordMarking(t *testing.T) {
	t.Run("SingleFragment", func(t *testing.T) {
		framed := AddRecordMark([]byte("abcd"))
		assert.Equal(t, uint32(0x80000004), binary.BigEndian.Uint32(framed))

		record, err := ReadRecord(bytes.NewReader(framed), 1024)
		require.NoError(t, err)
		assert.Equal(t, []byte("abcd"), record)
	})

	t.Run("ReassemblesFragments", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(2))
		buf.WriteString("ab")
		_ = binary.Write(buf, binary.BigEndian, uint32(LastFragmentFlag|3))
		buf.WriteString("cde")

		record, err := ReadRecord(buf, 1024)
		require.NoError(t, err)
		assert.Equal(t, []byte("abcde"), record)
	})

	t.Run("RejectsOversized", func(t *testing.T) {
		_, err := ReadRecord(bytes.NewReader(AddRecordMark(make([]byte, 64))), 16)
		assert.Error(t, err)
	})

	t.Run("UnexpectedEOFMidRecord", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(2))
		buf.WriteString("ab")
		_, err := ReadRecord(buf, 1024)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("CleanEOF", func(t *testing.T) {
		_, err := ReadRecord(bytes.NewReader(nil), 1024)
		assert.ErrorIs(t, err, io.EOF)
	})
}

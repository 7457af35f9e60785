package xdr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/internal/protocol/nfs/cursor"
	"github.com/marmos91/nfsd/internal/protocol/nfs/types"
	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/share"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validFileAttr() *types.NFSFileAttr {
	now := time.Now()
	return &types.NFSFileAttr{
		Type:   types.NF3REG,
		Mode:   0644,
		Nlink:  1,
		UID:    1000,
		GID:    1000,
		Size:   1024,
		Used:   4096,
		Rdev:   types.SpecData{Major: 0, Minor: 0},
		Fsid:   1,
		Fileid: 12345,
		Atime:  types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
		Mtime:  types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
		Ctime:  types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
	}
}

func validDirAttr() *types.NFSFileAttr {
	now := time.Now()
	return &types.NFSFileAttr{
		Type:   types.NF3DIR,
		Mode:   0755,
		Nlink:  2,
		UID:    1000,
		GID:    1000,
		Size:   4096,
		Used:   4096,
		Rdev:   types.SpecData{Major: 0, Minor: 0},
		Fsid:   1,
		Fileid: 54321,
		Atime:  types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
		Mtime:  types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
		Ctime:  types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
	}
}

func validWccAttr() *types.WccAttr {
	now := time.Now()
	return &types.WccAttr{
		Size:  1024,
		Mtime: types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
		Ctime: types.TimeVal{Seconds: uint32(now.Unix()), Nseconds: uint32(now.Nanosecond())},
	}
}

// ============================================================================
// EncodeOptionalOpaque Tests
// ============================================================================

func TestEncodeOptionalOpaque(t *testing.T) {
	t.Run("EncodesEmptyAsNotPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		err := EncodeOptionalOpaque(buf, []byte{})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("EncodesNilAsNotPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		err := EncodeOptionalOpaque(buf, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("EncodesNonEmptyWithLength", func(t *testing.T) {
		buf := new(bytes.Buffer)
		data := []byte{0x01, 0x02, 0x03, 0x04}
		err := EncodeOptionalOpaque(buf, data)
		require.NoError(t, err)

		expected := []byte{
			0, 0, 0, 1, // present flag
			0, 0, 0, 4, // length
			0x01, 0x02, 0x03, 0x04, // data
		}
		assert.Equal(t, expected, buf.Bytes())
	})

	t.Run("EncodesWithProperPadding", func(t *testing.T) {
		buf := new(bytes.Buffer)
		data := []byte{0x01, 0x02, 0x03} // 3 bytes, needs 1 byte padding
		err := EncodeOptionalOpaque(buf, data)
		require.NoError(t, err)

		expected := []byte{
			0, 0, 0, 1, // present flag
			0, 0, 0, 3, // length
			0x01, 0x02, 0x03, 0, // data + 1 byte padding
		}
		assert.Equal(t, expected, buf.Bytes())
		assert.Equal(t, 0, len(buf.Bytes())%4, "data should be aligned to 4-byte boundary")
	})
}

// ============================================================================
// EncodeOptionalFileAttr Tests
// ============================================================================

func TestEncodeOptionalFileAttr(t *testing.T) {
	t.Run("EncodesNilAsNotPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		err := EncodeOptionalFileAttr(buf, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 0}, buf.Bytes())
	})

	t.Run("EncodesValidAttrAsPresent", func(t *testing.T) {
		buf := new(bytes.Buffer)
		attr := validFileAttr()
		err := EncodeOptionalFileAttr(buf, attr)
		require.NoError(t, err)

		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
		assert.Greater(t, len(buf.Bytes()), 4)
		assert.Equal(t, 0, len(buf.Bytes())%4, "data should be aligned")
	})

	t.Run("EncodesDirectoryAttr", func(t *testing.T) {
		buf := new(bytes.Buffer)
		attr := validDirAttr()
		err := EncodeOptionalFileAttr(buf, attr)
		require.NoError(t, err)

		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
		assert.Equal(t, uint32(types.NF3DIR), binary.BigEndian.Uint32(buf.Bytes()[4:8]))
	})
}

// ============================================================================
// EncodeWccData Tests
// ============================================================================

func TestEncodeWccData(t *testing.T) {
	t.Run("EncodesWithoutBeforeAttr", func(t *testing.T) {
		buf := new(bytes.Buffer)
		err := EncodeWccData(buf, nil, validFileAttr())
		require.NoError(t, err)
		assert.Equal(t, uint32(0), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	})

	t.Run("EncodesWithoutAfterAttr", func(t *testing.T) {
		buf := new(bytes.Buffer)
		before := validWccAttr()
		err := EncodeWccData(buf, before, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
	})

	t.Run("EncodesWithBothAttrs", func(t *testing.T) {
		buf := new(bytes.Buffer)
		before := validWccAttr()
		after := validFileAttr()
		err := EncodeWccData(buf, before, after)
		require.NoError(t, err)

		assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf.Bytes()[0:4]))
		assert.Greater(t, len(buf.Bytes()), 50)
	})
}

// ============================================================================
// DecodeOpaque Tests
// ============================================================================

func TestDecodeOpaque(t *testing.T) {
	t.Run("DecodesEmptyOpaque", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(0))

		data, err := DecodeOpaque(buf)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("DecodesOpaqueWithoutPadding", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(4))
		_, _ = buf.Write([]byte{0x01, 0x02, 0x03, 0x04})

		data, err := DecodeOpaque(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data)
	})

	t.Run("DecodesOpaqueWithPadding", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(3))
		_, _ = buf.Write([]byte{0x01, 0x02, 0x03, 0x00})

		data, err := DecodeOpaque(buf)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, data)
	})

	t.Run("RejectsExcessiveLength", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(2*1024*1024))

		_, err := DecodeOpaque(buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds maximum")
	})
}

// ============================================================================
// DecodeString Tests
// ============================================================================

func TestDecodeString(t *testing.T) {
	t.Run("DecodesEmptyString", func(t *testing.T) {
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.BigEndian, uint32(0))

		str, err := DecodeString(buf)
		require.NoError(t, err)
		assert.Empty(t, str)
	})

	t.Run("DecodesSimpleString", func(t *testing.T) {
		buf := new(bytes.Buffer)
		testStr := "hello"
		_ = binary.Write(buf, binary.BigEndian, uint32(len(testStr)))
		_, _ = buf.WriteString(testStr)
		_, _ = buf.Write([]byte{0, 0, 0}) // padding

		str, err := DecodeString(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello", str)
	})
}

// ============================================================================
// FileInfoToNFSAttr Tests
// ============================================================================

func TestFileInfoToNFSAttr(t *testing.T) {
	mtime := time.Unix(1700000000, 500)

	t.Run("RegularFileDefaults", func(t *testing.T) {
		attr := FileInfoToNFSAttr(&disk.FileInfo{FileID: 7, Type: disk.TypeFile, Size: 10, ModifyTime: mtime}, 99)
		require.NotNil(t, attr)
		assert.Equal(t, uint32(types.NF3REG), attr.Type)
		assert.Equal(t, uint32(0100777), attr.Mode)
		assert.Equal(t, uint32(1), attr.Nlink)
		assert.Equal(t, uint64(10), attr.Size)
		assert.Equal(t, uint64(10), attr.Used)
		assert.Equal(t, uint64(9), attr.Fileid)
		assert.Equal(t, uint64(99), attr.Fsid)
		assert.Equal(t, uint32(1700000000), attr.Mtime.Seconds)
		assert.Zero(t, attr.Mtime.Nseconds)
		assert.Equal(t, types.TimeVal{}, attr.Atime, "absent time packs as zero")
	})

	t.Run("DirectoryNominalSize", func(t *testing.T) {
		attr := FileInfoToNFSAttr(&disk.FileInfo{Type: disk.TypeDirectory, Size: 99999, Mode: 0755}, 1)
		assert.Equal(t, uint32(types.NF3DIR), attr.Type)
		assert.Equal(t, uint32(040755), attr.Mode)
		assert.Equal(t, uint64(512), attr.Size)
		assert.Equal(t, uint64(1024), attr.Used)
		assert.Equal(t, uint64(2), attr.Fileid)
	})

	t.Run("Symlink", func(t *testing.T) {
		attr := FileInfoToNFSAttr(&disk.FileInfo{Type: disk.TypeSymlink, Size: 4}, 1)
		assert.Equal(t, uint32(types.NF3LNK), attr.Type)
		assert.Equal(t, uint32(0120777), attr.Mode)
	})

	t.Run("AllocationSizeUsed", func(t *testing.T) {
		attr := FileInfoToNFSAttr(&disk.FileInfo{Size: 1, AllocationSize: 4096}, 1)
		assert.Equal(t, uint64(4096), attr.Used)
	})

	t.Run("NilInfo", func(t *testing.T) {
		assert.Nil(t, FileInfoToNFSAttr(nil, 1))
	})

	t.Run("EncodedSize", func(t *testing.T) {
		buf := new(bytes.Buffer)
		require.NoError(t, EncodeFileAttr(buf, FileInfoToNFSAttr(&disk.FileInfo{}, 1)))
		assert.Equal(t, 84, buf.Len())
	})
}

func TestCaptureWccAttr(t *testing.T) {
	assert.Nil(t, CaptureWccAttr(nil))

	ctime := time.Unix(1600000000, 0)
	wcc := CaptureWccAttr(&disk.FileInfo{Size: 33, ChangeTime: ctime})
	assert.Equal(t, uint64(33), wcc.Size)
	assert.Equal(t, uint32(1600000000), wcc.Ctime.Seconds)

	dir := CaptureWccAttr(&disk.FileInfo{Type: disk.TypeDirectory, Size: 7})
	assert.Equal(t, uint64(512), dir.Size)

	buf := new(bytes.Buffer)
	require.NoError(t, EncodeWccData(buf, wcc, nil))
	assert.Equal(t, 4+24+4, buf.Len())
}

// ============================================================================
// DecodeSetAttrs Tests
// ============================================================================

func TestDecodeSetAttrs(t *testing.T) {
	t.Run("NothingSet", func(t *testing.T) {
		buf := new(bytes.Buffer)
		for range 6 {
			WriteUint32(buf, 0)
		}
		sa, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.Nil(t, sa.Mode)
		assert.Nil(t, sa.Size)
		assert.Nil(t, sa.Atime)
		assert.False(t, sa.SetMtimeServer)
	})

	t.Run("EverythingSet", func(t *testing.T) {
		buf := new(bytes.Buffer)
		WriteBool(buf, true)
		WriteUint32(buf, 0644)
		WriteBool(buf, true)
		WriteUint32(buf, 1000)
		WriteBool(buf, true)
		WriteUint32(buf, 100)
		WriteBool(buf, true)
		WriteUint64(buf, 4096)
		WriteUint32(buf, 2) // SET_TO_CLIENT_TIME
		WriteUint32(buf, 1234)
		WriteUint32(buf, 5)
		WriteUint32(buf, 1) // SET_TO_SERVER_TIME

		sa, err := DecodeSetAttrs(buf)
		require.NoError(t, err)
		assert.Equal(t, uint32(0644), *sa.Mode)
		assert.Equal(t, uint32(1000), *sa.UID)
		assert.Equal(t, uint32(100), *sa.GID)
		assert.Equal(t, uint64(4096), *sa.Size)
		assert.Equal(t, types.TimeVal{Seconds: 1234, Nseconds: 5}, *sa.Atime)
		assert.Nil(t, sa.Mtime)
		assert.True(t, sa.SetMtimeServer)

		now := time.Unix(2000, 0)
		ds := ToDiskSetAttrs(sa, now)
		assert.Equal(t, uint32(0644), *ds.Mode)
		assert.Equal(t, time.Unix(1234, 5), *ds.AccessTime)
		assert.Equal(t, now, *ds.ModifyTime)
	})

	t.Run("RejectsBadTimeHow", func(t *testing.T) {
		buf := new(bytes.Buffer)
		for range 4 {
			WriteUint32(buf, 0)
		}
		WriteUint32(buf, 7)
		_, err := DecodeSetAttrs(buf)
		assert.Error(t, err)
	})
}

func TestDecodeFileHandle(t *testing.T) {
	buf := new(bytes.Buffer)
	WriteOpaque(buf, []byte{1, 2, 3})
	WriteUint32(buf, 42)
	h, err := DecodeFileHandle(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, h)
	next, err := DecodeUint32(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), next)

	buf.Reset()
	WriteOpaque(buf, make([]byte, 65))
	_, err = DecodeFileHandle(buf)
	assert.Error(t, err)

	buf.Reset()
	WriteUint32(buf, 0)
	_, err = DecodeFileHandle(buf)
	assert.Error(t, err)
}

// ============================================================================
// MapErrorToNFSStatus Tests
// ============================================================================

func TestMapErrorToNFSStatus(t *testing.T) {
	tests := []struct {
		err  error
		opts []MapOption
		want uint32
	}{
		{nil, nil, types.NFS3OK},
		{share.ErrBadHandle, nil, types.NFS3ErrBadHandle},
		{fmt.Errorf("id 3: %w", share.ErrStale), nil, types.NFS3ErrStale},
		{cursor.ErrBadCookie, nil, types.NFS3ErrBadCookie},
		{disk.ErrAccessDenied, nil, types.NFS3ErrAcces},
		{disk.ErrDiskFull, nil, types.NFS3ErrNoSpc},
		{disk.ErrDiskFull, []MapOption{DiskFullAsQuota}, types.NFS3ErrDQuot},
		{disk.ErrExists, nil, types.NFS3ErrExist},
		{disk.ErrNotDirectory, nil, types.NFS3ErrNotDir},
		{disk.ErrIsDirectory, nil, types.NFS3ErrIsDir},
		{disk.ErrNotEmpty, nil, types.NFS3ErrNotEmpty},
		{disk.ErrNotFound, nil, types.NFS3ErrNoEnt},
		{disk.ErrReadOnly, nil, types.NFS3ErrRofs},
		{disk.ErrNotSupported, nil, types.NFS3ErrNotSupp},
		{disk.ErrNameTooLong, nil, types.NFS3ErrNameTooLong},
		{errors.New("boom"), nil, types.NFS3ErrServerFault},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorToNFSStatus(tt.err, "10.0.0.1", "TEST", tt.opts...))
		})
	}
}

package memory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/disk"
)

func TestCreateAndStat(t *testing.T) {
	ctx := disk.WithIdentity(context.Background(), &disk.Identity{UID: 1000, GID: 100})
	d := New(Options{})

	require.NoError(t, d.CreateDirectory(ctx, "/docs"))
	f, err := d.CreateFile(ctx, "/docs/a.txt")
	require.NoError(t, err)

	n, err := f.WriteAt(ctx, []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, f.Close(ctx))

	info, err := d.GetFileInformation(ctx, "/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, disk.TypeFile, info.Type)
	assert.Equal(t, uint64(5), info.Size)
	assert.Equal(t, uint32(1000), info.UID)
	assert.Equal(t, uint32(100), info.GID)
	assert.Equal(t, f.FileID(), info.FileID)

	status, err := d.FileExists(ctx, "/docs")
	require.NoError(t, err)
	assert.Equal(t, disk.StatusDirectory, status)

	status, err = d.FileExists(ctx, "/missing")
	require.NoError(t, err)
	assert.Equal(t, disk.StatusNotExist, status)

	_, err = d.CreateFile(ctx, "/docs/a.txt")
	assert.ErrorIs(t, err, disk.ErrExists)

	_, err = d.CreateFile(ctx, "/nope/a.txt")
	assert.ErrorIs(t, err, disk.ErrNotFound)
}

func TestReadWriteTruncate(t *testing.T) {
	ctx := context.Background()
	d := New(Options{})

	f, err := d.CreateFile(ctx, "/f")
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte("abcdef"), 2)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := f.ReadAt(ctx, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))

	n, err = f.ReadAt(ctx, buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "ef", string(buf[:n]))

	require.NoError(t, f.Truncate(ctx, 3))
	info, err := d.GetFileInformation(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Size)

	ro, err := d.OpenFile(ctx, "/f", true)
	require.NoError(t, err)
	_, err = ro.WriteAt(ctx, []byte("x"), 0)
	assert.ErrorIs(t, err, disk.ErrReadOnly)
}

func TestCapacity(t *testing.T) {
	ctx := context.Background()
	d := New(Options{Capacity: 4})

	f, err := d.CreateFile(ctx, "/f")
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte("12345"), 0)
	assert.ErrorIs(t, err, disk.ErrDiskFull)

	_, err = f.WriteAt(ctx, []byte("1234"), 0)
	require.NoError(t, err)

	info, err := d.DiskInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.TotalBytes)
	assert.Zero(t, info.FreeBytes)
}

func TestDeleteAndRename(t *testing.T) {
	ctx := context.Background()
	d := New(Options{})

	require.NoError(t, d.CreateDirectory(ctx, "/a"))
	require.NoError(t, d.CreateDirectory(ctx, "/a/b"))
	_, err := d.CreateFile(ctx, "/a/b/f")
	require.NoError(t, err)

	assert.ErrorIs(t, d.DeleteDirectory(ctx, "/a"), disk.ErrNotEmpty)
	assert.ErrorIs(t, d.DeleteDirectory(ctx, "/a/b/f"), disk.ErrNotDirectory)
	assert.ErrorIs(t, d.DeleteFile(ctx, "/a"), disk.ErrIsDirectory)

	require.NoError(t, d.RenameFile(ctx, "/a", "/z"))
	info, err := d.GetFileInformation(ctx, "/z/b/f")
	require.NoError(t, err)

	p, err := d.BuildPathForFileID(ctx, 0, info.FileID)
	require.NoError(t, err)
	assert.Equal(t, "/z/b/f", p)

	assert.ErrorIs(t, d.RenameFile(ctx, "/z", "/z/b/inner"), disk.ErrInvalid)

	require.NoError(t, d.DeleteFile(ctx, "/z/b/f"))
	require.NoError(t, d.DeleteDirectory(ctx, "/z/b"))

	_, err = d.BuildPathForFileID(ctx, 0, info.FileID)
	assert.ErrorIs(t, err, disk.ErrNotFound)
}

func TestSearchIsSorted(t *testing.T) {
	ctx := context.Background()
	d := New(Options{})
	for _, name := range []string{"c", "a", "b"} {
		_, err := d.CreateFile(ctx, "/"+name)
		require.NoError(t, err)
	}

	s, err := d.StartSearch(ctx, "/", "*")
	require.NoError(t, err)
	defer s.Close()

	var names []string
	for {
		info, ok := s.Next()
		if !ok {
			break
		}
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestSymlinks(t *testing.T) {
	ctx := context.Background()
	d := New(Options{})

	require.NoError(t, d.CreateSymbolicLink(ctx, "/l", "/target"))
	target, err := d.ReadSymbolicLink(ctx, "/l")
	require.NoError(t, err)
	assert.Equal(t, "/target", target)

	_, err = d.CreateFile(ctx, "/f")
	require.NoError(t, err)
	_, err = d.ReadSymbolicLink(ctx, "/f")
	assert.ErrorIs(t, err, disk.ErrInvalid)
}

func TestSetFileInformation(t *testing.T) {
	ctx := context.Background()
	d := New(Options{})
	fixed := time.Unix(1700000000, 0)
	d.SetClock(func() time.Time { return fixed })

	_, err := d.CreateFile(ctx, "/f")
	require.NoError(t, err)

	mode := uint32(0600)
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, d.SetFileInformation(ctx, "/f", &disk.SetAttrs{Mode: &mode, ModifyTime: &mtime}))

	info, err := d.GetFileInformation(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0600), info.Mode)
	assert.Equal(t, mtime, info.ModifyTime)
	assert.Equal(t, fixed, info.ChangeTime)
}

func TestRestrict(t *testing.T) {
	d := New(Options{})

	tests := []struct {
		name            string
		fileIDs, links  bool
		wantIDs, wantLn bool
	}{
		{"full", true, true, true, true},
		{"ids only", true, false, true, false},
		{"links only", false, true, false, true},
		{"bare", false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Restrict(tt.fileIDs, tt.links)
			_, ids := v.(disk.FileIDInterface)
			_, links := v.(disk.SymbolicLinkInterface)
			_, sizes := v.(disk.DiskSizeInterface)
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantLn, links)
			assert.True(t, sizes)
		})
	}
}

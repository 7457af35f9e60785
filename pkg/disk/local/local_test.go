//go:build linux

package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/disk"
)

func TestLocalDriver(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := New(Options{Root: root})
	require.NoError(t, err)

	t.Run("root has id zero", func(t *testing.T) {
		info, err := d.GetFileInformation(ctx, "/")
		require.NoError(t, err)
		assert.Equal(t, uint32(0), info.FileID)
		assert.True(t, info.IsDirectory())
	})

	t.Run("create write read", func(t *testing.T) {
		require.NoError(t, d.CreateDirectory(ctx, "/sub"))
		f, err := d.CreateFile(ctx, "/sub/file")
		require.NoError(t, err)
		_, err = f.WriteAt(ctx, []byte("payload"), 0)
		require.NoError(t, err)
		require.NoError(t, f.Flush(ctx))
		require.NoError(t, f.Close(ctx))

		data, err := os.ReadFile(filepath.Join(root, "sub", "file"))
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))

		ro, err := d.OpenFile(ctx, "/sub/file", true)
		require.NoError(t, err)
		defer ro.Close(ctx)
		buf := make([]byte, 16)
		n, err := ro.ReadAt(ctx, buf, 0)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "payload", string(buf[:n]))

		_, err = ro.WriteAt(ctx, []byte("x"), 0)
		assert.ErrorIs(t, err, disk.ErrReadOnly)
	})

	t.Run("errors map to sentinels", func(t *testing.T) {
		_, err := d.GetFileInformation(ctx, "/missing")
		assert.ErrorIs(t, err, disk.ErrNotFound)

		_, err = d.CreateFile(ctx, "/sub/file")
		assert.ErrorIs(t, err, disk.ErrExists)

		assert.ErrorIs(t, d.DeleteDirectory(ctx, "/sub"), disk.ErrNotEmpty)
		assert.ErrorIs(t, d.DeleteFile(ctx, "/sub"), disk.ErrIsDirectory)
		assert.ErrorIs(t, d.DeleteDirectory(ctx, "/sub/file"), disk.ErrNotDirectory)
	})

	t.Run("rename and search", func(t *testing.T) {
		require.NoError(t, d.RenameFile(ctx, "/sub/file", "/sub/renamed"))
		assert.ErrorIs(t, d.RenameFile(ctx, "/sub", "/sub"), disk.ErrExists)

		s, err := d.StartSearch(ctx, "/sub", "*")
		require.NoError(t, err)
		defer s.Close()
		info, ok := s.Next()
		require.True(t, ok)
		assert.Equal(t, "renamed", info.Name)
		_, ok = s.Next()
		assert.False(t, ok)
	})

	t.Run("symlinks", func(t *testing.T) {
		require.NoError(t, d.CreateSymbolicLink(ctx, "/link", "sub/renamed"))
		target, err := d.ReadSymbolicLink(ctx, "/link")
		require.NoError(t, err)
		assert.Equal(t, "sub/renamed", target)

		_, err = d.ReadSymbolicLink(ctx, "/sub/renamed")
		assert.ErrorIs(t, err, disk.ErrInvalid)
	})

	t.Run("disk info", func(t *testing.T) {
		info, err := d.DiskInfo(ctx)
		require.NoError(t, err)
		assert.NotZero(t, info.TotalBytes)
	})
}

func TestNewRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	_, err := New(Options{Root: path})
	assert.ErrorIs(t, err, disk.ErrNotDirectory)
}

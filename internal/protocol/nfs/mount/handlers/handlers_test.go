package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/internal/protocol/nfs/handle"
	"github.com/marmos91/nfsd/internal/protocol/nfs/xdr"
	"github.com/marmos91/nfsd/pkg/disk/memory"
	"github.com/marmos91/nfsd/pkg/share"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	reg := share.NewRegistry(share.StaticSource{
		{Name: "export", Disk: memory.New(memory.Options{})},
		{Name: "private", Disk: memory.New(memory.Options{}), AllowedClients: []string{"192.168.0.0/16"}},
	}, share.ClientACL{})
	require.NoError(t, reg.Rescan(context.Background()))
	return NewHandler(reg)
}

func callCtx(addr string) *MountHandlerContext {
	return &MountHandlerContext{
		Context:    context.Background(),
		ClientAddr: addr + ":700",
		Client:     share.Client{Addr: addr},
	}
}

func TestMount(t *testing.T) {
	h := newHandler(t)

	t.Run("known export", func(t *testing.T) {
		resp, err := h.Mount(callCtx("10.0.0.1"), &MountRequest{DirPath: "/export"})
		require.NoError(t, err)
		require.Equal(t, uint32(MountOK), resp.Status)
		assert.Equal(t, []byte(handle.PackShareHandle(handle.ShareIDForName("export"))), []byte(resp.FileHandle))

		data, err := resp.Encode()
		require.NoError(t, err)
		assert.Equal(t, uint32(MountOK), binary.BigEndian.Uint32(data[0:]))
		assert.Equal(t, uint32(len(resp.FileHandle)), binary.BigEndian.Uint32(data[4:]))
		assert.Equal(t, uint32(2), binary.BigEndian.Uint32(data[8+len(resp.FileHandle):]))
	})

	t.Run("unknown export", func(t *testing.T) {
		resp, err := h.Mount(callCtx("10.0.0.1"), &MountRequest{DirPath: "/nope"})
		require.NoError(t, err)
		assert.Equal(t, uint32(MountErrNoEnt), resp.Status)

		data, err := resp.Encode()
		require.NoError(t, err)
		assert.Len(t, data, 4)
	})

	t.Run("denied client", func(t *testing.T) {
		resp, err := h.Mount(callCtx("10.0.0.1"), &MountRequest{DirPath: "/private"})
		require.NoError(t, err)
		assert.Equal(t, uint32(MountErrAccess), resp.Status)

		resp, err = h.Mount(callCtx("192.168.1.5"), &MountRequest{DirPath: "/private"})
		require.NoError(t, err)
		assert.Equal(t, uint32(MountOK), resp.Status)
	})
}

func TestMountList(t *testing.T) {
	h := newHandler(t)
	ctx := callCtx("10.0.0.1")

	_, err := h.Mount(ctx, &MountRequest{DirPath: "/export"})
	require.NoError(t, err)

	dump, err := h.Dump(ctx, &DumpRequest{})
	require.NoError(t, err)
	assert.Equal(t, []DumpEntry{{Hostname: "10.0.0.1", Directory: "/export"}}, dump.Entries)

	_, err = h.Umnt(ctx, &UmountRequest{DirPath: "/export"})
	require.NoError(t, err)
	dump, err = h.Dump(ctx, &DumpRequest{})
	require.NoError(t, err)
	assert.Empty(t, dump.Entries)

	data, err := dump.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)

	_, _ = h.Mount(ctx, &MountRequest{DirPath: "/export"})
	_, _ = h.Mount(callCtx("10.0.0.2"), &MountRequest{DirPath: "/export"})
	_, err = h.UmntAll(ctx, &UmountAllRequest{})
	require.NoError(t, err)
	dump, err = h.Dump(ctx, &DumpRequest{})
	require.NoError(t, err)
	assert.Equal(t, []DumpEntry{{Hostname: "10.0.0.2", Directory: "/export"}}, dump.Entries)
}

func TestExport(t *testing.T) {
	h := newHandler(t)
	resp, err := h.Export(callCtx("10.0.0.1"), &ExportRequest{})
	require.NoError(t, err)
	assert.Equal(t, []ExportEntry{
		{Directory: "/export"},
		{Directory: "/private", Groups: []string{"192.168.0.0/16"}},
	}, resp.Entries)

	data, err := resp.Encode()
	require.NoError(t, err)

	var want bytes.Buffer
	xdr.WriteBool(&want, true)
	xdr.WriteString(&want, "/export")
	xdr.WriteBool(&want, false)
	xdr.WriteBool(&want, true)
	xdr.WriteString(&want, "/private")
	xdr.WriteBool(&want, true)
	xdr.WriteString(&want, "192.168.0.0/16")
	xdr.WriteBool(&want, false)
	xdr.WriteBool(&want, false)
	assert.Equal(t, want.Bytes(), data)
}

func TestDecodeMountRequest(t *testing.T) {
	var buf bytes.Buffer
	xdr.WriteString(&buf, "/export")
	req, err := DecodeMountRequest(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "/export", req.DirPath)

	buf.Reset()
	xdr.WriteString(&buf, "relative")
	_, err = DecodeMountRequest(buf.Bytes())
	assert.Error(t, err)

	_, err = DecodeMountRequest([]byte{0, 0})
	assert.Error(t, err)
}

package cursor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nfsd/pkg/disk"
	"github.com/marmos91/nfsd/pkg/disk/memory"
)

type fakeSearch struct {
	*disk.ListSearch
	closed int
}

func newFakeSearch(names ...string) *fakeSearch {
	f := &fakeSearch{}
	f.ListSearch = disk.NewListSearch(names, "*", func(name string) (*disk.FileInfo, error) {
		return &disk.FileInfo{Name: name}, nil
	}, func() { f.closed++ })
	return f
}

func TestCookies(t *testing.T) {
	tests := []struct {
		slot   int
		resume uint32
	}{
		{0, 1},
		{1, 0},
		{255, 0x00FFFFFF},
		{17, DotDotResumeID},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("slot%d_resume%x", tt.slot, tt.resume), func(t *testing.T) {
			c := MakeCookie(tt.slot, tt.resume)
			assert.Equal(t, tt.slot, SearchID(c))
			assert.Equal(t, tt.resume, ResumeID(c))
		})
	}

	assert.Equal(t, uint64(0x05000003), MakeCookie(5, 3))
	assert.Zero(t, VerifierFor(time.Time{}))
	assert.Equal(t, uint64(1500), VerifierFor(time.UnixMilli(1500)))
}

func TestTableGrowsAndRecycles(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := NewTable(3, time.Minute)
	tbl.SetClock(func() time.Time { return now })

	var searches []*fakeSearch
	for i := range 3 {
		s := newFakeSearch()
		searches = append(searches, s)
		c := tbl.Allocate(fmt.Sprintf("/d%d", i), s, 0)
		assert.Equal(t, i, c.Slot)
		now = now.Add(time.Second)
	}
	assert.Equal(t, 3, tbl.Len())

	// Touch slot 0 so slot 1 becomes the least recently used.
	require.NotNil(t, tbl.Get(0))
	now = now.Add(time.Second)

	c := tbl.Allocate("/new", newFakeSearch(), 0)
	assert.Equal(t, 1, c.Slot)
	assert.Equal(t, 1, searches[1].closed)
	assert.Equal(t, 3, tbl.Len())

	tbl.Release(2)
	assert.Equal(t, 1, searches[2].closed)
	assert.Nil(t, tbl.Get(2))
	assert.Equal(t, 2, tbl.Allocate("/again", newFakeSearch(), 0).Slot)

	assert.Nil(t, tbl.Get(-1))
	assert.Nil(t, tbl.Get(99))
}

func TestTableExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := NewTable(0, 30*time.Second)
	tbl.SetClock(func() time.Time { return now })

	old := newFakeSearch()
	tbl.Allocate("/old", old, 0)
	now = now.Add(20 * time.Second)
	fresh := newFakeSearch()
	tbl.Allocate("/fresh", fresh, 0)

	now = now.Add(15 * time.Second)
	assert.Equal(t, 1, tbl.Expire())
	assert.Equal(t, 1, old.closed)
	assert.Zero(t, fresh.closed)

	tbl.CloseAll()
	assert.Equal(t, 1, fresh.closed)
	assert.Zero(t, tbl.Len())
}

func TestUnread(t *testing.T) {
	s := newFakeSearch("a", "b")
	c := &Cursor{Search: s}
	info, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "a", info.Name)
	c.Unread()
	info, ok = s.Next()
	require.True(t, ok)
	assert.Equal(t, "a", info.Name)
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	drv := memory.New(memory.Options{})
	require.NoError(t, drv.CreateDirectory(ctx, "/dir"))
	for _, n := range []string{"a", "b", "c"} {
		_, err := drv.CreateFile(ctx, "/dir/"+n)
		require.NoError(t, err)
	}
	require.NoError(t, drv.CreateDirectory(ctx, "/other"))
	dirInfo, err := drv.GetFileInformation(ctx, "/dir")
	require.NoError(t, err)
	verf := VerifierFor(dirInfo.ModifyTime)

	t.Run("cookie zero starts fresh", func(t *testing.T) {
		tbl := NewTable(0, 0)
		pos, err := Resume(ctx, tbl, drv, "/dir", dirInfo, 0, 12345)
		require.NoError(t, err)
		assert.True(t, pos.EmitDot)
		assert.True(t, pos.EmitDotDot)
		assert.Equal(t, verf, pos.Verifier)
		assert.Equal(t, 1, tbl.Len())

		again, err := Resume(ctx, tbl, drv, "/dir", dirInfo, 0, 0)
		require.NoError(t, err)
		assert.NotEqual(t, pos.Cursor.Slot, again.Cursor.Slot)
	})

	t.Run("continues the same search", func(t *testing.T) {
		tbl := NewTable(0, 0)
		pos, err := Resume(ctx, tbl, drv, "/dir", dirInfo, 0, 0)
		require.NoError(t, err)
		first, ok := pos.Cursor.Search.Next()
		require.True(t, ok)
		cookie := pos.Cursor.Cookie(pos.Cursor.Search.ResumeID())

		next, err := Resume(ctx, tbl, drv, "/dir", dirInfo, cookie, verf)
		require.NoError(t, err)
		assert.Same(t, pos.Cursor, next.Cursor)
		assert.False(t, next.EmitDot)
		info, ok := next.Cursor.Search.Next()
		require.True(t, ok)
		assert.NotEqual(t, first.Name, info.Name)
	})

	t.Run("rewinds to an earlier cookie", func(t *testing.T) {
		tbl := NewTable(0, 0)
		pos, err := Resume(ctx, tbl, drv, "/dir", dirInfo, 0, 0)
		require.NoError(t, err)
		pos.Cursor.Search.Next()
		second, _ := pos.Cursor.Search.Next()
		pos.Cursor.Search.Next()

		next, err := Resume(ctx, tbl, drv, "/dir", dirInfo, pos.Cursor.Cookie(1), verf)
		require.NoError(t, err)
		assert.Same(t, pos.Cursor, next.Cursor)
		info, ok := next.Cursor.Search.Next()
		require.True(t, ok)
		assert.Equal(t, second.Name, info.Name)
	})

	t.Run("recycled slot restarts", func(t *testing.T) {
		tbl := NewTable(0, 0)
		pos, err := Resume(ctx, tbl, drv, "/other", dirInfo, 0, 0)
		require.NoError(t, err)

		next, err := Resume(ctx, tbl, drv, "/dir", dirInfo, pos.Cursor.Cookie(2), 0)
		require.NoError(t, err)
		assert.Equal(t, "/dir", next.Cursor.Dir)
		assert.NotEqual(t, pos.Cursor.Slot, next.Cursor.Slot)
		assert.Equal(t, uint32(2), next.Cursor.Search.ResumeID())
	})

	t.Run("dot sentinels", func(t *testing.T) {
		tbl := NewTable(0, 0)
		pos, err := Resume(ctx, tbl, drv, "/dir", dirInfo, 0, 0)
		require.NoError(t, err)

		afterDot, err := Resume(ctx, tbl, drv, "/dir", dirInfo, pos.Cursor.Cookie(DotResumeID), verf)
		require.NoError(t, err)
		assert.False(t, afterDot.EmitDot)
		assert.True(t, afterDot.EmitDotDot)
		assert.Zero(t, afterDot.Cursor.Search.ResumeID())

		afterDotDot, err := Resume(ctx, tbl, drv, "/dir", dirInfo, pos.Cursor.Cookie(DotDotResumeID), verf)
		require.NoError(t, err)
		assert.False(t, afterDotDot.EmitDotDot)
		assert.Zero(t, afterDotDot.Cursor.Search.ResumeID())
	})

	t.Run("verifier mismatch", func(t *testing.T) {
		tbl := NewTable(0, 0)
		_, err := Resume(ctx, tbl, drv, "/dir", dirInfo, MakeCookie(0, 1), verf+1)
		assert.ErrorIs(t, err, ErrBadCookie)
	})

	t.Run("position past end", func(t *testing.T) {
		tbl := NewTable(0, 0)
		_, err := Resume(ctx, tbl, drv, "/dir", dirInfo, MakeCookie(0, 50), verf)
		assert.ErrorIs(t, err, ErrBadCookie)
		assert.Zero(t, tbl.Len())
	})
}

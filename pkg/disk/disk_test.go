package disk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTxn struct {
	name      string
	log       *[]string
	commitErr error
}

func (f *fakeTxn) Commit() error {
	*f.log = append(*f.log, "commit "+f.name)
	return f.commitErr
}

func (f *fakeTxn) Rollback() {
	*f.log = append(*f.log, "rollback "+f.name)
}

type fakeDriver struct {
	name      string
	log       *[]string
	begun     int
	commitErr error
}

func (d *fakeDriver) BeginTransaction(context.Context) (Transaction, error) {
	d.begun++
	return &fakeTxn{name: d.name, log: d.log, commitErr: d.commitErr}, nil
}

func TestScope(t *testing.T) {
	ctx := context.Background()

	t.Run("join reuses transaction", func(t *testing.T) {
		var log []string
		d := &fakeDriver{name: "a", log: &log}
		s := NewScope()

		t1, err := s.Join(ctx, d, d)
		require.NoError(t, err)
		t2, err := s.Join(ctx, d, d)
		require.NoError(t, err)

		assert.Same(t, t1, t2)
		assert.Equal(t, 1, d.begun)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("commit in order", func(t *testing.T) {
		var log []string
		a := &fakeDriver{name: "a", log: &log}
		b := &fakeDriver{name: "b", log: &log}
		s := NewScope()
		_, _ = s.Join(ctx, a, a)
		_, _ = s.Join(ctx, b, b)

		require.NoError(t, s.End(true))
		assert.Equal(t, []string{"commit a", "commit b"}, log)

		require.NoError(t, s.End(true))
		assert.Len(t, log, 2)

		_, err := s.Join(ctx, a, a)
		assert.ErrorIs(t, err, ErrScopeEnded)
	})

	t.Run("failed commit rolls back the rest", func(t *testing.T) {
		var log []string
		boom := errors.New("boom")
		a := &fakeDriver{name: "a", log: &log, commitErr: boom}
		b := &fakeDriver{name: "b", log: &log}
		s := NewScope()
		_, _ = s.Join(ctx, a, a)
		_, _ = s.Join(ctx, b, b)

		assert.ErrorIs(t, s.End(true), boom)
		assert.Equal(t, []string{"commit a", "rollback b"}, log)
	})

	t.Run("rollback", func(t *testing.T) {
		var log []string
		a := &fakeDriver{name: "a", log: &log}
		s := NewScope()
		_, _ = s.Join(ctx, a, a)

		require.NoError(t, s.End(false))
		assert.Equal(t, []string{"rollback a"}, log)
	})

	t.Run("context round trip", func(t *testing.T) {
		s := NewScope()
		assert.Nil(t, ScopeFrom(ctx))
		assert.Same(t, s, ScopeFrom(WithScope(ctx, s)))

		id := &Identity{UID: 1000, GID: 1000}
		assert.Nil(t, IdentityFrom(ctx))
		assert.Same(t, id, IdentityFrom(WithIdentity(ctx, id)))
	})
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "/", Clean(""))
	assert.Equal(t, "/a/b", Clean("a//b/"))
	assert.Equal(t, "/a/b", Join("/a", "b"))
	assert.Equal(t, "/a", Join("/", "a"))
	assert.Equal(t, "/", Parent("/a"))
	assert.Equal(t, "/", Parent("/"))
	assert.Equal(t, "b", Base("/a/b"))

	assert.True(t, IsWithin("/a/b", "/a"))
	assert.True(t, IsWithin("/a", "/a"))
	assert.False(t, IsWithin("/ab", "/a"))
	assert.True(t, IsWithin("/x", "/"))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name string
		want error
	}{
		{"file.txt", nil},
		{"", ErrInvalid},
		{".", ErrInvalid},
		{"..", ErrInvalid},
		{"a/b", ErrInvalid},
		{string(make([]byte, MaxNameLength+1)), ErrNameTooLong},
	}
	for _, tt := range tests {
		err := ValidateName(tt.name)
		if tt.want == nil {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, tt.want)
		}
	}
}

func TestListSearch(t *testing.T) {
	deleted := map[string]bool{"c": true}
	stat := func(name string) (*FileInfo, error) {
		if deleted[name] {
			return nil, ErrNotFound
		}
		return &FileInfo{Name: name}, nil
	}

	closed := 0
	s := NewListSearch([]string{"a", "b", "c", "d.txt"}, "*", stat, func() { closed++ })

	var got []string
	for {
		info, ok := s.Next()
		if !ok {
			break
		}
		got = append(got, info.Name)
	}
	assert.Equal(t, []string{"a", "b", "d.txt"}, got)
	assert.False(t, s.HasMore())
	assert.Equal(t, uint32(4), s.ResumeID())

	require.True(t, s.RestartAt(1))
	info, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, "b", info.Name)
	assert.Equal(t, uint32(2), s.ResumeID())

	assert.False(t, s.RestartAt(5))

	s.Close()
	s.Close()
	assert.Equal(t, 1, closed)

	filtered := NewListSearch([]string{"a", "d.txt"}, "*.txt", stat, nil)
	info, ok = filtered.Next()
	require.True(t, ok)
	assert.Equal(t, "d.txt", info.Name)
	_, ok = filtered.Next()
	assert.False(t, ok)
}

package memory

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/marmos91/nfsd/pkg/disk"
)

// file is an open handle on a node. Data lives in the node, so every handle
// on the same node sees the same content.
type file struct {
	d        *Driver
	n        *node
	path     string
	readOnly bool
	pending  atomic.Int32
	closed   atomic.Bool
}

func (f *file) FileID() uint32 { return f.n.id }
func (f *file) Path() string   { return f.path }
func (f *file) ReadOnly() bool { return f.readOnly }

func (f *file) HasPendingIO() bool {
	return f.pending.Load() > 0
}

func (f *file) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, fmt.Errorf("read %s: %w", f.path, disk.ErrInvalid)
	}
	f.pending.Add(1)
	defer f.pending.Add(-1)

	f.d.mu.Lock()
	defer f.d.mu.Unlock()

	f.n.atime = f.d.now()
	if off >= int64(len(f.n.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.n.data[off:])
	if n < len(p) || off+int64(n) == int64(len(f.n.data)) {
		return n, io.EOF
	}
	return n, nil
}

func (f *file) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, fmt.Errorf("write %s: %w", f.path, disk.ErrReadOnly)
	}
	if f.closed.Load() {
		return 0, fmt.Errorf("write %s: %w", f.path, disk.ErrInvalid)
	}
	f.pending.Add(1)
	defer f.pending.Add(-1)

	f.d.mu.Lock()
	defer f.d.mu.Unlock()

	end := off + int64(len(p))
	if err := f.grow(end); err != nil {
		return 0, err
	}
	copy(f.n.data[off:], p)
	now := f.d.now()
	f.n.mtime, f.n.ctime = now, now
	return len(p), nil
}

// grow extends the node to size bytes. Caller holds f.d.mu.
func (f *file) grow(size int64) error {
	cur := int64(len(f.n.data))
	if size <= cur {
		return nil
	}
	extra := uint64(size - cur)
	if f.d.used+extra > f.d.opts.Capacity {
		return fmt.Errorf("write %s: %w", f.path, disk.ErrDiskFull)
	}
	buf := make([]byte, size)
	copy(buf, f.n.data)
	f.n.data = buf
	f.d.used += extra
	return nil
}

func (f *file) Truncate(_ context.Context, size int64) error {
	if f.readOnly {
		return fmt.Errorf("truncate %s: %w", f.path, disk.ErrReadOnly)
	}
	if size < 0 {
		return fmt.Errorf("truncate %s to %d: %w", f.path, size, disk.ErrInvalid)
	}

	f.d.mu.Lock()
	defer f.d.mu.Unlock()

	cur := int64(len(f.n.data))
	if size > cur {
		if err := f.grow(size); err != nil {
			return err
		}
	} else if size < cur {
		f.n.data = append([]byte(nil), f.n.data[:size]...)
		f.d.used -= uint64(cur - size)
	}
	now := f.d.now()
	f.n.mtime, f.n.ctime = now, now
	return nil
}

func (f *file) Flush(context.Context) error {
	return nil
}

func (f *file) Close(context.Context) error {
	f.closed.Store(true)
	return nil
}

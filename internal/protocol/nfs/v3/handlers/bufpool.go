package handlers

import "sync"

// ============================================================================
// Buffer Pool for READ Data
// ============================================================================
//
// READ replies carry up to MaxReadSize bytes. Buffers come from two size
// classes so small reads of many files do not pin 64KB each.

const (
	smallBufferSize = 4 << 10  // 4KB
	largeBufferSize = 64 << 10 // 64KB, covers MaxReadSize
)

type bufferPool struct {
	small sync.Pool
	large sync.Pool
}

var readBuffers = &bufferPool{
	small: sync.Pool{New: func() any {
		buf := make([]byte, smallBufferSize)
		return &buf
	}},
	large: sync.Pool{New: func() any {
		buf := make([]byte, largeBufferSize)
		return &buf
	}},
}

// Get returns a slice of length size backed by a pooled buffer. Sizes
// beyond the large class are allocated directly.
func (p *bufferPool) Get(size uint32) []byte {
	var bufPtr *[]byte
	switch {
	case size <= smallBufferSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= largeBufferSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns a buffer obtained from Get. Buffers of any other capacity
// are left to the garbage collector.
func (p *bufferPool) Put(buf []byte) {
	full := buf[:cap(buf)]
	switch cap(buf) {
	case smallBufferSize:
		p.small.Put(&full)
	case largeBufferSize:
		p.large.Put(&full)
	}
}

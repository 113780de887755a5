// Package pool provides reusable buffers and allocation-free parsing
// helpers for the telemetry hot paths.
package pool

import (
	"sync"
)

// DefaultBufferSize is the default size for byte buffers.
const DefaultBufferSize = 64 * 1024 // 64KB

// ByteBuffer wraps a byte slice for pooled reuse.
type ByteBuffer struct {
	Data []byte
}

// Reset clears the buffer for reuse.
func (b *ByteBuffer) Reset() {
	b.Data = b.Data[:0]
}

// Grow ensures the buffer has at least n bytes of capacity.
func (b *ByteBuffer) Grow(n int) {
	if cap(b.Data) < n {
		b.Data = make([]byte, 0, n)
	}
}

// Write appends data to the buffer.
func (b *ByteBuffer) Write(p []byte) (int, error) {
	b.Data = append(b.Data, p...)
	return len(p), nil
}

// Len returns the current length of data in the buffer.
func (b *ByteBuffer) Len() int {
	return len(b.Data)
}

// Bytes returns the underlying byte slice.
func (b *ByteBuffer) Bytes() []byte {
	return b.Data
}

// BufferPool manages reusable byte buffers.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	bp := &BufferPool{size: bufferSize}
	bp.pool.New = func() any {
		return &ByteBuffer{
			Data: make([]byte, 0, bufferSize),
		}
	}
	return bp
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() *ByteBuffer {
	return p.pool.Get().(*ByteBuffer)
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf *ByteBuffer) {
	buf.Reset()
	p.pool.Put(buf)
}

// LineBuffer is optimized for line-by-line parsing of an in-memory blob.
type LineBuffer struct {
	data   []byte
	pos    int
	length int
}

// NewLineBuffer creates a line buffer wrapping the given byte slice.
func NewLineBuffer(data []byte) *LineBuffer {
	return &LineBuffer{
		data:   data,
		pos:    0,
		length: len(data),
	}
}

// Reset resets the line buffer with new data.
func (lb *LineBuffer) Reset(data []byte) {
	lb.data = data
	lb.pos = 0
	lb.length = len(data)
}

// NextLine returns the next line as a byte slice without allocation.
// Returns nil when EOF is reached.
func (lb *LineBuffer) NextLine() []byte {
	if lb.pos >= lb.length {
		return nil
	}

	start := lb.pos
	for lb.pos < lb.length {
		if lb.data[lb.pos] == '\n' {
			line := lb.data[start:lb.pos]
			lb.pos++
			// Handle \r\n line endings
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			return line
		}
		lb.pos++
	}

	// Last line without newline
	if start < lb.length {
		return lb.data[start:lb.length]
	}
	return nil
}

// Package ringbuf implements the reusable per-session receive buffer used
// by the message framer: a single
// growable byte slice that callers fill from a net.Conn and reuse across
// messages without reallocating. Readers in this module never need
// arbitrary lookahead, only "a slice of exactly n bytes to fill", so the
// surface stays minimal.
package ringbuf

// Buffer is a growable byte buffer that can be filled by one exact-count
// read at a time and reused across messages.
type Buffer struct {
	buf []byte
}

// New returns a Buffer with an initial capacity of size bytes.
func New(size int) *Buffer {
	return &Buffer{buf: make([]byte, 0, size)}
}

// Grow ensures b's backing array can hold at least n bytes. Contents are
// not preserved.
func (b *Buffer) Grow(n int) {
	if cap(b.buf) >= n {
		return
	}
	next := make([]byte, 0, n)
	b.buf = next
}

// Bytes returns the first n bytes of b's backing array, growing it first if
// necessary. The caller fills this slice directly (e.g. via io.ReadFull).
func (b *Buffer) Bytes(n int) []byte {
	b.Grow(n)
	return b.buf[:n]
}

// Cap reports the buffer's current capacity.
func (b *Buffer) Cap() int { return cap(b.buf) }

// Copy returns an independent copy of buf, for callers that need to
// retain bytes across a Buffer reuse (e.g. an incomplete message's
// completion_buffer).
func Copy(buf []byte) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	return out
}

package tlv

import (
	"encoding/binary"
	"fmt"
	"io"

	"bertlv.dev/ber"
)

// LengthIndefinite is the sentinel payload length denoting the constructed
// indefinite-length form (X.690 §8.1.3.6).
const LengthIndefinite int32 = -1

// OctetCount returns the number of length octets WriteLength would emit for
// length.
func OctetCount(length int32) int {
	switch {
	case length < 0:
		return 1
	case length < 128:
		return 1
	case length < 256:
		return 2
	case length < 1<<16:
		return 3
	case length < 1<<24:
		return 4
	default:
		return 5
	}
}

// WriteLength writes the length octets for length to w.
func WriteLength(w io.ByteWriter, length int32) (int, error) {
	if length < 0 {
		return 1, w.WriteByte(0x80)
	}
	if length < 128 {
		return 1, w.WriteByte(byte(length))
	}
	n := OctetCount(length) - 1
	if err := w.WriteByte(0x80 | byte(n)); err != nil {
		return 0, err
	}
	for i := n - 1; i >= 0; i-- {
		if err := w.WriteByte(byte(length >> uint(i*8))); err != nil {
			return n + 1 - i, err
		}
	}
	return n + 1, nil
}

// ReadLength reads length octets from r.
func ReadLength(r io.ByteReader) (length int32, n int, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ber.ErrTruncatedHeader, ber.NoEOF(err))
	}
	if b < 0x80 {
		return int32(b), 1, nil
	}
	if b == 0x80 {
		return LengthIndefinite, 1, nil
	}
	count := int(b & 0x7f)
	if count > 4 {
		return 0, 1, ber.ErrLengthTooLarge
	}
	var buf [4]byte
	for i := 0; i < count; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, 1 + i, fmt.Errorf("%w: %w", ber.ErrTruncatedHeader, ber.NoEOF(err))
		}
		buf[4-count+i] = c
	}
	return int32(binary.BigEndian.Uint32(buf[:])), 1 + count, nil
}

// ReadLengthFrom decodes length octets from buf starting at off, in buffer
// mode: out-of-range reads raise ber.ErrBounds.
func ReadLengthFrom(buf []byte, off int) (length int32, next int, err error) {
	if off >= len(buf) {
		return 0, off, ber.ErrBounds
	}
	b := buf[off]
	off++
	if b < 0x80 {
		return int32(b), off, nil
	}
	if b == 0x80 {
		return LengthIndefinite, off, nil
	}
	count := int(b & 0x7f)
	if count > 4 {
		return 0, off, ber.ErrLengthTooLarge
	}
	if off+count > len(buf) {
		return 0, off, ber.ErrBounds
	}
	var v int32
	for i := 0; i < count; i++ {
		v = v<<8 | int32(buf[off+i])
	}
	return v, off + count, nil
}

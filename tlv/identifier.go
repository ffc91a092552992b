// Package tlv implements the identifier, length and header octet codecs of
// X.690 Basic Encoding Rules (BER), in both stream mode (io.ByteReader /
// io.ByteWriter) and buffer mode ([]byte with an explicit offset).
//
// Tag numbers are held in a plain uint32 field rather than a packed bit
// representation, since tag numbers up to 2^31-1 must be representable.
// Tag numbers above 30 use the non-canonical multi-octet encoding
// implemented by bertlv.dev/ber/internal/tagnum instead of the standard
// base-128 form.
package tlv

import (
	"fmt"
	"io"

	"bertlv.dev/ber"
	"bertlv.dev/ber/internal/tagnum"
)

// Identifier is the class, tag number and constructed flag carried by the
// first octet (or octets, for tag_number >= 31) of a BER encoding, per X.690
// §8.1.2.
type Identifier struct {
	Class       ber.Class
	Number      uint32
	Constructed bool
}

// EncodedLen returns the number of octets WriteTo would emit for id.
func (id Identifier) EncodedLen() int {
	if id.Number < 31 {
		return 1
	}
	return 1 + tagnum.Length(id.Number)
}

// WriteTo writes the identifier octets of id to w.
func (id Identifier) WriteTo(w io.ByteWriter) (int, error) {
	b := byte(id.Class) << 6
	if id.Constructed {
		b |= 0x20
	}
	if id.Number < 31 {
		if err := w.WriteByte(b | byte(id.Number)); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err := w.WriteByte(b | 0x1f); err != nil {
		return 0, err
	}
	n, err := tagnum.Write(w, id.Number)
	return 1 + n, err
}

// ReadIdentifier reads an identifier from r.
//
// If r is exhausted on the very first octet, the returned error is io.EOF
// unchanged: in stream mode this marks a clean message boundary rather than
// a truncated header. Any failure past the first octet is wrapped as
// ber.ErrTruncatedHeader.
func ReadIdentifier(r io.ByteReader) (id Identifier, n int, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return Identifier{}, 0, err
	}
	id.Class = ber.Class(b >> 6)
	id.Constructed = b&0x20 != 0
	low5 := uint32(b & 0x1f)
	if low5 < 31 {
		id.Number = low5
		return id, 1, nil
	}
	num, octets, err := tagnum.Read(r)
	if err != nil {
		return id, 1 + octets, fmt.Errorf("%w: %w", ber.ErrTruncatedHeader, ber.NoEOF(err))
	}
	id.Number = num
	return id, 1 + octets, nil
}

// ReadIdentifierFrom decodes an identifier from buf starting at off, in
// buffer mode: any out-of-range read raises ber.ErrBounds rather than io.EOF.
// It returns the identifier and the offset immediately past it.
func ReadIdentifierFrom(buf []byte, off int) (id Identifier, next int, err error) {
	if off >= len(buf) {
		return Identifier{}, off, ber.ErrBounds
	}
	b := buf[off]
	off++
	id.Class = ber.Class(b >> 6)
	id.Constructed = b&0x20 != 0
	low5 := uint32(b & 0x1f)
	if low5 < 31 {
		id.Number = low5
		return id, off, nil
	}
	for {
		if off >= len(buf) {
			return id, off, ber.ErrBounds
		}
		c := buf[off]
		off++
		id.Number += uint32(c & 0x7f)
		if c&0x80 == 0 {
			return id, off, nil
		}
	}
}

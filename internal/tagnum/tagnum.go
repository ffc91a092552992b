// Package tagnum implements the multi-octet tag-number encoding used for
// identifier octets with a low-five-bits value of 0x1F (tag_number >= 31).
//
// This is deliberately NOT the canonical X.690 base-128 encoding (a
// continuation bit per octet over a shifted accumulator). Instead the
// writer emits 0xFF sentinel octets while subtracting 0x7F from the
// remaining value, terminated by one octet holding the remainder; the
// reader undoes this by summing the low seven bits of every octet it reads
// (addition, not a base-128 shift). The two arithmetic operations are exact
// inverses of each other, so tag numbers round-trip within this module, but
// the wire encoding does not match other BER implementations for tag
// numbers >= 31.
package tagnum

import "io"

// Length returns the number of octets Write would emit for n.
func Length(n uint32) int {
	l := 1
	for n > 0x7f {
		n -= 0x7f
		l++
	}
	return l
}

// Write encodes n as the module's non-canonical multi-octet tag-number
// suffix (everything after the leading identifier octet with low-five-bits
// 0x1F). It returns the number of octets written.
func Write(w io.ByteWriter, n uint32) (int, error) {
	written := 0
	for n > 0x7f {
		if err := w.WriteByte(0xff); err != nil {
			return written, err
		}
		n -= 0x7f
		written++
	}
	if err := w.WriteByte(byte(n)); err != nil {
		return written, err
	}
	return written + 1, nil
}

// Read decodes a multi-octet tag-number suffix from r, returning the decoded
// value and the number of octets consumed. An octet with its high bit clear
// ends the sequence. If r is exhausted mid-sequence, the returned error is
// io.ErrUnexpectedEOF; an io.EOF on the very first octet is returned
// unchanged. tlv.ReadIdentifier reports either case as
// ber.ErrTruncatedHeader, since the leading identifier octet has already
// been consumed by then.
func Read(r io.ByteReader) (n uint32, octets int, err error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && octets > 0 {
				err = io.ErrUnexpectedEOF
			}
			return n, octets, err
		}
		octets++
		n += uint32(b & 0x7f)
		if b&0x80 == 0 {
			return n, octets, nil
		}
	}
}

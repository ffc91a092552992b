package tlv

import (
	"io"
	"strconv"

	"bertlv.dev/ber"
)

// Header is the identifier plus length-octets pair of a TLV encoding,
// combined with the derived octet counts needed to size a containing
// constructed value.
type Header struct {
	Identifier    Identifier
	PayloadLength int32 // LengthIndefinite at rest for indefinite-length constructed values
	HeaderLength  int32
	IsDefinite    bool
}

// ReadHeader combines ReadIdentifier and ReadLength. In stream mode, an
// unavailable first identifier octet is reported as io.EOF (a clean message
// boundary); running out of octets anywhere after that is
// ber.ErrTruncatedHeader, and a length-octet count above 4 is
// ber.ErrLengthTooLarge.
func ReadHeader(r io.ByteReader) (h Header, n int, err error) {
	id, idLen, err := ReadIdentifier(r)
	if err != nil {
		return Header{}, 0, err
	}
	length, lenLen, err := ReadLength(r)
	if err != nil {
		return Header{}, idLen + lenLen, err
	}
	h.Identifier = id
	h.IsDefinite = length != LengthIndefinite
	h.PayloadLength = length
	h.HeaderLength = int32(idLen + lenLen)
	return h, idLen + lenLen, nil
}

// ReadHeaderFrom decodes a header from buf at off in buffer mode. Any
// out-of-range read raises ber.ErrBounds.
func ReadHeaderFrom(buf []byte, off int) (h Header, next int, err error) {
	start := off
	id, off, err := ReadIdentifierFrom(buf, off)
	if err != nil {
		return Header{}, off, err
	}
	length, off, err := ReadLengthFrom(buf, off)
	if err != nil {
		return Header{}, off, err
	}
	h.Identifier = id
	h.IsDefinite = length != LengthIndefinite
	h.PayloadLength = length
	h.HeaderLength = int32(off - start)
	return h, off, nil
}

// WriteTo writes h's identifier and length octets to w.
func (h Header) WriteTo(w io.ByteWriter) (int, error) {
	n, err := h.Identifier.WriteTo(w)
	if err != nil {
		return n, err
	}
	length := h.PayloadLength
	if !h.IsDefinite {
		length = LengthIndefinite
	}
	m, err := WriteLength(w, length)
	return n + m, err
}

// SizeOf returns the header length that a header would have if its payload
// length were length, i.e. octet_count(length) plus id's own encoded
// length. Package node's CalculatePayloadLength uses this to fill in
// HeaderLength bottom-up during its two-pass sizing algorithm.
func SizeOf(id Identifier, length int32) int32 {
	return int32(OctetCount(length)) + int32(id.EncodedLen())
}

// ErrHeader wraps err with the byte offset at which header decoding failed.
func ErrHeader(offset int64, err error) error {
	return &ber.SyntaxError{Err: err, ByteOffset: offset}
}

// String returns a diagnostic representation of h, e.g. "UNIVERSAL 16/c:12"
// or "UNIVERSAL 0/p:0" for EndOfContent.
func (h Header) String() string {
	s := h.Identifier.String()
	if h.Identifier.Constructed {
		s += "/c:"
	} else {
		s += "/p:"
	}
	if h.IsDefinite {
		s += strconv.Itoa(int(h.PayloadLength))
	} else {
		s += "indefinite"
	}
	return s
}

// String returns a diagnostic representation of id, e.g. "UNIVERSAL 16" or
// "CONTEXT 3".
func (id Identifier) String() string {
	return id.Class.String() + " " + strconv.FormatUint(uint64(id.Number), 10)
}

package ber

import (
	"errors"
	"io"
	"strconv"
)

// Sentinel errors for protocol-level failures. Every error a package in
// this module returns for a malformed or truncated encoding wraps one of
// these via %w, so callers can use errors.Is regardless of which package
// raised it. ErrCleanEOF is simply io.EOF: a header read that finds the
// stream closed at a message boundary is not an error condition, it is the
// signal to stop reading.
var (
	// ErrCleanEOF is returned (as io.EOF) when a stream is exhausted exactly at
	// a message boundary.
	ErrCleanEOF = io.EOF

	// ErrTruncatedHeader indicates that identifier or length octets were
	// incomplete.
	ErrTruncatedHeader = errors.New("ber: truncated header")

	// ErrLengthTooLarge indicates a length-octet count greater than 4, i.e. a
	// payload length that would need more than 32 bits.
	ErrLengthTooLarge = errors.New("ber: length too large")

	// ErrPayloadTooLarge indicates a definite payload length exceeding
	// MaxPayloadSizeAllowed.
	ErrPayloadTooLarge = errors.New("ber: payload exceeds maximum allowed size")

	// ErrUnexpectedEndOfContent indicates that a constructed value's children
	// ran out before its declared length was consumed, or that an
	// indefinite-length block was missing its 00 00 terminator.
	ErrUnexpectedEndOfContent = errors.New("ber: unexpected end of content")

	// ErrInvalidConstructedRead indicates an attempt to read primitive content
	// from a constructed tag.
	ErrInvalidConstructedRead = errors.New("ber: cannot read primitive content of a constructed node")

	// ErrBounds indicates a buffer-mode read past the end of the supplied
	// slice.
	ErrBounds = errors.New("ber: read past end of buffer")

	// ErrTimeout indicates that a client connect attempt exceeded
	// ConnectTimeout.
	ErrTimeout = errors.New("ber: connect timed out")
)

// SyntaxError decorates one of the sentinel errors above with the byte
// offset at which it was detected.
type SyntaxError struct {
	Err        error
	ByteOffset int64
}

func (e *SyntaxError) Error() string {
	s := "ber: syntax error"
	if e.ByteOffset >= 0 {
		s += " at offset " + strconv.FormatInt(e.ByteOffset, 10)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// NoEOF returns err, unless err == io.EOF, in which case it returns
// io.ErrUnexpectedEOF: an EOF is "clean" only when it falls exactly on a
// message/header boundary, anywhere else it means the peer went away
// mid-structure.
func NoEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

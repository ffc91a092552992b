package message

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"

	"bertlv.dev/ber"
	"bertlv.dev/ber/internal/ringbuf"
	"bertlv.dev/ber/node"
	"bertlv.dev/ber/tlv"
)

// Framer implements a ReadBuffered/Continue pair over a single byte stream,
// carrying an incomplete read forward across calls instead of blocking
// until a full message arrives. A Framer owns a persistent buffered reader
// over its stream so bytes it reads ahead of a message boundary are never
// lost between calls.
//
// Each ReadBuffered/Continue call requests at most chunkSize payload bytes,
// so a payload larger than chunkSize is necessarily split across multiple
// calls: the reusable buffer caps how much of the payload one call can hand
// back, it does not grow to swallow the whole message in one shot. A short
// read (deadline expiry, or the peer having sent less than a full chunk so
// far) yields however many bytes did arrive; the message stays incomplete
// and the next Continue picks up from there.
type Framer struct {
	br        *bufio.Reader
	buf       *ringbuf.Buffer
	chunkSize int

	// offset is the number of stream bytes consumed so far, reported in
	// SyntaxError values so a malformed message can be located in a
	// capture of the stream.
	offset int64
}

// NewFramer returns a Framer reading from r, requesting at most bufSize
// payload bytes per underlying read.
func NewFramer(r io.Reader, bufSize int) *Framer {
	return &Framer{br: bufio.NewReader(r), buf: ringbuf.New(bufSize), chunkSize: bufSize}
}

// ReadBuffered reads one header, then as much of the payload as fits in
// one chunkSize-bounded read. If the stream is exhausted before the
// header, it returns (nil, nil) — a clean disconnect, not an error.
func (f *Framer) ReadBuffered() (*Message, error) {
	start := f.offset
	h, hlen, err := tlv.ReadHeader(f.br)
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, tlv.ErrHeader(start, err)
	}
	f.offset += int64(hlen)
	if !h.IsDefinite {
		// Indefinite-length top-level message: delegate straight to the
		// recursive node reader, which already understands 00 00
		// termination. It reads from f.br itself (not a second bufio.Reader
		// wrapped around it) so any bytes it reads ahead of the terminator
		// stay visible to the next ReadBuffered call. Partial-read framing
		// via the reusable buffer only applies to definite payloads.
		n, err := node.ReadBody(f.br, h, int(h.HeaderLength))
		if err != nil {
			return nil, &ber.SyntaxError{Err: err, ByteOffset: start}
		}
		f.offset += n.BytesRead - int64(hlen)
		return &Message{header: h, complete: true, node: n}, nil
	}

	want := h.PayloadLength
	if want == 0 {
		n, err := decodeBody(h, nil)
		if err != nil {
			return nil, &ber.SyntaxError{Err: err, ByteOffset: start}
		}
		return &Message{header: h, complete: true, node: n}, nil
	}
	reqLen := want
	if reqLen > int32(f.chunkSize) {
		reqLen = int32(f.chunkSize)
	}
	chunk := f.buf.Bytes(int(reqLen))
	got, err := io.ReadFull(f.br, chunk)
	if err != nil && got == 0 {
		if isTimeout(err) {
			// The header is consumed but no payload has arrived yet. Hand the
			// caller an incomplete message so the header is not lost; the next
			// Continue picks the payload up once data arrives.
			return &Message{header: h, bytesStillNeeded: want}, nil
		}
		return nil, err
	}
	f.offset += int64(got)
	if int32(got) >= want {
		n, err := decodeBody(h, chunk[:want])
		if err != nil {
			return nil, &ber.SyntaxError{Err: err, ByteOffset: start}
		}
		return &Message{header: h, complete: true, node: n}, nil
	}
	m := &Message{
		header:           h,
		completionBuffer: ringbuf.Copy(chunk[:got]),
		bytesStillNeeded: want - int32(got),
	}
	return m, nil
}

// Continue must be called with the Message most recently returned by
// ReadBuffered (or a prior Continue) when that message was incomplete. It
// requests up to chunkSize more bytes from the same stream and either
// completes the message or returns a still-incomplete one.
func (f *Framer) Continue(m *Message) (*Message, error) {
	if m.complete {
		return m, nil
	}
	need := m.bytesStillNeeded
	reqLen := need
	if reqLen > int32(f.chunkSize) {
		reqLen = int32(f.chunkSize)
	}
	chunk := f.buf.Bytes(int(reqLen))
	got, err := io.ReadFull(f.br, chunk)
	if err != nil && got == 0 {
		return nil, err
	}
	f.offset += int64(got)
	all := append(m.completionBuffer, chunk[:got]...)
	if int32(got) >= need {
		n, err := decodeBody(m.header, all)
		if err != nil {
			return nil, &ber.SyntaxError{Err: err, ByteOffset: f.offset}
		}
		return &Message{header: m.header, complete: true, node: n}, nil
	}
	return &Message{
		header:           m.header,
		completionBuffer: all,
		bytesStillNeeded: need - int32(got),
	}, nil
}

// isTimeout reports whether err is, or wraps, a net.Error read-deadline
// expiry rather than a genuine stream failure.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// decodeBody decodes payload (the content octets already collected in
// full) into a node tree sharing h's header.
func decodeBody(h tlv.Header, payload []byte) (*node.Node, error) {
	full := new(bytes.Buffer)
	if _, err := h.WriteTo(full); err != nil {
		return nil, err
	}
	full.Write(payload)
	return node.Read(bufio.NewReader(full))
}

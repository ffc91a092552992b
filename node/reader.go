package node

import (
	"bufio"
	"fmt"
	"io"

	"bertlv.dev/ber"
	"bertlv.dev/ber/tlv"
)

// Read decodes one node (and, recursively, its children) from r, dispatched
// by (class, tag number). If r is exhausted before the first identifier
// octet, the returned error is io.EOF unchanged, signaling a clean message
// boundary rather than a truncated header.
func Read(r *bufio.Reader) (*Node, error) {
	h, hlen, err := tlv.ReadHeader(r)
	if err != nil {
		return nil, err
	}
	return ReadBody(r, h, hlen)
}

// ReadBody decodes a node's content from r given a header the caller has
// already parsed (e.g. message.Framer, which inspects a top-level header's
// definiteness before deciding how to frame the rest of the message). This
// lets such a caller keep reading from the same *bufio.Reader it used for
// the header, rather than wrapping it in a second bufio.Reader — doing the
// latter would let the second reader's own read-ahead buffering silently
// absorb bytes belonging to whatever follows on the stream.
func ReadBody(r *bufio.Reader, h tlv.Header, headerLen int) (*Node, error) {
	n := &Node{Kind: kindFor(h), Header: h}
	contentRead, err := readBody(r, n)
	if err != nil {
		return nil, err
	}
	n.BytesRead = int64(headerLen) + contentRead
	return n, nil
}

func kindFor(h tlv.Header) Kind {
	id := h.Identifier
	if id.Class != ber.ClassUniversal {
		return KindGeneric
	}
	switch id.Number {
	case ber.TagEndOfContent:
		return KindEndOfContent
	case ber.TagBoolean:
		return KindBoolean
	case ber.TagInteger:
		return KindInteger
	case ber.TagNull:
		return KindNull
	case ber.TagEnumerated:
		return KindEnumerated
	case ber.TagSequence:
		return KindSequence
	case ber.TagSet:
		return KindSet
	}
	if ber.IsTextTag(id.Number) {
		return KindText
	}
	return KindGeneric
}

// readBody populates n's content (payload or children) and returns the
// number of content octets consumed from r — not including n's own header,
// but including any trailing 00 00 terminator n itself is responsible for.
func readBody(r *bufio.Reader, n *Node) (int64, error) {
	if n.Kind == KindEndOfContent {
		return 0, nil
	}
	if n.Header.Identifier.Constructed {
		return readConstructed(r, n)
	}
	return readPrimitive(r, n)
}

func readConstructed(r *bufio.Reader, n *Node) (int64, error) {
	if n.Header.IsDefinite {
		want := int64(n.Header.PayloadLength)
		var consumed int64
		for consumed < want {
			child, err := Read(r)
			if err != nil {
				return 0, fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, ber.NoEOF(err))
			}
			consumed += child.BytesRead
			if consumed > want {
				return 0, ber.ErrUnexpectedEndOfContent
			}
			n.children = append(n.children, child)
			child.parent = n
		}
		return consumed, nil
	}
	var consumed int64
	for {
		child, err := Read(r)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, ber.NoEOF(err))
		}
		consumed += child.BytesRead
		if child.Kind == KindEndOfContent {
			return consumed, nil
		}
		n.children = append(n.children, child)
		child.parent = n
	}
}

func readPrimitive(r *bufio.Reader, n *Node) (int64, error) {
	if n.Header.IsDefinite {
		want := n.Header.PayloadLength
		if want < 0 {
			return 0, ber.ErrUnexpectedEndOfContent
		}
		if int64(want) > ber.MaxPayloadSizeAllowed {
			return 0, ber.ErrPayloadTooLarge
		}
		if want == 0 {
			return 0, nil
		}
		buf := make([]byte, want)
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, ber.NoEOF(err))
		}
		n.payload = buf
		return int64(want), nil
	}
	var buf []byte
	var consumed int64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, ber.NoEOF(err))
		}
		consumed++
		if b == 0x00 {
			next, err := r.Peek(1)
			if err == nil && len(next) == 1 && next[0] == 0x00 {
				r.Discard(1)
				consumed++
				n.payload = buf
				return consumed, nil
			}
		}
		buf = append(buf, b)
	}
}

// ReadFrom decodes one node (and, recursively, its children) from buf
// starting at off, in buffer mode: out-of-range reads raise ber.ErrBounds
// rather than io.EOF, mirroring tlv.ReadHeaderFrom. It returns the node
// and the offset immediately past it.
func ReadFrom(buf []byte, off int) (*Node, int, error) {
	start := off
	h, off, err := tlv.ReadHeaderFrom(buf, off)
	if err != nil {
		return nil, off, err
	}
	n := &Node{Kind: kindFor(h), Header: h}
	off, err = readBodyFrom(buf, off, n)
	if err != nil {
		return nil, off, err
	}
	n.BytesRead = int64(off - start)
	return n, off, nil
}

func readBodyFrom(buf []byte, off int, n *Node) (int, error) {
	if n.Kind == KindEndOfContent {
		return off, nil
	}
	if n.Header.Identifier.Constructed {
		return readConstructedFrom(buf, off, n)
	}
	return readPrimitiveFrom(buf, off, n)
}

func readConstructedFrom(buf []byte, off int, n *Node) (int, error) {
	if n.Header.IsDefinite {
		end := off + int(n.Header.PayloadLength)
		if end > len(buf) {
			return off, ber.ErrBounds
		}
		for off < end {
			child, next, err := ReadFrom(buf, off)
			if err != nil {
				return next, fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, err)
			}
			if next > end {
				return next, ber.ErrUnexpectedEndOfContent
			}
			off = next
			n.children = append(n.children, child)
			child.parent = n
		}
		return off, nil
	}
	for {
		child, next, err := ReadFrom(buf, off)
		if err != nil {
			return next, fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, err)
		}
		off = next
		if child.Kind == KindEndOfContent {
			return off, nil
		}
		n.children = append(n.children, child)
		child.parent = n
	}
}

func readPrimitiveFrom(buf []byte, off int, n *Node) (int, error) {
	if n.Header.IsDefinite {
		want := int(n.Header.PayloadLength)
		if want < 0 {
			return off, ber.ErrUnexpectedEndOfContent
		}
		if int64(want) > ber.MaxPayloadSizeAllowed {
			return off, ber.ErrPayloadTooLarge
		}
		if off+want > len(buf) {
			return off, ber.ErrBounds
		}
		if want > 0 {
			n.payload = append([]byte(nil), buf[off:off+want]...)
		}
		return off + want, nil
	}
	for i := off; i+1 < len(buf); i++ {
		if buf[i] == 0x00 && buf[i+1] == 0x00 {
			if i > off {
				n.payload = append([]byte(nil), buf[off:i]...)
			}
			return i + 2, nil
		}
	}
	return len(buf), fmt.Errorf("%w: %w", ber.ErrUnexpectedEndOfContent, ber.ErrBounds)
}

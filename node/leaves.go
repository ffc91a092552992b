package node

import (
	"bertlv.dev/ber"
	"bertlv.dev/ber/tlv"
)

func header(class ber.Class, tag uint32, constructed bool) tlv.Header {
	return tlv.Header{
		Identifier: tlv.Identifier{Class: class, Number: tag, Constructed: constructed},
		IsDefinite: true,
	}
}

// NewEndOfContent builds the universal tag-0 terminator TLV: writing it
// always produces the two octets [0x00, 0x00].
func NewEndOfContent() *Node {
	return &Node{Kind: KindEndOfContent, Header: header(ber.ClassUniversal, ber.TagEndOfContent, false)}
}

// NewNull builds a universal Null leaf: write(Null{}) == [0x05, 0x00].
func NewNull() *Node {
	return &Node{Kind: KindNull, Header: header(ber.ClassUniversal, ber.TagNull, false)}
}

// NewBoolean builds a universal Boolean leaf. The writer always emits 0xFF
// for true regardless of what byte a decoded Boolean originally carried:
// true-ness is lossy on round-trip for any input other than 0x00/0xFF.
func NewBoolean(v bool) *Node {
	n := &Node{Kind: KindBoolean, Header: header(ber.ClassUniversal, ber.TagBoolean, false)}
	if v {
		n.payload = []byte{0xff}
	} else {
		n.payload = []byte{0x00}
	}
	return n
}

// Bool returns n's boolean value: any nonzero payload octet is true. It
// returns ber.ErrInvalidConstructedRead if n is a constructed node, whose
// content is children rather than primitive octets.
func (n *Node) Bool() (bool, error) {
	if n.IsConstructed() {
		return false, ber.ErrInvalidConstructedRead
	}
	return len(n.payload) > 0 && n.payload[0] != 0x00, nil
}

// NewInteger builds a universal Integer leaf holding the minimum-length
// two's-complement big-endian encoding of v.
func NewInteger(v int64) *Node {
	n := &Node{Kind: KindInteger, Header: header(ber.ClassUniversal, ber.TagInteger, false)}
	n.payload = encodeSignedInt(v)
	return n
}

// NewEnumerated builds a universal Enumerated leaf: logically the same
// encoding as Integer, but restricted to 32-bit values.
func NewEnumerated(v int32) *Node {
	n := &Node{Kind: KindEnumerated, Header: header(ber.ClassUniversal, ber.TagEnumerated, false)}
	n.payload = encodeSignedInt(int64(v))
	return n
}

// Int returns n's decoded two's-complement value. If the payload is wider
// than 64 bits, the sentinel -1 is returned (the payload itself is left
// untouched; Payload() still holds the original bytes). It returns
// ber.ErrInvalidConstructedRead if n is a constructed node.
func (n *Node) Int() (int64, error) {
	if n.IsConstructed() {
		return 0, ber.ErrInvalidConstructedRead
	}
	return decodeSignedInt(n.payload), nil
}

func encodeSignedInt(v int64) []byte {
	if v == 0 {
		return []byte{0x00}
	}
	if v > 0 {
		u := uint64(v)
		b := bigEndianMinimal(u)
		if b[0]&0x80 != 0 {
			b = append([]byte{0x00}, b...)
		}
		return b
	}
	u := ^uint64(v) // == -v-1, computed this way so v == math.MinInt64 does not overflow
	b := bigEndianMinimal(u)
	if b[0]&0x80 != 0 {
		b = append([]byte{0x00}, b...) // becomes the 0xFF sign octet after the complement below
	}
	for i := range b {
		b[i] ^= 0xff
	}
	return b
}

func bigEndianMinimal(u uint64) []byte {
	var buf [8]byte
	for i := 7; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	i := 0
	for i < 7 && buf[i] == 0 {
		i++
	}
	out := make([]byte, 8-i)
	copy(out, buf[i:])
	return out
}

func decodeSignedInt(payload []byte) int64 {
	if len(payload) == 0 {
		return 0
	}
	if len(payload) > 8 {
		return -1
	}
	neg := payload[0]&0x80 != 0
	var u uint64
	for _, b := range payload {
		if neg {
			b = ^b
		}
		u = u<<8 | uint64(b)
	}
	if neg {
		return -int64(u) - 1
	}
	return int64(u)
}

// NewText builds a Text leaf holding the UTF-8 octets of s. tag defaults to
// ber.TagUTF8String when zero; pass any of the universal string tags to use
// a different one. indefinite controls whether the leaf is written with a
// trailing 00 00 terminator instead of a length octet.
func NewText(s string, tag uint32, indefinite bool) *Node {
	if tag == 0 {
		tag = ber.TagUTF8String
	}
	n := &Node{Kind: KindText, Header: header(ber.ClassUniversal, tag, false)}
	n.Header.IsDefinite = !indefinite
	if s != "" {
		n.payload = []byte(s)
	}
	return n
}

// Text returns n's payload decoded as UTF-8. It returns
// ber.ErrInvalidConstructedRead if n is a constructed node.
func (n *Node) Text() (string, error) {
	if n.IsConstructed() {
		return "", ber.ErrInvalidConstructedRead
	}
	return string(n.payload), nil
}

// NewSequence builds an empty Sequence container.
func NewSequence(indefinite bool) *Node {
	n := &Node{Kind: KindSequence, Header: header(ber.ClassUniversal, ber.TagSequence, true)}
	n.Header.IsDefinite = !indefinite
	return n
}

// NewSet builds an empty Set container. This library treats Set as
// order-preserving for round-trip equality rather than performing DER SET
// canonicalization.
func NewSet(indefinite bool) *Node {
	n := &Node{Kind: KindSet, Header: header(ber.ClassUniversal, ber.TagSet, true)}
	n.Header.IsDefinite = !indefinite
	return n
}

// NewRoot builds a root-type node: it has no header of its own and
// serializes as the concatenation of its children's encodings.
func NewRoot() *Node {
	return &Node{Kind: KindRoot, Header: tlv.Header{Identifier: tlv.Identifier{Constructed: true}, IsDefinite: true}}
}

// NewGeneric builds a node for any (class, tag) not given a typed
// constructor above, carrying raw payload octets.
func NewGeneric(class ber.Class, tag uint32, constructed bool, indefinite bool) *Node {
	n := &Node{Kind: KindGeneric, Header: header(class, tag, constructed)}
	n.Header.IsDefinite = !indefinite
	return n
}

// IsEndSession reports whether n is a Sequence containing at least one
// Application-class child with no children of its own — the structural
// sentinel this module uses to signal a graceful disconnect.
func (n *Node) IsEndSession() bool {
	if n.Kind != KindSequence {
		return false
	}
	for _, c := range n.children {
		if c.Header.Identifier.Class == ber.ClassApplication && len(c.children) == 0 {
			return true
		}
	}
	return false
}

// MessageID returns the session-level request id carried by a Sequence
// whose first child is an Integer, or -1 if n does not match that shape.
func (n *Node) MessageID() int64 {
	if n.Kind != KindSequence || len(n.children) == 0 {
		return -1
	}
	first := n.children[0]
	if first.Kind != KindInteger {
		return -1
	}
	v, err := first.Int()
	if err != nil {
		return -1
	}
	return v
}

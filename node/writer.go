package node

import (
	"bufio"

	"bertlv.dev/ber/tlv"
)

// CalculatePayloadLength runs a two-pass sizing algorithm over n's subtree:
// a post-order pass fills in every header's PayloadLength/HeaderLength
// bottom-up (so a definite parent's length correctly accounts for an
// indefinite child's trailing 00 00), followed by a pre-order pass
// resetting every indefinite node's PayloadLength back to -1, since
// indefinite nodes carry no length on the wire.
func CalculatePayloadLength(n *Node) {
	// Leaves first: every child's HeaderLength/PayloadLength is final by the
	// time its parent sums them.
	for cur := range DFS(n) {
		sum := int32(cur.payloadLen())
		for _, c := range cur.children {
			sum += c.Header.HeaderLength + c.Header.PayloadLength
			if !c.Header.IsDefinite {
				sum += 2
			}
		}
		if cur.Kind == KindRoot {
			continue
		}
		cur.Header.PayloadLength = sum
		length := sum
		if !cur.Header.IsDefinite {
			length = tlv.LengthIndefinite
		}
		cur.Header.HeaderLength = tlv.SizeOf(cur.Header.Identifier, length)
	}
	for cur := range DFSR(n) {
		if !cur.Header.IsDefinite {
			cur.Header.PayloadLength = tlv.LengthIndefinite
		}
	}
}

// Write serializes n (and its subtree) to w, running CalculatePayloadLength
// first. Root-type nodes omit their own header and serialize as the
// concatenation of their children's encodings.
func Write(w *bufio.Writer, n *Node) error {
	CalculatePayloadLength(n)
	return writeNode(w, n)
}

func writeNode(w *bufio.Writer, n *Node) error {
	if n.Kind == KindRoot {
		for _, c := range n.children {
			if err := writeNode(w, c); err != nil {
				return err
			}
		}
		return nil
	}
	if _, err := n.Header.WriteTo(w); err != nil {
		return err
	}
	if n.Kind == KindEndOfContent {
		return nil
	}
	if n.Header.Identifier.Constructed {
		for _, c := range n.children {
			if err := writeNode(w, c); err != nil {
				return err
			}
		}
		if !n.Header.IsDefinite {
			return writeEndOfContent(w)
		}
		return nil
	}
	if len(n.payload) > 0 {
		if _, err := w.Write(n.payload); err != nil {
			return err
		}
	}
	if !n.Header.IsDefinite {
		return writeEndOfContent(w)
	}
	return nil
}

func writeEndOfContent(w *bufio.Writer) error {
	if err := w.WriteByte(0x00); err != nil {
		return err
	}
	return w.WriteByte(0x00)
}

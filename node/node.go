// Package node implements the tagged tree model of a decoded BER encoding: a
// Node carries a BER header plus either raw payload octets (primitive) or
// an ordered sequence of children (constructed), together with typed leaf
// accessors (Boolean, Integer, Enumerated, Text, Null, EndOfContent) and the
// Sequence/Set containers.
//
// The tree is built and read directly by the caller rather than through
// reflection-driven struct marshalling.
package node

import (
	"bytes"
	"fmt"

	"bertlv.dev/ber/tlv"
)

// Kind discriminates the node variants this package gives typed support to.
// A Node's Kind is derived from its header's class and tag number at
// construction or by the reader; it does not change afterward.
type Kind uint8

const (
	KindGeneric Kind = iota
	KindRoot
	KindEndOfContent
	KindBoolean
	KindInteger
	KindEnumerated
	KindNull
	KindText
	KindSequence
	KindSet
)

// Node is one entity in the tree: a header, optionally a parent
// back-reference, and exactly one of payload or children.
//
// A Root-kind node has no header of its own: it serializes as the
// concatenation of its children's encodings.
type Node struct {
	Kind   Kind
	Header tlv.Header

	parent   *Node
	payload  []byte
	children []*Node

	// BytesRead is header_length + payload_consumed, as recorded by the
	// reader so that a parent constructed reader can advance past this node.
	BytesRead int64
}

// Parent returns n's parent, or nil if n is the tree root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns n's children in order. The returned slice must not be
// mutated; use Append to modify the tree.
func (n *Node) Children() []*Node { return n.children }

// Payload returns n's raw content octets. It is nil for constructed nodes.
func (n *Node) Payload() []byte { return n.payload }

// IsConstructed reports whether n carries children rather than a payload.
func (n *Node) IsConstructed() bool { return n.Header.Identifier.Constructed }

// Append adds child to the end of n's child list and sets child's parent to
// n. It panics if n is not constructed.
func (n *Node) Append(child *Node) {
	if !n.IsConstructed() && n.Kind != KindRoot {
		panic("node: Append on a primitive node")
	}
	child.parent = n
	n.children = append(n.children, child)
}

// SetPayload replaces n's content octets. It panics if n is constructed.
func (n *Node) SetPayload(p []byte) {
	if n.IsConstructed() {
		panic("node: SetPayload on a constructed node")
	}
	n.payload = p
}

// Level returns the node's depth in the tree: 0 for the root, 1 for its
// direct children, and so on.
func (n *Node) Level() int {
	l := 0
	for p := n.parent; p != nil; p = p.parent {
		l++
	}
	return l
}

// payloadLen implements the leaf size used by the sizing pass: the octets
// this node itself contributes, excluding any child headers.
func (n *Node) payloadLen() int {
	if n.IsConstructed() {
		return 0
	}
	return len(n.payload)
}

// Equal reports whether n and other are structurally equal: same header
// (identifier, definiteness), same payload bytes or same child sequence
// compared recursively.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Kind != other.Kind {
		return false
	}
	if n.Header.Identifier != other.Header.Identifier {
		return false
	}
	if n.Header.IsDefinite != other.Header.IsDefinite {
		return false
	}
	if n.IsConstructed() != other.IsConstructed() {
		return false
	}
	if n.IsConstructed() {
		if len(n.children) != len(other.children) {
			return false
		}
		for i, c := range n.children {
			if !c.Equal(other.children[i]) {
				return false
			}
		}
		return true
	}
	return bytes.Equal(n.payload, other.payload)
}

// String returns a diagnostic representation of n, e.g.
// "Node{UNIVERSAL 16/c:12 {2 children}}" or "Node{UNIVERSAL 2/p:1 {01}}" for
// a short primitive payload.
func (n *Node) String() string {
	if n.IsConstructed() {
		return fmt.Sprintf("Node{%s {%d children}}", n.Header, len(n.children))
	}
	if len(n.payload) > 24 {
		return fmt.Sprintf("Node{%s {%d bytes}}", n.Header, len(n.payload))
	}
	return fmt.Sprintf("Node{%s {% X}}", n.Header, n.payload)
}

// Package message implements a partial-read message framer: a
// length-prefixed Message that tolerates short reads by carrying an
// incomplete read forward across subsequent calls, instead of blocking
// until a full message has arrived.
package message

import (
	"bertlv.dev/ber/node"
	"bertlv.dev/ber/tlv"
)

// Message is either complete, carrying a fully decoded node tree, or
// incomplete, carrying the header plus the bytes collected so far.
// Completion is recorded at construction by Framer; callers distinguish
// the two with IsComplete.
type Message struct {
	header tlv.Header

	complete bool
	node     *node.Node

	completionBuffer []byte
	bytesStillNeeded int32
}

// NewMessage wraps n as a complete, ready-to-send Message, for callers that
// build a node tree themselves (e.g. a reply) rather than receiving one off
// the wire through a Framer.
func NewMessage(n *node.Node) *Message {
	return &Message{header: n.Header, complete: true, node: n}
}

// IsComplete reports whether m carries a fully decoded node.
func (m *Message) IsComplete() bool { return m.complete }

// Node returns the decoded node tree of a complete Message, or nil for an
// incomplete one.
func (m *Message) Node() *node.Node { return m.node }

// Header returns the header this message was framed with.
func (m *Message) Header() tlv.Header { return m.header }

// BytesStillNeeded returns the number of additional payload bytes an
// incomplete Message needs before it can be decoded. It is 0 for a
// complete Message.
func (m *Message) BytesStillNeeded() int32 { return m.bytesStillNeeded }

// ID returns the session-level request id carried by the message: if the
// payload is a Sequence whose first child is an Integer, that integer;
// otherwise -1. It is only meaningful for a complete Message.
func (m *Message) ID() int64 {
	if !m.complete || m.node == nil {
		return -1
	}
	return m.node.MessageID()
}

// IsEndSession reports whether m signals a graceful disconnect: the
// payload is a Sequence containing at least one Application-class child
// with no children of its own.
func (m *Message) IsEndSession() bool {
	return m.complete && m.node != nil && m.node.IsEndSession()
}

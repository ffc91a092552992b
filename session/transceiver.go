// Package session implements a per-connection receive loop (Session) and a
// client-or-server active endpoint (Endpoint) that can be composed into the
// router/proxy layer in package router.
//
// Grounded on the net.Conn-wrapping style of pascaldekloe-websocket's Conn
// (embedding net.Conn, guarding reads with a mutex, tracking pending-read
// state on the struct) adapted from a single-protocol WebSocket connection
// to a pluggable Transceiver abstraction over a BER message stream.
package session

import (
	"bufio"
	"errors"
	"net"

	"bertlv.dev/ber"
	"bertlv.dev/ber/message"
	"bertlv.dev/ber/node"
)

// Status is the outcome of one Transceiver.Receive call.
type Status int

const (
	// Over indicates part of a message was received; call Receive again.
	Over Status = iota
	// OverAndOut indicates a full packet is ready for delivery.
	OverAndOut
	// Fail indicates the session should disconnect.
	Fail
)

func (s Status) String() string {
	switch s {
	case Over:
		return "Over"
	case OverAndOut:
		return "OverAndOut"
	case Fail:
		return "Fail"
	default:
		return "Status(?)"
	}
}

// Transceiver is the per-packet-type codec facade a Session uses to
// receive and transmit packets of type T. Receive's error return is only
// meaningful when the Status is Fail: it carries the cause (a protocol
// error from the codec, a real I/O error, or ber.ErrCleanEOF for a
// graceful disconnect) on to EventHandler.ExceptionThrown.
type Transceiver[T any] interface {
	Receive(conn net.Conn) (Status, T, error)
	Transmit(conn net.Conn, packet T) error
}

// Binary is the simplest Transceiver: one read into a per-session reusable
// buffer, every read completing a packet.
type Binary struct {
	buf []byte
}

// NewBinary returns a Binary transceiver reading up to bufSize bytes per
// call.
func NewBinary(bufSize int) *Binary { return &Binary{buf: make([]byte, bufSize)} }

// Receive reads once into the transceiver's reusable buffer and reports a
// copy of whatever bytes arrived as one OverAndOut packet: a Binary
// transceiver never frames messages. A read-deadline timeout (Session's
// stand-in for a blocking wait for data, see session.go) is reported as
// Over with no data, and any other read error as Fail.
func (b *Binary) Receive(conn net.Conn) (Status, []byte, error) {
	n, err := conn.Read(b.buf)
	if err != nil {
		if isTimeout(err) {
			return Over, nil, nil
		}
		return Fail, nil, err
	}
	return OverAndOut, append([]byte(nil), b.buf[:n]...), nil
}

// Transmit writes packet to conn in full.
func (b *Binary) Transmit(conn net.Conn, packet []byte) error {
	_, err := conn.Write(packet)
	return err
}

// Packet is the zero-copy payload BinaryPacket hands to handlers: the
// number of valid bytes plus a reference to the buffer they live in, so a
// handler can inspect Buf[:Length] without a copy.
type Packet struct {
	Buf    []byte
	Length int
}

// BinaryPacket is like Binary but reports length alongside a buffer
// reference instead of a freshly sliced copy, for handlers that want to
// avoid a per-message allocation.
type BinaryPacket struct {
	buf []byte
}

// NewBinaryPacket returns a BinaryPacket transceiver with bufSize capacity.
func NewBinaryPacket(bufSize int) *BinaryPacket {
	return &BinaryPacket{buf: make([]byte, bufSize)}
}

func (b *BinaryPacket) Receive(conn net.Conn) (Status, Packet, error) {
	n, err := conn.Read(b.buf)
	if err != nil {
		if isTimeout(err) {
			return Over, Packet{}, nil
		}
		return Fail, Packet{}, err
	}
	return OverAndOut, Packet{Buf: b.buf, Length: n}, nil
}

func (b *BinaryPacket) Transmit(conn net.Conn, packet Packet) error {
	_, err := conn.Write(packet.Buf[:packet.Length])
	return err
}

// String is Binary framing with a UTF-8 decode on top.
type String struct {
	bin *Binary
}

// NewString returns a String transceiver reading up to bufSize bytes per
// call.
func NewString(bufSize int) *String { return &String{bin: NewBinary(bufSize)} }

func (s *String) Receive(conn net.Conn) (Status, string, error) {
	status, buf, err := s.bin.Receive(conn)
	if status != OverAndOut {
		return status, "", err
	}
	return OverAndOut, string(buf), nil
}

func (s *String) Transmit(conn net.Conn, packet string) error {
	return s.bin.Transmit(conn, []byte(packet))
}

// X690 is the BER message transceiver: it uses the message.Framer to
// implement partial-read recovery, returning Over while a message is still
// incomplete and OverAndOut once a full node tree has been decoded.
type X690 struct {
	framer *message.Framer
	bufio  *bufio.Writer

	pending *message.Message
}

// NewX690 returns an X690 transceiver framing messages read from and
// written to conn, with an initial receive buffer of bufSize bytes.
func NewX690(conn net.Conn, bufSize int) *X690 {
	return &X690{framer: message.NewFramer(conn, bufSize), bufio: bufio.NewWriter(conn)}
}

// Receive drives the framer's ReadBuffered/Continue pair: the first call
// for a given message frames the header and as much payload as fits in one
// read; if that is the whole payload, it returns OverAndOut immediately,
// otherwise Over with the message carried internally until a later Receive
// call completes it. On Fail, the returned error distinguishes a malformed
// or truncated peer message (wrapping one of the ber.ErrXxx sentinels) from
// a graceful disconnect (ber.ErrCleanEOF) or a genuine I/O error.
func (x *X690) Receive(conn net.Conn) (Status, *message.Message, error) {
	var m *message.Message
	var err error
	if x.pending != nil {
		m, err = x.framer.Continue(x.pending)
	} else {
		m, err = x.framer.ReadBuffered()
	}
	if err != nil {
		if isTimeout(err) {
			return Over, x.pending, nil
		}
		x.pending = nil
		return Fail, nil, err
	}
	if m == nil {
		return Fail, nil, ber.ErrCleanEOF
	}
	if !m.IsComplete() {
		x.pending = m
		return Over, m, nil
	}
	x.pending = nil
	return OverAndOut, m, nil
}

// Transmit runs node.Write over conn for packet's decoded node tree.
func (x *X690) Transmit(conn net.Conn, packet *message.Message) error {
	if err := node.Write(x.bufio, packet.Node()); err != nil {
		return err
	}
	return x.bufio.Flush()
}

// isTimeout reports whether err is, or wraps, a net.Error reporting a
// read-deadline timeout, i.e. Session's poll-interval probe finding no data
// yet rather than a genuine connection failure.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

package router

import (
	"bufio"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bertlv.dev/ber"
	"bertlv.dev/ber/message"
	"bertlv.dev/ber/node"
	"bertlv.dev/ber/session"
)

// recordingHandler records every router-level callback under a mutex, for
// assertions from the test goroutine while the router's sessions run on
// their own goroutines.
type recordingHandler struct {
	mu             sync.Mutex
	fromClient     []int // target indices a message was forwarded to
	serverMessages int
	otherMessages  int
	closed         int
}

func (h *recordingHandler) ClientBeforeSend(_ *session.Session, i int, m *message.Message) (*message.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fromClient = append(h.fromClient, i)
	return m, true
}

func (h *recordingHandler) ServerMessageReceived(_ *session.Session, _ int, m *message.Message) (*message.Message, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serverMessages++
	return m, true
}

func (h *recordingHandler) OtherServerMessageReceived(_ *session.Session, _ int, _ *message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.otherMessages++
}

func (h *recordingHandler) SessionClosed(*session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *recordingHandler) snapshot() (fromClient []int, serverMessages, otherMessages, closed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.fromClient...), h.serverMessages, h.otherMessages, h.closed
}

// echoTarget accepts one connection on a local listener and, for every node
// it reads, writes it straight back (an echo server standing in for a real
// target endpoint).
func echoTarget(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fr := message.NewFramer(conn, ber.ReceiveBufferLength)
		w := bufio.NewWriter(conn)
		for {
			m, err := fr.ReadBuffered()
			if err != nil || m == nil {
				return
			}
			for !m.IsComplete() {
				m, err = fr.Continue(m)
				if err != nil {
					return
				}
			}
			if err := node.Write(w, m.Node()); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}()
	return ln
}

// closingTarget accepts one connection and closes it immediately, standing
// in for a target that ends the session as soon as the client connects.
func closingTarget(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()
	return ln
}

// startRouter spawns r.Serve on its own goroutine and returns the address
// its common endpoint ends up listening on.
func startRouter(t *testing.T, ctx context.Context, r *Router) string {
	t.Helper()
	listening := make(chan string, 1)
	go func() {
		r.common = session.NewEndpoint(&commonHandler{r: r}, r.opts...)
		srv, err := r.common.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			close(listening)
			return
		}
		listening <- srv.Addr().String()
		srv.Serve(ctx)
	}()
	addr, ok := <-listening
	require.True(t, ok, "router failed to listen")
	return addr
}

// TestRouter_ServeEndToEnd drives a real Router.Serve over loopback TCP: a
// client connects to the router's common endpoint, the router dials both
// echo targets, route 0 is selected, and a message sent by the client comes
// back once via ServerMessageReceived.
func TestRouter_ServeEndToEnd(t *testing.T) {
	ln0 := echoTarget(t)
	defer ln0.Close()
	ln1 := echoTarget(t)
	defer ln1.Close()

	handler := &recordingHandler{}
	r := NewRouter(
		[]Target{{Network: "tcp", Address: ln0.Addr().String()}, {Network: "tcp", Address: ln1.Addr().String()}},
		handler, nil, session.WithPollInterval(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startRouter(t, ctx, r)

	clientEndpoint := session.NewEndpoint(session.NoopHandler{}, session.WithPollInterval(time.Millisecond))
	cs, err := clientEndpoint.Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	defer cs.Close()

	// Both endpoints number their first session 1, so cs.ID doubles as the
	// router-side common session id here.
	require.Eventually(t, func() bool {
		_, found := r.lookup(cs.ID)
		return found
	}, time.Second, time.Millisecond, "router did not register the client's routed session")

	r.SetRoute(cs.ID, 0, false)

	leaf := node.NewInteger(77)
	require.NoError(t, cs.Send(message.NewMessage(leaf)))

	require.Eventually(t, func() bool {
		_, serverMessages, _, _ := handler.snapshot()
		return serverMessages == 1
	}, 2*time.Second, 5*time.Millisecond, "expected exactly one ServerMessageReceived from the routed target")

	fromClient, _, otherMessages, _ := handler.snapshot()
	require.Equal(t, []int{0}, fromClient)
	require.Equal(t, 0, otherMessages)
}

// TestRouter_EndSessionClosesBothSides verifies that, in a router with two
// targets, a Sequence{Application(empty)} message from the client closes
// both target sessions and raises SessionClosed for the common session
// exactly once.
func TestRouter_EndSessionClosesBothSides(t *testing.T) {
	ln0 := echoTarget(t)
	defer ln0.Close()
	ln1 := echoTarget(t)
	defer ln1.Close()

	handler := &recordingHandler{}
	r := NewRouter(
		[]Target{{Network: "tcp", Address: ln0.Addr().String()}, {Network: "tcp", Address: ln1.Addr().String()}},
		handler, nil, session.WithPollInterval(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startRouter(t, ctx, r)

	clientEndpoint := session.NewEndpoint(session.NoopHandler{}, session.WithPollInterval(time.Millisecond))
	cs, err := clientEndpoint.Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	defer cs.Close()

	require.Eventually(t, func() bool {
		_, found := r.lookup(cs.ID)
		return found
	}, time.Second, time.Millisecond)
	r.SetRoute(cs.ID, 0, true) // broadcast so both targets see the end-session message

	end := node.NewSequence(false)
	end.Append(node.NewGeneric(ber.ClassApplication, 0, false, false))
	require.NoError(t, cs.Send(message.NewMessage(end)))

	require.Eventually(t, func() bool {
		_, _, _, closed := handler.snapshot()
		return closed == 1
	}, 2*time.Second, 5*time.Millisecond, "expected SessionClosed exactly once")

	_, _, _, closed := handler.snapshot()
	require.Equal(t, 1, closed)

	require.Eventually(t, func() bool {
		_, found := r.lookup(cs.ID)
		return !found
	}, time.Second, time.Millisecond, "router should drop the routed session after shutdown")
}

// TestRouter_TargetDisconnectClosesCommon verifies the other direction of
// end-session propagation: a target dropping its connection right after
// accepting it tears the whole routed session down and fires SessionClosed
// exactly once.
func TestRouter_TargetDisconnectClosesCommon(t *testing.T) {
	ln := closingTarget(t)
	defer ln.Close()

	handler := &recordingHandler{}
	r := NewRouter(
		[]Target{{Network: "tcp", Address: ln.Addr().String()}},
		handler, nil, session.WithPollInterval(time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr := startRouter(t, ctx, r)

	clientEndpoint := session.NewEndpoint(session.NoopHandler{}, session.WithPollInterval(time.Millisecond))
	cs, err := clientEndpoint.Dial(ctx, "tcp", addr)
	require.NoError(t, err)
	defer cs.Close()

	require.Eventually(t, func() bool {
		_, _, _, closed := handler.snapshot()
		return closed == 1
	}, 2*time.Second, 5*time.Millisecond, "expected SessionClosed after the target dropped")
}

// TestRouter_BroadcastOrderReversesWhenRouteNonzero exercises the broadcast
// ordering rule directly against routedSession.forward, without standing up
// real network sessions: targets is only used for its length here (sendTo's
// actual Session.Send is unreachable because every ClientBeforeSend call
// below returns ok=false).
func TestRouter_BroadcastOrderReversesWhenRouteNonzero(t *testing.T) {
	rs := &routedSession{targets: make([]*session.Session, 3), Route: 1, IsBroadcast: true}

	var order []int
	handler := &funcHandler{clientBeforeSend: func(_ *session.Session, i int, m *message.Message) (*message.Message, bool) {
		order = append(order, i)
		return m, false
	}}
	rs.forward(handler, message.NewMessage(node.NewInteger(1)))
	require.Equal(t, []int{2, 1, 0}, order)

	order = nil
	rs.Route = 0
	rs.forward(handler, message.NewMessage(node.NewInteger(1)))
	require.Equal(t, []int{0, 1, 2}, order)
}

// funcHandler adapts a bare ClientBeforeSend function into EventHandler for
// tests that only care about forwarding order, not the other callbacks.
type funcHandler struct {
	clientBeforeSend func(*session.Session, int, *message.Message) (*message.Message, bool)
}

func (f *funcHandler) ClientBeforeSend(common *session.Session, i int, m *message.Message) (*message.Message, bool) {
	return f.clientBeforeSend(common, i, m)
}
func (f *funcHandler) ServerMessageReceived(_ *session.Session, _ int, m *message.Message) (*message.Message, bool) {
	return m, true
}
func (f *funcHandler) OtherServerMessageReceived(*session.Session, int, *message.Message) {}
func (f *funcHandler) SessionClosed(*session.Session)                                     {}

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bertlv.dev/ber/message"
	"bertlv.dev/ber/node"
)

// endpointRecorder is an EndpointHandler that records every lifecycle
// callback under a mutex, for assertions from the test goroutine while
// Server.Serve and each spawned Session.Loop run on their own.
type endpointRecorder struct {
	mu       sync.Mutex
	spawned  int
	closed   int
	received []*message.Message
}

func (h *endpointRecorder) SessionSpawned(*Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spawned++
}

func (h *endpointRecorder) SessionClosed(*Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
}

func (h *endpointRecorder) MessageReceived(_ *Session, m *message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.received = append(h.received, m)
}

func (h *endpointRecorder) End(*Session) {}

func (h *endpointRecorder) ExceptionThrown(*Session, error) {}

func (h *endpointRecorder) counts() (spawned, closed, received int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spawned, h.closed, len(h.received)
}

func TestEndpoint_ServerAcceptsAndReceivesAMessage(t *testing.T) {
	serverHandler := &endpointRecorder{}
	server := NewEndpoint(serverHandler, WithPollInterval(time.Millisecond))
	srv, err := server.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	clientHandler := &endpointRecorder{}
	client := NewEndpoint(clientHandler, WithPollInterval(time.Millisecond))
	cs, err := client.Dial(ctx, "tcp", srv.ln.Addr().String())
	require.NoError(t, err)
	defer cs.Close()

	require.Eventually(t, func() bool {
		spawned, _, _ := serverHandler.counts()
		return spawned == 1
	}, time.Second, time.Millisecond, "expected the server to spawn one session")

	leaf := node.NewInteger(123)
	require.NoError(t, cs.Send(message.NewMessage(leaf)))

	require.Eventually(t, func() bool {
		_, _, received := serverHandler.counts()
		return received == 1
	}, time.Second, time.Millisecond, "expected the server to receive the message")

	serverHandler.mu.Lock()
	got := serverHandler.received[0]
	serverHandler.mu.Unlock()
	require.True(t, got.Node().Equal(leaf))

	require.Len(t, server.Sessions(), 1)
}

// panickyHandler panics on every received message, standing in for a buggy
// user callback.
type panickyHandler struct {
	endpointRecorder
}

func (h *panickyHandler) MessageReceived(*Session, *message.Message) { panic("boom") }

func TestEndpoint_HandlerPanicClosesOnlyThatSession(t *testing.T) {
	h := &panickyHandler{}
	server := NewEndpoint(h, WithPollInterval(time.Millisecond))
	srv, err := server.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	client := NewEndpoint(&endpointRecorder{}, WithPollInterval(time.Millisecond))
	cs, err := client.Dial(ctx, "tcp", srv.ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, cs.Send(message.NewMessage(node.NewInteger(1))))

	require.Eventually(t, func() bool {
		_, closed, _ := h.counts()
		return closed == 1
	}, time.Second, time.Millisecond, "expected the panicking session to be closed")

	// The endpoint survives its handler's panic: another client can still
	// connect and spawn a fresh session.
	cs2, err := client.Dial(ctx, "tcp", srv.ln.Addr().String())
	require.NoError(t, err)
	defer cs2.Close()
	require.Eventually(t, func() bool {
		spawned, _, _ := h.counts()
		return spawned == 2
	}, time.Second, time.Millisecond, "expected the endpoint to keep accepting after a handler panic")
}

func TestEndpoint_ClosingServerClosesItsSessions(t *testing.T) {
	serverHandler := &endpointRecorder{}
	server := NewEndpoint(serverHandler, WithPollInterval(time.Millisecond))
	srv, err := server.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	clientHandler := &endpointRecorder{}
	client := NewEndpoint(clientHandler, WithPollInterval(time.Millisecond))
	_, err = client.Dial(ctx, "tcp", srv.ln.Addr().String())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		spawned, _, _ := serverHandler.counts()
		return spawned == 1
	}, time.Second, time.Millisecond, "expected the server to spawn one session")

	require.NoError(t, srv.Close())

	require.Eventually(t, func() bool {
		_, closed, _ := serverHandler.counts()
		return closed == 1
	}, time.Second, time.Millisecond, "expected SessionClosed to fire after the server closes")
}

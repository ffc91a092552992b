package session

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bertlv.dev/ber"
	"bertlv.dev/ber/message"
)

// EventHandler receives a session's lifecycle callbacks: MessageReceived,
// End, and ExceptionThrown. Handlers run synchronously on the session's own
// receive-loop goroutine — they must not block on the same session.
type EventHandler interface {
	MessageReceived(s *Session, m *message.Message)
	End(s *Session)
	ExceptionThrown(s *Session, err error)
}

// NoopHandler is an EventHandler and EndpointHandler whose methods do
// nothing, for callers that only care about some of the callbacks; embed
// it and override what you need.
type NoopHandler struct{}

func (NoopHandler) MessageReceived(*Session, *message.Message) {}
func (NoopHandler) End(*Session)                               {}
func (NoopHandler) ExceptionThrown(*Session, error)            {}
func (NoopHandler) SessionSpawned(*Session)                    {}
func (NoopHandler) SessionClosed(*Session)                     {}

// Session owns a single connected socket plus a running receive loop. In
// place of a thread blocked waiting for data to arrive, it runs a goroutine
// that polls conn.SetReadDeadline on a short interval, cancellable via
// context.
type Session struct {
	ID   int64
	conn net.Conn

	transceiver Transceiver[*message.Message]
	handler     EventHandler
	log         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pollInterval time.Duration
}

// Option configures a Session or Endpoint at construction.
type Option func(*sessionConfig)

type sessionConfig struct {
	log            *zap.Logger
	bufSize        int
	pollInterval   time.Duration
	tlsConfig      *tls.Config
	keepAlive      time.Duration
	connectTimeout time.Duration
}

func defaultConfig() sessionConfig {
	return sessionConfig{
		log:            zap.NewNop(),
		bufSize:        ber.ReceiveBufferLength,
		pollInterval:   time.Millisecond,
		keepAlive:      ber.KeepAliveTime,
		connectTimeout: ber.ConnectTimeout,
	}
}

// WithLogger sets the *zap.Logger a Session or Endpoint reports structured
// events to. The default is zap.NewNop(), so call sites never need to
// nil-check the logger before using it.
func WithLogger(log *zap.Logger) Option {
	return func(c *sessionConfig) { c.log = log }
}

// WithBufferSize overrides ber.ReceiveBufferLength for the transceiver's
// per-session receive buffer.
func WithBufferSize(n int) Option {
	return func(c *sessionConfig) { c.bufSize = n }
}

// WithPollInterval overrides the read-deadline poll interval Loop uses to
// check for new data without blocking indefinitely.
func WithPollInterval(d time.Duration) Option {
	return func(c *sessionConfig) { c.pollInterval = d }
}

// WithTLSConfig authenticates the underlying connection with TLS inline at
// session construction, before NewSession returns.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *sessionConfig) { c.tlsConfig = cfg }
}

// NewSession wraps conn in a Session identified by id, dispatching events
// to handler. If opts configure TLS, the connection is authenticated
// before NewSession returns.
func NewSession(ctx context.Context, id int64, conn net.Conn, handler EventHandler, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.tlsConfig != nil {
		tconn := tls.Client(conn, cfg.tlsConfig)
		if cfg.tlsConfig.GetCertificate != nil || len(cfg.tlsConfig.Certificates) > 0 {
			tconn = tls.Server(conn, cfg.tlsConfig)
		}
		if err := tconn.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		conn = tconn
	}
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		ID:           id,
		conn:         conn,
		transceiver:  NewX690(conn, cfg.bufSize),
		handler:      handler,
		log:          cfg.log,
		ctx:          sctx,
		cancel:       cancel,
		pollInterval: cfg.pollInterval,
	}, nil
}

// Loop runs the receive loop until the connection fails, the session's
// context is cancelled, or an end-session message is observed. It is
// intended to run on its own goroutine; Loop returns once the session has
// ended and does not itself close the connection (see Close).
//
// Each iteration arms a short read deadline before calling the
// transceiver's Receive: Go's net.Conn has no "check readiness without
// consuming" call, so Receive is simply retried on a poll-interval cadence
// and a deadline timeout is treated as Over with no data rather than Fail
// (see Transceiver implementations' isTimeout checks in transceiver.go).
// On Fail, the error Receive returns — distinguishing a malformed peer
// message from a graceful disconnect or a genuine I/O failure — is handed
// to ExceptionThrown annotated with the receive loop's stack, so a handler
// formatting it with %+v sees where in the session the failure surfaced.
func (s *Session) Loop() {
	defer s.handler.End(s)
	for {
		if s.ctx.Err() != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.pollInterval))
		status, m, err := s.transceiver.Receive(s.conn)
		switch status {
		case OverAndOut:
			s.handler.MessageReceived(s, m)
			if m.IsEndSession() {
				return
			}
		case Over:
			// either no data yet (deadline hit) or a partial message
			// carried internally by the transceiver; either way, loop.
		case Fail:
			s.handler.ExceptionThrown(s, errors.WithStack(err))
			return
		}
	}
}

// Send transmits m over the session's connection using its transceiver.
func (s *Session) Send(m *message.Message) error {
	return s.transceiver.Transmit(s.conn, m)
}

// Close cancels the session's context and closes its connection.
func (s *Session) Close() error {
	s.cancel()
	return s.conn.Close()
}

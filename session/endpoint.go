package session

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bertlv.dev/ber"
)

// EndpointHandler adds the endpoint-level callbacks to EventHandler:
// SessionSpawned fires before a newly accepted session's Loop starts,
// SessionClosed fires once it has ended.
type EndpointHandler interface {
	EventHandler
	SessionSpawned(s *Session)
	SessionClosed(s *Session)
}

// Endpoint is a local address hosting sessions: a Server binds and
// listens, accepting any number of connections; Dial opens one outbound
// session per call. Every session gets a unique int64 id within its endpoint, tracked
// in a lock-free concurrent map so SessionSpawned/SessionClosed and
// concurrent Sessions() lookups never contend with the receive loops.
type Endpoint struct {
	sessions *xsync.Map[int64, *Session]
	nextID   atomic.Int64

	handler EndpointHandler
	opts    []Option
	log     *zap.Logger
}

// NewEndpoint constructs an Endpoint dispatching lifecycle events to
// handler.
func NewEndpoint(handler EndpointHandler, opts ...Option) *Endpoint {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Endpoint{
		sessions: xsync.NewMap[int64, *Session](),
		handler:  handler,
		opts:     opts,
		log:      cfg.log,
	}
}

// Session looks up a tracked session by id.
func (e *Endpoint) Session(id int64) (*Session, bool) { return e.sessions.Load(id) }

// Sessions returns a snapshot of every currently tracked session.
func (e *Endpoint) Sessions() []*Session {
	out := make([]*Session, 0, e.sessions.Size())
	e.sessions.Range(func(_ int64, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

// adopt registers a newly created session, spawns its receive loop and
// removes it from the registry once that loop exits.
func (e *Endpoint) adopt(ctx context.Context, conn net.Conn) (*Session, error) {
	id := e.nextID.Add(1)
	s, err := NewSession(ctx, id, conn, e.handler, e.opts...)
	if err != nil {
		return nil, err
	}
	e.sessions.Store(id, s)
	e.handler.SessionSpawned(s)
	e.log.Debug("session spawned", zap.Int64("session_id", id))
	go func() {
		defer func() {
			// A panic in a user-supplied handler takes down this session
			// only, never the endpoint.
			if r := recover(); r != nil {
				e.log.Error("session handler panicked", zap.Int64("session_id", id), zap.Any("panic", r))
			}
			_ = s.Close()
			e.sessions.Delete(id)
			e.handler.SessionClosed(s)
			e.log.Debug("session closed", zap.Int64("session_id", id))
		}()
		s.Loop()
	}()
	return s, nil
}

// Server is an Endpoint that listens on a local address and spawns a
// session per accepted connection.
type Server struct {
	*Endpoint
	ln net.Listener
}

// Listen binds network/address (as accepted by net.Listen), returning a
// Server ready for Serve. Binding happens here so callers can observe a
// listen failure (e.g. address already in use) before committing to the
// blocking accept loop.
func (e *Endpoint) Listen(network, address string) (*Server, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &Server{Endpoint: e, ln: ln}, nil
}

// Serve runs the accept loop until ctx is cancelled or Accept fails. The
// errgroup ties the listener's lifetime to ctx: cancelling it closes the
// listener, which in turn unblocks a pending Accept.
func (srv *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return srv.ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := srv.ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			if _, err := srv.adopt(gctx, conn); err != nil {
				srv.log.Warn("failed to adopt session", zap.Error(err))
				conn.Close()
				continue
			}
		}
	})
	return g.Wait()
}

// Addr returns the listener's local address, useful when Listen was given
// a ":0" port and the caller needs to know what port was actually bound.
func (srv *Server) Addr() net.Addr { return srv.ln.Addr() }

// Close closes the listener and every session spawned from it.
func (srv *Server) Close() error {
	err := srv.ln.Close()
	for _, s := range srv.Sessions() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Dial connects to network/address within ber.ConnectTimeout (overridable
// via WithConnectTimeout), starts its session loop and returns once the
// session is established.
func (e *Endpoint) Dial(ctx context.Context, network, address string) (*Session, error) {
	cfg := defaultConfig()
	for _, o := range e.opts {
		o(&cfg)
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.connectTimeout)
	defer cancel()
	d := net.Dialer{KeepAliveConfig: net.KeepAliveConfig{
		Enable:   true,
		Idle:     cfg.keepAlive,
		Interval: ber.KeepAliveInterval,
	}}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ber.ErrTimeout, ctx.Err())
		}
		return nil, err
	}
	s, err := e.adopt(context.Background(), conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// WithKeepAlive overrides ber.KeepAliveTime as the idle time before the
// first TCP keep-alive probe on client connections made via Dial. The
// interval between later probes stays ber.KeepAliveInterval.
func WithKeepAlive(d time.Duration) Option {
	return func(c *sessionConfig) { c.keepAlive = d }
}

// WithConnectTimeout overrides ber.ConnectTimeout as the deadline Dial
// applies to a connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *sessionConfig) { c.connectTimeout = d }
}

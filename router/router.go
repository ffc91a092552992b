// Package router composes one "common" endpoint session with N outbound
// "target" sessions, forwarding client messages to targets and target
// responses back to the client according to a per-session route selector.
package router

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"bertlv.dev/ber"
	"bertlv.dev/ber/message"
	"bertlv.dev/ber/session"
)

// EventHandler receives the router-level callbacks.
type EventHandler interface {
	// ClientBeforeSend lets a handler mutate or drop (by returning ok=false)
	// a message about to be forwarded to the target at index i.
	ClientBeforeSend(common *session.Session, i int, m *message.Message) (out *message.Message, ok bool)
	// ServerMessageReceived fires when the target whose index equals the
	// common session's current route answers. A handler may mutate the
	// message before it goes back to the client by returning it as out with
	// ok=true, or drop it entirely by returning ok=false.
	ServerMessageReceived(common *session.Session, i int, m *message.Message) (out *message.Message, ok bool)
	// OtherServerMessageReceived fires when a non-routed target answers; the
	// message is dropped after this call.
	OtherServerMessageReceived(common *session.Session, i int, m *message.Message)
	// SessionClosed fires exactly once when the common session ends, however
	// that end was triggered (client disconnect, a target's end-session
	// message, or an explicit Close).
	SessionClosed(common *session.Session)
}

// Target is one outbound connection a Router forwards to.
type Target struct {
	Network, Address string
}

// Router listens on one local endpoint (the common side) and, for each
// incoming session, opens len(targets) outbound sessions. Client→target
// forwarding is sequential in target order (or reversed, for a
// broadcasting session whose Route is nonzero).
type Router struct {
	common  *session.Endpoint
	targets []Target

	handler EventHandler
	log     *zap.Logger
	opts    []session.Option

	nextTargetID atomic.Int64

	mu       sync.Mutex
	sessions map[int64]*routedSession // keyed by common session id
}

// routedSession is the per-client-session bookkeeping the Router needs:
// the N outbound sessions plus the client's current route/broadcast
// settings (a writeable route in [0, N) and an is_broadcast flag).
type routedSession struct {
	r       *Router
	common  *session.Session
	targets []*session.Session

	mu          sync.Mutex
	Route       int
	IsBroadcast bool

	once sync.Once
}

// NewRouter constructs a Router with opts applied to every session it
// creates (common and target alike).
func NewRouter(targets []Target, handler EventHandler, log *zap.Logger, opts ...session.Option) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		targets:  targets,
		handler:  handler,
		log:      log,
		opts:     opts,
		sessions: make(map[int64]*routedSession),
	}
}

// Route returns the current target index a common session forwards
// non-broadcast messages to.
func (r *Router) Route(commonID int64) (route int, isBroadcast bool, ok bool) {
	rs, found := r.lookup(commonID)
	if !found {
		return 0, false, false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.Route, rs.IsBroadcast, true
}

// SetRoute updates the route/broadcast settings for a common session.
func (r *Router) SetRoute(commonID int64, route int, isBroadcast bool) {
	rs, found := r.lookup(commonID)
	if !found {
		return
	}
	rs.mu.Lock()
	rs.Route, rs.IsBroadcast = route, isBroadcast
	rs.mu.Unlock()
}

func (r *Router) lookup(commonID int64) (*routedSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.sessions[commonID]
	return rs, ok
}

// Serve listens on network/address for client connections and runs the
// router until ctx is cancelled.
func (r *Router) Serve(ctx context.Context, network, address string) error {
	r.common = session.NewEndpoint(&commonHandler{r: r}, r.opts...)
	srv, err := r.common.Listen(network, address)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Serve(ctx)
}

// commonHandler adapts the common endpoint's session lifecycle to the
// Router: it dials the target set when a client session is spawned and
// tears the whole group down when the common session closes.
type commonHandler struct {
	session.NoopHandler
	r *Router
}

func (h *commonHandler) SessionSpawned(common *session.Session) {
	rs := &routedSession{r: h.r, common: common}
	for i, t := range h.r.targets {
		ts, err := h.r.dialTarget(rs, i, t)
		if err != nil {
			h.r.log.Warn("router: failed to dial target", zap.Int("target", i), zap.Error(err))
			rs.shutdown(h.r.handler)
			return
		}
		rs.targets = append(rs.targets, ts)
	}
	h.r.mu.Lock()
	h.r.sessions[common.ID] = rs
	h.r.mu.Unlock()
	// Target loops start only after rs is registered, so a target failing
	// instantly cannot run shutdown's deregistration before there is
	// anything to deregister.
	for _, ts := range rs.targets {
		go ts.Loop()
	}
}

func (h *commonHandler) SessionClosed(common *session.Session) {
	rs, ok := h.r.lookup(common.ID)
	if !ok {
		return
	}
	rs.shutdown(h.r.handler)
}

func (h *commonHandler) MessageReceived(common *session.Session, m *message.Message) {
	rs, ok := h.r.lookup(common.ID)
	if !ok {
		return
	}
	rs.forward(h.r.handler, m)
}

func (h *commonHandler) ExceptionThrown(common *session.Session, err error) {
	h.r.log.Warn("router: common session error", zap.Int64("session_id", common.ID), zap.Error(err))
}

// dialTarget connects to t and builds a session whose events are routed
// back through rs at index i. The caller starts its Loop.
func (r *Router) dialTarget(rs *routedSession, i int, t Target) (*session.Session, error) {
	d := net.Dialer{Timeout: ber.ConnectTimeout}
	conn, err := d.Dial(t.Network, t.Address)
	if err != nil {
		return nil, err
	}
	id := r.nextTargetID.Add(1)
	ts, err := session.NewSession(context.Background(), id, conn, &targetHandler{r: r, rs: rs, index: i}, r.opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ts, nil
}

// targetHandler adapts one outbound target session's lifecycle to the
// Router's target→client delivery path.
type targetHandler struct {
	session.NoopHandler
	r     *Router
	rs    *routedSession
	index int
}

func (h *targetHandler) MessageReceived(ts *session.Session, m *message.Message) {
	h.rs.mu.Lock()
	route := h.rs.Route
	h.rs.mu.Unlock()
	if h.index == route {
		out, ok := h.r.handler.ServerMessageReceived(h.rs.common, h.index, m)
		if ok {
			_ = h.rs.common.Send(out)
		}
		return
	}
	h.r.handler.OtherServerMessageReceived(h.rs.common, h.index, m)
}

func (h *targetHandler) End(ts *session.Session) {
	h.rs.shutdown(h.r.handler)
}

func (h *targetHandler) ExceptionThrown(ts *session.Session, err error) {
	h.r.log.Warn("router: target session error", zap.Int("target", h.index), zap.Error(err))
}

// forward delivers one message received on the common session to its
// targets: broadcast (in [0,N) order, or reversed if Route != 0) or
// single-target, giving the handler a ClientBeforeSend veto/mutation per
// target.
func (rt *routedSession) forward(handler EventHandler, m *message.Message) {
	rt.mu.Lock()
	route, broadcast := rt.Route, rt.IsBroadcast
	rt.mu.Unlock()

	if !broadcast {
		if route < 0 || route >= len(rt.targets) {
			return
		}
		sendTo(handler, rt.common, rt.targets, route, m)
		return
	}
	order := make([]int, len(rt.targets))
	for i := range order {
		order[i] = i
	}
	if route != 0 {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}
	for _, i := range order {
		sendTo(handler, rt.common, rt.targets, i, m)
	}
}

func sendTo(handler EventHandler, common *session.Session, targets []*session.Session, i int, m *message.Message) {
	out, ok := handler.ClientBeforeSend(common, i, m)
	if !ok {
		return
	}
	_ = targets[i].Send(out)
}

// shutdown closes the common session and every target exactly once,
// however the teardown was triggered (end-session messages propagate: if
// either side observes one, the opposite side is closed too), and reports
// SessionClosed exactly once.
func (rt *routedSession) shutdown(handler EventHandler) {
	rt.once.Do(func() {
		for _, ts := range rt.targets {
			ts.Close()
		}
		rt.common.Close()
		rt.r.mu.Lock()
		delete(rt.r.sessions, rt.common.ID)
		rt.r.mu.Unlock()
		handler.SessionClosed(rt.common)
	})
}

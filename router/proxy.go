package router

import (
	"go.uber.org/zap"

	"bertlv.dev/ber/message"
	"bertlv.dev/ber/session"
)

// ProxyEventHandler is EventHandler's symmetric N=1 specialization: there
// is exactly one target, so callbacks drop the target index entirely
// instead of always passing 0.
type ProxyEventHandler interface {
	// ClientMessage lets a handler mutate or drop (ok=false) a message about
	// to be forwarded to the single target.
	ClientMessage(common *session.Session, m *message.Message) (out *message.Message, ok bool)
	// ServerMessage lets a handler mutate or drop (ok=false) a message about
	// to be sent back to the client.
	ServerMessage(common *session.Session, m *message.Message) (out *message.Message, ok bool)
	// SessionClosed fires exactly once when the common session ends.
	SessionClosed(common *session.Session)
}

// proxyAdapter satisfies router.EventHandler in terms of a
// ProxyEventHandler, dropping the always-zero target index. A Proxy's
// routedSession starts out routing to index 0 without broadcast (the zero
// values of routedSession.Route and IsBroadcast); unless SetRoute changes
// that, every target message goes to ServerMessage, and
// OtherServerMessageReceived is a no-op.
type proxyAdapter struct {
	h ProxyEventHandler
}

func (p *proxyAdapter) ClientBeforeSend(common *session.Session, _ int, m *message.Message) (*message.Message, bool) {
	return p.h.ClientMessage(common, m)
}

func (p *proxyAdapter) ServerMessageReceived(common *session.Session, _ int, m *message.Message) (*message.Message, bool) {
	return p.h.ServerMessage(common, m)
}

func (p *proxyAdapter) OtherServerMessageReceived(*session.Session, int, *message.Message) {}

func (p *proxyAdapter) SessionClosed(common *session.Session) {
	p.h.SessionClosed(common)
}

// Proxy is a Router with exactly one target.
type Proxy struct {
	*Router
}

// NewProxy constructs a Proxy forwarding every client message to target.
func NewProxy(target Target, handler ProxyEventHandler, log *zap.Logger, opts ...session.Option) *Proxy {
	return &Proxy{Router: NewRouter([]Target{target}, &proxyAdapter{h: handler}, log, opts...)}
}

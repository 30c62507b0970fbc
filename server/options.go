package server

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/metrics"
	"github.com/momentics/netcore/tlsadapter"
	"github.com/momentics/netcore/websocket"
)

// ServerOption configures a Server at construction time, replacing the
// teacher's server/options.go functional-option set with knobs for this
// library's actual surface (loop selection, TLS, deflate, callbacks)
// instead of its WS-only session options.
type ServerOption func(*Server)

// WithLoop pins the server to a single, caller-owned event loop
// (spec.md's default single-threaded mode).
func WithLoop(loop *concurrency.Loop) ServerOption {
	return func(s *Server) { s.loop = loop }
}

// WithLoopPool spreads accepted connections across a pool of loops
// (spec.md's optional loop-pool multi-threaded mode).
func WithLoopPool(pool *concurrency.LoopPool) ServerOption {
	return func(s *Server) { s.pool = pool }
}

// WithTLS enables TLS termination on every accepted connection, using
// opt to build each connection's tlsadapter.Adapter.
func WithTLS(opt tlsadapter.Options) ServerOption {
	opt.Role = tlsadapter.RoleServer
	return func(s *Server) { s.tlsOpt = &opt }
}

// WithPermessageDeflate enables negotiating permessage-deflate on
// WebSocket upgrades that offer it.
func WithPermessageDeflate() ServerOption {
	return func(s *Server) { s.enableDeflate = true }
}

// WithLogger overrides the default component logger.
func WithLogger(entry *logrus.Entry) ServerOption {
	return func(s *Server) { s.log = entry }
}

// WithMetrics attaches a metrics registry connection lifecycle events
// are recorded against.
func WithMetrics(reg *metrics.Registry) ServerOption {
	return func(s *Server) { s.met = reg }
}

// OnConnection registers the callback invoked once a connection's
// protocol is determined.
func OnConnection(cb ConnectionCallback) ServerOption {
	return func(s *Server) { s.onConnection = cb }
}

// OnMessage registers the callback for complete WebSocket messages.
func OnMessage(cb websocket.MessageCallback) ServerOption {
	return func(s *Server) { s.onMessage = cb }
}

// OnControl registers the callback for WebSocket control frames.
func OnControl(cb websocket.ControlCallback) ServerOption {
	return func(s *Server) { s.onControl = cb }
}

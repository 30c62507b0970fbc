package client

import (
	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/tlsadapter"
)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithLoop pins the client to a caller-owned event loop instead of a
// freshly-created one.
func WithLoop(loop *concurrency.Loop) ClientOption {
	return func(c *Client) { c.loop = loop }
}

// WithProxy routes every Dial through the named HTTP CONNECT proxy
// (spec.md §4.3) instead of connecting directly.
func WithProxy(cfg ProxyConfig) ClientOption {
	return func(c *Client) { c.proxyCfg = &cfg }
}

// WithTLS enables TLS on every dialed connection, using opt as the base
// client configuration (ServerName is filled in per-Dial from the host
// argument unless already set).
func WithTLS(opt tlsadapter.Options) ClientOption {
	return func(c *Client) { c.tlsOpt = &opt }
}

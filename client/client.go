// Package client is the outbound counterpart to server: dial a TCP
// endpoint (optionally through an HTTP CONNECT proxy, optionally under
// TLS) and speak HTTP/1, HTTP/2, or WebSocket over it, all driven from
// this library's own event loop instead of net/http's blocking
// transport.
//
// Grounded on the teacher's client/client.go connect-then-dispatch
// shape, generalized from its single WS-session protocol to the three
// protocols spec.md names, and wired to proxy.Connector for the
// CONNECT-tunnel path the teacher never had.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package client

import (
	"context"
	"fmt"

	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/proxy"
	"github.com/momentics/netcore/reactor"
	"github.com/momentics/netcore/resolver"
	"github.com/momentics/netcore/socket"
	"github.com/momentics/netcore/tlsadapter"
)

const defaultResolverWorkers = 4
const defaultConnectTimeoutMs = 10_000

// ProxyConfig names an HTTP CONNECT proxy to tunnel through before
// reaching the origin (spec.md §4.3).
type ProxyConfig struct {
	Host  string
	Port  int
	Creds proxy.Credentials
	// AuthScheme resolves a challenged Scheme to a concrete
	// Authenticator; nil entries make that scheme unsupported. Basic
	// and Digest need no extra state; NTLM/Negotiate need a
	// proxy.TokenEngine the caller supplies via proxy.NewNTLMAuthenticator
	// / proxy.NewNegotiateAuthenticator.
	AuthScheme func(proxy.Scheme) proxy.Authenticator
}

// Client dials outbound connections on a caller-owned event loop.
type Client struct {
	loop     *concurrency.Loop
	resolver *resolver.Resolver
	proxyCfg *ProxyConfig
	tlsOpt   *tlsadapter.Options
}

// New builds a Client applying opts.
func New(opts ...ClientOption) (*Client, error) {
	c := &Client{resolver: resolver.New(defaultResolverWorkers)}
	for _, o := range opts {
		o(c)
	}
	if c.loop == nil {
		loop, err := concurrency.NewLoop(reactor.KindReadiness)
		if err != nil {
			return nil, err
		}
		c.loop = loop
	}
	return c, nil
}

// Dial establishes a TCP connection to host:port, through the
// configured proxy if any, and under TLS if configured. It blocks the
// calling goroutine (not the event loop, which runs independently)
// until the connection is ready or fails.
func (c *Client) Dial(ctx context.Context, host string, port int) (*Conn, error) {
	if c.proxyCfg != nil {
		return c.dialViaProxy(ctx, host, port)
	}
	return c.dialDirect(ctx, host, port)
}

func (c *Client) dialDirect(ctx context.Context, host string, port int) (*Conn, error) {
	result := make(chan error, 1)
	var conn *Conn
	sock, err := socket.Connect(c.loop, c.resolver, host, port, defaultConnectTimeoutMs,
		func(err error) { result <- err },
		func(data []byte, derr error) { conn.onData(data, derr) },
	)
	if err != nil {
		return nil, err
	}
	conn = newConn(sock)

	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		_ = sock.Close()
		return nil, ctx.Err()
	}

	if c.tlsOpt != nil {
		opt := *c.tlsOpt
		opt.Role = tlsadapter.RoleClient
		if opt.ServerName == "" {
			opt.ServerName = host
		}
		if err := conn.startTLSAndWait(ctx, opt); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (c *Client) dialViaProxy(ctx context.Context, originHost string, originPort int) (*Conn, error) {
	pt := &proxyTransport{loop: c.loop, resolver: c.resolver, host: c.proxyCfg.Host, port: c.proxyCfg.Port, timeoutMs: defaultConnectTimeoutMs}
	connector := proxy.NewConnector(pt, c.proxyCfg.Host, originHost, originPort, c.proxyCfg.Creds, c.proxyCfg.AuthScheme)

	result := make(chan error, 1)
	connector.Start(func(err error) { result <- err })

	select {
	case err := <-result:
		if err != nil {
			return nil, err
		}
	case <-ctx.Done():
		_ = pt.Close()
		return nil, ctx.Err()
	}

	var conn *Conn
	conn = newConn(pt.sock)
	pt.SetOnData(func(data []byte, derr error) { conn.onData(data, derr) })

	if c.tlsOpt != nil {
		opt := *c.tlsOpt
		opt.Role = tlsadapter.RoleClient
		if opt.ServerName == "" {
			opt.ServerName = originHost
		}
		if err := conn.startTLSAndWait(ctx, opt); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// DialWebSocket dials host:port and performs the WebSocket opening
// handshake against path, returning once the upgrade completes.
func (c *Client) DialWebSocket(ctx context.Context, host string, port int, path string, offerDeflate bool) (*Conn, error) {
	conn, err := c.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if err := conn.upgradeToWebSocket(ctx, fmt.Sprintf("%s:%d", host, port), path, offerDeflate); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// DialHTTP2 dials host:port and starts an HTTP/2 connection over it
// (prior-knowledge h2c if TLS isn't configured, ALPN-negotiated h2
// otherwise — spec.md's two establishment paths).
func (c *Client) DialHTTP2(ctx context.Context, host string, port int) (*Conn, error) {
	conn, err := c.Dial(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if err := conn.startHTTP2Client(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

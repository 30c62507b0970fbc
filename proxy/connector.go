// Package proxy implements the HTTP CONNECT proxy connector (spec.md
// §4.3): resolve the proxy, establish a TCP (optionally TLS) connection
// to it, issue CONNECT, and negotiate any Proxy-Authenticate challenge
// before handing the now-tunneled connection back to the caller for its
// own (optional) origin TLS handshake.
//
// No pack repo implements an HTTP CONNECT proxy client, so this state
// machine is a direct translation of spec.md's own flow description
// into Go, following the callback-driven, non-blocking idiom
// established by this repository's socket and http1 packages rather
// than any pack example.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package proxy

import (
	"fmt"
	"strings"

	"github.com/momentics/netcore/api"
	"github.com/momentics/netcore/http1"
)

// State is the connector's lifecycle (spec.md §4.3).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticating
	StateSSLConnecting
	StateOpen
	StateClosed
)

// DefaultMaxAttempts bounds the CONNECT/auth retry loop (spec.md §4.3).
const DefaultMaxAttempts = 3

// Transport is the minimal connection surface the connector drives: one
// origin-bound byte stream, reconnect-on-demand for schemes requiring a
// fresh leg, and an optional TLS step to the proxy itself. The concrete
// implementation plugs in this repo's socket.TCPSocket (+ tlsadapter for
// proxy-TLS), kept abstract here so connector.go has no direct
// dependency on the event loop.
type Transport interface {
	// Connect (re)establishes a TCP connection to the proxy.
	Connect(done func(error))
	// Send writes raw bytes to the proxy.
	Send(data []byte) error
	// SetOnData registers the callback invoked with bytes received from
	// the proxy; replacing a previous registration is allowed.
	SetOnData(func(data []byte, err error))
	// Close tears down the current connection.
	Close() error
}

// Connector drives the CONNECT state machine against one proxy for one
// target origin.
type Connector struct {
	transport   Transport
	proxyHost   string
	originHost  string
	originPort  int
	creds       Credentials
	authScheme  func(scheme Scheme) Authenticator

	state      State
	attempts   int
	maxAttempts int
	parser     *http1.Parser
	respHead   *http1.Head

	currentAuth Authenticator
	onResult    func(err error)
}

// NewConnector builds a Connector. authScheme resolves a Scheme to a
// concrete Authenticator (nil for unsupported schemes); callers wire
// Basic/Digest directly and NTLM/Negotiate via a TokenEngine of their
// choosing (see auth.go).
func NewConnector(transport Transport, proxyHost, originHost string, originPort int, creds Credentials, authScheme func(Scheme) Authenticator) *Connector {
	return &Connector{
		transport:   transport,
		proxyHost:   proxyHost,
		originHost:  originHost,
		originPort:  originPort,
		creds:       creds,
		authScheme:  authScheme,
		state:       StateIdle,
		maxAttempts: DefaultMaxAttempts,
	}
}

// State reports the connector's current lifecycle state.
func (c *Connector) State() State { return c.state }

// Start begins the CONNECT flow; onResult is invoked once, with nil on
// success (state is now StateSSLConnecting; MarkOpen moves it to
// StateOpen) or an error (state StateClosed).
func (c *Connector) Start(onResult func(err error)) {
	c.onResult = onResult
	c.attempts = 0
	c.state = StateConnecting
	c.transport.SetOnData(c.onData)
	c.transport.Connect(c.onConnected)
}

func (c *Connector) onConnected(err error) {
	if err != nil {
		c.fail(err)
		return
	}
	c.sendConnect()
}

func (c *Connector) sendConnect() {
	c.attempts++
	if c.attempts > c.maxAttempts {
		c.fail(api.NewError(api.REJECTED, "proxy.Connector", "max CONNECT attempts exceeded", nil))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s:%d HTTP/1.1\r\n", c.originHost, c.originPort)
	fmt.Fprintf(&b, "Host: %s:%d\r\n", c.originHost, c.originPort)
	if c.currentAuth != nil && c.currentAuth.HasHeader() {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", c.currentAuth.AuthHeader())
	}
	b.WriteString("\r\n")

	c.parser = http1.NewResponseParser(false, func(h *http1.Head) { c.respHead = h }, nil, c.onResponseComplete)

	if err := c.transport.Send([]byte(b.String())); err != nil {
		c.fail(err)
	}
}

func (c *Connector) onData(data []byte, err error) {
	if err != nil {
		c.fail(err)
		return
	}
	if c.parser == nil {
		return
	}
	if perr := c.parser.Feed(data); perr != nil {
		c.fail(perr)
	}
}

func (c *Connector) onResponseComplete() {
	head := c.respHead
	switch {
	case head.StatusCode == 200:
		c.state = StateSSLConnecting // caller decides: origin TLS, or treat as OPEN for plaintext
		c.succeed()
	case head.StatusCode == 407:
		c.handleAuthChallenge(head)
	default:
		c.fail(api.NewError(api.ProtoError, "proxy.Connector", fmt.Sprintf("unexpected CONNECT status %d", head.StatusCode), nil))
	}
}

func (c *Connector) handleAuthChallenge(head *http1.Head) {
	challenge := head.Get("Proxy-Authenticate")
	if challenge == "" {
		c.fail(api.NewError(api.ProtoError, "proxy.Connector", "407 without Proxy-Authenticate", nil))
		return
	}
	scheme := ParseScheme(challenge)
	if scheme == SchemeUnknown {
		c.fail(api.NewError(api.NotSupported, "proxy.Connector", "unsupported proxy auth scheme", nil))
		return
	}

	c.state = StateAuthenticating

	freshAuth := c.currentAuth == nil
	if freshAuth {
		auth := c.authScheme(scheme)
		if auth == nil {
			c.fail(api.NewError(api.NotSupported, "proxy.Connector", "no authenticator registered for scheme", nil))
			return
		}
		if err := auth.Init(c.creds, RequestInfo{Method: "CONNECT", URI: fmt.Sprintf("%s:%d", c.originHost, c.originPort)}); err != nil {
			c.fail(err)
			return
		}
		c.currentAuth = auth
	}

	if _, err := c.currentAuth.NextToken(challenge); err != nil {
		c.fail(err)
		return
	}

	if scheme.NeedsFreshConnection() {
		// NTLM/Negotiate: each leg of the exchange requires a brand-new
		// TCP connection to the proxy (spec.md §4.3 scenario 5).
		if err := c.transport.Close(); err != nil {
			c.fail(err)
			return
		}
		c.transport.Connect(c.onConnected)
		return
	}

	// Basic/Digest: re-send the CONNECT on the same connection.
	c.sendConnect()
}

func (c *Connector) succeed() {
	cb := c.onResult
	c.onResult = nil
	if cb != nil {
		cb(nil)
	}
}

func (c *Connector) fail(err error) {
	c.state = StateClosed
	_ = c.transport.Close()
	cb := c.onResult
	c.onResult = nil
	if cb != nil {
		cb(err)
	}
}

// MarkOpen transitions StateSSLConnecting -> StateOpen once the caller
// has finished (or skipped, for a plaintext tunnel) the origin TLS
// handshake.
func (c *Connector) MarkOpen() {
	if c.state == StateSSLConnecting {
		c.state = StateOpen
	}
}

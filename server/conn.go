package server

import (
	"bytes"
	"context"
	"net"
	"sync/atomic"

	"github.com/momentics/netcore/http1"
	"github.com/momentics/netcore/http2"
	"github.com/momentics/netcore/socket"
	"github.com/momentics/netcore/tlsadapter"
	"github.com/momentics/netcore/websocket"
)

// Kind is the application protocol a Conn negotiated, determined by
// sniffing the first bytes off the wire (spec.md §4.4/§4.5/§4.7's three
// upper-layer protocols sharing one socket layer).
type Kind int

const (
	KindUnknown Kind = iota
	KindHTTP1
	KindHTTP2
	KindWebSocket
)

const recvChunk = 64 * 1024

// Conn is one accepted connection, carried through TLS (if configured),
// protocol sniffing, and into whichever of HTTP/1, HTTP/2, or WebSocket
// it negotiates.
type Conn struct {
	id       uint64
	srv      *Server
	sock     *socket.TCPSocket
	peerIP   net.IP
	peerPort int

	tlsAdp *tlsadapter.Adapter

	kind    Kind
	pending bytes.Buffer // undetermined-protocol prefix

	h1Head *http1.Head
	h1     *http1.Parser
	h1Body bytes.Buffer

	h2 *http2.Connection

	ws *websocket.Connection

	closed int32
}

func newConn(srv *Server, id uint64, sock *socket.TCPSocket, peerIP net.IP, peerPort int) *Conn {
	return &Conn{srv: srv, id: id, sock: sock, peerIP: peerIP, peerPort: peerPort}
}

// onData is the socket.DataCallback this Conn registers with its
// TCPSocket. With TLS configured, raw bytes off the wire are ciphertext
// destined for the adapter, not application data; otherwise they go
// straight to protocol sniffing.
func (c *Conn) onData(data []byte, err error) {
	if err != nil {
		_ = c.Close()
		return
	}
	if len(data) == 0 {
		_ = c.Close()
		return
	}
	if c.tlsAdp == nil {
		c.onPlaintext(data)
		return
	}
	if ferr := c.tlsAdp.Feed(data); ferr != nil {
		_ = c.Close()
	}
}

// startTLS begins the handshake for a TLS-wrapped connection. Outgoing
// ciphertext is pushed straight to the socket; incoming ciphertext
// arrives through onData/Feed above, fed by whatever goroutine the
// socket's reactor callback runs on. Once the handshake succeeds, a
// dedicated goroutine takes over draining decrypted application data —
// crypto/tls.Conn.Read blocks until a full record is available, which
// the event loop's own goroutine cannot afford to do.
func (c *Conn) startTLS(opt tlsadapter.Options) {
	c.tlsAdp = tlsadapter.NewBIOBufferAdapter(opt, func(ciphertext []byte) error {
		return c.sock.Send(ciphertext)
	})
	c.tlsAdp.StartHandshake(context.Background(), func(err error) {
		if err != nil {
			_ = c.Close()
			return
		}
		c.startTLSReceivePump()
	})
}

// Kind reports the negotiated application protocol; KindUnknown before
// enough bytes have arrived to decide.
func (c *Conn) Kind() Kind { return c.kind }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() (net.IP, int) { return c.peerIP, c.peerPort }

// Request returns the parsed HTTP/1 request head (KindHTTP1 only).
func (c *Conn) Request() *http1.Head { return c.h1Head }

// H2 returns the HTTP/2 connection (KindHTTP2 only).
func (c *Conn) H2() *http2.Connection { return c.h2 }

// WS returns the WebSocket connection (KindWebSocket only).
func (c *Conn) WS() *websocket.Connection { return c.ws }

// write sends raw bytes out the connection, through TLS if configured.
func (c *Conn) write(data []byte) error {
	if c.tlsAdp != nil {
		_, err := c.tlsAdp.Send(data)
		return err
	}
	return c.sock.Send(data)
}

// WriteResponse frames and sends a complete HTTP/1 response (KindHTTP1
// only) — fixed-length body, no chunked streaming, matching this
// library's scope as transport plumbing rather than an application
// framework with its own response-streaming API.
func (c *Conn) WriteResponse(statusCode int, reason string, headers map[string]string, body []byte) error {
	head, w := http1.BuildResponseHead(statusCode, reason, headers, http1.WriteFixedLength, int64(len(body)))
	if err := c.write(head); err != nil {
		return err
	}
	if len(body) > 0 {
		if err := c.write(w.WriteData(body)); err != nil {
			return err
		}
	}
	if fin := w.Finish(); fin != nil {
		return c.write(fin)
	}
	return nil
}

// Close tears down the connection and any TLS/H2/WS state it carries.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.tlsAdp != nil {
		_ = c.tlsAdp.Close()
	}
	c.srv.registry.remove(c)
	return c.sock.Close()
}

// onPlaintext handles one chunk of post-TLS (or never-TLS) application
// bytes: it buffers until the protocol is determined, then dispatches
// into whichever parser owns this connection from then on.
func (c *Conn) onPlaintext(data []byte) {
	if c.kind != KindUnknown {
		c.feedDetermined(data)
		return
	}

	c.pending.Write(data)
	buffered := c.pending.Bytes()

	if len(buffered) >= len(http2.ClientPreface) {
		if bytes.HasPrefix(buffered, []byte(http2.ClientPreface)) {
			c.startHTTP2(buffered)
			return
		}
		c.startHTTP1(buffered)
		return
	}
	if !bytes.HasPrefix([]byte(http2.ClientPreface), buffered) {
		// Not a possible HTTP/2 preface prefix either — must be HTTP/1.
		c.startHTTP1(buffered)
	}
	// Otherwise wait for more bytes: still an ambiguous, valid prefix of
	// the HTTP/2 client preface.
}

func (c *Conn) startHTTP2(initial []byte) {
	c.kind = KindHTTP2
	c.pending.Reset()
	c.h2 = http2.NewConnection(true, func(out []byte) error { return c.write(out) })
	if c.srv.onConnection != nil {
		c.srv.onConnection(c)
	}
	mode := http2.ViaH2CUpgrade
	if c.tlsAdp != nil {
		mode = http2.ViaALPN
	}
	if err := c.h2.Start(mode); err != nil {
		_ = c.Close()
		return
	}
	if err := c.h2.Feed(initial); err != nil {
		_ = c.Close()
	}
}

func (c *Conn) startHTTP1(initial []byte) {
	c.kind = KindHTTP1
	c.pending.Reset()
	c.h1 = http1.NewRequestParser(c.onHeader, c.onBody, c.onRequestComplete)
	if err := c.h1.Feed(initial); err != nil {
		_ = c.Close()
	}
}

func (c *Conn) feedDetermined(data []byte) {
	switch c.kind {
	case KindHTTP1:
		if err := c.h1.Feed(data); err != nil {
			_ = c.Close()
		}
	case KindHTTP2:
		if err := c.h2.Feed(data); err != nil {
			_ = c.Close()
		}
	case KindWebSocket:
		if err := c.ws.Feed(data); err != nil {
			_ = c.Close()
		}
	}
}

func (c *Conn) onHeader(h *http1.Head) {
	c.h1Head = h
	if h.IsUpgrade() && h.Get("Upgrade") == "websocket" {
		c.upgradeToWebSocket(h)
	}
}

func (c *Conn) onBody(data []byte) {
	c.h1Body.Write(data)
}

func (c *Conn) onRequestComplete() {
	if c.kind != KindHTTP1 {
		return // already switched to WebSocket mid-header
	}
	if c.srv.onConnection != nil {
		c.srv.onConnection(c)
	}
	c.h1Body.Reset()
}

func (c *Conn) upgradeToWebSocket(h *http1.Head) {
	key := h.Get("Sec-WebSocket-Key")
	if key == "" || h.Get("Sec-WebSocket-Version") != "13" {
		_ = c.WriteResponse(400, "Bad Request", nil, nil)
		_ = c.Close()
		return
	}
	respHeaders := map[string]string{
		"Upgrade":              "websocket",
		"Connection":           "Upgrade",
		"Sec-WebSocket-Accept": websocket.AcceptKey(key),
	}
	var pipeline *websocket.Pipeline
	offeredDeflate := h.Get("Sec-WebSocket-Extensions")
	if c.srv.enableDeflate && offeredDeflate != "" {
		pmd := websocket.NewPermessageDeflate(false)
		pipeline = websocket.NewPipeline(websocket.NewDeflateExtension(pmd))
		respHeaders["Sec-WebSocket-Extensions"] = "permessage-deflate"
	} else {
		pipeline = websocket.NewPipeline()
	}

	head, _ := http1.BuildResponseHead(101, "Switching Protocols", respHeaders, http1.WriteUntilClose, 0)
	// The 101 response carries no body, so strip the Connection: close
	// framing line BuildResponseHead adds for WriteUntilClose — an
	// upgraded connection is very much not closing.
	head = stripConnectionClose(head)
	if err := c.write(head); err != nil {
		_ = c.Close()
		return
	}

	c.kind = KindWebSocket
	c.ws = websocket.NewConnection(websocket.RoleServer, pipeline, func(out []byte) error { return c.write(out) },
		c.srv.onMessage, c.srv.onControl)
	if c.srv.onConnection != nil {
		c.srv.onConnection(c)
	}
}

func stripConnectionClose(head []byte) []byte {
	return bytes.Replace(head, []byte("Connection: close\r\n"), []byte(""), 1)
}

// startTLSReceivePump launches the goroutine that pulls decrypted bytes
// out of the TLS adapter once the handshake succeeds. crypto/tls only
// offers a blocking Read, so this has to live off the event loop's own
// goroutine — it would otherwise stall every other connection on that
// loop waiting for the next TLS record.
func (c *Conn) startTLSReceivePump() {
	go func() {
		pool := c.srv.recvPool
		for {
			seg := pool.Get(recvChunk)
			n, err := c.tlsAdp.Receive(seg.WritableSlice())
			if err != nil {
				pool.Put(seg)
				return
			}
			seg.CommitWrite(n)
			c.onPlaintext(seg.ReadSlice())
			pool.Put(seg)
			if atomic.LoadInt32(&c.closed) != 0 {
				return
			}
		}
	}()
}

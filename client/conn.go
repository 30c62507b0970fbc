package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync/atomic"

	"github.com/momentics/netcore/api"
	"github.com/momentics/netcore/buffer"
	"github.com/momentics/netcore/http1"
	"github.com/momentics/netcore/http2"
	"github.com/momentics/netcore/socket"
	"github.com/momentics/netcore/tlsadapter"
	"github.com/momentics/netcore/websocket"
)

type connKind int

const (
	kindHTTP1 connKind = iota
	kindHTTP2
	kindWebSocket
)

const recvChunk = 64 * 1024

// tlsRecvPool is shared across every Conn's TLS receive pump, the same
// pattern socket.recvBufPool uses for plaintext reads.
var tlsRecvPool = buffer.NewPool()

// response is one fully-parsed HTTP/1 response, handed back through Conn.ReadResponse.
type response struct {
	head *http1.Head
	body []byte
}

// Conn is one dialed connection, carried through TLS (if configured)
// into whichever of HTTP/1, HTTP/2, or WebSocket the caller selects.
type Conn struct {
	sock   *socket.TCPSocket
	tlsAdp *tlsadapter.Adapter

	kind connKind

	h1      *http1.Parser
	h1Head  *http1.Head
	h1Body  bytes.Buffer
	respCh  chan response

	h2 *http2.Connection
	ws *websocket.Connection

	tlsDoneCh chan error

	closed int32
}

func newConn(sock *socket.TCPSocket) *Conn {
	c := &Conn{sock: sock, respCh: make(chan response, 1)}
	c.resetHTTP1Parser()
	return c
}

func (c *Conn) resetHTTP1Parser() {
	c.h1 = http1.NewResponseParser(false, c.onHeader, c.onBody, c.onRespComplete)
}

func (c *Conn) onHeader(h *http1.Head) { c.h1Head = h }

func (c *Conn) onBody(data []byte) { c.h1Body.Write(data) }

func (c *Conn) onRespComplete() {
	head := c.h1Head
	body := append([]byte(nil), c.h1Body.Bytes()...)
	c.h1Body.Reset()
	select {
	case c.respCh <- response{head: head, body: body}:
	default:
	}
}

// Kind reports which application protocol this connection is currently
// speaking.
func (c *Conn) Kind() string {
	switch c.kind {
	case kindHTTP2:
		return "http2"
	case kindWebSocket:
		return "websocket"
	default:
		return "http1"
	}
}

// H2 returns the HTTP/2 connection, once DialHTTP2/startHTTP2Client ran.
func (c *Conn) H2() *http2.Connection { return c.h2 }

// WS returns the WebSocket connection, once the upgrade handshake completed.
func (c *Conn) WS() *websocket.Connection { return c.ws }

func (c *Conn) write(data []byte) error {
	if c.tlsAdp != nil {
		_, err := c.tlsAdp.Send(data)
		return err
	}
	return c.sock.Send(data)
}

// SendRequest frames and sends a complete HTTP/1 request — fixed-length
// body only, matching server.Conn.WriteResponse's scope as transport
// plumbing rather than an application framework with request builders.
func (c *Conn) SendRequest(method, path string, headers map[string]string, body []byte) error {
	head, w := http1.BuildRequestHead(method, path, headers, http1.WriteFixedLength, int64(len(body)))
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

// ReadResponse blocks until the next HTTP/1 response completes parsing
// or ctx is done.
func (c *Conn) ReadResponse(ctx context.Context) (*http1.Head, []byte, error) {
	select {
	case r := <-c.respCh:
		return r.head, r.body, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close tears down the connection and any TLS/H2/WS state it carries.
func (c *Conn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	if c.tlsAdp != nil {
		_ = c.tlsAdp.Close()
	}
	return c.sock.Close()
}

func (c *Conn) onData(data []byte, err error) {
	if err != nil || len(data) == 0 {
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

func (c *Conn) onPlaintext(data []byte) {
	var err error
	switch c.kind {
	case kindHTTP1:
		err = c.h1.Feed(data)
	case kindHTTP2:
		err = c.h2.Feed(data)
	case kindWebSocket:
		err = c.ws.Feed(data)
	}
	if err != nil {
		_ = c.Close()
	}
}

// startTLSAndWait begins a client-role TLS handshake and blocks until it
// completes. BIO-buffer mode is used for the same reason server.Conn
// uses it: this socket is callback-driven (readiness or completion
// backend), not a raw blocking fd crypto/tls could drive directly.
func (c *Conn) startTLSAndWait(ctx context.Context, opt tlsadapter.Options) error {
	c.tlsDoneCh = make(chan error, 1)
	c.tlsAdp = tlsadapter.NewBIOBufferAdapter(opt, func(ciphertext []byte) error {
		return c.sock.Send(ciphertext)
	})
	c.tlsAdp.StartHandshake(ctx, func(err error) {
		c.tlsDoneCh <- err
	})
	select {
	case err := <-c.tlsDoneCh:
		if err != nil {
			return err
		}
		c.startTLSReceivePump()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) startTLSReceivePump() {
	go func() {
		for {
			seg := tlsRecvPool.Get(recvChunk)
			n, err := c.tlsAdp.Receive(seg.WritableSlice())
			if err != nil {
				tlsRecvPool.Put(seg)
				return
			}
			seg.CommitWrite(n)
			c.onPlaintext(seg.ReadSlice())
			tlsRecvPool.Put(seg)
			if atomic.LoadInt32(&c.closed) != 0 {
				return
			}
		}
	}()
}

func (c *Conn) startHTTP2Client() error {
	c.kind = kindHTTP2
	c.h2 = http2.NewConnection(false, func(out []byte) error { return c.write(out) })
	mode := http2.ViaH2CUpgrade
	if c.tlsAdp != nil {
		mode = http2.ViaALPN
	}
	return c.h2.Start(mode)
}

func newWebSocketKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", api.NewError(api.FAILED, "client.websocket", "key generation failed", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

func (c *Conn) upgradeToWebSocket(ctx context.Context, host, path string, offerDeflate bool) error {
	key, err := newWebSocketKey()
	if err != nil {
		return err
	}
	req := websocket.BuildClientRequest(host, path, key, offerDeflate)
	headers := make(map[string]string, len(req.Header)+1)
	headers["Host"] = host
	for k, vs := range req.Header {
		if len(vs) > 0 {
			headers[k] = vs[0]
		}
	}

	head, _ := http1.BuildRequestHead("GET", path, headers, http1.WriteFixedLength, 0)
	if err := c.write(head); err != nil {
		return err
	}

	select {
	case r := <-c.respCh:
		return c.validateUpgrade(r.head, key, offerDeflate)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conn) validateUpgrade(h *http1.Head, key string, offeredDeflate bool) error {
	if h.StatusCode != 101 {
		return api.NewError(api.ProtoError, "client.websocket", "server did not switch protocols", nil)
	}
	if !strings.EqualFold(h.Get("Upgrade"), "websocket") {
		return api.NewError(api.ProtoError, "client.websocket", "missing Upgrade: websocket", nil)
	}
	if h.Get("Sec-WebSocket-Accept") != websocket.AcceptKey(key) {
		return api.NewError(api.ProtoError, "client.websocket", "Sec-WebSocket-Accept mismatch", nil)
	}
	deflate := offeredDeflate && strings.Contains(strings.ToLower(h.Get("Sec-WebSocket-Extensions")), "permessage-deflate")

	var pipeline *websocket.Pipeline
	if deflate {
		pipeline = websocket.NewPipeline(websocket.NewDeflateExtension(websocket.NewPermessageDeflate(false)))
	} else {
		pipeline = websocket.NewPipeline()
	}

	c.kind = kindWebSocket
	c.ws = websocket.NewConnection(websocket.RoleClient, pipeline, func(out []byte) error { return c.write(out) }, nil, nil)
	return nil
}

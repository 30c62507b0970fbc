package websocket

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/momentics/netcore/api"
)

// webSocketGUID is the RFC 6455 §1.3 magic string.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

const (
	headerConnection      = "Connection"
	headerUpgrade         = "Upgrade"
	headerSecWebSocketKey = "Sec-WebSocket-Key"
	headerSecWebSocketVer = "Sec-WebSocket-Version"
	headerSecWebSocketExt = "Sec-WebSocket-Extensions"
	headerSecWebSocketAcc = "Sec-WebSocket-Accept"
	requiredVersion       = "13"
	maxHandshakeHeaders   = 8192
)

// acceptKey computes Sec-WebSocket-Accept for a given client key.
func acceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey + webSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AcceptKey computes the Sec-WebSocket-Accept value for clientKey. Exported
// for callers that parse the opening handshake themselves (e.g. a server
// multiplexing WebSocket upgrades alongside plain HTTP/1 requests through
// a single http1.Parser) and so only need the accept-key computation, not
// AcceptHandshake's own request parsing.
func AcceptKey(clientKey string) string { return acceptKey(clientKey) }

// NewClientKey generates a fresh, random Sec-WebSocket-Key value.
func NewClientKey() (string, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", api.NewError(api.FAILED, "websocket.NewClientKey", "key generation failed", err)
	}
	return base64.StdEncoding.EncodeToString(raw[:]), nil
}

// BuildClientRequest builds the opening-handshake HTTP request a client
// sends, offering permessage-deflate when offerDeflate is set.
func BuildClientRequest(host, path, key string, offerDeflate bool) *http.Request {
	req, _ := http.NewRequest(http.MethodGet, "http://"+host+path, nil)
	req.Header.Set(headerUpgrade, "websocket")
	req.Header.Set(headerConnection, "Upgrade")
	req.Header.Set(headerSecWebSocketKey, key)
	req.Header.Set(headerSecWebSocketVer, requiredVersion)
	if offerDeflate {
		req.Header.Set(headerSecWebSocketExt, "permessage-deflate; client_max_window_bits")
	}
	return req
}

// ValidateServerResponse checks a server's 101 response against the key
// the client sent, returning whether the server agreed to deflate.
func ValidateServerResponse(resp *http.Response, key string) (deflate bool, err error) {
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return false, api.NewError(api.ProtoError, "websocket.ValidateServerResponse", "server did not switch protocols", nil)
	}
	if !headerContainsToken(resp.Header, headerUpgrade, "websocket") {
		return false, api.NewError(api.ProtoError, "websocket.ValidateServerResponse", "missing Upgrade: websocket", nil)
	}
	if resp.Header.Get(headerSecWebSocketAcc) != acceptKey(key) {
		return false, api.NewError(api.ProtoError, "websocket.ValidateServerResponse", "Sec-WebSocket-Accept mismatch", nil)
	}
	deflate = strings.Contains(strings.ToLower(resp.Header.Get(headerSecWebSocketExt)), "permessage-deflate")
	return deflate, nil
}

// ServerHandshakeResult is what AcceptHandshake returns to the caller:
// the response headers to write back, and whether the negotiated
// extensions include permessage-deflate.
type ServerHandshakeResult struct {
	ResponseHeader http.Header
	Deflate        bool
}

// AcceptHandshake reads one HTTP upgrade request from r, validates it
// per RFC 6455, and returns the response headers to send back (a 101
// status line is the caller's responsibility, mirroring the teacher's
// DoHandshakeCore contract of returning headers rather than writing the
// full response itself).
func AcceptHandshake(r io.Reader) (*ServerHandshakeResult, error) {
	br := bufio.NewReader(r)
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, api.NewError(api.ProtoError, "websocket.AcceptHandshake", "malformed handshake request", err)
	}

	total := 0
	for k, vs := range req.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
	}
	if total > maxHandshakeHeaders {
		return nil, api.NewError(api.BufferTooLong, "websocket.AcceptHandshake", "handshake headers too large", nil)
	}

	if !headerContainsToken(req.Header, headerConnection, "Upgrade") ||
		!headerContainsToken(req.Header, headerUpgrade, "websocket") {
		return nil, api.NewError(api.ProtoError, "websocket.AcceptHandshake", "invalid upgrade headers", nil)
	}
	if req.Header.Get(headerSecWebSocketVer) != requiredVersion {
		return nil, api.NewError(api.NotSupported, "websocket.AcceptHandshake", "unsupported WebSocket version", nil)
	}
	key := req.Header.Get(headerSecWebSocketKey)
	if key == "" {
		return nil, api.NewError(api.ProtoError, "websocket.AcceptHandshake", "missing Sec-WebSocket-Key", nil)
	}

	hdr := make(http.Header)
	hdr.Set(headerUpgrade, "websocket")
	hdr.Set(headerConnection, "Upgrade")
	hdr.Set(headerSecWebSocketAcc, acceptKey(key))

	deflate := strings.Contains(strings.ToLower(req.Header.Get(headerSecWebSocketExt)), "permessage-deflate")
	if deflate {
		hdr.Set(headerSecWebSocketExt, "permessage-deflate")
	}

	return &ServerHandshakeResult{ResponseHeader: hdr, Deflate: deflate}, nil
}

func headerContainsToken(h http.Header, name, token string) bool {
	token = strings.ToLower(token)
	for _, v := range h[http.CanonicalHeaderKey(name)] {
		for _, p := range strings.Split(v, ",") {
			if strings.ToLower(strings.TrimSpace(p)) == token {
				return true
			}
		}
	}
	return false
}

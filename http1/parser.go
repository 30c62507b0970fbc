// Package http1 implements an incremental, allocation-conscious HTTP/1.x
// parser and framer (spec.md §4.4) driven by Feed(bytes) rather than a
// blocking io.Reader, so it can sit directly on the non-blocking socket
// layer's OnData callback instead of needing its own goroutine per
// connection.
//
// There is no close HTTP/1 parser analog in momentics/hioload-ws (a
// WebSocket-only library) or elsewhere in the pack, so this is a direct
// translation of spec.md's state machine into Go rather than an
// adaptation of existing pack code — the state names and transitions
// below are spec.md's own. The incremental Feed/callback shape and
// pause/resume controls follow the same idiom this repo's socket
// package already uses for non-blocking I/O (callback-driven, no
// blocking reads).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package http1

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"github.com/momentics/netcore/api"
)

// State is the parser's position in the incremental grammar.
type State int

const (
	StateStartLine State = iota
	StateHeader
	StateBody
	StateChunkSize
	StateChunkData
	StateChunkTrailer
	StateDone
	StateError
)

// BodyMode governs how the parser knows where the body ends.
type BodyMode int

const (
	BodyNone BodyMode = iota
	BodyFixedLength
	BodyChunked
	BodyUntilEOF
)

// HeaderCallback is invoked once the start line and all headers have
// been parsed.
type HeaderCallback func(h *Head)

// BodyCallback delivers a chunk of body bytes as they arrive; it may be
// called multiple times per message.
type BodyCallback func(data []byte)

// CompleteCallback is invoked once the message (headers + body, or
// headers + chunked body + trailers) is fully parsed.
type CompleteCallback func()

// Head holds a parsed start line plus headers, for both requests
// (Method/Path set, Status empty) and responses (Status set, Method
// empty).
type Head struct {
	Method     string
	Path       string
	Query      url.Values
	Version    string
	StatusCode int
	Reason     string

	Headers map[string][]string

	isRequest bool
}

// Get returns the first value of a header, case-insensitively.
func (h *Head) Get(name string) string {
	vs := h.Headers[strings.ToLower(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// IsUpgrade reports whether this message requests/confirms a protocol
// upgrade (WebSocket, h2c).
func (h *Head) IsUpgrade() bool {
	return strings.Contains(strings.ToLower(h.Get("Connection")), "upgrade") && h.Get("Upgrade") != ""
}

// Parser incrementally parses one HTTP/1.x message (request or
// response) fed via successive Feed calls.
type Parser struct {
	isRequest  bool
	isHeadReq  bool // request method was HEAD — response parsing needs this
	state      State
	buf        []byte
	head       *Head
	bodyMode   BodyMode
	bodyLeft   int64
	chunkLeft  int64

	paused bool
	eof    bool
	err    error

	onHeader   HeaderCallback
	onBody     BodyCallback
	onComplete CompleteCallback
}

// Err returns the parse error that put the parser into StateError, if any.
func (p *Parser) Err() error { return p.err }

// NewRequestParser builds a parser for incoming/outgoing HTTP requests.
func NewRequestParser(onHeader HeaderCallback, onBody BodyCallback, onComplete CompleteCallback) *Parser {
	return &Parser{isRequest: true, onHeader: onHeader, onBody: onBody, onComplete: onComplete}
}

// NewResponseParser builds a parser for HTTP responses. isHeadRequest
// must reflect whether the request that elicited this response used
// the HEAD method (spec.md: HEAD/204/304 responses carry no body
// regardless of Content-Length/Transfer-Encoding).
func NewResponseParser(isHeadRequest bool, onHeader HeaderCallback, onBody BodyCallback, onComplete CompleteCallback) *Parser {
	return &Parser{isHeadReq: isHeadRequest, onHeader: onHeader, onBody: onBody, onComplete: onComplete}
}

// Pause suspends body delivery; bytes already buffered are held, new
// Feed calls keep buffering without invoking callbacks further.
func (p *Parser) Pause()  { p.paused = true }
func (p *Parser) Resume() {
	p.paused = false
	p.pump()
}

// SetEOF tells the parser the transport has closed; a BodyUntilEOF
// message is considered complete when Feed has drained everything and
// SetEOF has been called.
func (p *Parser) SetEOF() {
	p.eof = true
	p.pump()
}

// State reports the parser's current position.
func (p *Parser) State() State { return p.state }

// Feed appends newly-received bytes and parses as much as possible.
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	p.pump()
	return p.err
}

func (p *Parser) pump() error {
	for !p.paused {
		switch p.state {
		case StateStartLine:
			if !p.pumpStartLine() {
				return nil
			}
		case StateHeader:
			if !p.pumpHeaders() {
				return nil
			}
		case StateBody:
			if !p.pumpBody() {
				return nil
			}
		case StateChunkSize:
			if !p.pumpChunkSize() {
				return nil
			}
		case StateChunkData:
			if !p.pumpChunkData() {
				return nil
			}
		case StateChunkTrailer:
			if !p.pumpTrailer() {
				return nil
			}
		case StateDone, StateError:
			return nil
		}
	}
	return nil
}

func (p *Parser) fail(op, msg string) bool {
	p.state = StateError
	p.err = api.NewError(api.ProtoError, op, msg, nil)
	return false
}

func findCRLF(buf []byte) int {
	return bytes.Index(buf, []byte("\r\n"))
}

func (p *Parser) pumpStartLine() bool {
	i := findCRLF(p.buf)
	if i < 0 {
		return false
	}
	line := string(p.buf[:i])
	p.buf = p.buf[i+2:]

	h := &Head{Headers: make(map[string][]string), isRequest: p.isRequest}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return p.fail("http1.Parser", "malformed start line")
	}
	if p.isRequest {
		h.Method = parts[0]
		rawPath := parts[1]
		h.Version = parts[2]
		if u, err := url.Parse(rawPath); err == nil {
			if decoded, derr := url.PathUnescape(u.Path); derr == nil {
				h.Path = decoded
			} else {
				h.Path = u.Path
			}
			h.Query = u.Query()
		} else {
			h.Path = rawPath
		}
	} else {
		h.Version = parts[0]
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			return p.fail("http1.Parser", "malformed status code")
		}
		h.StatusCode = code
		h.Reason = parts[2]
	}
	p.head = h
	p.state = StateHeader
	return true
}

func (p *Parser) pumpHeaders() bool {
	for {
		i := findCRLF(p.buf)
		if i < 0 {
			return false
		}
		line := p.buf[:i]
		if len(line) == 0 {
			p.buf = p.buf[i+2:]
			return p.headersDone()
		}
		p.buf = p.buf[i+2:]

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return p.fail("http1.Parser", "malformed header line")
		}
		name := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		value := strings.TrimSpace(string(line[colon+1:]))
		p.head.Headers[name] = append(p.head.Headers[name], value)
	}
}

func (p *Parser) headersDone() bool {
	p.determineBodyMode()
	if p.onHeader != nil {
		p.onHeader(p.head)
	}
	switch p.bodyMode {
	case BodyNone:
		p.state = StateDone
		if p.onComplete != nil {
			p.onComplete()
		}
	case BodyFixedLength:
		p.state = StateBody
	case BodyChunked:
		p.state = StateChunkSize
	case BodyUntilEOF:
		p.state = StateBody
	}
	return true
}

func (p *Parser) determineBodyMode() {
	if !p.isRequest {
		sc := p.head.StatusCode
		if p.isHeadReq || sc == 204 || sc == 304 || (sc >= 100 && sc < 200) {
			p.bodyMode = BodyNone
			return
		}
	}
	te := strings.ToLower(p.head.Get("Transfer-Encoding"))
	if strings.Contains(te, "chunked") {
		p.bodyMode = BodyChunked
		return
	}
	if cl := p.head.Get("Content-Length"); cl != "" {
		n, err := strconv.ParseInt(cl, 10, 64)
		if err != nil || n < 0 {
			p.bodyMode = BodyNone
			return
		}
		if n == 0 {
			p.bodyMode = BodyNone
			return
		}
		p.bodyMode = BodyFixedLength
		p.bodyLeft = n
		return
	}
	if p.isRequest {
		p.bodyMode = BodyNone
		return
	}
	p.bodyMode = BodyUntilEOF
}

func (p *Parser) pumpBody() bool {
	if p.bodyMode == BodyUntilEOF {
		if len(p.buf) > 0 {
			chunk := p.buf
			p.buf = nil
			if p.onBody != nil {
				p.onBody(chunk)
			}
		}
		if p.eof {
			p.state = StateDone
			if p.onComplete != nil {
				p.onComplete()
			}
		}
		return false
	}

	if p.bodyLeft == 0 {
		p.state = StateDone
		if p.onComplete != nil {
			p.onComplete()
		}
		return true
	}
	if len(p.buf) == 0 {
		return false
	}
	take := int64(len(p.buf))
	if take > p.bodyLeft {
		take = p.bodyLeft
	}
	chunk := p.buf[:take]
	p.buf = p.buf[take:]
	p.bodyLeft -= take
	if p.onBody != nil {
		p.onBody(chunk)
	}
	if p.bodyLeft == 0 {
		p.state = StateDone
		if p.onComplete != nil {
			p.onComplete()
		}
	}
	return true
}

func (p *Parser) pumpChunkSize() bool {
	i := findCRLF(p.buf)
	if i < 0 {
		return false
	}
	line := string(p.buf[:i])
	p.buf = p.buf[i+2:]
	if semi := strings.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
	if err != nil || n < 0 {
		return p.fail("http1.Parser", "malformed chunk size")
	}
	p.chunkLeft = n
	if n == 0 {
		p.state = StateChunkTrailer
	} else {
		p.state = StateChunkData
	}
	return true
}

func (p *Parser) pumpChunkData() bool {
	if p.chunkLeft > 0 {
		if len(p.buf) == 0 {
			return false
		}
		take := int64(len(p.buf))
		if take > p.chunkLeft {
			take = p.chunkLeft
		}
		chunk := p.buf[:take]
		p.buf = p.buf[take:]
		p.chunkLeft -= take
		if p.onBody != nil {
			p.onBody(chunk)
		}
		if p.chunkLeft > 0 {
			return true
		}
	}
	// trailing CRLF after chunk data
	if len(p.buf) < 2 {
		return false
	}
	if p.buf[0] != '\r' || p.buf[1] != '\n' {
		return p.fail("http1.Parser", "malformed chunk terminator")
	}
	p.buf = p.buf[2:]
	p.state = StateChunkSize
	return true
}

func (p *Parser) pumpTrailer() bool {
	for {
		i := findCRLF(p.buf)
		if i < 0 {
			return false
		}
		line := p.buf[:i]
		p.buf = p.buf[i+2:]
		if len(line) == 0 {
			p.state = StateDone
			if p.onComplete != nil {
				p.onComplete()
			}
			return true
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		value := strings.TrimSpace(string(line[colon+1:]))
		p.head.Headers[name] = append(p.head.Headers[name], value)
	}
}

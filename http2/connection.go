package http2

import (
	"bytes"

	"github.com/momentics/netcore/api"
)

// ClientPreface is the 24-byte magic a client sends before its first
// SETTINGS frame (RFC 7540 §3.5).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// H2ALPNProtocol is the ALPN protocol id negotiated for HTTP/2 over TLS.
// crypto/tls performs RFC 7301's exact byte-for-byte protocol match
// (Open Question (b): the original source tolerated a case-insensitive
// comparison; this implementation inherits RFC 7301-conformant binary
// matching for free by using crypto/tls's own ALPN negotiation rather
// than a bespoke string comparison).
const H2ALPNProtocol = "h2"

// H2CUpgradeProtocol is the Upgrade token for the cleartext bootstrap.
const H2CUpgradeProtocol = "h2c"

// EstablishmentMode records how this connection arrived at HTTP/2.
type EstablishmentMode int

const (
	ViaALPN EstablishmentMode = iota
	ViaH2CUpgrade
)

// SendFunc pushes raw bytes to the peer.
type SendFunc func(data []byte) error

// Connection drives one HTTP/2 connection's preface/SETTINGS handshake,
// frame dispatch, HPACK, and stream table (spec.md §4.5).
type Connection struct {
	isServer bool
	send     SendFunc

	local  Settings
	remote Settings

	enc *Encoder
	dec *Decoder

	parser  *FrameParser
	streams *StreamTable

	connSendWindow *FlowWindow
	connRecvWindow *FlowWindow

	// connRecvConsumed accumulates connection-level DATA payload bytes
	// consumed since the last connection-level WINDOW_UPDATE (spec.md
	// §4.9's receiver-side replenishment).
	connRecvConsumed uint32

	// blockedStreams holds stream ids whose SendData most recently
	// failed to acquire enough send window, in the order they first
	// blocked, per spec.md §4.5/§4.9's blocked_streams bookkeeping.
	blockedStreams []uint32

	// pendingHeaders accumulates a HEADERS or PUSH_PROMISE header block
	// across CONTINUATION frames until END_HEADERS is set (RFC 7540
	// §6.10).
	pendingHeaders headerBlock

	prefaceBuf []byte
	sawPreface bool

	localSettingsAcked  bool
	remoteSettingsAcked bool

	OnStreamHeaders func(streamID uint32, fields []HeaderField, endStream bool)
	OnStreamData    func(streamID uint32, data []byte, endStream bool)
	OnGoAway        func(lastStreamID uint32, code ErrorCode)
	OnRefusedPush   func(streamID uint32)

	// OnStreamWritable fires once a previously window-blocked stream is
	// granted enough send window that its caller should retry SendData.
	OnStreamWritable func(streamID uint32)
}

// headerBlock accumulates a HEADERS/PUSH_PROMISE fragment across
// CONTINUATION frames (RFC 7540 §6.10). isPush distinguishes the two
// flows since both share the same accumulator.
type headerBlock struct {
	active     bool
	streamID   uint32
	endStream  bool
	isPush     bool
	promisedID uint32
	buf        []byte
}

// NewConnection builds a Connection. isServer selects which side parses
// (vs. skips) the client preface.
func NewConnection(isServer bool, send SendFunc) *Connection {
	c := &Connection{
		isServer: isServer,
		send:     send,
		local:    DefaultSettings(),
		remote:   DefaultSettings(),
		streams:  NewStreamTable(),
	}
	c.enc = NewEncoder(c.local.HeaderTableSize)
	c.dec = NewDecoder(c.local.HeaderTableSize)
	c.connSendWindow = NewFlowWindow(c.remote.InitialWindowSize)
	c.connRecvWindow = NewFlowWindow(c.local.InitialWindowSize)
	c.parser = NewFrameParser(c.local.MaxFrameSize, c.onFrame)
	c.sawPreface = !isServer // clients never read their own preface back
	return c
}

// Start sends this side's opening bytes: the client sends the preface
// then an initial SETTINGS frame; the server (which consumes the
// preface via Feed) just sends its initial SETTINGS frame. mode is
// accepted but not stored or used: both ALPN and h2c-upgrade
// connections drive the same preface+SETTINGS exchange afterward (RFC
// 7540 §3.2/§3.4).
func (c *Connection) Start(mode EstablishmentMode) error {
	if !c.isServer {
		if err := c.send([]byte(ClientPreface)); err != nil {
			return err
		}
	}
	return c.sendSettings(EncodeSettings(map[SettingID]uint32{
		SettingEnablePush:           boolToUint32(c.local.EnablePush),
		SettingInitialWindowSize:    c.local.InitialWindowSize,
		SettingMaxFrameSize:         c.local.MaxFrameSize,
		SettingMaxConcurrentStreams: c.local.MaxConcurrentStreams,
	}))
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *Connection) sendSettings(payload []byte) error {
	hdr := EncodeFrameHeader(FrameHeader{Length: uint32(len(payload)), Type: FrameSettings, Flags: 0})
	return c.send(append(hdr, payload...))
}

func (c *Connection) sendSettingsAck() error {
	hdr := EncodeFrameHeader(FrameHeader{Length: 0, Type: FrameSettings, Flags: FlagAck})
	return c.send(hdr)
}

// Feed delivers newly-received bytes. For a server connection this
// first consumes the client preface before handing the remainder to the
// frame parser.
func (c *Connection) Feed(data []byte) error {
	if !c.sawPreface {
		c.prefaceBuf = append(c.prefaceBuf, data...)
		if len(c.prefaceBuf) < len(ClientPreface) {
			return nil
		}
		if !bytes.Equal(c.prefaceBuf[:len(ClientPreface)], []byte(ClientPreface)) {
			return api.NewError(api.ProtoError, "http2.Connection.Feed", "bad client preface", nil)
		}
		rest := c.prefaceBuf[len(ClientPreface):]
		c.prefaceBuf = nil
		c.sawPreface = true
		return c.parser.Feed(rest)
	}
	return c.parser.Feed(data)
}

func (c *Connection) onFrame(h FrameHeader, payload []byte) {
	var err error
	switch h.Type {
	case FrameSettings:
		err = c.handleSettings(h, payload)
	case FrameHeaders:
		err = c.handleHeaders(h, payload)
	case FrameContinuation:
		err = c.handleContinuation(h, payload)
	case FrameData:
		err = c.handleData(h, payload)
	case FrameWindowUpdate:
		err = c.handleWindowUpdate(h, payload)
	case FramePushPromise:
		err = c.handlePushPromise(h, payload)
	case FrameGoAway:
		err = c.handleGoAway(payload)
	case FramePing:
		err = c.handlePing(h, payload)
	case FrameRSTStream:
		if s, ok := c.streams.Lookup(h.StreamID); ok {
			s.Reset()
		}
	}
	if err != nil && c.OnGoAway != nil {
		c.OnGoAway(h.StreamID, ErrProtocolError)
	}
}

func (c *Connection) handleSettings(h FrameHeader, payload []byte) error {
	if h.Flags&FlagAck != 0 {
		c.localSettingsAcked = true
		return nil
	}
	oldInitialWindow := int64(c.remote.InitialWindowSize)
	if _, err := ApplySettingsFrame(&c.remote, payload); err != nil {
		return err
	}
	delta := int64(c.remote.InitialWindowSize) - oldInitialWindow
	if delta != 0 {
		for _, s := range c.streams.streams {
			s.SendWindow.ApplyInitialWindowSizeDelta(delta)
		}
	}
	c.enc.SetMaxDynamicTableSize(c.remote.HeaderTableSize)
	c.remoteSettingsAcked = true
	return c.sendSettingsAck()
}

func (c *Connection) handleHeaders(h FrameHeader, payload []byte) error {
	payload, err := stripPadding(h.Flags, payload)
	if err != nil {
		return err
	}
	endStream := h.Flags&FlagEndStream != 0
	if h.Flags&FlagEndHeaders == 0 {
		c.pendingHeaders = headerBlock{
			active:    true,
			streamID:  h.StreamID,
			endStream: endStream,
			buf:       append([]byte(nil), payload...),
		}
		return nil
	}
	return c.finishHeaders(h.StreamID, endStream, payload)
}

// finishHeaders decodes a fully-reassembled header block (one HEADERS
// frame with END_HEADERS, or a HEADERS/CONTINUATION sequence once
// END_HEADERS arrives) and opens the stream. Pseudo-header validation
// only applies when this endpoint is acting as a server: a client's
// incoming HEADERS are responses carrying :status, not the mandatory
// request pseudo-headers RFC 7540 §8.1.2.3 requires.
func (c *Connection) finishHeaders(streamID uint32, endStream bool, block []byte) error {
	fields, err := c.dec.DecodeHeaders(block)
	if err != nil {
		return err
	}
	if c.isServer {
		if err := ValidateRequestPseudoHeaders(fields); err != nil {
			return err
		}
	}
	stream := c.streams.Get(streamID, c.local.InitialWindowSize)
	if err := stream.OpenFromHeaders(endStream); err != nil {
		return err
	}
	if c.OnStreamHeaders != nil {
		c.OnStreamHeaders(streamID, fields, endStream)
	}
	return nil
}

// handleContinuation appends a CONTINUATION frame's payload to whichever
// header block (HEADERS or PUSH_PROMISE) is currently pending on the
// same stream, finalizing once END_HEADERS is set (RFC 7540 §6.10).
func (c *Connection) handleContinuation(h FrameHeader, payload []byte) error {
	if !c.pendingHeaders.active || c.pendingHeaders.streamID != h.StreamID {
		return api.NewError(api.ProtoError, "http2.Connection", "CONTINUATION without matching HEADERS/PUSH_PROMISE", nil)
	}
	c.pendingHeaders.buf = append(c.pendingHeaders.buf, payload...)
	if h.Flags&FlagEndHeaders == 0 {
		return nil
	}
	pending := c.pendingHeaders
	c.pendingHeaders = headerBlock{}
	if pending.isPush {
		return c.finishPushPromise(pending.promisedID, pending.buf)
	}
	return c.finishHeaders(pending.streamID, pending.endStream, pending.buf)
}

func (c *Connection) handleData(h FrameHeader, payload []byte) error {
	payload, err := stripPadding(h.Flags, payload)
	if err != nil {
		return err
	}
	if err := c.connRecvWindow.Consume(uint32(len(payload))); err != nil {
		return err
	}
	stream, ok := c.streams.Lookup(h.StreamID)
	if !ok {
		return api.NewError(api.ProtoError, "http2.Connection", "DATA on unknown stream", nil)
	}
	if err := stream.RecvWindow.Consume(uint32(len(payload))); err != nil {
		return err
	}
	endStream := h.Flags&FlagEndStream != 0
	if endStream {
		stream.EndStreamRemote()
	}
	if c.OnStreamData != nil {
		c.OnStreamData(h.StreamID, payload, endStream)
	}
	n := uint32(len(payload))
	if err := c.maybeSendConnWindowUpdate(n); err != nil {
		return err
	}
	if !endStream {
		if err := c.maybeSendStreamWindowUpdate(stream, n); err != nil {
			return err
		}
	}
	return nil
}

// maybeSendConnWindowUpdate emits a connection-level WINDOW_UPDATE once
// consumed bytes cross half the initial window size (spec.md §4.9).
func (c *Connection) maybeSendConnWindowUpdate(n uint32) error {
	c.connRecvConsumed += n
	if !WindowUpdateThreshold(c.connRecvConsumed, c.local.InitialWindowSize) {
		return nil
	}
	increment := c.connRecvConsumed
	c.connRecvConsumed = 0
	if err := c.connRecvWindow.Grant(increment); err != nil {
		return err
	}
	return c.sendWindowUpdate(0, increment)
}

// maybeSendStreamWindowUpdate emits a per-stream WINDOW_UPDATE once
// consumed bytes cross half the initial window size (spec.md §4.9).
func (c *Connection) maybeSendStreamWindowUpdate(stream *Stream, n uint32) error {
	stream.recvConsumed += n
	if !WindowUpdateThreshold(stream.recvConsumed, c.local.InitialWindowSize) {
		return nil
	}
	increment := stream.recvConsumed
	stream.recvConsumed = 0
	if err := stream.RecvWindow.Grant(increment); err != nil {
		return err
	}
	return c.sendWindowUpdate(stream.ID, increment)
}

func (c *Connection) sendWindowUpdate(streamID uint32, increment uint32) error {
	payload := make([]byte, 4)
	payload[0] = byte(increment >> 24)
	payload[1] = byte(increment >> 16)
	payload[2] = byte(increment >> 8)
	payload[3] = byte(increment)
	hdr := EncodeFrameHeader(FrameHeader{Length: 4, Type: FrameWindowUpdate, StreamID: streamID})
	return c.send(append(hdr, payload...))
}

func (c *Connection) handleWindowUpdate(h FrameHeader, payload []byte) error {
	if len(payload) != 4 {
		return api.NewError(api.ProtoError, "http2.Connection", "malformed WINDOW_UPDATE", nil)
	}
	increment := (uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])) & 0x7fffffff
	if h.StreamID == 0 {
		if err := c.connSendWindow.Grant(increment); err != nil {
			return err
		}
		c.notifyBlockedStreams()
		return nil
	}
	stream, ok := c.streams.Lookup(h.StreamID)
	if !ok {
		return nil
	}
	if err := stream.SendWindow.Grant(increment); err != nil {
		return err
	}
	c.notifyBlockedStream(h.StreamID)
	return nil
}

// markBlocked records streamID as unable to send due to exhausted send
// window, in first-blocked order (spec.md §4.5/§4.9's blocked_streams).
func (c *Connection) markBlocked(streamID uint32) {
	for _, id := range c.blockedStreams {
		if id == streamID {
			return
		}
	}
	c.blockedStreams = append(c.blockedStreams, streamID)
}

// notifyBlockedStreams fires OnStreamWritable for every blocked stream,
// in insertion order, then clears the queue (a connection-level
// WINDOW_UPDATE may unblock all of them).
func (c *Connection) notifyBlockedStreams() {
	blocked := c.blockedStreams
	c.blockedStreams = nil
	for _, id := range blocked {
		if c.OnStreamWritable != nil {
			c.OnStreamWritable(id)
		}
	}
}

// notifyBlockedStream fires OnStreamWritable for a single stream unblocked
// by a stream-level WINDOW_UPDATE, leaving the rest of the queue intact.
func (c *Connection) notifyBlockedStream(streamID uint32) {
	for i, id := range c.blockedStreams {
		if id == streamID {
			c.blockedStreams = append(c.blockedStreams[:i], c.blockedStreams[i+1:]...)
			if c.OnStreamWritable != nil {
				c.OnStreamWritable(streamID)
			}
			return
		}
	}
}

func (c *Connection) handlePushPromise(h FrameHeader, payload []byte) error {
	if !c.local.EnablePush {
		return api.NewError(api.ProtoError, "http2.Connection", "PUSH_PROMISE received with push disabled", nil)
	}
	payload, err := stripPadding(h.Flags, payload)
	if err != nil {
		return err
	}
	if len(payload) < 4 {
		return api.NewError(api.ProtoError, "http2.Connection", "malformed PUSH_PROMISE", nil)
	}
	promisedID := binary32(payload) & 0x7fffffff
	block := payload[4:]
	if h.Flags&FlagEndHeaders == 0 {
		c.pendingHeaders = headerBlock{
			active:     true,
			isPush:     true,
			streamID:   h.StreamID,
			promisedID: promisedID,
			buf:        append([]byte(nil), block...),
		}
		return nil
	}
	return c.finishPushPromise(promisedID, block)
}

// finishPushPromise decodes a fully-reassembled PUSH_PROMISE header
// block solely to keep the HPACK decoder's dynamic table synchronized
// with the peer; no callback currently exists to surface pushed request
// headers to an application layer (matching the pre-existing absence of
// one before CONTINUATION support was added).
func (c *Connection) finishPushPromise(promisedID uint32, block []byte) error {
	if _, err := c.dec.DecodeHeaders(block); err != nil {
		return err
	}
	refuse, code := c.streams.HandlePushPromise(promisedID, c.local.InitialWindowSize)
	if refuse {
		if c.OnRefusedPush != nil {
			c.OnRefusedPush(promisedID)
		}
		return c.sendRSTStream(promisedID, code)
	}
	return nil
}

func binary32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (c *Connection) sendRSTStream(streamID uint32, code ErrorCode) error {
	payload := make([]byte, 4)
	payload[0] = byte(code >> 24)
	payload[1] = byte(code >> 16)
	payload[2] = byte(code >> 8)
	payload[3] = byte(code)
	hdr := EncodeFrameHeader(FrameHeader{Length: 4, Type: FrameRSTStream, StreamID: streamID})
	return c.send(append(hdr, payload...))
}

func (c *Connection) handleGoAway(payload []byte) error {
	if len(payload) < 8 {
		return api.NewError(api.ProtoError, "http2.Connection", "malformed GOAWAY", nil)
	}
	lastStreamID := binary32(payload) & 0x7fffffff
	code := ErrorCode(binary32(payload[4:8]))
	if c.OnGoAway != nil {
		c.OnGoAway(lastStreamID, code)
	}
	return nil
}

func (c *Connection) handlePing(h FrameHeader, payload []byte) error {
	if h.Flags&FlagAck != 0 {
		return nil
	}
	hdr := EncodeFrameHeader(FrameHeader{Length: uint32(len(payload)), Type: FramePing, Flags: FlagAck})
	return c.send(append(hdr, payload...))
}

// SendHeaders encodes and sends a HEADERS frame for streamID.
func (c *Connection) SendHeaders(streamID uint32, fields []HeaderField, endStream bool) error {
	block, err := c.enc.EncodeHeaders(fields)
	if err != nil {
		return err
	}
	stream := c.streams.Get(streamID, c.local.InitialWindowSize)
	if stream.State == StreamIdle {
		if err := stream.OpenFromHeaders(false); err != nil {
			return err
		}
	}
	flags := FlagEndHeaders
	if endStream {
		flags |= FlagEndStream
		stream.EndStreamLocal()
	}
	hdr := EncodeFrameHeader(FrameHeader{Length: uint32(len(block)), Type: FrameHeaders, Flags: flags, StreamID: streamID})
	return c.send(append(hdr, block...))
}

// SendData encodes and sends a DATA frame, consuming both the
// connection-level and stream-level send windows.
func (c *Connection) SendData(streamID uint32, data []byte, endStream bool) error {
	stream, ok := c.streams.Lookup(streamID)
	if !ok {
		return api.NewError(api.InvalidState, "http2.Connection.SendData", "unknown stream", nil)
	}
	if err := c.connSendWindow.Consume(uint32(len(data))); err != nil {
		c.markBlocked(streamID)
		return err
	}
	if err := stream.SendWindow.Consume(uint32(len(data))); err != nil {
		// Refund: the connection-level window was already debited above
		// for bytes that, in the end, were never sent.
		_ = c.connSendWindow.Grant(uint32(len(data)))
		c.markBlocked(streamID)
		return err
	}
	flags := uint8(0)
	if endStream {
		flags |= FlagEndStream
		stream.EndStreamLocal()
	}
	hdr := EncodeFrameHeader(FrameHeader{Length: uint32(len(data)), Type: FrameData, Flags: flags, StreamID: streamID})
	return c.send(append(hdr, data...))
}

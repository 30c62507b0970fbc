package http2

import (
	"encoding/binary"

	"github.com/momentics/netcore/api"
)

// FrameType is an HTTP/2 frame type (RFC 7540 §6).
type FrameType uint8

const (
	FrameData         FrameType = 0x0
	FrameHeaders      FrameType = 0x1
	FramePriority     FrameType = 0x2
	FrameRSTStream    FrameType = 0x3
	FrameSettings     FrameType = 0x4
	FramePushPromise  FrameType = 0x5
	FramePing         FrameType = 0x6
	FrameGoAway       FrameType = 0x7
	FrameWindowUpdate FrameType = 0x8
	FrameContinuation FrameType = 0x9
)

// Frame flags (RFC 7540 §6, shared bit positions reused per frame type).
const (
	FlagEndStream  uint8 = 0x1
	FlagAck        uint8 = 0x1
	FlagEndHeaders uint8 = 0x4
	FlagPadded     uint8 = 0x8
	FlagPriority   uint8 = 0x20
)

// DefaultInitialFrameSize is SETTINGS_MAX_FRAME_SIZE's initial value
// (RFC 7540 §6.5.2) before negotiation.
const DefaultInitialFrameSize = 16 * 1024

// MaxAllowedFrameSize is the protocol ceiling SETTINGS_MAX_FRAME_SIZE
// may negotiate up to.
const MaxAllowedFrameSize = 16 * 1024 * 1024

// FrameHeader is the fixed 9-byte frame header (RFC 7540 §4.1).
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     FrameType
	Flags    uint8
	StreamID uint32 // 31 bits (top bit reserved)
}

// DecodeFrameHeader parses the 9-byte header from the front of buf.
func DecodeFrameHeader(buf []byte) (FrameHeader, error) {
	if len(buf) < 9 {
		return FrameHeader{}, api.NewError(api.BufferTooSmall, "http2.DecodeFrameHeader", "short frame header", nil)
	}
	length := uint32(buf[0])<<16 | uint32(buf[1])<<8 | uint32(buf[2])
	typ := FrameType(buf[3])
	flags := buf[4]
	streamID := binary.BigEndian.Uint32(buf[5:9]) & 0x7fffffff
	return FrameHeader{Length: length, Type: typ, Flags: flags, StreamID: streamID}, nil
}

// EncodeFrameHeader serializes h into a fresh 9-byte slice.
func EncodeFrameHeader(h FrameHeader) []byte {
	out := make([]byte, 9)
	out[0] = byte(h.Length >> 16)
	out[1] = byte(h.Length >> 8)
	out[2] = byte(h.Length)
	out[3] = byte(h.Type)
	out[4] = h.Flags
	binary.BigEndian.PutUint32(out[5:], h.StreamID&0x7fffffff)
	return out
}

// FrameParser incrementally splits a byte stream into complete frames
// (header + payload), enforcing length <= the negotiated remote max
// frame size (spec.md §4.5).
type FrameParser struct {
	buf            []byte
	maxFrameSize   uint32
	onFrame        func(h FrameHeader, payload []byte)
}

// NewFrameParser builds a FrameParser. onFrame is invoked once per
// complete frame as it becomes available.
func NewFrameParser(maxFrameSize uint32, onFrame func(h FrameHeader, payload []byte)) *FrameParser {
	return &FrameParser{maxFrameSize: maxFrameSize, onFrame: onFrame}
}

// SetMaxFrameSize updates the enforced ceiling, called when a local
// SETTINGS_MAX_FRAME_SIZE change takes effect.
func (p *FrameParser) SetMaxFrameSize(v uint32) { p.maxFrameSize = v }

// Feed appends newly-received bytes and dispatches as many complete
// frames as are buffered.
func (p *FrameParser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		if len(p.buf) < 9 {
			return nil
		}
		h, err := DecodeFrameHeader(p.buf)
		if err != nil {
			return err
		}
		if h.Length > p.maxFrameSize {
			return api.NewError(api.ProtoError, "http2.FrameParser", "frame exceeds negotiated max size", nil)
		}
		total := 9 + int(h.Length)
		if len(p.buf) < total {
			return nil
		}
		payload := p.buf[9:total]
		p.buf = p.buf[total:]
		if p.onFrame != nil {
			p.onFrame(h, payload)
		}
	}
}

// stripPadding removes PADDED-flag padding from a frame payload that
// carries a one-byte pad-length prefix (DATA, HEADERS, PUSH_PROMISE).
func stripPadding(flags uint8, payload []byte) ([]byte, error) {
	if flags&FlagPadded == 0 {
		return payload, nil
	}
	if len(payload) < 1 {
		return nil, api.NewError(api.ProtoError, "http2.stripPadding", "missing pad length", nil)
	}
	padLen := int(payload[0])
	payload = payload[1:]
	if padLen > len(payload) {
		return nil, api.NewError(api.ProtoError, "http2.stripPadding", "pad length exceeds frame", nil)
	}
	return payload[:len(payload)-padLen], nil
}

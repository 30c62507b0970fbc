package websocket

import (
	"github.com/momentics/netcore/api"
)

// Role distinguishes a client-side endpoint (MUST mask outgoing frames,
// MUST NOT accept masked incoming frames) from a server-side one (the
// reverse), per RFC 6455 §5.1.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// MessageCallback delivers one complete, reassembled, decompressed
// message with its opcode (OpText or OpBinary).
type MessageCallback func(opcode byte, payload []byte)

// ControlCallback delivers one control frame (OpClose, OpPing, OpPong).
type ControlCallback func(opcode byte, payload []byte)

// SendFunc pushes bytes to the underlying transport (TCP or TLS
// adapter); Connection never touches a socket directly, matching the
// rest of this library's preference for callback-driven transport
// independence over embedding a concrete socket type.
type SendFunc func(data []byte) error

// Connection reassembles fragmented messages, applies the negotiated
// extension pipeline, and frames/masks outgoing messages according to
// Role.
type Connection struct {
	role     Role
	pipeline *Pipeline
	send     SendFunc

	onMessage MessageCallback
	onControl ControlCallback

	maxFramePayload int64

	fragOpcode  byte
	fragBuf     []byte
	fragRSV1    bool
	fragmenting bool

	recvBuf []byte
}

// ConnectionOption configures a Connection at construction time.
type ConnectionOption func(*Connection)

// WithMaxFramePayload overrides DefaultMaxFramePayload for this
// Connection, per spec.md §4.10's "configurable, default 10 MiB".
func WithMaxFramePayload(n int64) ConnectionOption {
	return func(c *Connection) { c.maxFramePayload = n }
}

// NewConnection constructs a Connection. pipeline may be nil (no
// extensions negotiated).
func NewConnection(role Role, pipeline *Pipeline, send SendFunc, onMessage MessageCallback, onControl ControlCallback, opts ...ConnectionOption) *Connection {
	if pipeline == nil {
		pipeline = NewPipeline()
	}
	c := &Connection{role: role, pipeline: pipeline, send: send, onMessage: onMessage, onControl: onControl, maxFramePayload: DefaultMaxFramePayload}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Feed appends newly-received bytes and decodes as many complete frames
// as are available, dispatching reassembled messages and control frames
// as they complete.
func (c *Connection) Feed(data []byte) error {
	c.recvBuf = append(c.recvBuf, data...)
	for {
		frame, n, err := DecodeFrame(c.recvBuf, c.maxFramePayload)
		if err != nil {
			return err
		}
		if frame == nil {
			return nil
		}
		c.recvBuf = c.recvBuf[n:]

		expectMasked := c.role == RoleServer
		if frame.Masked != expectMasked {
			return api.NewError(api.ProtoError, "websocket.Connection.Feed", "frame masking violates role", nil)
		}

		if err := c.dispatchFrame(frame); err != nil {
			return err
		}
	}
}

func (c *Connection) dispatchFrame(f *Frame) error {
	switch f.Opcode {
	case OpClose, OpPing, OpPong:
		if c.onControl != nil {
			c.onControl(f.Opcode, f.Payload)
		}
		return nil
	case OpContinuation:
		if !c.fragmenting {
			return api.NewError(api.ProtoError, "websocket.Connection", "continuation without initial frame", nil)
		}
		c.fragBuf = append(c.fragBuf, f.Payload...)
		if f.Fin {
			return c.completeMessage()
		}
		return nil
	case OpText, OpBinary:
		if c.fragmenting {
			return api.NewError(api.ProtoError, "websocket.Connection", "new message started mid-fragment", nil)
		}
		if !f.Fin {
			c.fragmenting = true
			c.fragOpcode = f.Opcode
			c.fragRSV1 = f.RSV1
			c.fragBuf = append([]byte(nil), f.Payload...)
			return nil
		}
		c.fragOpcode = f.Opcode
		c.fragRSV1 = f.RSV1
		c.fragBuf = f.Payload
		return c.completeMessage()
	default:
		return api.NewError(api.ProtoError, "websocket.Connection", "unknown opcode", nil)
	}
}

func (c *Connection) completeMessage() error {
	payload, err := c.pipeline.HandleIncoming(c.fragBuf, c.fragRSV1)
	if err != nil {
		return err
	}
	opcode := c.fragOpcode
	c.fragmenting = false
	c.fragBuf = nil
	c.fragRSV1 = false
	if c.onMessage != nil {
		c.onMessage(opcode, payload)
	}
	return nil
}

// SendMessage frames and sends one complete, unfragmented message,
// applying the extension pipeline and role-appropriate masking.
func (c *Connection) SendMessage(opcode byte, payload []byte) error {
	out, rsv1, err := c.pipeline.HandleOutgoing(payload)
	if err != nil {
		return err
	}
	mask := c.role == RoleClient
	frame, err := EncodeFrame(opcode, out, true, rsv1, mask, c.maxFramePayload)
	if err != nil {
		return err
	}
	return c.send(frame)
}

// SendControl frames and sends a control frame (OpClose/OpPing/OpPong).
// Control frames are never fragmented or compressed (RFC 6455 §5.5).
func (c *Connection) SendControl(opcode byte, payload []byte) error {
	mask := c.role == RoleClient
	frame, err := EncodeFrame(opcode, payload, true, false, mask, c.maxFramePayload)
	if err != nil {
		return err
	}
	return c.send(frame)
}

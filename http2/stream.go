package http2

import "github.com/momentics/netcore/api"

// StreamState is RFC 7540 §5.1's per-stream state machine.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

// ErrorCode is an RFC 7540 §7 error code.
type ErrorCode uint32

const (
	ErrNoError          ErrorCode = 0x0
	ErrProtocolError    ErrorCode = 0x1
	ErrInternalError    ErrorCode = 0x2
	ErrFlowControlError ErrorCode = 0x3
	ErrRefusedStream    ErrorCode = 0x7
	ErrStreamClosed     ErrorCode = 0x5
)

var mandatoryRequestPseudoHeaders = []string{":method", ":scheme", ":authority", ":path"}

// Stream tracks one HTTP/2 stream's state and flow-control window.
type Stream struct {
	ID         uint32
	State      StreamState
	SendWindow *FlowWindow
	RecvWindow *FlowWindow

	// recvConsumed accumulates DATA payload bytes consumed since the
	// last stream-level WINDOW_UPDATE, checked against
	// WindowUpdateThreshold (spec.md §4.9).
	recvConsumed uint32
}

// NewStream creates a stream in StreamIdle.
func NewStream(id uint32, initialWindow uint32) *Stream {
	return &Stream{
		ID:         id,
		State:      StreamIdle,
		SendWindow: NewFlowWindow(initialWindow),
		RecvWindow: NewFlowWindow(initialWindow),
	}
}

// OpenFromHeaders transitions Idle -> Open (or HalfClosedRemote if
// END_STREAM was set on the HEADERS frame that opened it).
func (s *Stream) OpenFromHeaders(endStream bool) error {
	if s.State != StreamIdle {
		return api.NewError(api.InvalidState, "http2.Stream", "HEADERS on non-idle stream", nil)
	}
	if endStream {
		s.State = StreamHalfClosedRemote
	} else {
		s.State = StreamOpen
	}
	return nil
}

// ReserveLocal transitions Idle -> ReservedLocal for a stream this
// endpoint is about to PUSH_PROMISE.
func (s *Stream) ReserveLocal() error {
	if s.State != StreamIdle {
		return api.NewError(api.InvalidState, "http2.Stream", "cannot reserve non-idle stream", nil)
	}
	s.State = StreamReservedLocal
	return nil
}

// ReserveRemote transitions Idle -> ReservedRemote on receiving a
// PUSH_PROMISE for this stream id.
func (s *Stream) ReserveRemote() error {
	if s.State != StreamIdle {
		return api.NewError(api.InvalidState, "http2.Stream", "cannot reserve non-idle stream", nil)
	}
	s.State = StreamReservedRemote
	return nil
}

// EndStreamLocal marks this endpoint as done sending.
func (s *Stream) EndStreamLocal() {
	if s.State == StreamOpen {
		s.State = StreamHalfClosedLocal
	} else if s.State == StreamHalfClosedRemote {
		s.State = StreamClosed
	}
}

// EndStreamRemote marks the peer as done sending.
func (s *Stream) EndStreamRemote() {
	if s.State == StreamOpen {
		s.State = StreamHalfClosedRemote
	} else if s.State == StreamHalfClosedLocal {
		s.State = StreamClosed
	}
}

// Reset transitions to StreamClosed unconditionally (RST_STREAM, local
// or remote).
func (s *Stream) Reset() { s.State = StreamClosed }

// ValidateRequestPseudoHeaders checks that fields contains every
// mandatory request pseudo-header and that no pseudo-header follows a
// regular header, per RFC 7540 §8.1.2.3. Additional or repeated
// pseudo-headers are not rejected.
func ValidateRequestPseudoHeaders(fields []HeaderField) error {
	seen := make(map[string]bool, len(mandatoryRequestPseudoHeaders))
	pastPseudo := false
	for _, f := range fields {
		isPseudo := len(f.Name) > 0 && f.Name[0] == ':'
		if isPseudo {
			if pastPseudo {
				return api.NewError(api.ProtoError, "http2.ValidateRequestPseudoHeaders", "pseudo-header after regular header", nil)
			}
			seen[f.Name] = true
		} else {
			pastPseudo = true
		}
	}
	for _, want := range mandatoryRequestPseudoHeaders {
		if !seen[want] {
			return api.NewError(api.ProtoError, "http2.ValidateRequestPseudoHeaders", "missing mandatory pseudo-header "+want, nil)
		}
	}
	return nil
}

// StreamTable tracks streams by id, for PUSH_PROMISE handling.
type StreamTable struct {
	streams map[uint32]*Stream
}

// NewStreamTable builds an empty StreamTable.
func NewStreamTable() *StreamTable {
	return &StreamTable{streams: make(map[uint32]*Stream)}
}

// Get returns the stream for id, creating it in StreamIdle if absent.
func (t *StreamTable) Get(id uint32, initialWindow uint32) *Stream {
	s, ok := t.streams[id]
	if !ok {
		s = NewStream(id, initialWindow)
		t.streams[id] = s
	}
	return s
}

// Lookup returns the stream for id without creating one.
func (t *StreamTable) Lookup(id uint32) (*Stream, bool) {
	s, ok := t.streams[id]
	return s, ok
}

// HandlePushPromise resolves Open Question (a): a PUSH_PROMISE whose
// associated (promised) stream id refers to a stream already in
// StreamClosed is conservatively refused — this endpoint emits
// RST_STREAM(REFUSED_STREAM) on the promised id rather than attempt to
// resurrect or accept the pushed response, matching spec.md's
// conservative resolution where the original source's behavior here
// was unclear.
func (t *StreamTable) HandlePushPromise(promisedID uint32, initialWindow uint32) (refuse bool, errCode ErrorCode) {
	if existing, ok := t.streams[promisedID]; ok && existing.State == StreamClosed {
		return true, ErrRefusedStream
	}
	s := t.Get(promisedID, initialWindow)
	_ = s.ReserveRemote()
	return false, ErrNoError
}

package http2

import (
	"reflect"
	"testing"
)

// TestContinuationReassemblesHeaderBlock covers spec.md §4.9: a HEADERS
// frame without END_HEADERS followed by a CONTINUATION frame carrying
// END_HEADERS must be decoded once, as a single reassembled block.
func TestContinuationReassemblesHeaderBlock(t *testing.T) {
	c := NewConnection(true, func([]byte) error { return nil })

	fields := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
		{Name: "x-test", Value: "split-across-continuation"},
	}
	enc := NewEncoder(4096)
	block, err := enc.EncodeHeaders(fields)
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}
	if len(block) < 2 {
		t.Fatal("expected a header block large enough to split")
	}
	split := len(block) / 2

	var got []HeaderField
	var gotStream uint32
	c.OnStreamHeaders = func(streamID uint32, f []HeaderField, endStream bool) {
		gotStream = streamID
		got = f
	}

	if err := c.handleHeaders(FrameHeader{Length: uint32(split), Type: FrameHeaders, StreamID: 1}, block[:split]); err != nil {
		t.Fatalf("handleHeaders: %v", err)
	}
	if got != nil {
		t.Fatal("OnStreamHeaders fired before END_HEADERS arrived on CONTINUATION")
	}

	rest := block[split:]
	if err := c.handleContinuation(FrameHeader{Length: uint32(len(rest)), Type: FrameContinuation, Flags: FlagEndHeaders, StreamID: 1}, rest); err != nil {
		t.Fatalf("handleContinuation: %v", err)
	}

	if gotStream != 1 {
		t.Fatalf("stream id = %d, want 1", gotStream)
	}
	if !reflect.DeepEqual(got, fields) {
		t.Fatalf("got %+v, want %+v", got, fields)
	}
}

// TestContinuationWithoutHeadersIsRejected covers the case where a
// CONTINUATION frame arrives with no pending header block.
func TestContinuationWithoutHeadersIsRejected(t *testing.T) {
	c := NewConnection(true, func([]byte) error { return nil })
	if err := c.handleContinuation(FrameHeader{Type: FrameContinuation, Flags: FlagEndHeaders, StreamID: 1}, nil); err == nil {
		t.Fatal("expected an error for an orphan CONTINUATION frame")
	}
}

// TestDataConsumptionEmitsWindowUpdates covers spec.md §4.9's receiver-
// side replenishment: once consumed bytes cross half the initial window,
// both a connection-level and a stream-level WINDOW_UPDATE must be sent.
func TestDataConsumptionEmitsWindowUpdates(t *testing.T) {
	var sent [][]byte
	c := NewConnection(true, func(b []byte) error {
		sent = append(sent, append([]byte(nil), b...))
		return nil
	})
	c.local.InitialWindowSize = 20
	c.connRecvWindow = NewFlowWindow(20)
	stream := c.streams.Get(1, 20)
	stream.State = StreamOpen

	payload := []byte("hello world") // 11 bytes, >= 20/2 = 10
	if err := c.handleData(FrameHeader{Length: uint32(len(payload)), Type: FrameData, StreamID: 1}, payload); err != nil {
		t.Fatalf("handleData: %v", err)
	}

	var sawConnUpdate, sawStreamUpdate bool
	for _, b := range sent {
		hdr, err := DecodeFrameHeader(b)
		if err != nil {
			t.Fatalf("DecodeFrameHeader: %v", err)
		}
		if hdr.Type != FrameWindowUpdate {
			continue
		}
		if hdr.StreamID == 0 {
			sawConnUpdate = true
		} else if hdr.StreamID == 1 {
			sawStreamUpdate = true
		}
	}
	if !sawConnUpdate {
		t.Fatal("expected a connection-level WINDOW_UPDATE once consumed bytes crossed the threshold")
	}
	if !sawStreamUpdate {
		t.Fatal("expected a stream-level WINDOW_UPDATE once consumed bytes crossed the threshold")
	}
}

// TestBlockedStreamNotifiedOnWindowUpdate covers spec.md §4.5/§4.9's
// blocked_streams bookkeeping: a SendData call that exhausts the send
// window queues the stream, and a subsequent WINDOW_UPDATE notifies it
// via OnStreamWritable in insertion order.
func TestBlockedStreamNotifiedOnWindowUpdate(t *testing.T) {
	c := NewConnection(false, func([]byte) error { return nil })
	c.connSendWindow = NewFlowWindow(5)
	stream := c.streams.Get(1, 65535)
	stream.State = StreamOpen

	if err := c.SendData(1, []byte("0123456789"), false); err == nil {
		t.Fatal("expected SendData to fail against an exhausted connection send window")
	}
	// The stream-level window must not have been debited for bytes that
	// were never actually sent.
	if stream.SendWindow.Size != 65535 {
		t.Fatalf("stream send window = %d, want unchanged 65535", stream.SendWindow.Size)
	}

	var notified uint32
	c.OnStreamWritable = func(streamID uint32) { notified = streamID }

	if err := c.handleWindowUpdate(FrameHeader{Type: FrameWindowUpdate, StreamID: 0}, []byte{0, 0, 0, 100}); err != nil {
		t.Fatalf("handleWindowUpdate: %v", err)
	}

	if notified != 1 {
		t.Fatalf("OnStreamWritable stream = %d, want 1", notified)
	}
	if err := c.SendData(1, []byte("0123456789"), false); err != nil {
		t.Fatalf("SendData after WINDOW_UPDATE: %v", err)
	}
}

// TestPushPromiseHeaderBlockDecoded covers the fix keeping the HPACK
// decoder synchronized for PUSH_PROMISE: previously only the 4-byte
// promised stream id was parsed and the header-block bytes were
// discarded, silently desyncing the decoder's dynamic table.
func TestPushPromiseHeaderBlockDecoded(t *testing.T) {
	c := NewConnection(false, func([]byte) error { return nil })

	enc := NewEncoder(4096)
	block, err := enc.EncodeHeaders([]HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/style.css"},
	})
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}

	payload := append([]byte{0, 0, 0, 2}, block...) // promised stream id 2
	if err := c.handlePushPromise(FrameHeader{Length: uint32(len(payload)), Type: FramePushPromise, Flags: FlagEndHeaders, StreamID: 1}, payload); err != nil {
		t.Fatalf("handlePushPromise: %v", err)
	}

	// A subsequent HEADERS frame referencing the same dynamic-table
	// entries should still decode correctly if the table stayed in sync.
	fields2 := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
	}
	block2, err := enc.EncodeHeaders(fields2)
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}
	var got []HeaderField
	c.isServer = true
	c.OnStreamHeaders = func(_ uint32, f []HeaderField, _ bool) { got = f }
	if err := c.handleHeaders(FrameHeader{Length: uint32(len(block2)), Type: FrameHeaders, Flags: FlagEndHeaders, StreamID: 3}, block2); err != nil {
		t.Fatalf("handleHeaders after PUSH_PROMISE: %v", err)
	}
	if !reflect.DeepEqual(got, fields2) {
		t.Fatalf("got %+v, want %+v", got, fields2)
	}
}

package http2_test

import (
	"reflect"
	"testing"

	"github.com/momentics/netcore/http2"
)

func TestHPACKRoundTrip(t *testing.T) {
	fields := []http2.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "example.com"},
		{Name: ":path", Value: "/"},
		{Name: "user-agent", Value: "netcore-test"},
	}

	enc := http2.NewEncoder(4096)
	block, err := enc.EncodeHeaders(fields)
	if err != nil {
		t.Fatalf("EncodeHeaders: %v", err)
	}

	dec := http2.NewDecoder(4096)
	got, err := dec.DecodeHeaders(block)
	if err != nil {
		t.Fatalf("DecodeHeaders: %v", err)
	}
	if !reflect.DeepEqual(got, fields) {
		t.Fatalf("decode(encode(F)) != F:\n got  %+v\n want %+v", got, fields)
	}
}

func TestFrameHeaderRoundTrip(t *testing.T) {
	h := http2.FrameHeader{Length: 42, Type: http2.FrameData, Flags: http2.FlagEndStream, StreamID: 7}
	encoded := http2.EncodeFrameHeader(h)
	decoded, err := http2.DecodeFrameHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeFrameHeader: %v", err)
	}
	if decoded != h {
		t.Fatalf("got %+v, want %+v", decoded, h)
	}
}

func TestPushPromiseOnResetStreamIsRefused(t *testing.T) {
	table := http2.NewStreamTable()
	s := table.Get(4, 65535)
	s.Reset()

	refuse, code := table.HandlePushPromise(4, 65535)
	if !refuse {
		t.Fatal("expected PUSH_PROMISE on a reset stream to be refused")
	}
	if code != http2.ErrRefusedStream {
		t.Fatalf("got error code %v, want ErrRefusedStream", code)
	}
}

func TestMaxFrameSizeEnforced(t *testing.T) {
	var gotErr error
	p := http2.NewFrameParser(16, func(http2.FrameHeader, []byte) {})
	// 9-byte header declaring a 32-byte payload, over the 16-byte cap.
	oversized := append(http2.EncodeFrameHeader(http2.FrameHeader{Length: 32, Type: http2.FrameData}), make([]byte, 32)...)
	gotErr = p.Feed(oversized)
	if gotErr == nil {
		t.Fatal("expected an error for a frame exceeding the negotiated max size")
	}
}

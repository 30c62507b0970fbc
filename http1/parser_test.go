package http1_test

import (
	"bytes"
	"testing"

	"github.com/momentics/netcore/http1"
)

func TestChunkedRequestRoundTrip(t *testing.T) {
	head, writer := http1.BuildRequestHead("POST", "/upload", map[string]string{
		"Host": "example.com",
	}, http1.WriteChunked, 0)

	var wire bytes.Buffer
	wire.Write(head)
	wire.Write(writer.WriteData([]byte("hello ")))
	wire.Write(writer.WriteData([]byte("world")))
	wire.Write(writer.Finish())

	var gotHead *http1.Head
	var gotBody []byte
	done := false
	p := http1.NewRequestParser(
		func(h *http1.Head) { gotHead = h },
		func(b []byte) { gotBody = append(gotBody, b...) },
		func() { done = true },
	)

	// feed byte-by-byte to exercise incremental buffering across all
	// chunked sub-states (size line, data, trailing CRLF, terminator).
	wireBytes := wire.Bytes()
	for i := 0; i < len(wireBytes); i++ {
		if err := p.Feed(wireBytes[i : i+1]); err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
	}

	if !done {
		t.Fatal("expected parser to reach completion")
	}
	if gotHead == nil || gotHead.Method != "POST" || gotHead.Path != "/upload" {
		t.Fatalf("unexpected head: %+v", gotHead)
	}
	if string(gotBody) != "hello world" {
		t.Fatalf("got body %q, want %q", gotBody, "hello world")
	}
}

func TestFixedLengthResponseWithHeadHasNoBody(t *testing.T) {
	head, writer := http1.BuildResponseHead(200, "OK", map[string]string{}, http1.WriteFixedLength, 5)
	var wire bytes.Buffer
	wire.Write(head)
	wire.Write(writer.WriteData([]byte("hello")))

	var bodyCalled bool
	done := false
	p := http1.NewResponseParser(true, nil, func([]byte) { bodyCalled = true }, func() { done = true })
	if err := p.Feed(wire.Bytes()); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if !done {
		t.Fatal("expected completion")
	}
	if bodyCalled {
		t.Fatal("HEAD response must not deliver a body")
	}
}

package server

import (
	"testing"

	"github.com/momentics/netcore/http1"
)

// newTestConn builds a Conn with no backing socket, usable only for
// exercising paths that never reach write() (plain HTTP/1 requests with
// no upgrade, and the protocol-sniffing buffer logic before a verdict is
// reached).
func newTestConn() *Conn {
	return &Conn{srv: &Server{}}
}

func TestOnPlaintextDetectsHTTP1(t *testing.T) {
	c := newTestConn()
	req, _ := http1.BuildRequestHead("GET", "/", map[string]string{"Host": "example.com"}, http1.WriteFixedLength, 0)

	c.onPlaintext(req)

	if c.kind != KindHTTP1 {
		t.Fatalf("kind = %v, want KindHTTP1", c.kind)
	}
	if c.h1Head == nil {
		t.Fatal("expected h1Head to be populated")
	}
	if c.h1Head.Path != "/" {
		t.Fatalf("Path = %q, want /", c.h1Head.Path)
	}
}

func TestOnPlaintextWaitsOnAmbiguousPreface(t *testing.T) {
	c := newTestConn()

	// "PRI" is a valid prefix of the HTTP/2 client preface but far too
	// short to decide either way yet.
	c.onPlaintext([]byte("PRI"))

	if c.kind != KindUnknown {
		t.Fatalf("kind = %v, want KindUnknown while preface is still ambiguous", c.kind)
	}
	if c.pending.Len() != 3 {
		t.Fatalf("pending buffered %d bytes, want 3", c.pending.Len())
	}
}

func TestOnPlaintextRejectsNonPrefaceImmediately(t *testing.T) {
	c := newTestConn()

	// A lone "G" is not a possible prefix of "PRI * HTTP/2.0..." so this
	// must resolve to HTTP/1 without waiting for more bytes.
	c.onPlaintext([]byte("G"))

	if c.kind != KindHTTP1 {
		t.Fatalf("kind = %v, want KindHTTP1", c.kind)
	}
}

func TestOnPlaintextFeedsSubsequentChunksToDeterminedParser(t *testing.T) {
	c := newTestConn()
	req, _ := http1.BuildRequestHead("GET", "/a", map[string]string{"Host": "example.com"}, http1.WriteFixedLength, 0)

	// split across two onPlaintext calls, as separate reactor callbacks would
	for i := 0; i < len(req); i += 3 {
		end := i + 3
		if end > len(req) {
			end = len(req)
		}
		c.onPlaintext(req[i:end])
	}

	if c.kind != KindHTTP1 {
		t.Fatalf("kind = %v, want KindHTTP1", c.kind)
	}
	if c.h1Head == nil || c.h1Head.Path != "/a" {
		t.Fatalf("h1Head not fully parsed across split chunks: %+v", c.h1Head)
	}
}

func TestStripConnectionClose(t *testing.T) {
	in := []byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: close\r\n\r\n")
	out := stripConnectionClose(in)
	want := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n"
	if string(out) != want {
		t.Fatalf("stripConnectionClose() = %q, want %q", out, want)
	}
}

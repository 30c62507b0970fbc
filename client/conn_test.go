package client

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/momentics/netcore/http1"
	"github.com/momentics/netcore/websocket"
)

func TestNewWebSocketKeyIsSixteenRawBytes(t *testing.T) {
	key, err := newWebSocketKey()
	if err != nil {
		t.Fatalf("newWebSocketKey: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		t.Fatalf("key is not valid base64: %v", err)
	}
	if len(raw) != 16 {
		t.Fatalf("decoded key is %d bytes, want 16", len(raw))
	}
}

func TestOnHeaderBodyCompleteDeliversResponse(t *testing.T) {
	c := newConn(nil)

	head := &http1.Head{StatusCode: 200, Headers: map[string][]string{}}
	c.onHeader(head)
	c.onBody([]byte("hel"))
	c.onBody([]byte("lo"))
	c.onRespComplete()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gotHead, gotBody, err := c.ReadResponse(ctx)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if gotHead != head {
		t.Fatal("ReadResponse returned a different head than was parsed")
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body = %q, want %q", gotBody, "hello")
	}
}

func TestReadResponseRespectsContextDeadline(t *testing.T) {
	c := newConn(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := c.ReadResponse(ctx); err == nil {
		t.Fatal("expected ReadResponse to return an error once the context deadline passes")
	}
}

func TestValidateUpgradeAccepts(t *testing.T) {
	c := newConn(nil)
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	head := &http1.Head{
		StatusCode: 101,
		Headers: map[string][]string{
			"upgrade":              {"websocket"},
			"sec-websocket-accept": {websocket.AcceptKey(key)},
		},
	}

	if err := c.validateUpgrade(head, key, false); err != nil {
		t.Fatalf("validateUpgrade: %v", err)
	}
	if c.kind != kindWebSocket {
		t.Fatalf("kind = %v, want kindWebSocket", c.kind)
	}
	if c.ws == nil {
		t.Fatal("expected ws connection to be constructed")
	}
}

func TestValidateUpgradeRejectsWrongStatus(t *testing.T) {
	c := newConn(nil)
	head := &http1.Head{StatusCode: 200, Headers: map[string][]string{}}
	if err := c.validateUpgrade(head, "irrelevant", false); err == nil {
		t.Fatal("expected an error for a non-101 status")
	}
}

func TestValidateUpgradeRejectsBadAccept(t *testing.T) {
	c := newConn(nil)
	key := "dGhlIHNhbXBsZSBub25jZQ=="
	head := &http1.Head{
		StatusCode: 101,
		Headers: map[string][]string{
			"upgrade":              {"websocket"},
			"sec-websocket-accept": {"not-the-right-value"},
		},
	}
	if err := c.validateUpgrade(head, key, false); err == nil {
		t.Fatal("expected an error for a mismatched Sec-WebSocket-Accept")
	}
}

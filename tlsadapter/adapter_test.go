package tlsadapter_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/momentics/netcore/api"
	"github.com/momentics/netcore/tlsadapter"
)

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}
}

// TestBIOBufferHandshakeLoopback wires two BIO-buffer adapters' send
// callbacks to each other's Feed, exercising the memory-BIO bridge spec.md
// §4.6 describes for completion backends without any real socket.
func TestBIOBufferHandshakeLoopback(t *testing.T) {
	cert := selfSignedCert(t)

	var server, client *tlsadapter.Adapter
	server = tlsadapter.NewBIOBufferAdapter(tlsadapter.Options{
		Role: tlsadapter.RoleServer,
		Base: &tls.Config{Certificates: []tls.Certificate{cert}},
	}, func(b []byte) error { return client.Feed(b) })

	client = tlsadapter.NewBIOBufferAdapter(tlsadapter.Options{
		Role:       tlsadapter.RoleClient,
		ServerName: "localhost",
		Flags:      api.TLSAllowAnyRoot,
	}, func(b []byte) error { return server.Feed(b) })

	done := make(chan error, 2)
	server.StartHandshake(context.Background(), func(err error) { done <- err })
	client.StartHandshake(context.Background(), func(err error) { done <- err })

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("handshake failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("handshake timed out")
		}
	}

	if server.State() != tlsadapter.StateSuccess || client.State() != tlsadapter.StateSuccess {
		t.Fatalf("expected both adapters SUCCESS, got server=%v client=%v", server.State(), client.State())
	}

	msg := []byte("hello over bio-buffer tls")
	if _, err := client.Send(msg); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	buf := make([]byte, 64)
	n, err := server.Receive(buf)
	if err != nil {
		t.Fatalf("server.Receive: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("got %q, want %q", buf[:n], msg)
	}
}

func TestFeedRejectedForSocketIOMode(t *testing.T) {
	a := tlsadapter.NewSocketIOAdapter(-1, tlsadapter.Options{Role: tlsadapter.RoleClient})
	if err := a.Feed([]byte("x")); err == nil {
		t.Fatal("expected Feed on a Socket-I/O adapter to fail")
	}
}

// Package tlsadapter implements the two-mode TLS bridge from spec.md
// §4.6: Socket-I/O mode drives crypto/tls directly over a readiness
// backend's raw fd; BIO-buffer mode drives it over an in-memory pipe
// exchanged with a completion backend via send/receive callbacks.
//
// Per spec.md's explicit Non-goal ("the TLS engine: external X.509/SSL/
// TLS library"), this package wraps the standard library's crypto/tls
// rather than re-implementing handshake/record-layer internals — the
// same boundary momentics/hioload-ws itself draws in
// highlevel/client.go, whose Config simply carries a *tls.Config through
// to net/http's transport without touching TLS internals.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package tlsadapter

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"

	"github.com/momentics/netcore/api"
)

// Mode selects which of the two bridging strategies an Adapter uses.
type Mode int

const (
	// SocketIO drives the handshake by blocking directly on the raw fd
	// (readiness backends — spec.md §4.6).
	SocketIO Mode = iota
	// BIOBuffer drives the handshake over a memory BIO pair, exchanging
	// ciphertext via user-supplied send/receive callbacks (completion
	// backends — spec.md §4.6).
	BIOBuffer
)

// HandshakeState is the adapter's lifecycle (spec.md §4.6).
type HandshakeState int32

const (
	StateHandshake HandshakeState = iota
	StateSuccess
	StateError
)

// Role distinguishes client-side from server-side handshakes.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// Adapter wraps one crypto/tls.Conn, tracking handshake state and
// exposing the post-handshake Send/Receive surface spec.md §4.6 names.
type Adapter struct {
	mode  Mode
	state int32 // HandshakeState

	conn     *tls.Conn
	bridge   *bioBridge
	closeFns []func() error

	mu          sync.Mutex
	doneCbs     []func(err error)
	handshakeErr error
}

var errNotBIOBuffer = api.NewError(api.InvalidState, "tlsadapter.Feed", "adapter is not in BIO-buffer mode", nil)

// State reports the adapter's current handshake lifecycle state.
func (a *Adapter) State() HandshakeState { return HandshakeState(atomic.LoadInt32(&a.state)) }

// StartHandshake runs the (blocking, in Go's crypto/tls) handshake on a
// dedicated goroutine and invokes done exactly once with its outcome.
// Socket-I/O mode blocks the goroutine on the raw fd; BIO-buffer mode
// blocks it on the in-memory pipe, unblocked as Feed/drain move bytes.
func (a *Adapter) StartHandshake(ctx context.Context, done func(err error)) {
	a.mu.Lock()
	a.doneCbs = append(a.doneCbs, done)
	a.mu.Unlock()

	go func() {
		err := a.conn.HandshakeContext(ctx)
		if err != nil {
			atomic.StoreInt32(&a.state, int32(StateError))
		} else {
			atomic.StoreInt32(&a.state, int32(StateSuccess))
		}
		a.mu.Lock()
		a.handshakeErr = err
		cbs := a.doneCbs
		a.doneCbs = nil
		a.mu.Unlock()
		for _, cb := range cbs {
			cb(err)
		}
	}()
}

// Send writes plaintext application data, returning once crypto/tls has
// encrypted and flushed it through the underlying transport.
func (a *Adapter) Send(data []byte) (int, error) {
	if a.State() != StateSuccess {
		return 0, api.NewError(api.InvalidState, "tlsadapter.Send", "handshake not complete", nil)
	}
	n, err := a.conn.Write(data)
	if err != nil {
		return n, api.NewError(api.SSLError, "tlsadapter.Send", "TLS write failed", err)
	}
	return n, nil
}

// Receive reads decrypted application data into buf.
func (a *Adapter) Receive(buf []byte) (int, error) {
	if a.State() != StateSuccess {
		return 0, api.NewError(api.InvalidState, "tlsadapter.Receive", "handshake not complete", nil)
	}
	n, err := a.conn.Read(buf)
	if err != nil {
		return n, api.NewError(api.SSLError, "tlsadapter.Receive", "TLS read failed", err)
	}
	return n, nil
}

// ALPNSelected returns the negotiated application protocol, if any.
func (a *Adapter) ALPNSelected() string {
	return a.conn.ConnectionState().NegotiatedProtocol
}

// Close tears down the TLS connection and any transport bridge it owns.
func (a *Adapter) Close() error {
	err := a.conn.Close()
	for _, fn := range a.closeFns {
		_ = fn()
	}
	return err
}

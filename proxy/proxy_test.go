package proxy_test

import (
	"testing"

	"github.com/momentics/netcore/proxy"
)

// fakeTransport simulates a proxy peer scripted to emit a fixed sequence
// of responses, tracking how many times Connect is called (spec.md
// scenario 5 requires exactly two reconnects for NTLM).
type fakeTransport struct {
	t            *testing.T
	responses    []string // one per expected CONNECT send
	sendIdx      int
	connectCalls int
	onData       func(data []byte, err error)
	closed       bool

	// beforeConnect, when set, fires at the top of every Connect call,
	// before the connector's onConnected callback runs — the state the
	// connector set just before requesting this (re)connection is still
	// visible, letting a test record each onConnected boundary in order.
	beforeConnect func()
}

func (f *fakeTransport) Connect(done func(error)) {
	f.connectCalls++
	f.closed = false
	if f.beforeConnect != nil {
		f.beforeConnect()
	}
	done(nil)
}

func (f *fakeTransport) Send(data []byte) error {
	if f.sendIdx >= len(f.responses) {
		f.t.Fatalf("unexpected Send beyond scripted responses: %q", data)
	}
	resp := f.responses[f.sendIdx]
	f.sendIdx++
	// Synchronous dispatch keeps the whole CONNECT/challenge/reconnect
	// chain on one goroutine, so state snapshots taken around Connect
	// and onResponseComplete are race-free.
	f.onData([]byte(resp), nil)
	return nil
}

func (f *fakeTransport) SetOnData(cb func(data []byte, err error)) { f.onData = cb }
func (f *fakeTransport) Close() error                              { f.closed = true; return nil }

// testTokenEngine emits trivial non-cryptographic placeholder tokens,
// exercising only the connector's leg-count/reconnect bookkeeping — the
// actual NTLM response hash computation is an external collaborator
// (see proxy/auth.go's TokenEngine doc comment).
type testTokenEngine struct{ leg int }

func (e *testTokenEngine) NextToken(serverToken []byte) ([]byte, bool, error) {
	e.leg++
	done := e.leg >= 2 // type1 then type3: two client-emitted tokens
	return []byte{byte(e.leg)}, done, nil
}

func TestNTLMConnectSequenceTwoReconnects(t *testing.T) {
	const notEnoughYet = "HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: NTLM\r\nContent-Length: 0\r\n\r\n"
	const ntlmType2 = "HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: NTLM dHlwZTI=\r\nContent-Length: 0\r\n\r\n"
	const established = "HTTP/1.1 200 Connection established\r\nContent-Length: 0\r\n\r\n"

	ft := &fakeTransport{t: t, responses: []string{notEnoughYet, ntlmType2, established}}

	var states []proxy.State
	var connector *proxy.Connector
	ft.beforeConnect = func() { states = append(states, connector.State()) }

	connector = proxy.NewConnector(ft, "proxy.example.com", "origin.example.com", 443,
		proxy.Credentials{Username: "u", Password: "p", Domain: "CORP"},
		func(scheme proxy.Scheme) proxy.Authenticator {
			if scheme != proxy.SchemeNTLM {
				return nil
			}
			return proxy.NewNTLMAuthenticator(&testTokenEngine{})
		})

	done := make(chan error, 1)
	connector.Start(func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start result: %v", err)
		}
	}
	// The 200 response settles into StateSSLConnecting without another
	// Connect call, so it is not covered by beforeConnect above.
	states = append(states, connector.State())

	wantStates := []proxy.State{
		proxy.StateConnecting,     // initial Connect, before the first CONNECT is sent
		proxy.StateAuthenticating, // reconnect after the first 407 (NTLM type 1/2 exchange begins)
		proxy.StateAuthenticating, // reconnect after the second 407 (NTLM type 3 about to be sent)
		proxy.StateSSLConnecting, // 200 Connection established
	}
	if len(states) != len(wantStates) {
		t.Fatalf("state sequence = %v, want %v", states, wantStates)
	}
	for i, want := range wantStates {
		if states[i] != want {
			t.Fatalf("state sequence = %v, want %v", states, wantStates)
		}
	}

	if ft.connectCalls != 3 {
		t.Fatalf("expected 3 Connect calls (initial + 2 NTLM-forced reconnects), got %d", ft.connectCalls)
	}
	if connector.State() != proxy.StateSSLConnecting {
		t.Fatalf("expected StateSSLConnecting after 200, got %v", connector.State())
	}
	connector.MarkOpen()
	if connector.State() != proxy.StateOpen {
		t.Fatalf("expected StateOpen after MarkOpen, got %v", connector.State())
	}
}

func TestBasicAuthReusesConnection(t *testing.T) {
	const challenge = "HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Basic realm=\"proxy\"\r\nContent-Length: 0\r\n\r\n"
	const established = "HTTP/1.1 200 Connection established\r\nContent-Length: 0\r\n\r\n"

	ft := &fakeTransport{t: t, responses: []string{challenge, established}}
	connector := proxy.NewConnector(ft, "proxy.example.com", "origin.example.com", 443,
		proxy.Credentials{Username: "u", Password: "p"},
		func(scheme proxy.Scheme) proxy.Authenticator {
			if scheme != proxy.SchemeBasic {
				return nil
			}
			return &proxy.BasicAuthenticator{}
		})

	done := make(chan error, 1)
	connector.Start(func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("Start result: %v", err)
	}
	if ft.connectCalls != 1 {
		t.Fatalf("expected Basic auth to reuse the same connection, got %d Connect calls", ft.connectCalls)
	}
}

package client

import (
	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/resolver"
	"github.com/momentics/netcore/socket"
)

// proxyTransport implements proxy.Transport over socket.TCPSocket, the
// concrete binding proxy.Connector's doc comment describes as "plugs in
// this repo's socket.TCPSocket" — kept in client/ rather than proxy/ so
// proxy.Connector itself stays free of an event-loop dependency.
type proxyTransport struct {
	loop      *concurrency.Loop
	resolver  *resolver.Resolver
	host      string
	port      int
	timeoutMs uint64

	sock   *socket.TCPSocket
	onData func(data []byte, err error)
}

func (t *proxyTransport) Connect(done func(error)) {
	sock, err := socket.Connect(t.loop, t.resolver, t.host, t.port, t.timeoutMs, done, func(data []byte, err error) {
		if t.onData != nil {
			t.onData(data, err)
		}
	})
	if err != nil {
		done(err)
		return
	}
	t.sock = sock
}

func (t *proxyTransport) Send(data []byte) error {
	return t.sock.Send(data)
}

func (t *proxyTransport) SetOnData(cb func(data []byte, err error)) {
	t.onData = cb
}

func (t *proxyTransport) Close() error {
	if t.sock == nil {
		return nil
	}
	return t.sock.Close()
}

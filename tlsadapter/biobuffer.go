package tlsadapter

import (
	"crypto/tls"
	"io"
	"net"
)

// SendFunc pushes ciphertext produced by the TLS record layer out to the
// real transport; the caller wires this to a completion-based socket's
// Send method.
type SendFunc func(data []byte) error

// bioBridge is the "memory BIO pair" of spec.md §4.6, emulated with
// net.Pipe: crypto/tls.Conn drives one end synchronously; a forwarder
// goroutine drains the other end and hands ciphertext to SendFunc, while
// Feed writes incoming ciphertext into the same end for tls.Conn to read.
type bioBridge struct {
	tlsSide  net.Conn
	farSide  net.Conn
	send     SendFunc
	closedCh chan struct{}
}

func newBIOBridge(send SendFunc) *bioBridge {
	tlsSide, farSide := net.Pipe()
	b := &bioBridge{tlsSide: tlsSide, farSide: farSide, send: send, closedCh: make(chan struct{})}
	go b.pump()
	return b
}

// pump continuously drains bytes crypto/tls wrote into the pipe and
// forwards them to the real transport via send.
func (b *bioBridge) pump() {
	buf := make([]byte, 16*1024)
	for {
		n, err := b.farSide.Read(buf)
		if n > 0 {
			if serr := b.send(append([]byte(nil), buf[:n]...)); serr != nil {
				_ = b.farSide.Close()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				_ = b.farSide.Close()
			}
			return
		}
	}
}

// Feed delivers ciphertext received from the real transport into the
// bridge, for crypto/tls.Conn to read as incoming TLS records.
func (b *bioBridge) Feed(data []byte) error {
	_, err := b.farSide.Write(data)
	return err
}

func (b *bioBridge) Close() error {
	_ = b.tlsSide.Close()
	return b.farSide.Close()
}

// NewBIOBufferAdapter builds an Adapter that drives crypto/tls over an
// in-memory pipe, for use under completion backends (IOCP/io_uring
// style), where there is no fd to block on directly. Feed incoming
// ciphertext via the returned Adapter's Feed method; outgoing ciphertext
// is delivered to send as soon as the handshake or record layer
// produces it.
func NewBIOBufferAdapter(opt Options, send SendFunc) *Adapter {
	cfg := buildConfig(opt)
	bridge := newBIOBridge(send)
	var tlsConn *tls.Conn
	if opt.Role == RoleServer {
		tlsConn = tls.Server(bridge.tlsSide, cfg)
	} else {
		tlsConn = tls.Client(bridge.tlsSide, cfg)
	}
	a := &Adapter{mode: BIOBuffer, conn: tlsConn}
	a.bridge = bridge
	a.closeFns = append(a.closeFns, bridge.Close)
	return a
}

// Feed delivers ciphertext received by the real transport into a
// BIO-buffer mode Adapter. It is a no-op (returns an InvalidState-style
// error via the zero bridge) for Socket-I/O mode adapters, which read
// the fd directly instead.
func (a *Adapter) Feed(data []byte) error {
	if a.bridge == nil {
		return errNotBIOBuffer
	}
	return a.bridge.Feed(data)
}

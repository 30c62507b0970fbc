package tlsadapter

import (
	"crypto/tls"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fdConn adapts a non-blocking raw fd into a blocking net.Conn by
// retrying on EAGAIN with unix.Poll, so crypto/tls.Conn — which expects
// ordinary blocking Read/Write semantics — can drive the handshake and
// record layer directly over the fd without the fd ever leaving
// non-blocking mode (readiness backends still own polling the fd for
// everything else).
//
// This is the "Socket-I/O mode" of spec.md §4.6: the adapter reads and
// writes the raw fd directly rather than bridging through a memory BIO.
type fdConn struct {
	fd int
}

func (c *fdConn) Read(b []byte) (int, error) {
	for {
		n, err := syscall.Read(c.fd, b)
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			if perr := pollFd(c.fd, unix.POLLIN); perr != nil {
				return 0, perr
			}
			continue
		}
		if err != nil {
			return n, err
		}
		return n, nil
	}
}

func (c *fdConn) Write(b []byte) (int, error) {
	total := 0
	for total < len(b) {
		n, err := syscall.Write(c.fd, b[total:])
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			if perr := pollFd(c.fd, unix.POLLOUT); perr != nil {
				return total, perr
			}
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *fdConn) Close() error                   { return nil } // fd lifetime owned by the caller's socket
func (c *fdConn) LocalAddr() net.Addr            { return fdAddr{} }
func (c *fdConn) RemoteAddr() net.Addr           { return fdAddr{} }
func (c *fdConn) SetDeadline(t time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(t time.Time) error { return nil }

type fdAddr struct{}

func (fdAddr) Network() string { return "fd" }
func (fdAddr) String() string  { return "fd" }

func pollFd(fd int, events int16) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

// NewSocketIOAdapter builds an Adapter that drives crypto/tls directly
// over fd, for use under readiness backends (epoll/kqueue).
func NewSocketIOAdapter(fd int, opt Options) *Adapter {
	cfg := buildConfig(opt)
	conn := &fdConn{fd: fd}
	var tlsConn *tls.Conn
	if opt.Role == RoleServer {
		tlsConn = tls.Server(conn, cfg)
	} else {
		tlsConn = tls.Client(conn, cfg)
	}
	return &Adapter{mode: SocketIO, conn: tlsConn}
}

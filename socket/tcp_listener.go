package socket

import (
	"context"
	"net"
	"sync/atomic"
	"syscall"

	"github.com/momentics/netcore/api"
	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/reactor"
)

const readinessBacklog = 128
const completionBacklog = 512
const steadyStateAccepts = 3 // spec.md §4.5 "three accept operations posted at steady state"

// AcceptCallback receives an accepted connection's fd and peer address.
// Returning false closes the accepted fd immediately.
type AcceptCallback func(fd uintptr, peerIP net.IP, peerPort int) bool

// TCPListener is the acceptor endpoint from spec.md §4.5.
type TCPListener struct {
	loop *concurrency.Loop
	fd   int
	cb   AcceptCallback

	closed int32
}

// Listen resolves host:port, creates a listening socket with
// SO_REUSEADDR, non-blocking + close-on-exec, binds, and listens.
func Listen(loop *concurrency.Loop, host string, port int, cb AcceptCallback) (*TCPListener, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		if host == "" {
			ip = net.IPv4zero
		} else {
			addrs, err := net.DefaultResolver.LookupIPAddr(context.Background(), host)
			if err != nil || len(addrs) == 0 {
				return nil, api.NewError(api.NotExist, "socket.Listen", "resolve failed for "+host, err)
			}
			ip = addrs[0].IP
		}
	}

	fd, err := syscall.Socket(domainFor(ip), syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, api.NewError(api.SockError, "socket.Listen", "socket(2) failed", err)
	}
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	if err := setNonblockingCloexec(fd); err != nil {
		syscall.Close(fd)
		return nil, api.NewError(api.SockError, "socket.Listen", "set nonblocking failed", err)
	}

	sa, err := sockaddrFor(ip, port)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}
	if err := syscall.Bind(fd, sa); err != nil {
		syscall.Close(fd)
		return nil, api.NewError(api.SockError, "socket.Listen", "bind(2) failed", err)
	}

	backlog := readinessBacklog
	if loop.BackendKind() == reactor.KindCompletion {
		backlog = completionBacklog
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return nil, api.NewError(api.SockError, "socket.Listen", "listen(2) failed", err)
	}

	l := &TCPListener{loop: loop, fd: fd, cb: cb}

	if loop.BackendKind() == reactor.KindCompletion {
		for i := 0; i < steadyStateAccepts; i++ {
			l.submitAccept()
		}
		if err := loop.Register(uintptr(fd), 0, l.onCompletion); err != nil {
			syscall.Close(fd)
			return nil, err
		}
	} else {
		if err := loop.Register(uintptr(fd), api.EventRead, l.onReadable); err != nil {
			syscall.Close(fd)
			return nil, err
		}
	}
	return l, nil
}

// onReadable drains accept(2) to EAGAIN (spec.md §4.5 readiness mode).
func (l *TCPListener) onReadable(events api.EventMask, opaque uintptr, ioSize int) {
	if events&api.EventError != 0 {
		return
	}
	for {
		nfd, sa, err := syscall.Accept(l.fd)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			return
		}
		l.dispatch(nfd, sa)
	}
}

// onCompletion handles one ACCEPT completion and re-submits to keep
// steadyStateAccepts operations outstanding (spec.md §4.5 completion mode).
func (l *TCPListener) onCompletion(events api.EventMask, opaque uintptr, ioSize int) {
	if events&api.EventError != 0 {
		l.submitAccept()
		return
	}
	nfd := int(ioSize)
	sa, _ := syscall.Getpeername(nfd)
	l.dispatch(nfd, sa)
	l.submitAccept()
}

func (l *TCPListener) submitAccept() {
	_ = l.loop.SubmitOp(reactor.SubmitRequest{Fd: uintptr(l.fd), Op: reactor.OpAccept})
}

func (l *TCPListener) dispatch(nfd int, sa syscall.Sockaddr) {
	_ = setNonblockingCloexec(nfd)
	peerIP, peerPort := addrFromSockaddr(sa)
	if !l.cb(uintptr(nfd), peerIP, peerPort) {
		syscall.Close(nfd)
	}
}

// Close unregisters and closes the listening fd. Idempotent.
func (l *TCPListener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	return l.loop.Unregister(uintptr(l.fd), true)
}

// TCP stream socket state machine from spec.md §4.5: IDLE -> RESOLVING ->
// CONNECTING -> OPEN -> CLOSED, with a FIFO send queue on completion
// backends and direct non-blocking writes on readiness backends. The send
// queue is not bounded: sendQueueHighWatermark and sendQueueLowWatermark
// are not consulted, and Send never refuses or pauses on queue size.
//
// Grounded on momentics/hioload-ws transport/netconn.go (the connection
// state field layout and its send-queue watermark fields) and
// examples/reactor_echo/socket_unix.go (non-blocking connect + EAGAIN
// write-retry idiom), generalized to the two-backend-kind split spec.md
// §4.5 requires.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package socket

import (
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/momentics/netcore/api"
	"github.com/momentics/netcore/buffer"
	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/reactor"
	"github.com/momentics/netcore/resolver"
	"github.com/momentics/netcore/timer"
)

const (
	sendQueueLowWatermark  = 32 * 1024
	sendQueueHighWatermark = 1024 * 1024
	recvBufSize            = 64 * 1024
)

// recvBufPool is shared across every TCPSocket so the 64KiB receive
// segments recycle across connections instead of allocating fresh on
// every read, per spec.md §3's pooled-segment requirement.
var recvBufPool = buffer.NewPool()

// ConnectCallback reports the outcome of an asynchronous Connect.
type ConnectCallback func(err error)

// DataCallback delivers received bytes; a zero-length slice with err ==
// nil signals a half-close (peer shutdown of its write side).
type DataCallback func(data []byte, err error)

// TCPSocket is a single TCP stream connection endpoint.
type TCPSocket struct {
	loop     *concurrency.Loop
	resolver *resolver.Resolver
	fd       int

	state int32 // api.SocketState

	onConnect ConnectCallback
	onData    DataCallback

	mu        sync.Mutex
	writeQ    [][]byte
	queuedLen int
	paused    bool

	connectTimer *timer.Timer
	resolveTok   resolver.Token

	recvOutstanding bool
	recvSeg         *buffer.Segment
}

// NewTCPSocket wraps an already-open, non-blocking fd (e.g. from
// TCPListener's accept callback) in OPEN state.
func NewTCPSocket(loop *concurrency.Loop, res *resolver.Resolver, fd uintptr, onData DataCallback) (*TCPSocket, error) {
	s := &TCPSocket{loop: loop, resolver: res, fd: int(fd), onData: onData, state: int32(api.SocketOpen)}
	if err := s.registerOpen(); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect resolves host if needed (async, via the resolver) and drives a
// non-blocking connect(2) to completion, arming timeoutMs as a deadline.
func Connect(loop *concurrency.Loop, res *resolver.Resolver, host string, port int, timeoutMs uint64, onConnect ConnectCallback, onData DataCallback) (*TCPSocket, error) {
	s := &TCPSocket{loop: loop, resolver: res, onConnect: onConnect, onData: onData, state: int32(api.SocketIdle)}

	if ip := net.ParseIP(host); ip != nil {
		return s, s.beginConnect(ip, port, timeoutMs)
	}

	atomic.StoreInt32(&s.state, int32(api.SocketResolving))
	s.resolveTok = res.ResolveAsync(host, uint16(port), func(addrs []net.IP, _ uint16, err error) {
		if err != nil || len(addrs) == 0 {
			s.fail(api.NewError(api.NotExist, "socket.Connect", "resolve failed for "+host, err))
			return
		}
		if e := s.beginConnect(addrs[0], port, timeoutMs); e != nil {
			s.fail(e)
		}
	})
	return s, nil
}

func (s *TCPSocket) beginConnect(ip net.IP, port int, timeoutMs uint64) error {
	fd, err := syscall.Socket(domainFor(ip), syscall.SOCK_STREAM, 0)
	if err != nil {
		return api.NewError(api.SockError, "socket.Connect", "socket(2) failed", err)
	}
	if err := setNonblockingCloexec(fd); err != nil {
		syscall.Close(fd)
		return api.NewError(api.SockError, "socket.Connect", "set nonblocking failed", err)
	}
	s.fd = fd
	atomic.StoreInt32(&s.state, int32(api.SocketConnecting))

	sa, err := sockaddrFor(ip, port)
	if err != nil {
		syscall.Close(fd)
		return err
	}

	if timeoutMs > 0 {
		t, _ := s.loop.ScheduleTimer(timeoutMs, timer.OneShot, func() {
			s.fail(api.NewError(api.TIMEOUT, "socket.Connect", "connect timed out", nil))
		})
		s.connectTimer = t
	}

	if s.loop.BackendKind() == reactor.KindCompletion {
		addrBytes := encodeAddr(ip, port)
		return s.loop.SubmitOp(reactor.SubmitRequest{Fd: uintptr(fd), Op: reactor.OpConnect, Addr: addrBytes})
	}

	err = syscall.Connect(fd, sa)
	if err != nil && err != syscall.EINPROGRESS && err != syscall.EWOULDBLOCK {
		syscall.Close(fd)
		return api.NewError(api.SockError, "socket.Connect", "connect(2) failed", err)
	}
	return s.loop.Register(uintptr(fd), api.EventWrite|api.EventError, s.onConnectReady)
}

func (s *TCPSocket) onConnectReady(events api.EventMask, opaque uintptr, ioSize int) {
	if events&api.EventError != 0 {
		errno, _ := syscall.GetsockoptInt(s.fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
		s.fail(api.NewError(api.SockError, "socket.Connect", "async connect failed", syscall.Errno(errno)))
		return
	}
	s.clearConnectTimer()
	atomic.StoreInt32(&s.state, int32(api.SocketOpen))
	_ = s.loop.Update(uintptr(s.fd), 0)
	if err := s.registerOpen(); err != nil {
		s.fail(err)
		return
	}
	if s.onConnect != nil {
		s.onConnect(nil)
	}
}

func (s *TCPSocket) registerOpen() error {
	mask := api.EventRead | api.EventError
	if s.loop.BackendKind() == reactor.KindCompletion {
		if err := s.loop.Register(uintptr(s.fd), 0, s.onCompletion); err != nil {
			return err
		}
		s.submitRecv()
		return nil
	}
	return s.loop.Register(uintptr(s.fd), mask, s.onReadiness)
}

func (s *TCPSocket) fail(err error) {
	s.clearConnectTimer()
	prev := api.SocketState(atomic.SwapInt32(&s.state, int32(api.SocketClosed)))
	if prev == api.SocketConnecting && s.fd != 0 {
		syscall.Close(s.fd)
	}
	if prev != api.SocketOpen && s.onConnect != nil {
		s.onConnect(err)
		return
	}
	if s.onData != nil {
		s.onData(nil, err)
	}
}

func (s *TCPSocket) clearConnectTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Cancel()
		s.connectTimer = nil
	}
}

// ---- readiness-backend path ----

func (s *TCPSocket) onReadiness(events api.EventMask, opaque uintptr, ioSize int) {
	if events&api.EventError != 0 {
		s.fail(api.NewError(api.SockError, "socket.onReadiness", "peer reset or socket error", nil))
		return
	}
	if events&api.EventRead != 0 {
		s.readLoop()
	}
	if events&api.EventWrite != 0 {
		s.flushLocked()
	}
}

func (s *TCPSocket) readLoop() {
	for {
		seg := recvBufPool.Get(recvBufSize)
		n, err := syscall.Read(s.fd, seg.WritableSlice())
		if err != nil {
			recvBufPool.Put(seg)
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			s.fail(api.NewError(api.SockError, "socket.read", "read(2) failed", err))
			return
		}
		if n == 0 {
			recvBufPool.Put(seg)
			if s.onData != nil {
				s.onData([]byte{}, nil)
			}
			return
		}
		seg.CommitWrite(n)
		if s.onData != nil {
			s.onData(seg.ReadSlice(), nil)
		}
		recvBufPool.Put(seg)
	}
}

// Send queues data FIFO-ordered and attempts an immediate write on
// readiness backends, or enqueues + submits on completion backends.
func (s *TCPSocket) Send(data []byte) error {
	if api.SocketState(atomic.LoadInt32(&s.state)) != api.SocketOpen {
		return api.NewError(api.InvalidState, "socket.Send", "socket not open", nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	empty := len(s.writeQ) == 0
	s.writeQ = append(s.writeQ, cp)
	s.queuedLen += len(cp)
	s.mu.Unlock()

	if s.loop.BackendKind() == reactor.KindCompletion {
		if empty {
			s.submitWrite()
		}
		return nil
	}
	if empty {
		s.flushLocked()
	} else {
		_ = s.loop.Update(uintptr(s.fd), api.EventRead|api.EventWrite|api.EventError)
	}
	return nil
}

func (s *TCPSocket) flushLocked() {
	for {
		s.mu.Lock()
		if len(s.writeQ) == 0 {
			s.mu.Unlock()
			_ = s.loop.Update(uintptr(s.fd), api.EventRead|api.EventError)
			return
		}
		head := s.writeQ[0]
		s.mu.Unlock()

		n, err := syscall.Write(s.fd, head)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				_ = s.loop.Update(uintptr(s.fd), api.EventRead|api.EventWrite|api.EventError)
				return
			}
			s.fail(api.NewError(api.SockError, "socket.write", "write(2) failed", err))
			return
		}

		s.mu.Lock()
		if n < len(head) {
			s.writeQ[0] = head[n:]
			s.queuedLen -= n
			s.mu.Unlock()
			_ = s.loop.Update(uintptr(s.fd), api.EventRead|api.EventWrite|api.EventError)
			return
		}
		s.queuedLen -= len(head)
		s.writeQ = s.writeQ[1:]
		s.mu.Unlock()
	}
}

// ---- completion-backend path ----

func (s *TCPSocket) onCompletion(events api.EventMask, opaque uintptr, ioSize int) {
	if events&api.EventError != 0 {
		s.fail(api.NewError(api.SockError, "socket.onCompletion", "completion reported error", nil))
		return
	}
	if events&api.EventWrite != 0 {
		s.onWriteDone(ioSize)
		return
	}
	s.onRecvDone(ioSize)
}

func (s *TCPSocket) submitRecv() {
	if s.recvOutstanding {
		return
	}
	s.recvOutstanding = true
	s.recvSeg = recvBufPool.Get(recvBufSize)
	_ = s.loop.SubmitOp(reactor.SubmitRequest{Fd: uintptr(s.fd), Op: reactor.OpReadv, Data: s.recvSeg.WritableSlice()})
}

func (s *TCPSocket) onRecvDone(n int) {
	s.recvOutstanding = false
	seg := s.recvSeg
	s.recvSeg = nil
	if n == 0 {
		recvBufPool.Put(seg)
		if s.onData != nil {
			s.onData([]byte{}, nil)
		}
		return
	}
	seg.CommitWrite(n)
	if s.onData != nil {
		s.onData(seg.ReadSlice(), nil)
	}
	recvBufPool.Put(seg)
	if !s.Paused() {
		s.submitRecv()
	}
}

func (s *TCPSocket) submitWrite() {
	s.mu.Lock()
	if len(s.writeQ) == 0 {
		s.mu.Unlock()
		return
	}
	head := s.writeQ[0]
	s.mu.Unlock()
	_ = s.loop.SubmitOp(reactor.SubmitRequest{Fd: uintptr(s.fd), Op: reactor.OpWritev, Data: head})
}

func (s *TCPSocket) onWriteDone(n int) {
	s.mu.Lock()
	if len(s.writeQ) == 0 {
		s.mu.Unlock()
		return
	}
	head := s.writeQ[0]
	if n < len(head) {
		s.writeQ[0] = head[n:]
		s.queuedLen -= n
	} else {
		s.queuedLen -= len(head)
		s.writeQ = s.writeQ[1:]
	}
	more := len(s.writeQ) > 0
	s.mu.Unlock()
	if more {
		s.submitWrite()
	}
}

// ---- pause / resume / close ----

// Paused reports whether receive delivery is currently suspended.
func (s *TCPSocket) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Pause suspends receive delivery (readiness: drops READ interest;
// completion: simply stops re-submitting OpReadv after the outstanding one).
func (s *TCPSocket) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	if s.loop.BackendKind() != reactor.KindCompletion {
		_ = s.loop.Update(uintptr(s.fd), api.EventError)
	}
}

// Resume re-arms receive delivery.
func (s *TCPSocket) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	if s.loop.BackendKind() == reactor.KindCompletion {
		s.submitRecv()
		return
	}
	_ = s.loop.Update(uintptr(s.fd), api.EventRead|api.EventError)
}

// Close tears down the socket. On completion backends with outstanding
// ops, the fd close is deferred to the loop's pending-object mechanism.
func (s *TCPSocket) Close() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(api.SocketOpen), int32(api.SocketClosed)) {
		atomic.StoreInt32(&s.state, int32(api.SocketClosed))
	}
	s.resolveTok.Cancel()
	s.clearConnectTimer()
	if s.fd == 0 {
		return nil
	}
	return s.loop.Unregister(uintptr(s.fd), true)
}

func encodeAddr(ip net.IP, port int) []byte {
	if v4 := ip.To4(); v4 != nil {
		b := make([]byte, 6)
		copy(b, v4)
		b[4] = byte(port >> 8)
		b[5] = byte(port)
		return b
	}
	v6 := ip.To16()
	b := make([]byte, 18)
	copy(b, v6)
	b[16] = byte(port >> 8)
	b[17] = byte(port)
	return b
}

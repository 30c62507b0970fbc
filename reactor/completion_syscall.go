package reactor

import (
	"syscall"
	"time"
)

// syscallRecv performs the blocking read/recvfrom equivalent for a
// completion-backend READV/RECVMSG op. Connection-oriented sockets use a
// plain Read; req.Addr being non-nil selects Recvfrom for UDP sockets so
// the peer address can be reported back through the completion.
func syscallRecv(req SubmitRequest) (int, []byte, error) {
	buf := req.Data
	if req.Addr != nil {
		n, from, err := syscall.Recvfrom(int(req.Fd), buf, 0)
		if err != nil || from == nil {
			return n, nil, err
		}
		return n, encodeSockaddr(from), err
	}
	n, err := syscall.Read(int(req.Fd), buf)
	return n, nil, err
}

// encodeSockaddr mirrors addrFromBytes's wire format so a completion's
// recorded peer address round-trips through SubmitRequest.Addr the same
// way socket.encodeAddr produces it for outgoing SENDMSG ops.
func encodeSockaddr(sa syscall.Sockaddr) []byte {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		b := make([]byte, 6)
		copy(b, a.Addr[:])
		b[4], b[5] = byte(a.Port>>8), byte(a.Port)
		return b
	case *syscall.SockaddrInet6:
		b := make([]byte, 18)
		copy(b, a.Addr[:])
		b[16], b[17] = byte(a.Port>>8), byte(a.Port)
		return b
	default:
		return nil
	}
}

// syscallSend performs the blocking write/sendto equivalent for a
// completion-backend WRITEV/SENDMSG op.
func syscallSend(req SubmitRequest) (int, error) {
	if req.Addr != nil {
		sa := addrFromBytes(req.Addr)
		if sa == nil {
			return 0, syscall.EINVAL
		}
		if err := syscall.Sendto(int(req.Fd), req.Data, 0, sa); err != nil {
			return 0, err
		}
		return len(req.Data), nil
	}
	return syscall.Write(int(req.Fd), req.Data)
}

// addrFromBytes decodes the wire-format address netcore's socket package
// stashes in SubmitRequest.Addr (4 bytes IPv4 + 2 bytes big-endian port, or
// 16 bytes IPv6 + 2 bytes port) into a syscall.Sockaddr.
func addrFromBytes(b []byte) syscall.Sockaddr {
	switch len(b) {
	case 6:
		var sa syscall.SockaddrInet4
		copy(sa.Addr[:], b[:4])
		sa.Port = int(b[4])<<8 | int(b[5])
		return &sa
	case 18:
		var sa syscall.SockaddrInet6
		copy(sa.Addr[:], b[:16])
		sa.Port = int(b[16])<<8 | int(b[17])
		return &sa
	default:
		return nil
	}
}

// timeAfter is a thin time.After wrapper kept in its own function so the
// completion backend's wait path reads as "the portable timeout primitive"
// rather than a raw stdlib call buried in select logic.
func timeAfter(timeoutMs int) <-chan time.Time {
	return time.After(time.Duration(timeoutMs) * time.Millisecond)
}

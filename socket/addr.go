// Package socket implements the TCP/UDP endpoints from spec.md §4.5:
// the acceptor, the TCP stream socket, and the UDP socket, each driven
// by a reactor.Backend and a resolver.Resolver.
//
// Grounded on momentics/hioload-ws examples/reactor_echo/socket_unix.go
// (raw syscall.Read/Write/Close over a bare fd — this package's guiding
// idiom for every socket operation) and transport/netconn.go (the
// conn-state field layout this package's state machines generalize).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package socket

import (
	"net"
	"syscall"

	"github.com/momentics/netcore/api"
)

func sockaddrFor(ip net.IP, port int) (syscall.Sockaddr, error) {
	if v4 := ip.To4(); v4 != nil {
		sa := &syscall.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return nil, api.NewError(api.InvalidParam, "socket.sockaddrFor", "not an IPv4/IPv6 address", nil)
	}
	sa := &syscall.SockaddrInet6{Port: port}
	copy(sa.Addr[:], v6)
	return sa, nil
}

func addrFromSockaddr(sa syscall.Sockaddr) (net.IP, int) {
	switch a := sa.(type) {
	case *syscall.SockaddrInet4:
		ip := make(net.IP, 4)
		copy(ip, a.Addr[:])
		return ip, a.Port
	case *syscall.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, a.Addr[:])
		return ip, a.Port
	default:
		return nil, 0
	}
}

// setNonblockingCloexec applies the non-blocking + close-on-exec flags
// every socket in this package needs immediately after creation
// (spec.md §4.5 "sets non-blocking and close-on-exec").
func setNonblockingCloexec(fd int) error {
	if err := syscall.SetNonblock(fd, true); err != nil {
		return err
	}
	syscall.CloseOnExec(fd)
	return nil
}

func domainFor(ip net.IP) int {
	if ip.To4() != nil {
		return syscall.AF_INET
	}
	return syscall.AF_INET6
}

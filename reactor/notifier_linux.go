//go:build linux

// Linux notifier backed by eventfd(2), per spec.md §4.1 "Wake mechanism".
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// notifier wraps a non-blocking eventfd registered for READ with the
// owning backend; writing one 8-byte counter wakes a blocked epoll_wait.
type notifier struct {
	fd int
}

func newNotifier() (*notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: eventfd: %w", err)
	}
	return &notifier{fd: fd}, nil
}

func (n *notifier) Fd() uintptr { return uintptr(n.fd) }

func (n *notifier) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(n.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// Drain reads and discards the counter after a wake, as eventfd is
// level-triggered until read back to zero.
func (n *notifier) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(n.fd, buf[:])
		if err != nil {
			return
		}
	}
}

func (n *notifier) Close() error {
	return unix.Close(n.fd)
}

//go:build !linux

// Self-pipe notifier for platforms without eventfd (spec.md §4.1: "on
// Linux an eventfd, elsewhere a self-pipe or loopback UDP pair").
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor

import (
	"os"
	"time"
)

type notifier struct {
	r, w *os.File
}

func newNotifier() (*notifier, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &notifier{r: r, w: w}, nil
}

func (n *notifier) Fd() uintptr { return n.r.Fd() }

func (n *notifier) Wake() error {
	_, err := n.w.Write([]byte{0})
	return err
}

func (n *notifier) Drain() {
	buf := make([]byte, 64)
	_ = n.r.SetReadDeadline(time.Now())
	for {
		nr, err := n.r.Read(buf)
		if nr == 0 || err != nil {
			return
		}
	}
}

func (n *notifier) Close() error {
	n.w.Close()
	return n.r.Close()
}

// Package logging wraps github.com/sirupsen/logrus with the
// field/component conventions this repo's packages use for diagnostic
// output (spec.md ambient "Logging" concerns — connection lifecycle,
// poller errors, timer panics).
//
// Grounded on momentics/hioload-ws server/hioload.go and facade/hioload.go
// (both log via stdlib log.Printf at a handful of lifecycle points —
// DPDK init failure, affinity pin warnings), generalized from unstructured
// Printf calls to structured entries the way nabbar/golib's logger package
// builds on logrus.Hook/logrus.Entry, without importing that package's
// full hook/rotation machinery (out of scope here: this repo only needs a
// component-tagged entry, not log shipping).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	root *logrus.Logger
)

func base() *logrus.Logger {
	once.Do(func() {
		root = logrus.New()
		root.SetOutput(os.Stderr)
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		root.SetLevel(logrus.InfoLevel)
	})
	return root
}

// SetLevel adjusts the root logger's verbosity (spec.md config knob).
func SetLevel(level string) {
	l, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	base().SetLevel(l)
}

// For returns a component-scoped entry, e.g. logging.For("reactor.epoll").
func For(component string) *logrus.Entry {
	return base().WithField("component", component)
}

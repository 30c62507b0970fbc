// NewBackend selects the concrete Backend for the current platform and
// requested Kind.
//
// Grounded on momentics/hioload-ws reactor/reactor.go's constructor, which
// picks io_uring-or-epoll behind one factory function; generalized here to
// the readiness/completion split from spec.md §4.2.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor

import (
	"runtime"

	"github.com/momentics/netcore/api"
)

// NewBackend constructs a Backend for kind. KindAuto picks the readiness
// backend (epoll on linux, kqueue on darwin/bsd) where one is built for
// the current GOOS, and falls back to the portable completion backend
// everywhere else (including windows, which has no readiness backend in
// this package).
func NewBackend(kind Kind) (Backend, error) {
	switch kind {
	case KindReadiness:
		if !hasReadinessBackend {
			return nil, api.NewError(api.NotSupported, "reactor.NewBackend",
				"no readiness backend built for "+runtime.GOOS, nil)
		}
		return newReadinessBackend()
	case KindCompletion:
		return newCompletionBackend()
	default: // KindAuto
		if hasReadinessBackend {
			return newReadinessBackend()
		}
		return newCompletionBackend()
	}
}

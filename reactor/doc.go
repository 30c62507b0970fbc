// Package reactor implements the Poller Backend from spec.md §4.2: a
// single Backend interface polymorphic over readiness (epoll/kqueue) and
// completion (a portable worker-pool stand-in for IOCP/io_uring) styles,
// selected at construction time via NewBackend.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor

// File: api/handler.go
// Package api defines Handler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

// Handler processes data payloads delivered by a connection or a protocol
// layer (decoded HTTP/1 bodies, HTTP/2 DATA, WebSocket messages).
type Handler interface {
	Handle(data any) error
}

// IOCallback is the uniform readiness/completion callback signature from
// spec.md §4.2: readiness backends populate only events; completion
// backends additionally populate opaque and ioSize.
type IOCallback func(events EventMask, opaque uintptr, ioSize int)

// Task is a zero-argument continuation submitted to an event loop's task
// queue (spec.md §3, Task Queue).
type Task func()

// PendingObject is implemented by any endpoint that must defer its own
// teardown until outstanding I/O completes (spec.md §3, Lifecycle).
type PendingObject interface {
	IsPending() bool
	OnLoopExit()
}

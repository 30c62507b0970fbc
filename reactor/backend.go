// Package reactor implements the Poller Backend from spec.md §4.2: a
// single interface polymorphic over readiness (epoll/kqueue) and
// completion (a portable worker-pool stand-in for IOCP/io_uring) styles.
//
// Grounded on momentics/hioload-ws reactor/reactor.go (the Reactor
// interface) and reactor/epoll_reactor.go (the epoll implementation,
// whose Register/Unregister/Poll/Close shape this package's Backend
// keeps, generalized to the spec's register/update/unregister/wait/
// submit_op/wake capability set and its uniform IOCallback signature).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package reactor

import (
	"github.com/momentics/netcore/api"
)

// Op enumerates completion-backend operations (spec.md §4.2).
type Op int

const (
	OpConnect Op = iota
	OpAccept
	OpReadv
	OpWritev
	OpSendmsg
	OpRecvmsg
	OpPollAdd
	OpRegister
	OpCancel
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "CONNECT"
	case OpAccept:
		return "ACCEPT"
	case OpReadv:
		return "READV"
	case OpWritev:
		return "WRITEV"
	case OpSendmsg:
		return "SENDMSG"
	case OpRecvmsg:
		return "RECVMSG"
	case OpPollAdd:
		return "POLL_ADD"
	case OpRegister:
		return "REGISTER"
	case OpCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// eventForOp maps a completed op to the EventMask bit the uniform
// IOCallback reports it as, per spec.md §4.2 ("completion backends encode
// the completed op as events").
func eventForOp(op Op, failed bool) api.EventMask {
	if failed {
		return api.EventError
	}
	switch op {
	case OpConnect, OpAccept, OpReadv, OpRecvmsg, OpPollAdd:
		return api.EventRead
	case OpWritev, OpSendmsg:
		return api.EventWrite
	default:
		return 0
	}
}

// SubmitRequest describes one completion-backend operation (spec.md §4.2).
type SubmitRequest struct {
	Fd     uintptr
	Op     Op
	Data   []byte  // payload for WRITEV/SENDMSG; fill target for READV/RECVMSG
	Opaque uintptr // returned verbatim in the completion callback
	Addr   []byte  // destination for SENDMSG / filled source for RECVMSG (UDP)
}

// Backend is the capability set from spec.md §4.2: {register, update,
// unregister, submit_op, wait, wake}.
type Backend interface {
	// Register is valid only from the loop's owning goroutine.
	Register(fd uintptr, mask api.EventMask, cb api.IOCallback) error
	Update(fd uintptr, mask api.EventMask) error
	Unregister(fd uintptr, closeFd bool) error

	// SubmitOp is only implemented by completion backends; readiness
	// backends return api.NotSupportedE.
	SubmitOp(req SubmitRequest) error

	// Wait blocks up to timeoutMs (negative = forever) and dispatches any
	// ready/completed fds to their registered callbacks inline, mirroring
	// the teacher's epollReactor.Poll. Returns the number dispatched.
	Wait(timeoutMs int) (int, error)

	// IsLevelTriggered reports whether this backend requires endpoints to
	// re-arm WRITE interest after each writability edge (spec.md §4.2).
	IsLevelTriggered() bool

	// Kind reports whether this is a readiness or completion backend, so
	// callers (socket endpoints, TLS adapter) can pick the matching I/O
	// submission style without type-asserting the concrete backend.
	Kind() Kind

	// Wake causes a blocked Wait to return promptly.
	Wake() error

	Close() error
}

// dispatchSafely invokes cb, containing panics so one misbehaving handler
// never aborts the loop (spec.md §4.1 "Callback exceptions are contained").
func dispatchSafely(cb api.IOCallback, events api.EventMask, opaque uintptr, ioSize int) {
	defer func() { _ = recover() }()
	cb(events, opaque, ioSize)
}

// Kind selects which concrete Backend NewBackend constructs.
type Kind int

const (
	// KindAuto picks readiness (epoll/kqueue) where available, completion
	// elsewhere (e.g. windows, where no readiness backend is built here).
	KindAuto Kind = iota
	KindReadiness
	KindCompletion
)

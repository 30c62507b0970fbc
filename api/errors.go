// Package api defines the shared error taxonomy, event mask, and small
// vocabulary types used across every netcore package, so that callers never
// need to import a leaf package just to check an error code.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package api

import (
	"errors"
	"fmt"
)

// Code is the exhaustive error classification returned by every layer.
// There is no exception-based control flow in this library: every
// operation that can fail returns an error whose root cause, once
// unwrapped with errors.As, is an *Error carrying one of these codes.
type Code int

const (
	OK Code = iota
	FAILED
	FATAL
	REJECTED
	CLOSED
	AGAIN
	TIMEOUT
	InvalidState
	InvalidParam
	InvalidProto
	AlreadyExist
	NotExist
	SockError
	PollError
	ProtoError
	SSLError
	BufferTooSmall
	BufferTooLong
	NotSupported
	NotImplemented
	NotAuthorized
	Destroyed
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case FAILED:
		return "FAILED"
	case FATAL:
		return "FATAL"
	case REJECTED:
		return "REJECTED"
	case CLOSED:
		return "CLOSED"
	case AGAIN:
		return "AGAIN"
	case TIMEOUT:
		return "TIMEOUT"
	case InvalidState:
		return "INVALID_STATE"
	case InvalidParam:
		return "INVALID_PARAM"
	case InvalidProto:
		return "INVALID_PROTO"
	case AlreadyExist:
		return "ALREADY_EXIST"
	case NotExist:
		return "NOT_EXIST"
	case SockError:
		return "SOCK_ERROR"
	case PollError:
		return "POLL_ERROR"
	case ProtoError:
		return "PROTO_ERROR"
	case SSLError:
		return "SSL_ERROR"
	case BufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case BufferTooLong:
		return "BUFFER_TOO_LONG"
	case NotSupported:
		return "NOT_SUPPORTED"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case NotAuthorized:
		return "NOT_AUTHORIZED"
	case Destroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete error type produced by every netcore package.
// Op names the failing operation (e.g. "tcp.Connect", "http2.WriteHeaders")
// so logs and tests can pinpoint the origin without string-matching Message.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, api.Again)-style comparisons against a bare Code
// sentinel without unwrapping to *Error by hand.
func (e *Error) Is(target error) bool {
	var s codeSentinel
	if errors.As(target, &s) {
		return e.Code == s.code
	}
	return false
}

// codeSentinel lets callers write errors.Is(err, api.Again) instead of
// switching on CodeOf(err) themselves.
type codeSentinel struct{ code Code }

func (c codeSentinel) Error() string { return c.code.String() }

// Sentinel error values usable directly with errors.Is.
var (
	Again         error = codeSentinel{AGAIN}
	Closed        error = codeSentinel{CLOSED}
	DestroyedErr  error = codeSentinel{Destroyed}
	TimeoutErr    error = codeSentinel{TIMEOUT}
	InvalidStateE error = codeSentinel{InvalidState}
	NotSupportedE error = codeSentinel{NotSupported}
)

// NewError constructs an *Error, wrapping cause (which may be nil).
func NewError(code Code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: cause}
}

// CodeOf extracts the Code carried by err, defaulting to FAILED for
// errors that did not originate in this library (e.g. a raw net.Error).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return FAILED
}

//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import "runtime"

// PinCurrentThread locks the calling goroutine to its OS thread. CPU-level
// affinity beyond that is Linux-specific in this package (see
// pin_linux.go); elsewhere LockOSThread is the portable half of pinning.
func PinCurrentThread(cpuID int) {
	runtime.LockOSThread()
}

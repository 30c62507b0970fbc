//go:build linux

// Thread pinning for the loop pool (spec.md §9 "optional loop-pool
// multi-threading"). Uses golang.org/x/sys/unix's SchedSetaffinity
// directly rather than cgo/libnuma, matching the rest of this module's
// policy of reaching for the teacher's own x/sys/unix dependency instead
// of a cgo binding.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its OS thread and, on
// Linux, restricts that thread to cpuID. cpuID < 0 skips the affinity
// call (LockOSThread still applies).
func PinCurrentThread(cpuID int) {
	runtime.LockOSThread()
	if cpuID < 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	_ = unix.SchedSetaffinity(0, &set)
}

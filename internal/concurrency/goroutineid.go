// currentGoroutineID gives Loop.Sync a way to tell whether it is being
// called from the loop's own owning goroutine. Go deliberately exposes
// no numeric goroutine id; this uses the conventional trick of parsing
// it back out of the "goroutine N [state]:" header runtime.Stack
// prints, which is stable across Go versions even though it is not a
// committed API.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"runtime"
	"strconv"
)

func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]

	// b starts with "goroutine 1234 [running]:\n"
	const prefix = "goroutine "
	if len(b) <= len(prefix) {
		return 0
	}
	b = b[len(prefix):]
	i := 0
	for i < len(b) && b[i] != ' ' {
		i++
	}
	id, _ := strconv.ParseInt(string(b[:i]), 10, 64)
	return id
}

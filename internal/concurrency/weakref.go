// Handle is the "weak reference" design note from spec.md §3/§9, issued
// by Loop.Handle. The endpoints in this module (socket, server, client)
// hold a *Loop directly, not a Handle, so they do keep the loop
// reachable. Go has no portable weak pointer
// below 1.24's experimental weak package, so — exactly like the teacher's
// own plain-struct-embedding model — this is a generation-checked handle,
// not a true GC weak reference: Upgrade returns (nil, false) once the
// owning loop has been torn down, even though the *Loop value itself may
// still be technically reachable elsewhere.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import "sync/atomic"

// Handle is a generation-checked reference to a Loop, returned by
// Loop.Handle.
type Handle struct {
	loop *Loop
	gen  *int32 // shared with the owning Loop; bumped to invalid on Close
}

// Upgrade returns the live loop, or (nil, false) if it has been closed.
func (h Handle) Upgrade() (*Loop, bool) {
	if h.loop == nil || atomic.LoadInt32(h.gen) == 0 {
		return nil, false
	}
	return h.loop, true
}

// Valid reports whether the handle's loop is still alive.
func (h Handle) Valid() bool {
	_, ok := h.Upgrade()
	return ok
}

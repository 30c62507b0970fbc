// Package concurrency implements the event-loop substrate from spec.md
// §4.1: the task queue, the weak loop handle, the pending-object list,
// the Loop itself (backend + timer wheel + tasks), and the loop pool for
// the optional multi-threaded deployment from spec.md §9.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

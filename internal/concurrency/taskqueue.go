// Package concurrency implements the event-loop substrate from spec.md
// §4.1: the task queue, the weak loop handle, and the pending-object
// list. The poller and timer wheel live in sibling packages (reactor,
// timer) and are wired together by Loop in eventloop.go.
//
// Grounded on momentics/hioload-ws internal/concurrency/eventloop.go
// (ring-buffer + handler dispatch pattern), generalized from its
// lock-free single-producer ring to the spec's "bounded-or-unbounded
// concurrent FIFO, enqueue from any thread, drain only on the loop
// thread" contract using github.com/eapache/queue, the teacher's own
// go.mod dependency for FIFO task queues.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/netcore/api"
)

// TaskQueue is a thread-safe FIFO of zero-argument continuations. Enqueue
// is safe from any goroutine; Drain must only be called from the loop's
// owning goroutine (spec.md §3, Task Queue).
type TaskQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// NewTaskQueue returns an empty task queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{q: queue.New()}
}

// Push enqueues t; safe for concurrent use.
func (tq *TaskQueue) Push(t api.Task) {
	tq.mu.Lock()
	tq.q.Add(t)
	tq.mu.Unlock()
}

// Len reports the number of queued tasks.
func (tq *TaskQueue) Len() int {
	tq.mu.Lock()
	n := tq.q.Length()
	tq.mu.Unlock()
	return n
}

// Drain runs every task currently queued, in FIFO order, and returns how
// many ran. Tasks pushed by a running task are NOT drained by this call
// (they run on the next Drain) — this bounds a single Step's task-queue
// work the same way spec.md §4.1 step 6 bounds it to "drain the task
// queue" once per step.
func (tq *TaskQueue) Drain() int {
	tq.mu.Lock()
	n := tq.q.Length()
	tasks := make([]api.Task, 0, n)
	for i := 0; i < n; i++ {
		tasks = append(tasks, tq.q.Remove().(api.Task))
	}
	tq.mu.Unlock()

	for _, t := range tasks {
		t()
	}
	return len(tasks)
}

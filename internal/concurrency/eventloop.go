// Loop implements the single-threaded step contract from spec.md §4.1:
// poll, dispatch ready fds, run timer expiries, drain the task queue.
// Exactly one OS thread owns a Loop's Step/Run calls; every other
// interaction goes through Post/Sync/Async.
//
// Grounded on this package's own prior eventloop.go (the Run/Stop
// quit-channel shape and atomic handler-registry pattern), generalized
// from a fixed ring-buffer of application Events to the spec's
// poller-backend + timer-wheel + task-queue composition, and from its
// lock-free spin/backoff wait to blocking on the Backend's Wait (the
// poller's own notifier already supplies the wake primitive spec.md
// §4.1 asks for, so a second spin loop would be redundant).
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"sync/atomic"
	"time"

	"github.com/momentics/netcore/api"
	"github.com/momentics/netcore/reactor"
	"github.com/momentics/netcore/timer"
)

const defaultMaxWaitMs = 256 // spec.md §4.1 "256 ms if no timers"

// Loop is one event-loop instance: one poller Backend, one timer Manager,
// one task queue, bound to a single goroutine for its entire lifetime.
type Loop struct {
	backend reactor.Backend
	timers  *timer.Manager
	tasks   *TaskQueue
	pending *pendingSet

	ownerGID int64 // goroutine id bound on first Step call; 0 = unbound
	state    int32 // api.LoopState

	startMono time.Time // tick-0 reference for the timer manager's ms clock

	gen    int32 // bumped to 0 on Close; Handle.Upgrade reads this
	handle Handle
}

// NewLoop constructs a Loop with the given poller backend kind. Pass
// reactor.KindAuto to let the platform choose.
func NewLoop(kind reactor.Kind) (*Loop, error) {
	backend, err := reactor.NewBackend(kind)
	if err != nil {
		return nil, err
	}
	l := &Loop{
		backend:   backend,
		timers:    timer.NewManager(),
		tasks:     NewTaskQueue(),
		pending:   newPendingSet(),
		startMono: time.Now(),
		state:     int32(api.LoopInitialized),
		gen:       1,
	}
	l.handle = Handle{loop: l, gen: &l.gen}
	return l, nil
}

// Handle returns the weak reference endpoints should hold instead of *Loop.
func (l *Loop) Handle() Handle { return l.handle }

func (l *Loop) nowMs() int64 { return time.Since(l.startMono).Milliseconds() }

// Register, Update, Unregister are valid only from the loop's owning
// goroutine (spec.md §4.1). Other callers must route through Sync/Async.
func (l *Loop) Register(fd uintptr, mask api.EventMask, cb api.IOCallback) error {
	return l.backend.Register(fd, mask, cb)
}

func (l *Loop) Update(fd uintptr, mask api.EventMask) error {
	return l.backend.Update(fd, mask)
}

func (l *Loop) Unregister(fd uintptr, closeFd bool) error {
	return l.backend.Unregister(fd, closeFd)
}

// SubmitOp forwards to the poller backend; only meaningful on completion
// backends (readiness backends return api.NotSupportedE).
func (l *Loop) SubmitOp(req reactor.SubmitRequest) error {
	return l.backend.SubmitOp(req)
}

// BackendKind reports whether this loop's poller is readiness- or
// completion-style, so endpoints can pick their I/O submission strategy.
func (l *Loop) BackendKind() reactor.Kind { return l.backend.Kind() }

// Backend exposes the raw poller backend for endpoints that need a
// capability beyond the Loop's own forwarding methods (e.g. the
// completion backend's per-fd peer-address recall for UDP receive).
func (l *Loop) Backend() reactor.Backend { return l.backend }

// IsLevelTriggered forwards the backend's trigger style.
func (l *Loop) IsLevelTriggered() bool { return l.backend.IsLevelTriggered() }

// ScheduleTimer arms a timer against this loop's wheel.
func (l *Loop) ScheduleTimer(delayMs uint64, mode timer.Mode, cb func()) (*timer.Timer, error) {
	return l.timers.Schedule(delayMs, mode, cb)
}

// AddPending registers a pending object for loop-teardown notification.
func (l *Loop) AddPending(o api.PendingObject) { l.pending.add(o) }

// RemovePending deregisters a pending object.
func (l *Loop) RemovePending(o api.PendingObject) { l.pending.remove(o) }

// Post appends task to the queue and wakes the poller so the next Step
// (or the current blocked one) picks it up (spec.md §4.1).
func (l *Loop) Post(task api.Task) {
	l.tasks.Push(task)
	_ = l.backend.Wake()
}

// Sync runs task inline if called from the loop's owning goroutine;
// otherwise it posts the task and blocks until it has run.
func (l *Loop) Sync(task api.Task) {
	if l.onOwnerGoroutine() {
		task()
		return
	}
	done := make(chan struct{})
	l.Post(func() {
		task()
		close(done)
	})
	<-done
}

// Async unconditionally enqueues task and wakes the loop, even when
// called from the loop thread itself (so it runs on a later step, not
// inline) — the re-entrance policy spec.md §4.1 distinguishes from Post.
func (l *Loop) Async(task api.Task) {
	l.tasks.Push(task)
	_ = l.backend.Wake()
}

func (l *Loop) onOwnerGoroutine() bool {
	return atomic.LoadInt64(&l.ownerGID) == currentGoroutineID()
}

// Step performs one iteration of the contract from spec.md §4.1: compute
// the next timer deadline (or 256ms default), clamp to maxWaitMs, poll,
// dispatch, run timer expiries, drain tasks.
func (l *Loop) Step(maxWaitMs int) error {
	atomic.CompareAndSwapInt64(&l.ownerGID, 0, currentGoroutineID())
	atomic.CompareAndSwapInt32(&l.state, int32(api.LoopInitialized), int32(api.LoopRunning))

	wait := maxWaitMs
	if d, ok := l.timers.NextDeadlineMs(); ok {
		if wait < 0 || d < wait {
			wait = d
		}
	} else if wait < 0 || defaultMaxWaitMs < wait {
		wait = defaultMaxWaitMs
	}

	if _, err := l.backend.Wait(wait); err != nil {
		atomic.StoreInt32(&l.state, int32(api.LoopStopped))
		return api.NewError(api.PollError, "loop.Step", "poller wait failed", err)
	}

	l.timers.CheckExpire(l.nowMs())
	l.tasks.Drain()
	return nil
}

// Run loops Step until Stop is called.
func (l *Loop) Run(maxWaitMs int) error {
	for atomic.LoadInt32(&l.state) != int32(api.LoopStopping) {
		if err := l.Step(maxWaitMs); err != nil {
			return err
		}
	}
	atomic.StoreInt32(&l.state, int32(api.LoopStopped))
	l.pending.notifyAndClear()
	return nil
}

// Stop requests loop termination and wakes a blocked Step/Run.
func (l *Loop) Stop() {
	atomic.StoreInt32(&l.state, int32(api.LoopStopping))
	_ = l.backend.Wake()
}

// State reports the loop's current lifecycle state.
func (l *Loop) State() api.LoopState { return api.LoopState(atomic.LoadInt32(&l.state)) }

// Close releases the poller backend and invalidates every Handle issued
// for this loop. Call only after Run has returned.
func (l *Loop) Close() error {
	atomic.StoreInt32(&l.gen, 0)
	return l.backend.Close()
}

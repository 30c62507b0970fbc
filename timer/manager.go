// Package timer implements the hierarchical timer wheel from spec.md
// §4.3: schedule/cancel/check_expire over a 4x256 wheel, with a
// wheel-mutex/running-mutex split so cancel can always tell whether a
// timer is still pending, already fired, or mid-callback.
//
// Grounded on original_source/src/TimerManager.{h,cpp}: the mutex_ /
// running_mutex_ split, the running_node_ pointer a concurrent cancel()
// checks, and the reschedule-on-same-tick bump ("if fire_tick ==
// last_tick add one tick"). TimerImpl's weak_ptr<TimerManager> is
// replaced here by a plain back-pointer, since this package has no
// equivalent to the original's shared-ownership lifetime: callers are
// expected to Cancel before dropping a Manager, exactly as the teacher's
// own concurrency types expect explicit Close/Stop.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package timer

import (
	"sync"

	"github.com/momentics/netcore/api"
)

// Mode selects one-shot vs repeating timer semantics.
type Mode int

const (
	OneShot Mode = iota
	Repeating
)

const maxDelayMs = uint64(1) << 32

// Timer is a handle returned by Manager.Schedule. Cancel is idempotent
// and safe to call from any goroutine, including from within the
// timer's own callback.
type Timer struct {
	mgr  *Manager
	node *node
}

// Cancel removes the timer if pending, or blocks until an in-flight
// firing of it returns (spec.md §4.3 and §5 "cancellation ... blocks
// until any in-progress callback returns").
func (t *Timer) Cancel() {
	t.mgr.cancel(t.node)
}

// Manager owns one hierarchical timer wheel. All wheel mutation happens
// under mu; runningMu arbitrates between a firing callback and a
// concurrent Cancel targeting the same timer.
type Manager struct {
	mu       sync.Mutex
	w        *wheel
	lastTick int64

	runningMu   sync.Mutex
	runningNode *node
	runningDone chan struct{}
}

// NewManager returns a Manager positioned at tick 0. Callers advance it
// via CheckExpire using their own monotonic millisecond clock.
func NewManager() *Manager {
	return &Manager{w: newWheel()}
}

// Schedule arms a timer to fire delayMs from the manager's current tick
// (as of the last CheckExpire/SetTick call), running cb on whatever
// goroutine calls CheckExpire. Delays of 2^32 ms or more are rejected
// per spec.md §4.3.
func (m *Manager) Schedule(delayMs uint64, mode Mode, cb func()) (*Timer, error) {
	if delayMs >= maxDelayMs {
		return nil, api.NewError(api.InvalidParam, "timer.Schedule", "delay exceeds 2^32 ms", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := &node{tv: -1, tl: -1, delayMs: delayMs, repeating: mode == Repeating, cb: cb}
	fireTick := m.lastTick + int64(delayMs)
	if fireTick == m.lastTick {
		fireTick++ // avoid immediate cascade loop, spec.md §4.3
	}
	if fireTick < m.lastTick {
		fireTick = m.lastTick // clock went backwards: fire at current slot
	}
	n.fireTick = fireTick
	m.w.addNode(n, m.lastTick)
	m.w.count++
	return &Timer{mgr: m, node: n}, nil
}

func (m *Manager) cancel(n *node) {
	m.mu.Lock()
	if n.tv >= 0 {
		m.w.removeNode(n)
		m.w.count--
		n.cancelled = true
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.runningMu.Lock()
	if m.runningNode == n {
		n.cancelled = true
		done := m.runningDone
		m.runningMu.Unlock()
		if done != nil {
			<-done // block until the in-flight callback returns
		}
		return
	}
	n.cancelled = true // already fired and done, or a cleared reschedule slot
	m.runningMu.Unlock()
}

// NextDeadlineMs reports milliseconds until the nearest pending tv0
// timer, or (0, false) if none is currently resolvable — callers fall
// back to the 256 ms default from spec.md §4.1 in that case.
func (m *Manager) NextDeadlineMs() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.w.count == 0 {
		return 0, false
	}
	cur := int(m.lastTick & vectorMask)
	idx := m.w.findFirstSet(cur)
	if idx < 0 {
		return 0, false
	}
	diff := idx - cur
	if diff < 0 {
		diff += vectorSize
	}
	return diff, true
}

// CheckExpire advances the wheel to nowMs, cascading vectors as needed,
// and runs every timer whose fire tick has been reached. Returns the
// count of timers run.
func (m *Manager) CheckExpire(nowMs int64) int {
	m.mu.Lock()
	tick := m.lastTick
	var fired []*node
	for tick < nowMs {
		tick++
		m.cascadeIfNeeded(tick)
		idx := int(tick & vectorMask)
		fired = append(fired, m.w.drainSlot(idx)...)
	}
	m.lastTick = tick
	m.mu.Unlock()

	ran := 0
	for _, n := range fired {
		if m.runOne(n, tick) {
			ran++
		}
	}
	return ran
}

// cascadeIfNeeded redistributes higher vectors down to tv0 whenever the
// corresponding bits of tick just wrapped (spec.md §4.3 "when the
// current slot reaches 0 mod 256 ...").
func (m *Manager) cascadeIfNeeded(tick int64) {
	for tv := 1; tv < vectorCount; tv++ {
		shift := uint(tv * vectorBits)
		if tick&((int64(1)<<shift)-1) != 0 {
			break
		}
		tl := int((tick >> shift) & vectorMask)
		m.w.cascadeSlot(tv, tl, tick)
	}
}

// runOne fires n's callback outside the wheel mutex, guarding against a
// concurrent Cancel via runningMu + runningDone, then reschedules it if
// it is a repeating timer that survived the callback uncancelled.
func (m *Manager) runOne(n *node, tick int64) bool {
	m.runningMu.Lock()
	if n.cancelled {
		m.runningMu.Unlock()
		if !n.repeating {
			m.mu.Lock()
			m.w.count--
			m.mu.Unlock()
		}
		return false
	}
	done := make(chan struct{})
	m.runningNode = n
	m.runningDone = done
	m.runningMu.Unlock()

	func() {
		defer func() { _ = recover() }()
		n.cb()
	}()

	m.runningMu.Lock()
	m.runningNode = nil
	m.runningDone = nil
	cancelled := n.cancelled
	close(done)
	m.runningMu.Unlock()

	if n.repeating && !cancelled {
		m.mu.Lock()
		next := tick + int64(n.delayMs)
		if next == tick {
			next++
		}
		n.fireTick = next
		m.w.addNode(n, tick)
		m.mu.Unlock()
		return true
	}
	if !n.repeating {
		m.mu.Lock()
		m.w.count--
		m.mu.Unlock()
	}
	return true
}

package timer

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestManagerFiresTenThousandTimersExactlyOnce(t *testing.T) {
	m := NewManager()
	const n = 10000

	var fired int64
	seen := make([]int32, n)

	for i := 0; i < n; i++ {
		i := i
		delay := uint64(1 + i%5000)
		if _, err := m.Schedule(delay, OneShot, func() {
			atomic.AddInt64(&fired, 1)
			atomic.AddInt32(&seen[i], 1)
		}); err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}

	// Advance well past the largest possible delay (5000ms) in small
	// steps so cascades at every vector boundary actually exercise.
	for tick := int64(1); tick <= 6000; tick++ {
		m.CheckExpire(tick)
	}

	if got := atomic.LoadInt64(&fired); got != n {
		t.Fatalf("fired %d want %d", got, n)
	}
	for i, c := range seen {
		if c != 1 {
			t.Fatalf("timer %d fired %d times", i, c)
		}
	}
}

func TestManagerSameTickFIFOOrdering(t *testing.T) {
	m := NewManager()
	var mu sync.Mutex
	var order []int

	for i := 0; i < 20; i++ {
		i := i
		if _, err := m.Schedule(10, OneShot, func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}); err != nil {
			t.Fatal(err)
		}
	}
	m.CheckExpire(10)

	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d (insertion order)", i, v, i)
		}
	}
}

func TestTimerCancelBeforeFireSuppressesCallback(t *testing.T) {
	m := NewManager()
	var fired int32
	timer, err := m.Schedule(100, OneShot, func() { atomic.AddInt32(&fired, 1) })
	if err != nil {
		t.Fatal(err)
	}
	timer.Cancel()
	m.CheckExpire(200)
	if fired != 0 {
		t.Fatalf("cancelled timer fired")
	}
}

func TestRepeatingTimerCancelsItselfDuringOwnCallback(t *testing.T) {
	m := NewManager()
	var runs int32
	var self *Timer
	self, _ = m.Schedule(10, Repeating, func() {
		n := atomic.AddInt32(&runs, 1)
		if n == 3 {
			self.Cancel() // cancel from within the firing callback
		}
	})

	for tick := int64(10); tick <= 200; tick += 10 {
		m.CheckExpire(tick)
	}

	if runs != 3 {
		t.Fatalf("runs = %d, want exactly 3 (cancel takes effect after the 3rd run)", runs)
	}
}

func TestNextDeadlineReflectsNearestPendingTimer(t *testing.T) {
	m := NewManager()
	if _, ok := m.NextDeadlineMs(); ok {
		t.Fatalf("expected no deadline with zero timers scheduled")
	}
	if _, err := m.Schedule(50, OneShot, func() {}); err != nil {
		t.Fatal(err)
	}
	d, ok := m.NextDeadlineMs()
	if !ok || d != 50 {
		t.Fatalf("NextDeadlineMs = (%d, %v), want (50, true)", d, ok)
	}
}

func TestScheduleRejectsDelayAtOrAboveTwoToThe32(t *testing.T) {
	m := NewManager()
	if _, err := m.Schedule(uint64(1)<<32, OneShot, func() {}); err == nil {
		t.Fatalf("expected rejection of a >= 2^32 ms delay")
	}
	if _, err := m.Schedule(uint64(1)<<32-1, OneShot, func() {}); err != nil {
		t.Fatalf("delay of 2^32-1 ms should be accepted: %v", err)
	}
}

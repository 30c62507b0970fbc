// LoopPool is the optional multi-threaded deployment from spec.md §9:
// N loops, each pinned to its own OS thread via runtime.LockOSThread,
// with connections hashed to a loop at creation time and never migrated.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import (
	"hash/fnv"
	"sync"

	"github.com/momentics/netcore/reactor"
)

// LoopPool owns a fixed set of Loops, each running on its own locked OS
// thread. Callers pick a loop once per connection (via PickFor) and keep
// all further work for that connection on the same loop — the pool
// itself performs no migration.
type LoopPool struct {
	loops []*Loop
	wg    sync.WaitGroup
}

// NewLoopPool starts n loops of the given poller kind, each on its own
// goroutine locked via PinCurrentThread: with pinCPU, loop i is also
// pinned to CPU i; without it, PinCurrentThread(-1) only locks the
// thread.
func NewLoopPool(n int, kind reactor.Kind, pinCPU bool) (*LoopPool, error) {
	lp := &LoopPool{loops: make([]*Loop, n)}
	for i := 0; i < n; i++ {
		l, err := NewLoop(kind)
		if err != nil {
			lp.Close()
			return nil, err
		}
		lp.loops[i] = l
	}

	lp.wg.Add(n)
	for i, l := range lp.loops {
		i, l := i, l
		go func() {
			defer lp.wg.Done()
			cpu := -1
			if pinCPU {
				cpu = i
			}
			PinCurrentThread(cpu)
			_ = l.Run(-1)
		}()
	}
	return lp, nil
}

// Size reports the number of loops in the pool.
func (lp *LoopPool) Size() int { return len(lp.loops) }

// Loop returns the i'th loop (i wraps modulo pool size).
func (lp *LoopPool) Loop(i int) *Loop { return lp.loops[i%len(lp.loops)] }

// PickFor deterministically hashes key (e.g. a listening socket's local
// port, or a client tuple) onto one loop. Calling PickFor with the same
// key always returns the same loop for the pool's lifetime.
func (lp *LoopPool) PickFor(key string) *Loop {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return lp.loops[h.Sum32()%uint32(len(lp.loops))]
}

// Close stops every loop and waits for their goroutines to exit.
func (lp *LoopPool) Close() error {
	for _, l := range lp.loops {
		if l != nil {
			l.Stop()
		}
	}
	lp.wg.Wait()
	var firstErr error
	for _, l := range lp.loops {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pending-object list: objects that must be notified and detached before
// a Loop finishes tearing down (spec.md §4.1 "Pending-object list").
//
// The set is a plain slice with no locking of its own, so add, remove
// and notifyAndClear are for use from the loop thread only.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package concurrency

import "github.com/momentics/netcore/api"

type pendingSet struct {
	objs []api.PendingObject
}

func newPendingSet() *pendingSet {
	return &pendingSet{}
}

func (p *pendingSet) add(o api.PendingObject) {
	p.objs = append(p.objs, o)
}

func (p *pendingSet) remove(o api.PendingObject) {
	out := p.objs[:0]
	for _, x := range p.objs {
		if x != o {
			out = append(out, x)
		}
	}
	p.objs = out
}

// notifyAndClear calls OnLoopExit on every object still registered and
// drops the list. Called once, from the loop thread, during teardown.
func (p *pendingSet) notifyAndClear() {
	for _, o := range p.objs {
		if o.IsPending() {
			func() {
				defer func() { _ = recover() }()
				o.OnLoopExit()
			}()
		}
	}
	p.objs = nil
}

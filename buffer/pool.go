// Pool provides reusable owned segments so hot I/O paths avoid per-read
// allocation. Grounded on momentics/hioload-ws pool/bufferpool.go and
// pool/ring.go (sync.Pool-of-slabs pattern), simplified to a single
// size-classed sync.Pool rather than the teacher's NUMA-node map, since
// NUMA placement is outside this spec's scope.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package buffer

import "sync"

// sizeClasses mirrors common socket-buffer granularities.
var sizeClasses = []int{512, 4096, 16384, 65536}

// Pool vends and recycles owned Segments sized to the nearest class.
type Pool struct {
	classes []int
	pools   []sync.Pool
}

// NewPool constructs a Pool with the default size classes.
func NewPool() *Pool {
	p := &Pool{classes: sizeClasses}
	p.pools = make([]sync.Pool, len(p.classes))
	for i, sz := range p.classes {
		sz := sz
		p.pools[i].New = func() any { return newOwnedSegment(sz) }
	}
	return p
}

func (p *Pool) classFor(n int) int {
	for i, sz := range p.classes {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Get returns a writable segment with at least n bytes of capacity. Sizes
// larger than the biggest class bypass the pool entirely.
func (p *Pool) Get(n int) *Segment {
	idx := p.classFor(n)
	if idx < 0 {
		return newOwnedSegment(n)
	}
	seg := p.pools[idx].Get().(*Segment)
	seg.read, seg.write, seg.begin = 0, 0, 0
	seg.end = p.classes[idx]
	return seg
}

// Put returns a segment to its size class for reuse. Segments that were
// sliced from another allocation (refcount > 1 conceptually shared) are
// simply freed instead of recycled, since recycling would risk handing
// out memory another slice still references.
func (p *Pool) Put(seg *Segment) {
	if seg.alloc == nil || seg.alloc.refcount != 1 {
		seg.free()
		return
	}
	idx := p.classFor(seg.end)
	if idx < 0 || p.classes[idx] != seg.end {
		seg.free()
		return
	}
	p.pools[idx].Put(seg)
}

// GetChain returns an empty chain plus a pooled segment for a Recv-style
// fill of up to n bytes; the segment is not yet linked into the chain.
// After the syscall the caller passes both to AdvanceWrite, which
// advances the segment's write cursor and links it in.
func (p *Pool) GetChain(n int) (*Chain, *Segment) {
	seg := p.Get(n)
	c := &Chain{}
	return c, seg
}

// AdvanceWrite marks n bytes as newly written into seg (e.g. after a
// socket Read into seg.bytes()[seg.write:seg.end]) and links it into c.
func AdvanceWrite(c *Chain, seg *Segment, n int) {
	seg.write += n
	c.linkTail(seg)
}

// Package buffer implements the chained buffer described in spec.md §3:
// the canonical data carrier is a doubly-linked ring of segments, each
// either an unowned inline view or a reference-counted heap allocation.
// Zero-copy slicing produces a new segment sharing the same allocation.
//
// Grounded on momentics/hioload-ws's NUMA-aware BufferPool/Buffer model
// (pool/bufferpool.go, api/buffer.go) generalized from a flat pool-backed
// slice into the spec's doubly-linked segment chain with explicit cursors.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package buffer

import "sync/atomic"

// allocation is the reference-counted heap-backed storage a segment may
// point into. A nil allocation means the segment is an unowned inline view
// over caller-provided memory (e.g. a socket read buffer slice).
type allocation struct {
	buf      []byte
	refcount int32
}

func newAllocation(size int) *allocation {
	return &allocation{buf: make([]byte, size), refcount: 1}
}

func (a *allocation) retain() {
	atomic.AddInt32(&a.refcount, 1)
}

// release decrements the refcount, returning true if this call dropped it
// to zero (the caller should then forget the allocation).
func (a *allocation) release() bool {
	return atomic.AddInt32(&a.refcount, -1) == 0
}

// Segment is one link in a buffer Chain. Invariant (spec.md §3):
// begin <= read <= write <= end, all measured as byte offsets into
// the backing storage (alloc.buf when owned, view when unowned).
type Segment struct {
	alloc *allocation // nil for unowned views
	view  []byte      // backing storage when alloc == nil

	begin, read, write, end int

	next, prev *Segment
}

// newOwnedSegment allocates size bytes of heap storage, fully writable.
func newOwnedSegment(size int) *Segment {
	a := newAllocation(size)
	return &Segment{alloc: a, begin: 0, read: 0, write: 0, end: size}
}

// newViewSegment wraps an existing slice without taking ownership; the
// caller guarantees the memory outlives the segment (used for zero-copy
// references into socket read buffers that are themselves pool-owned one
// level up).
func newViewSegment(data []byte) *Segment {
	return &Segment{view: data, begin: 0, read: 0, write: len(data), end: len(data)}
}

func (s *Segment) bytes() []byte {
	if s.alloc != nil {
		return s.alloc.buf
	}
	return s.view
}

// Readable returns the number of unread bytes in this segment.
func (s *Segment) Readable() int { return s.write - s.read }

// Writable returns remaining capacity for writes in this segment.
func (s *Segment) Writable() int { return s.end - s.write }

// ReadSlice returns the unread region; it aliases backing storage (no copy).
func (s *Segment) ReadSlice() []byte {
	return s.bytes()[s.read:s.write]
}

// Advance consumes n bytes from the read cursor; n must be <= Readable().
func (s *Segment) Advance(n int) {
	if n < 0 || s.read+n > s.write {
		panic("buffer: Advance out of range")
	}
	s.read += n
}

// WritableSlice returns the segment's unwritten tail, for a syscall (or
// reactor completion op) to fill directly — the zero-copy counterpart to
// Append for callers that write via syscall rather than copy.
func (s *Segment) WritableSlice() []byte {
	return s.bytes()[s.write:s.end]
}

// CommitWrite advances the write cursor by n after the caller filled the
// slice returned by WritableSlice (e.g. with the return value of a Read
// or a completion's reported byte count).
func (s *Segment) CommitWrite(n int) {
	if n < 0 || s.write+n > s.end {
		panic("buffer: CommitWrite out of range")
	}
	s.write += n
}

// Append copies p into the segment's writable tail, advancing write.
// Returns the number of bytes actually copied (may be less than len(p)
// if the segment lacks capacity; callers append another segment for the
// remainder).
func (s *Segment) Append(p []byte) int {
	n := copy(s.bytes()[s.write:s.end], p)
	s.write += n
	return n
}

// clone produces a new segment that shares the same allocation (retained)
// or the same view, with independent cursors copied from s — the
// "zero-copy slicing produces a new segment that shares the underlying
// allocation" invariant from spec.md §3.
func (s *Segment) clone() *Segment {
	c := &Segment{
		view:  s.view,
		begin: s.begin, read: s.read, write: s.write, end: s.end,
	}
	if s.alloc != nil {
		s.alloc.retain()
		c.alloc = s.alloc
	}
	return c
}

// free releases the segment's allocation (if owned); safe to call once.
func (s *Segment) free() {
	if s.alloc != nil {
		s.alloc.release()
		s.alloc = nil
	}
}

// Chain is the doubly-linked ring of Segments forming the canonical
// buffer type described in spec.md §3/§5 ("Chained-buffer ownership").
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package buffer

// Chain owns a sequence of segments. A zero-value Chain is empty and
// ready to use. The chain head owns every linked segment: destroying the
// head destroys every segment exactly once (spec.md §3 invariant b).
type Chain struct {
	head, tail *Segment
	length     int // sum of per-segment readable counts
}

// NewChain returns an empty chain.
func NewChain() *Chain { return &Chain{} }

// Len returns the total number of unread bytes across all segments
// (spec.md §3 invariant c).
func (c *Chain) Len() int { return c.length }

// Empty reports whether the chain carries no readable bytes.
func (c *Chain) Empty() bool { return c.length == 0 }

// AppendOwned allocates a fresh size-byte segment, writes p into it (p
// must fit), and links it at the tail.
func (c *Chain) AppendOwned(p []byte) {
	seg := newOwnedSegment(len(p))
	seg.Append(p)
	c.linkTail(seg)
}

// AppendView links an unowned, zero-copy view over data at the tail. The
// caller must guarantee data outlives the chain (or outlives the window
// during which the chain retains it).
func (c *Chain) AppendView(data []byte) {
	c.linkTail(newViewSegment(data))
}

// AppendSegment links a pre-built segment (used internally and by Split).
func (c *Chain) AppendSegment(seg *Segment) { c.linkTail(seg) }

func (c *Chain) linkTail(seg *Segment) {
	seg.prev = c.tail
	seg.next = nil
	if c.tail != nil {
		c.tail.next = seg
	} else {
		c.head = seg
	}
	c.tail = seg
	c.length += seg.Readable()
}

func (c *Chain) unlinkHead() *Segment {
	seg := c.head
	if seg == nil {
		return nil
	}
	c.head = seg.next
	if c.head != nil {
		c.head.prev = nil
	} else {
		c.tail = nil
	}
	seg.next, seg.prev = nil, nil
	c.length -= seg.Readable()
	return seg
}

// Read copies up to len(p) unread bytes into p, advancing segment read
// cursors and dropping fully-consumed segments. Returns bytes copied.
func (c *Chain) Read(p []byte) int {
	total := 0
	for total < len(p) && c.head != nil {
		seg := c.head
		n := copy(p[total:], seg.ReadSlice())
		seg.Advance(n)
		total += n
		c.length -= n
		if seg.Readable() == 0 {
			c.unlinkHead()
			seg.free()
		}
	}
	return total
}

// PeekAll returns every unread byte as one contiguous copy. Used by
// parsers that need a flattened view (e.g. scanning for a CRLF across
// segment boundaries without a streaming scanner).
func (c *Chain) PeekAll() []byte {
	out := make([]byte, 0, c.length)
	for seg := c.head; seg != nil; seg = seg.next {
		out = append(out, seg.ReadSlice()...)
	}
	return out
}

// Discard drops n unread bytes without copying them out.
func (c *Chain) Discard(n int) {
	for n > 0 && c.head != nil {
		seg := c.head
		take := seg.Readable()
		if take > n {
			take = n
		}
		seg.Advance(take)
		n -= take
		c.length -= take
		if seg.Readable() == 0 {
			c.unlinkHead()
			seg.free()
		}
	}
}

// Clone returns a new chain of equal length with disjoint ownership: each
// segment is cloned (allocation refcount bumped for owned segments), so
// mutating cursors on the clone never affects the original (spec.md §8
// universal invariant).
func (c *Chain) Clone() *Chain {
	out := &Chain{}
	for seg := c.head; seg != nil; seg = seg.next {
		out.linkTail(seg.clone())
	}
	return out
}

// Destroy frees every segment's allocation exactly once and empties the
// chain. Safe to call on an already-empty chain.
func (c *Chain) Destroy() {
	for seg := c.head; seg != nil; {
		next := seg.next
		seg.free()
		seg.next, seg.prev = nil, nil
		seg = next
	}
	c.head, c.tail = nil, nil
	c.length = 0
}

// Segments exposes the linked list for layers that need zero-copy
// iovec-style access (e.g. a WRITEV submission); callers must not mutate
// the returned segments' linkage.
func (c *Chain) Segments() []*Segment {
	out := make([]*Segment, 0, 4)
	for seg := c.head; seg != nil; seg = seg.next {
		out = append(out, seg)
	}
	return out
}

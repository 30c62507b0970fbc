package buffer

import "testing"

func TestChainReadWriteMonotone(t *testing.T) {
	c := NewChain()
	c.AppendOwned([]byte("hello "))
	c.AppendOwned([]byte("world"))
	if got := c.Len(); got != 11 {
		t.Fatalf("Len() = %d, want 11", got)
	}
	buf := make([]byte, 11)
	n := c.Read(buf)
	if n != 11 || string(buf) != "hello world" {
		t.Fatalf("Read() = %q (%d), want %q", buf[:n], n, "hello world")
	}
	if !c.Empty() {
		t.Fatalf("chain should be empty after full read")
	}
}

func TestChainLenEqualsSegmentSum(t *testing.T) {
	c := NewChain()
	total := 0
	for _, s := range []string{"a", "bb", "ccc", "dddd"} {
		c.AppendOwned([]byte(s))
		total += len(s)
	}
	if c.Len() != total {
		t.Fatalf("Len() = %d, want %d", c.Len(), total)
	}
	// partial read across segment boundary
	buf := make([]byte, 2)
	n := c.Read(buf)
	if n != 2 {
		t.Fatalf("partial Read() = %d, want 2", n)
	}
	if c.Len() != total-2 {
		t.Fatalf("Len() after partial read = %d, want %d", c.Len(), total-2)
	}
}

func TestChainCloneDisjointOwnership(t *testing.T) {
	c := NewChain()
	c.AppendOwned([]byte("payload"))
	clone := c.Clone()
	if clone.Len() != c.Len() {
		t.Fatalf("clone length %d != original %d", clone.Len(), c.Len())
	}
	buf := make([]byte, 3)
	clone.Read(buf)
	if c.Len() != 7 {
		t.Fatalf("reading from clone must not affect original, got Len()=%d", c.Len())
	}
	if clone.Len() != 4 {
		t.Fatalf("clone Len() after partial read = %d, want 4", clone.Len())
	}
	c.Destroy()
	clone.Destroy()
}

func TestChainDestroyIdempotentAndFreesOnce(t *testing.T) {
	c := NewChain()
	c.AppendOwned([]byte("x"))
	c.AppendOwned([]byte("y"))
	c.Destroy()
	if c.Len() != 0 {
		t.Fatalf("Len() after Destroy = %d, want 0", c.Len())
	}
	c.Destroy() // must not panic
}

func TestPoolGetPutRecycles(t *testing.T) {
	p := NewPool()
	seg := p.Get(100)
	if seg.Writable() < 100 {
		t.Fatalf("segment capacity %d < requested 100", seg.Writable())
	}
	n := seg.Append([]byte("hello"))
	if n != 5 {
		t.Fatalf("Append copied %d bytes, want 5", n)
	}
	p.Put(seg)
	seg2 := p.Get(100)
	if seg2.write != 0 {
		t.Fatalf("recycled segment should reset write cursor, got %d", seg2.write)
	}
}

func TestSegmentSliceSharesAllocation(t *testing.T) {
	p := NewPool()
	seg := p.Get(64)
	seg.Append([]byte("0123456789"))
	clone := seg.clone()
	clone.Advance(5)
	if seg.read != 0 {
		t.Fatalf("cloning must not mutate the original segment's cursors")
	}
	if string(clone.ReadSlice()) != "56789" {
		t.Fatalf("clone ReadSlice = %q, want %q", clone.ReadSlice(), "56789")
	}
}

package server

import "testing"

func TestRegistryAddRemoveLen(t *testing.T) {
	r := newConnRegistry(4)
	conns := []*Conn{{id: 1}, {id: 2}, {id: 3}}
	for _, c := range conns {
		r.add(c)
	}
	if got := r.len(); got != 3 {
		t.Fatalf("len() = %d, want 3", got)
	}
	r.remove(conns[1])
	if got := r.len(); got != 2 {
		t.Fatalf("len() after remove = %d, want 2", got)
	}
	// removing an id not present is a no-op
	r.remove(&Conn{id: 999})
	if got := r.len(); got != 2 {
		t.Fatalf("len() after no-op remove = %d, want 2", got)
	}
}

func TestRegistryShardsPowerOfTwo(t *testing.T) {
	r := newConnRegistry(5)
	if got := len(r.shards); got != 8 {
		t.Fatalf("shard count = %d, want 8 (next power of two above 5)", got)
	}
	if r.mask != 7 {
		t.Fatalf("mask = %d, want 7", r.mask)
	}
}

func TestRegistryShardForIsStableForSameID(t *testing.T) {
	r := newConnRegistry(16)
	a := r.shardFor(42)
	b := r.shardFor(42)
	if a != b {
		t.Fatal("shardFor must return the same shard for the same id")
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	cases := map[uint32]uint32{
		1:  1,
		2:  2,
		3:  4,
		4:  4,
		5:  8,
		16: 16,
		17: 32,
	}
	for in, want := range cases {
		if got := nextPowerOfTwo(in); got != want {
			t.Errorf("nextPowerOfTwo(%d) = %d, want %d", in, got, want)
		}
	}
}

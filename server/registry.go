// Package server provides the protocol-multiplexing connection acceptor
// described in spec.md: one TCP listener feeding TLS, HTTP/1, HTTP/2, and
// WebSocket endpoints depending on what each accepted connection
// negotiates.
//
// registry.go is adapted from the teacher's internal/session package (a
// sharded, FNV-hashed session store keyed by string id, built for a
// generic api.Context-bearing Session). That generic context/TTL
// machinery has no consumer here — every accepted Conn already carries
// its own state — so this keeps only the concern
// this server actually needs: a concurrent-safe registry of live
// connections a Shutdown call can enumerate and close, sharded the same
// way to avoid one lock serializing every accept under load.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package server

import (
	"hash/fnv"
	"sync"
)

type connRegistry struct {
	shards []*connShard
	mask   uint32
}

type connShard struct {
	mu    sync.RWMutex
	conns map[uint64]*Conn
}

func newConnRegistry(shardCount int) *connRegistry {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*connShard, n)
	for i := range shards {
		shards[i] = &connShard{conns: make(map[uint64]*Conn)}
	}
	return &connRegistry{shards: shards, mask: n - 1}
}

func (r *connRegistry) shardFor(id uint64) *connShard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(id >> (8 * i))
	}
	h.Write(buf[:])
	return r.shards[h.Sum32()&r.mask]
}

func (r *connRegistry) add(c *Conn) {
	sh := r.shardFor(c.id)
	sh.mu.Lock()
	sh.conns[c.id] = c
	sh.mu.Unlock()
}

func (r *connRegistry) remove(c *Conn) {
	sh := r.shardFor(c.id)
	sh.mu.Lock()
	delete(sh.conns, c.id)
	sh.mu.Unlock()
}

func (r *connRegistry) len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// closeAll closes every tracked connection, used by Server.Shutdown.
func (r *connRegistry) closeAll() {
	for _, sh := range r.shards {
		sh.mu.Lock()
		conns := make([]*Conn, 0, len(sh.conns))
		for _, c := range sh.conns {
			conns = append(conns, c)
		}
		sh.conns = make(map[uint64]*Conn)
		sh.mu.Unlock()
		// Conn.Close calls remove, which takes the shard lock again.
		for _, c := range conns {
			_ = c.Close()
		}
	}
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

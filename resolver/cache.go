// DNS cache: a 10-second-TTL, last-writer-wins address cache shared by
// every resolve path (async, sync, and cache-hit-inline delivery).
//
// Grounded on original_source/src/DnsResolver.cpp's file-scope
// s_dns_records map + s_records_locker mutex and record_expires_intrval_ms
// = 10000, reworked as a proper Go type instead of process-global state.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package resolver

import (
	"net"
	"sync"
	"time"
)

const ttl = 10 * time.Second

type cacheEntry struct {
	addrs   []net.IP
	expires time.Time
}

type cache struct {
	mu sync.Mutex
	m  map[string]cacheEntry
}

func newCache() *cache {
	return &cache{m: make(map[string]cacheEntry)}
}

// get returns addrs for host if present and not yet expired.
func (c *cache) get(host string) ([]net.IP, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[host]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(c.m, host)
		return nil, false
	}
	return e.addrs, true
}

// put inserts or overwrites host's record (last-writer-wins, per
// original_source/src/DnsResolver.cpp addRecord).
func (c *cache) put(host string, addrs []net.IP) {
	c.mu.Lock()
	c.m[host] = cacheEntry{addrs: addrs, expires: time.Now().Add(ttl)}
	c.mu.Unlock()
}

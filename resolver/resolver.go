// Package resolver implements the thread-local DNS resolver from
// spec.md §4.4: N worker goroutines, a 10s-TTL cache, and per-host
// request-slot coalescing so concurrent lookups of the same host share
// one underlying getaddrinfo-equivalent call.
//
// Grounded on original_source/src/DnsResolver.cpp: its requests_
// map<host, SlotList> + condition-variable worker loop (dnsProc, one
// host's slot-list popped per iteration), its Slot type (a callback plus
// a per-slot cancel), and doResolve's AI_ADDRCONFIG-equivalent lookup —
// reproduced here with net.DefaultResolver.LookupIPAddr, which already
// applies the platform's address-family availability policy the way
// AI_ADDRCONFIG does.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package resolver

import (
	"context"
	"net"
	"sync"

	"github.com/momentics/netcore/api"
)

// Callback receives the resolved addresses (both families, matching
// AF_UNSPEC), the port that was requested, and any resolution error.
type Callback func(addrs []net.IP, port uint16, err error)

type slot struct {
	mu        sync.Mutex
	cb        Callback
	port      uint16
	cancelled bool
}

func (s *slot) fire(addrs []net.IP, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled || s.cb == nil {
		return
	}
	s.cb(addrs, s.port, err)
}

// Token is a weak reference to a pending resolve request, returned by
// ResolveAsync and consumed by Cancel.
type Token struct {
	s *slot
}

// Resolver is a thread-local singleton in spirit (spec.md §4.4): callers
// typically keep one per event loop. It is safe for concurrent use from
// any goroutine regardless.
type Resolver struct {
	cache *cache

	mu       sync.Mutex
	cond     *sync.Cond
	requests map[string][]*slot
	stopping bool
	wg       sync.WaitGroup
}

// New starts a Resolver with workers worker goroutines (default 1 per
// spec.md §4.4 if workers <= 0).
func New(workers int) *Resolver {
	if workers <= 0 {
		workers = 1
	}
	r := &Resolver{
		cache:    newCache(),
		requests: make(map[string][]*slot),
	}
	r.cond = sync.NewCond(&r.mu)
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

// ResolveAsync resolves host:port. A non-expired cache hit delivers cb
// inline, synchronously, on the calling goroutine; otherwise the request
// is coalesced onto host's pending-slot list and a worker is woken.
func (r *Resolver) ResolveAsync(host string, port uint16, cb Callback) Token {
	if addrs, ok := r.cache.get(host); ok {
		cb(addrs, port, nil)
		return Token{}
	}

	s := &slot{cb: cb, port: port}
	r.mu.Lock()
	r.requests[host] = append(r.requests[host], s)
	r.mu.Unlock()
	r.cond.Signal()
	return Token{s: s}
}

// Cancel nulls the slot's callback under its own lock; if the callback
// is mid-dispatch, Cancel blocks behind that lock until it returns
// (spec.md §4.4 and §5 cancellation contract).
func (t Token) Cancel() {
	if t.s == nil {
		return
	}
	t.s.mu.Lock()
	t.s.cancelled = true
	t.s.cb = nil
	t.s.mu.Unlock()
}

// ResolveSync performs a blocking lookup directly, bypassing the worker
// pool — used by UDP send paths per spec.md §4.4.
func (r *Resolver) ResolveSync(ctx context.Context, host string, port uint16) ([]net.IP, error) {
	if addrs, ok := r.cache.get(host); ok {
		return addrs, nil
	}
	addrs, err := lookup(ctx, host)
	if err != nil {
		return nil, api.NewError(api.NotExist, "resolver.ResolveSync", "lookup failed for "+host, err)
	}
	r.cache.put(host, addrs)
	return addrs, nil
}

// Stop signals every worker to exit and waits for them.
func (r *Resolver) Stop() {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	r.cond.Broadcast()
	r.wg.Wait()
}

func (r *Resolver) worker() {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		for len(r.requests) == 0 && !r.stopping {
			r.cond.Wait()
		}
		if r.stopping && len(r.requests) == 0 {
			r.mu.Unlock()
			return
		}
		var host string
		var slots []*slot
		for h, s := range r.requests {
			host, slots = h, s
			delete(r.requests, h)
			break
		}
		r.mu.Unlock()

		if host == "" {
			continue
		}

		addrs, err := lookup(context.Background(), host)
		if err == nil {
			r.cache.put(host, addrs)
		}
		for _, s := range slots {
			s.fire(addrs, err)
		}
	}
}

func lookup(ctx context.Context, host string) ([]net.IP, error) {
	ipAddrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	out := make([]net.IP, 0, len(ipAddrs))
	for _, a := range ipAddrs {
		out = append(out, a.IP)
	}
	return out, nil
}

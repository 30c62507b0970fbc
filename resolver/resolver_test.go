package resolver

import (
	"net"
	"testing"
	"time"
)

func TestCacheHitDeliversInline(t *testing.T) {
	r := New(1)
	defer r.Stop()

	r.cache.put("example.invalid", []net.IP{net.ParseIP("203.0.113.1")})

	delivered := make(chan struct{})
	r.ResolveAsync("example.invalid", 80, func(addrs []net.IP, port uint16, err error) {
		if err != nil || len(addrs) != 1 || port != 80 {
			t.Errorf("unexpected callback args: %v %v %d", addrs, err, port)
		}
		close(delivered)
	})

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("cache-hit callback never fired")
	}
}

func TestCancelSuppressesCallback(t *testing.T) {
	r := New(1)
	defer r.Stop()

	fired := make(chan struct{}, 1)
	tok := r.ResolveAsync("definitely-not-cached.invalid.example", 443, func(addrs []net.IP, port uint16, err error) {
		fired <- struct{}{}
	})
	tok.Cancel()

	select {
	case <-fired:
		t.Fatal("callback fired after cancel")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCachedHostDeliversEachRequestWithItsOwnPort(t *testing.T) {
	r := New(1)
	defer r.Stop()
	r.cache.put("coalesced.invalid", []net.IP{net.ParseIP("198.51.100.7")})

	const n = 10
	results := make(chan uint16, n)
	for i := 0; i < n; i++ {
		port := uint16(1000 + i)
		r.ResolveAsync("coalesced.invalid", port, func(addrs []net.IP, p uint16, err error) {
			results <- p
		})
	}

	seen := map[uint16]bool{}
	for i := 0; i < n; i++ {
		select {
		case p := <-results:
			seen[p] = true
		case <-time.After(time.Second):
			t.Fatalf("only got %d/%d callbacks", i, n)
		}
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct ports, got %d", n, len(seen))
	}
}

package facade

import (
	"testing"

	"github.com/momentics/netcore/config"
	"github.com/momentics/netcore/server"
)

func TestWithConfigOverridesDefaults(t *testing.T) {
	b := &buildState{cfg: config.Defaults()}
	want := config.Values{LoopPoolSize: 7, ResolverWorkers: 3}
	WithConfig(want)(b)
	if b.cfg != want {
		t.Fatalf("cfg = %+v, want %+v", b.cfg, want)
	}
}

func TestWithLoopPoolSetsFlag(t *testing.T) {
	b := &buildState{cfg: config.Defaults()}
	if b.useLoopPool {
		t.Fatal("useLoopPool should default to false")
	}
	WithLoopPool()(b)
	if !b.useLoopPool {
		t.Fatal("WithLoopPool should set useLoopPool")
	}
}

func TestWithServerOptionsAccumulates(t *testing.T) {
	b := &buildState{cfg: config.Defaults()}
	var calls int
	opt := server.ServerOption(func(s *server.Server) { calls++ })
	WithServerOptions(opt, opt)(b)
	if len(b.serverOpts) != 2 {
		t.Fatalf("serverOpts len = %d, want 2", len(b.serverOpts))
	}
	for _, o := range b.serverOpts {
		o(&server.Server{})
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

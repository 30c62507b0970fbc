// Package facade is the one-call setup layer over config, logging,
// metrics, server, and client — the same role the teacher's
// facade/hioload.go plays for its single WS-only Facade, generalized
// to this module's multi-protocol server/client pair.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package facade

import (
	"github.com/momentics/netcore/client"
	"github.com/momentics/netcore/config"
	"github.com/momentics/netcore/internal/concurrency"
	"github.com/momentics/netcore/logging"
	"github.com/momentics/netcore/metrics"
	"github.com/momentics/netcore/reactor"
	"github.com/momentics/netcore/server"
)

// Netcore bundles a configured event loop (or loop pool), metrics
// registry, and the server/client built on top of them — the object a
// host process constructs once at startup.
type Netcore struct {
	Config  *config.Store
	Metrics *metrics.Registry
	Loop    *concurrency.Loop
	Pool    *concurrency.LoopPool

	Server *server.Server
	Client *client.Client
}

// Option configures New.
type Option func(*buildState)

type buildState struct {
	cfg          config.Values
	useLoopPool  bool
	serverOpts   []server.ServerOption
	clientOpts   []client.ClientOption
}

// WithConfig overrides the default config.Values (spec.md ambient
// "Configuration" concerns: loop pool size, backlog, watermarks).
func WithConfig(v config.Values) Option {
	return func(b *buildState) { b.cfg = v }
}

// WithLoopPool selects the multi-threaded loop-pool mode (spec.md's
// optional concurrency model) sized per config.Values.LoopPoolSize,
// instead of the default single event loop.
func WithLoopPool() Option {
	return func(b *buildState) { b.useLoopPool = true }
}

// WithServerOptions appends options forwarded to server.New.
func WithServerOptions(opts ...server.ServerOption) Option {
	return func(b *buildState) { b.serverOpts = append(b.serverOpts, opts...) }
}

// WithClientOptions appends options forwarded to client.New.
func WithClientOptions(opts ...client.ClientOption) Option {
	return func(b *buildState) { b.clientOpts = append(b.clientOpts, opts...) }
}

// New builds a Netcore: a config store seeded with config.Defaults()
// (or WithConfig's override), a metrics registry, a single event loop
// (or, with WithLoopPool, a pool of config.Values.LoopPoolSize loops),
// and a Server + Client. In single-loop mode the Server and Client share
// the loop; in pool mode only the Server uses the pool and the Client
// runs on a loop of its own created by client.New.
func New(opts ...Option) (*Netcore, error) {
	b := &buildState{cfg: config.Defaults()}
	for _, o := range opts {
		o(b)
	}

	cfgStore := config.NewStore()
	cfgStore.Update(b.cfg)

	met := metrics.NewRegistry()
	logging.SetLevel("info")

	n := &Netcore{Config: cfgStore, Metrics: met}

	if b.useLoopPool {
		pool, err := concurrency.NewLoopPool(b.cfg.LoopPoolSize, reactor.KindAuto, true)
		if err != nil {
			return nil, err
		}
		n.Pool = pool
		b.serverOpts = append(b.serverOpts, server.WithLoopPool(pool))
	} else {
		loop, err := concurrency.NewLoop(reactor.KindAuto)
		if err != nil {
			return nil, err
		}
		n.Loop = loop
		b.serverOpts = append(b.serverOpts, server.WithLoop(loop))
		b.clientOpts = append(b.clientOpts, client.WithLoop(loop))
	}

	b.serverOpts = append(b.serverOpts, server.WithMetrics(met))

	srv, err := server.New(b.serverOpts...)
	if err != nil {
		return nil, err
	}
	n.Server = srv

	cli, err := client.New(b.clientOpts...)
	if err != nil {
		return nil, err
	}
	n.Client = cli

	return n, nil
}

// Shutdown tears down the server and the loop or pool that New created.
// A loop created by client.New in pool mode is not closed here.
func (n *Netcore) Shutdown() error {
	if n.Server != nil {
		_ = n.Server.Shutdown()
	}
	if n.Pool != nil {
		return n.Pool.Close()
	}
	if n.Loop != nil {
		return n.Loop.Close()
	}
	return nil
}

// Package metrics exposes named counters/gauges through
// github.com/prometheus/client_golang, so a host process can scrape them
// the conventional Go way. The only metric a netcore component updates
// is the server's TCP-connections-accepted counter.
//
// Grounded on momentics/hioload-ws control/metrics.go's MetricsRegistry
// (a mutex-guarded string-keyed map with Set/GetSnapshot), generalized
// from an any-typed map to a small registry of named prometheus
// Counters/Gauges — nabbar-golib's go.mod is this pack's only repo with
// a real metrics dependency (github.com/prometheus/client_golang), so
// that's the library adopted here rather than hand-rolling atomics.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry is a thread-safe, lazily-populated set of prometheus
// collectors keyed by metric name, mirroring the teacher's
// MetricsRegistry.Set/GetSnapshot shape but backed by real collectors.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	reg      *prometheus.Registry
}

// NewRegistry constructs an empty Registry with its own prometheus
// registry (callers expose it via promhttp.HandlerFor in their own
// server wiring; this package stays transport-agnostic).
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		reg:      prometheus.NewRegistry(),
	}
}

// Prometheus returns the underlying *prometheus.Registry for scraping.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }

// Counter returns (creating if necessary) a named monotonic counter.
func (r *Registry) Counter(name, help string) prometheus.Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	r.reg.MustRegister(c)
	r.counters[name] = c
	return c
}

// Gauge returns (creating if necessary) a named point-in-time gauge.
func (r *Registry) Gauge(name, help string) prometheus.Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	r.reg.MustRegister(g)
	r.gauges[name] = g
	return g
}

// Snapshot reports the current value of every registered counter and
// gauge, matching the teacher's GetSnapshot contract for callers that
// want an in-process view without scraping.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.counters)+len(r.gauges))
	for name, c := range r.counters {
		var m dto.Metric
		_ = c.Write(&m)
		out[name] = m.GetCounter().GetValue()
	}
	for name, g := range r.gauges {
		var m dto.Metric
		_ = g.Write(&m)
		out[name] = m.GetGauge().GetValue()
	}
	return out
}

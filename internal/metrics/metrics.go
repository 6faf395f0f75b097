// Package metrics exposes the engine's health counters to an external
// monitoring collaborator via Prometheus: period timing against the
// realtime budget, ring drop counts, and per-module profiling triples.
// Nothing here runs on the RT thread — every collector reads atomics
// the RT engine and rings already maintain for their own purposes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sources abstracts where the collectors read from, so tests can feed
// fixed values and the package stays decoupled from pkg/engine.
type Sources struct {
	LastPeriodNs func() int64
	Periods      func() uint64
	OverBudget   func() uint64

	RingDrops map[string]func() uint64 // by ring name: ui_rt, rt_ui, rt_worker, worker_rt
	LogDrops  func() uint64

	// ModuleProfiles yields (alias-or-urn, min, avg, max) in ns for
	// every live module.
	ModuleProfiles func(yield func(name string, min, avg, max float64))
}

// Metrics owns a dedicated registry so an embedding process can mount
// the engine's collectors without colliding with its own.
type Metrics struct {
	reg *prometheus.Registry

	moduleMin *prometheus.GaugeVec
	moduleAvg *prometheus.GaugeVec
	moduleMax *prometheus.GaugeVec

	src Sources
}

func New(src Sources) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		src: src,
	}

	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "synthpod", Name: "period_duration_ns",
		Help: "Wall time of the most recent audio period.",
	}, func() float64 { return float64(src.LastPeriodNs()) }))

	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "synthpod", Name: "periods_total",
		Help: "Completed audio periods.",
	}, func() float64 { return float64(src.Periods()) }))

	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "synthpod", Name: "periods_over_budget_total",
		Help: "Periods whose wall time exceeded period_size/sample_rate.",
	}, func() float64 { return float64(src.OverBudget()) }))

	for name, fn := range src.RingDrops {
		fn := fn
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "synthpod", Name: "ring_drops_total",
			Help:        "Messages dropped because a ring reservation failed.",
			ConstLabels: prometheus.Labels{"ring": name},
		}, func() float64 { return float64(fn()) }))
	}

	if src.LogDrops != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "synthpod", Name: "log_drops_total",
			Help: "RT log records lost to a full log ring.",
		}, func() float64 { return float64(src.LogDrops()) }))
	}

	labels := []string{"module"}
	m.moduleMin = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synthpod", Name: "module_run_ns_min",
		Help: "Running minimum of a module's per-period run time.",
	}, labels)
	m.moduleAvg = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synthpod", Name: "module_run_ns_avg",
		Help: "Exponential moving average of a module's per-period run time.",
	}, labels)
	m.moduleMax = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "synthpod", Name: "module_run_ns_max",
		Help: "Running maximum of a module's per-period run time.",
	}, labels)
	m.reg.MustRegister(m.moduleMin, m.moduleAvg, m.moduleMax)

	return m
}

// Refresh re-samples the per-module profiling gauges. Called from
// pkg/engine's ServeUI ticker loop, never from RT.
func (m *Metrics) Refresh() {
	if m.src.ModuleProfiles == nil {
		return
	}
	m.moduleMin.Reset()
	m.moduleAvg.Reset()
	m.moduleMax.Reset()
	m.src.ModuleProfiles(func(name string, min, avg, max float64) {
		m.moduleMin.WithLabelValues(name).Set(min)
		m.moduleAvg.WithLabelValues(name).Set(avg)
		m.moduleMax.WithLabelValues(name).Set(max)
	})
}

// Handler returns an http.Handler serving the registry in the
// Prometheus text format, for the embedding process to mount.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

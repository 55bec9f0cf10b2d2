// Package metrics exposes optional Prometheus run metrics for a
// supervisor run: per-state seed counts, ready-worker gauges, and an
// instruction-count histogram. Grounded in the teacher's
// pkg/monitoring/prometheus client wrapper, generalized from the query
// (client) side of client_golang to the registration (server) side —
// both are "talk Prometheus" concerns served by the same library.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jihwankim/rollstats/internal/seedindex"
)

// Metrics holds one run's Prometheus collectors on a private registry,
// so that a process embedding rollstats as a library never collides
// with prometheus.DefaultRegisterer.
type Metrics struct {
	registry     *prometheus.Registry
	seedsTotal   *prometheus.GaugeVec
	workerReady  prometheus.Gauge
	instructions prometheus.Histogram
}

// New registers rollstats' metric families on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	seedsTotal := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rollstats_seeds_total",
		Help: "Number of seed slots currently in each state.",
	}, []string{"state"})

	workerReady := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rollstats_worker_ready",
		Help: "Sum of outstanding ready-task credit across configured workers.",
	})

	instructions := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollstats_instructions_bucket",
		Help:    "Distribution of instruction counts for successfully rolled seeds.",
		Buckets: prometheus.ExponentialBuckets(1<<20, 2, 12),
	})

	reg.MustRegister(seedsTotal, workerReady, instructions)

	return &Metrics{
		registry:     reg,
		seedsTotal:   seedsTotal,
		workerReady:  workerReady,
		instructions: instructions,
	}
}

// Handler serves the registered families in the Prometheus text exposition
// format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetCounts overwrites the per-state gauge from a Summary.Counts-shaped
// snapshot; called after every state-changing ingest so the exposed
// values always match seedindex's own count, never an independently
// accumulated copy that could drift.
func (m *Metrics) SetCounts(counts map[seedindex.State]int) {
	for state, n := range counts {
		m.seedsTotal.WithLabelValues(state.String()).Set(float64(n))
	}
}

// SetWorkerReady records the current sum of ready-task credit across
// every configured worker.
func (m *Metrics) SetWorkerReady(n int) {
	m.workerReady.Set(float64(n))
}

// ObserveInstructions records one successfully rolled seed's instruction
// count, when the worker reported one.
func (m *Metrics) ObserveInstructions(n uint64) {
	m.instructions.Observe(float64(n))
}

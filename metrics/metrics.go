// Package metrics exposes Prometheus instruments for rent generation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/hostel-billing/billing"
)

const namespace = "hostel_billing"

// Metrics implements billing.Recorder.
type Metrics struct {
	registry           *prometheus.Registry
	obligationsCreated *prometheus.CounterVec
	tenantFailures     *prometheus.CounterVec
	runs               *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
}

var _ billing.Recorder = (*Metrics)(nil)

// New registers the instruments on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegisterer(reg, reg)
}

// NewWithRegisterer registers on r. registry may be nil when Handler is not needed.
func NewWithRegisterer(r prometheus.Registerer, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		obligationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "obligations_created_total",
			Help:      "Monthly obligations created by generation runs.",
		}, []string{"kind"}),
		tenantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_failures_total",
			Help:      "Tenants that failed during a generation run.",
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_runs_total",
			Help:      "Generation runs by outcome.",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of generation runs.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"kind"}),
	}
	r.MustRegister(m.obligationsCreated, m.tenantFailures, m.runs, m.runDuration)
	return m
}

func (m *Metrics) ObligationCreated(kind billing.ScopeKind) {
	m.obligationsCreated.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) TenantFailed(kind billing.ScopeKind) {
	m.tenantFailures.WithLabelValues(string(kind)).Inc()
}

// RunFinished counts the run. Disabled runs do no work and are not timed.
func (m *Metrics) RunFinished(kind billing.ScopeKind, status billing.RunStatus, elapsed time.Duration) {
	m.runs.WithLabelValues(string(kind), string(status)).Inc()
	if status != billing.RunDisabled {
		m.runDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

package history

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics counts orchestrator actions. A nil *Metrics records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

// NewMetrics creates the collectors on their own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "histgen",
			Name:      "operations_total",
			Help:      "Per-table actions by outcome",
		}, []string{"action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "histgen",
			Name:      "operation_duration_seconds",
			Help:      "Duration of per-table actions in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "histgen",
			Name:      "retries_total",
			Help:      "Retried attempts after transient failures",
		}, []string{"action"}),
	}
	reg.MustRegister(m.operations, m.duration, m.retries)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observe(r OperationRecord) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(r.Action), string(r.Outcome)).Inc()
	m.duration.WithLabelValues(string(r.Action)).Observe(r.Duration.Seconds())
}

func (m *Metrics) retried(action Action) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(string(action)).Inc()
}

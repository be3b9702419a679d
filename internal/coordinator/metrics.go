package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dreamware/palantir/internal/membership"
)

const metricsNamespace = "palantir_registry"

// Metrics holds the registry's Prometheus collectors.
type Metrics struct {
	endpoints prometheus.Gauge
	evictions *prometheus.CounterVec
	targets   *prometheus.CounterVec
	probes    *prometheus.HistogramVec
}

// NewMetrics registers the registry collectors on reg.
// A nil reg gets a private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		endpoints: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "endpoints",
			Help:      "Number of endpoints currently registered.",
		}),
		evictions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evictions_total",
			Help:      "Endpoints removed from the membership table, by cause.",
		}, []string{"cause"}),
		targets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "target_requests_total",
			Help:      "Dispatch target requests, by result.",
		}, []string{"result"}),
		probes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "probe_duration_seconds",
			Help:      "Liveness probe latency, by result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
}

func (m *Metrics) setEndpoints(n int) {
	m.endpoints.Set(float64(n))
}

func (m *Metrics) evicted(cause membership.EvictionCause) {
	m.evictions.WithLabelValues(cause.String()).Inc()
}

func (m *Metrics) target(result string) {
	m.targets.WithLabelValues(result).Inc()
}

func (m *Metrics) probe(err error, d time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.probes.WithLabelValues(result).Observe(d.Seconds())
}

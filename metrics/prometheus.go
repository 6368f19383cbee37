package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusRecorder struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the paywall collectors with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "x402",
			Subsystem: "settlement",
			Name:      "outcomes_total",
			Help:      "Settlement requests by final outcome",
		},
		[]string{"network", "kind", "outcome"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "latency_seconds",
			Help:      "Facilitator and RPC call latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "network"},
	)

	reg.MustRegister(outcomes, latency)

	return &PrometheusRecorder{
		outcomes: outcomes,
		latency:  latency,
	}
}

func (p *PrometheusRecorder) IncOutcome(network, kind, outcome string) {
	p.outcomes.With(prometheus.Labels{
		"network": network,
		"kind":    kind,
		"outcome": outcome,
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(operation, network string, d time.Duration) {
	p.latency.With(prometheus.Labels{
		"operation": operation,
		"network":   network,
	}).Observe(d.Seconds())
}

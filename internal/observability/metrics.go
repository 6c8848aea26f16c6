// Package observability exposes the pipeline's Prometheus metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/riskwise/riskwise/internal/models"
)

// Metrics is the pipeline metric set. A nil *Metrics is a valid no-op
// receiver so the pipeline never needs to guard instrumentation calls.
type Metrics struct {
	decisions         *prometheus.CounterVec
	pipelineDuration  prometheus.Histogram
	collectorFailures *prometheus.CounterVec
	fatalFailures     *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwise_decisions_total",
			Help: "Final decisions issued, by outcome.",
		}, []string{"decision"}),
		pipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskwise_pipeline_duration_seconds",
			Help:    "End-to-end analysis duration.",
			Buckets: prometheus.DefBuckets,
		}),
		collectorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwise_collector_failures_total",
			Help: "Signal collector failures recovered as absent signals.",
		}, []string{"collector"}),
		fatalFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "riskwise_fatal_failures_total",
			Help: "Runs ending in a fatal error, by kind.",
		}, []string{"kind"}),
	}
}

// DecisionIssued counts one final decision.
func (m *Metrics) DecisionIssued(decision models.DecisionType, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(decision)).Inc()
	m.pipelineDuration.Observe(elapsed.Seconds())
}

// CollectorFailed counts one recovered collector failure.
func (m *Metrics) CollectorFailed(collector string) {
	if m == nil {
		return
	}
	m.collectorFailures.WithLabelValues(collector).Inc()
}

// FatalFailure counts one run that ended without a decision.
func (m *Metrics) FatalFailure(kind string) {
	if m == nil {
		return
	}
	m.fatalFailures.WithLabelValues(kind).Inc()
}
